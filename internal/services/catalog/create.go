package catalog

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/tessera/internal/dtdl"
	"github.com/ternarybob/tessera/internal/interfaces"
	"github.com/ternarybob/tessera/internal/models"
)

// CreateModels creates a batch of DTDL models atomically: either every
// document in docs is persisted or none. References may resolve inside
// the batch or against the catalog; anything else fails the whole batch.
func (s *Service) CreateModels(ctx context.Context, docs []json.RawMessage) ([]*models.ModelRecord, error) {
	if len(docs) == 0 {
		return nil, models.NewError(models.KindArgument, "model batch must not be empty")
	}

	inBatch := make(map[string]*dtdl.Interface, len(docs))
	ordered := make([]*dtdl.Interface, 0, len(docs))
	for _, doc := range docs {
		iface, err := dtdl.Parse(doc)
		if err != nil {
			return nil, models.WrapError(models.KindValidationFailed, err, "invalid DTDL document")
		}
		if _, dup := inBatch[iface.ID]; dup {
			return nil, models.NewError(models.KindArgument, "duplicate model id %s in batch", iface.ID)
		}
		inBatch[iface.ID] = iface
		ordered = append(ordered, iface)
	}

	// Resolve every referenced DTMI: in-batch first, then the catalog.
	// Persisted ancestors of a persisted model are guaranteed present, so
	// only direct references need checking here.
	persisted := map[string]*dtdl.Interface{}
	var unresolved []string
	resolveRef := func(id string) error {
		if _, ok := inBatch[id]; ok {
			return nil
		}
		if _, ok := persisted[id]; ok {
			return nil
		}
		record, err := s.fetchRecord(ctx, s.store, id)
		if err != nil {
			if models.IsKind(err, models.KindModelNotFound) {
				unresolved = append(unresolved, id)
				return nil
			}
			return err
		}
		iface, err := dtdl.Parse(record.Model)
		if err != nil {
			return models.WrapError(models.KindInternal, err, "stored model %s failed to parse", id)
		}
		persisted[id] = iface
		return nil
	}
	for _, iface := range ordered {
		for _, ref := range iface.References() {
			if err := resolveRef(ref); err != nil {
				return nil, err
			}
		}
	}
	if len(unresolved) > 0 {
		sort.Strings(unresolved)
		return nil, models.NewError(models.KindResolution,
			"unresolved model references: %s", strings.Join(unresolved, ", "))
	}

	for _, iface := range ordered {
		if _, err := s.fetchRecord(ctx, s.store, iface.ID); err == nil {
			return nil, models.NewError(models.KindModelAlreadyExists, "model %s already exists", iface.ID)
		} else if !models.IsKind(err, models.KindModelNotFound) {
			return nil, err
		}
	}

	// The transitive ancestors of persisted parents beyond their direct
	// extends come from lazily fetched records during the walk.
	parents := func(id string) []string {
		if iface, ok := inBatch[id]; ok {
			return iface.Extends
		}
		if iface, ok := persisted[id]; ok {
			return iface.Extends
		}
		record, err := s.fetchRecord(ctx, s.store, id)
		if err != nil {
			return nil
		}
		iface, err := dtdl.Parse(record.Model)
		if err != nil {
			return nil
		}
		persisted[id] = iface
		return iface.Extends
	}

	now := time.Now()
	records := make([]*models.ModelRecord, 0, len(ordered))
	newDescendants := map[string][]string{}
	for _, iface := range ordered {
		bases := computeBases(iface.ID, parents)
		for _, b := range bases {
			newDescendants[b] = append(newDescendants[b], iface.ID)
		}
		records = append(records, &models.ModelRecord{
			ID:          iface.ID,
			Model:       iface.Raw,
			Bases:       bases,
			UploadTime:  now,
			DisplayName: dtdl.DisplayStrings(iface.Raw, "displayName"),
			Description: dtdl.DisplayStrings(iface.Raw, "description"),
		})
	}
	for _, record := range records {
		if added, ok := newDescendants[record.ID]; ok {
			sort.Strings(added)
			record.Descendants = added
		}
	}

	err := s.store.WithTransaction(ctx, func(ctx context.Context, tx interfaces.GraphQuerier) error {
		for _, record := range records {
			if err := s.insertModel(ctx, tx, record); err != nil {
				return err
			}
		}
		for i, record := range records {
			iface := ordered[i]
			for _, parent := range iface.Extends {
				if err := s.createModelEdge(ctx, tx, "_extends", record.ID, parent); err != nil {
					return err
				}
			}
			for _, component := range iface.ContentsOfKind(dtdl.ContentComponent) {
				if component.Schema == nil || component.Schema.Kind != dtdl.SchemaReference {
					continue
				}
				if err := s.createModelEdge(ctx, tx, "_hasComponent", record.ID, component.Schema.Ref); err != nil {
					return err
				}
			}
		}
		// Persisted ancestors learn their new descendants inside the same
		// transaction, so bases/descendants stay mutual inverses.
		for baseID, added := range newDescendants {
			if _, ok := inBatch[baseID]; ok {
				continue
			}
			if err := s.addDescendants(ctx, tx, baseID, added); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, record := range records {
		s.cache.invalidate(record.ID)
		s.cache.invalidate(record.Bases...)
	}
	s.logger.Info().Int("count", len(records)).Msg("Models created")
	return records, nil
}

// computeBases walks the extends DAG breadth-first from id, ordering each
// level lexicographically.
func computeBases(id string, parents func(string) []string) []string {
	var bases []string
	seen := map[string]bool{id: true}
	level := append([]string(nil), parents(id)...)
	sort.Strings(level)
	for len(level) > 0 {
		var next []string
		for _, p := range level {
			if seen[p] {
				continue
			}
			seen[p] = true
			bases = append(bases, p)
			next = append(next, parents(p)...)
		}
		sort.Strings(next)
		level = next
	}
	return bases
}

func (s *Service) insertModel(ctx context.Context, tx interfaces.GraphQuerier, record *models.ModelRecord) error {
	var doc interface{}
	if err := json.Unmarshal(record.Model, &doc); err != nil {
		return models.WrapError(models.KindInternal, err, "model %s failed to re-encode", record.ID)
	}
	params := map[string]interface{}{
		"id":             record.ID,
		"model":          doc,
		"bases":          orEmpty(record.Bases),
		"descendants":    orEmpty(record.Descendants),
		"decommissioned": record.Decommissioned,
		"uploadTime":     record.UploadTime.UTC().Format(time.RFC3339Nano),
		"displayName":    record.DisplayName,
		"description":    record.Description,
	}
	_, err := tx.ExecuteCypher(ctx, s.graph, `
		CREATE (m:Model {
			id: $id, model: $model, bases: $bases, descendants: $descendants,
			decommissioned: $decommissioned, uploadTime: $uploadTime,
			displayName: $displayName, description: $description
		})`, params, nil)
	return err
}

func (s *Service) createModelEdge(ctx context.Context, tx interfaces.GraphQuerier, label, from, to string) error {
	cypher := "MATCH (c:Model {id: $from}), (p:Model {id: $to}) CREATE (c)-[:" + label + "]->(p)"
	_, err := tx.ExecuteCypher(ctx, s.graph, cypher,
		map[string]interface{}{"from": from, "to": to}, nil)
	return err
}

// addDescendants merges ids into a model's descendants array.
func (s *Service) addDescendants(ctx context.Context, tx interfaces.GraphQuerier, baseID string, ids []string) error {
	record, err := s.fetchRecord(ctx, tx, baseID)
	if err != nil {
		return err
	}
	merged := record.Descendants
	for _, id := range ids {
		if !containsString(merged, id) {
			merged = append(merged, id)
		}
	}
	_, err = tx.ExecuteCypher(ctx, s.graph,
		"MATCH (m:Model {id: $id}) SET m.descendants = $descendants",
		map[string]interface{}{"id": baseID, "descendants": orEmpty(merged)}, nil)
	return err
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// orEmpty keeps list-valued properties as arrays rather than nulls.
func orEmpty(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
