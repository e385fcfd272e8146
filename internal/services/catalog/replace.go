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

// ReplaceModel replaces the DTDL document of an existing model in place.
// The DTMI and the set of direct extends are immutable; newly added
// content names must not collide with names any descendant already
// defines.
func (s *Service) ReplaceModel(ctx context.Context, id string, doc json.RawMessage) (*models.ModelRecord, error) {
	iface, err := dtdl.Parse(doc)
	if err != nil {
		return nil, models.WrapError(models.KindValidationFailed, err, "invalid DTDL document")
	}
	if iface.ID != id {
		return nil, models.NewError(models.KindArgument, "document @id %s does not match target model %s", iface.ID, id)
	}

	record, err := s.fetchRecord(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	oldIface, err := dtdl.Parse(record.Model)
	if err != nil {
		return nil, models.WrapError(models.KindInternal, err, "stored model %s failed to parse", id)
	}

	if !sameStringSet(oldIface.Extends, iface.Extends) {
		return nil, models.NewError(models.KindModelExtendsChanged,
			"model %s: extends cannot change across replace", id)
	}

	oldNames := map[string]bool{}
	for _, c := range oldIface.Contents {
		oldNames[c.Name] = true
	}
	var addedNames []string
	for _, c := range iface.Contents {
		if !oldNames[c.Name] {
			addedNames = append(addedNames, c.Name)
		}
	}
	if len(addedNames) > 0 {
		if err := s.checkDescendantCollisions(ctx, record, addedNames); err != nil {
			return nil, err
		}
	}

	// Any reference the new document adds must already be in the catalog.
	var unresolved []string
	for _, ref := range iface.References() {
		if ref == id {
			continue
		}
		if _, err := s.fetchRecord(ctx, s.store, ref); err != nil {
			if models.IsKind(err, models.KindModelNotFound) {
				unresolved = append(unresolved, ref)
				continue
			}
			return nil, err
		}
	}
	if len(unresolved) > 0 {
		sort.Strings(unresolved)
		return nil, models.NewError(models.KindResolution,
			"unresolved model references: %s", strings.Join(unresolved, ", "))
	}

	oldComponents := componentRefs(oldIface)
	newComponents := componentRefs(iface)

	updated := *record
	updated.Model = iface.Raw
	updated.UploadTime = time.Now()
	updated.DisplayName = dtdl.DisplayStrings(iface.Raw, "displayName")
	updated.Description = dtdl.DisplayStrings(iface.Raw, "description")

	err = s.store.WithTransaction(ctx, func(ctx context.Context, tx interfaces.GraphQuerier) error {
		var body interface{}
		if err := json.Unmarshal(updated.Model, &body); err != nil {
			return models.WrapError(models.KindInternal, err, "model %s failed to re-encode", id)
		}
		_, err := tx.ExecuteCypher(ctx, s.graph, `
			MATCH (m:Model {id: $id})
			SET m.model = $model, m.uploadTime = $uploadTime,
			    m.displayName = $displayName, m.description = $description`,
			map[string]interface{}{
				"id":          id,
				"model":       body,
				"uploadTime":  updated.UploadTime.UTC().Format(time.RFC3339Nano),
				"displayName": updated.DisplayName,
				"description": updated.Description,
			}, nil)
		if err != nil {
			return err
		}
		// Mirror the component changes on the graph so _hasComponent edges
		// reflect the new contents exactly.
		for _, ref := range oldComponents {
			if containsString(newComponents, ref) {
				continue
			}
			_, err := tx.ExecuteCypher(ctx, s.graph,
				"MATCH (c:Model {id: $from})-[e:_hasComponent]->(p:Model {id: $to}) DELETE e",
				map[string]interface{}{"from": id, "to": ref}, nil)
			if err != nil {
				return err
			}
		}
		for _, ref := range newComponents {
			if containsString(oldComponents, ref) {
				continue
			}
			if err := s.createModelEdge(ctx, tx, "_hasComponent", id, ref); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.invalidate(id)
	s.logger.Info().Str("model", id).Msg("Model replaced")
	return &updated, nil
}

// DeleteModel removes a model, permitted only when nothing references it:
// no model via extends, component schema or relationship target, and no
// twin instantiating it.
func (s *Service) DeleteModel(ctx context.Context, id string) error {
	record, err := s.fetchRecord(ctx, s.store, id)
	if err != nil {
		return err
	}

	if len(record.Descendants) > 0 {
		return models.NewError(models.KindModelReferences,
			"model %s is extended by %s", id, strings.Join(record.Descendants, ", "))
	}
	incoming, err := s.store.ExecuteScalar(ctx, s.graph,
		"MATCH (:Model)-[e]->(m:Model {id: $id}) RETURN count(e)",
		map[string]interface{}{"id": id})
	if err != nil {
		return err
	}
	if asInt(incoming) > 0 {
		return models.NewError(models.KindModelReferences, "model %s is referenced by other models", id)
	}
	if referrers, err := s.relationshipTargetReferrers(ctx, id); err != nil {
		return err
	} else if len(referrers) > 0 {
		return models.NewError(models.KindModelReferences,
			"model %s is a relationship target of %s", id, strings.Join(referrers, ", "))
	}
	twins, err := s.store.ExecuteScalar(ctx, s.graph,
		"MATCH (t:Twin) WHERE t['$metadata']['$model'] = $id RETURN count(t)",
		map[string]interface{}{"id": id})
	if err != nil {
		return err
	}
	if asInt(twins) > 0 {
		return models.NewError(models.KindModelReferences, "model %s has twin instances", id)
	}

	err = s.store.WithTransaction(ctx, func(ctx context.Context, tx interfaces.GraphQuerier) error {
		for _, baseID := range record.Bases {
			base, err := s.fetchRecord(ctx, tx, baseID)
			if err != nil {
				return err
			}
			var remaining []string
			for _, d := range base.Descendants {
				if d != id {
					remaining = append(remaining, d)
				}
			}
			_, err = tx.ExecuteCypher(ctx, s.graph,
				"MATCH (m:Model {id: $id}) SET m.descendants = $descendants",
				map[string]interface{}{"id": baseID, "descendants": orEmpty(remaining)}, nil)
			if err != nil {
				return err
			}
		}
		_, err := tx.ExecuteCypher(ctx, s.graph,
			"MATCH (m:Model {id: $id}) DETACH DELETE m",
			map[string]interface{}{"id": id}, nil)
		return err
	})
	if err != nil {
		return err
	}

	s.cache.invalidate(id)
	s.cache.invalidate(record.Bases...)
	s.logger.Info().Str("model", id).Msg("Model deleted")
	return nil
}

// DeleteAllModels removes every model, returning the count removed. Twins
// must be drained first.
func (s *Service) DeleteAllModels(ctx context.Context) (int, error) {
	twins, err := s.store.ExecuteScalar(ctx, s.graph, "MATCH (t:Twin) RETURN count(t)", nil)
	if err != nil {
		return 0, err
	}
	if asInt(twins) > 0 {
		return 0, models.NewError(models.KindModelReferences,
			"models cannot be deleted while twins exist")
	}
	count, err := s.store.ExecuteScalar(ctx, s.graph, "MATCH (m:Model) RETURN count(m)", nil)
	if err != nil {
		return 0, err
	}
	if _, err := s.store.ExecuteCypher(ctx, s.graph, "MATCH (m:Model) DETACH DELETE m", nil, nil); err != nil {
		return 0, err
	}
	s.cache.invalidateAll()
	s.logger.Info().Int("count", int(asInt(count))).Msg("All models deleted")
	return int(asInt(count)), nil
}

// checkDescendantCollisions rejects a replace that adds a content name any
// descendant already defines.
func (s *Service) checkDescendantCollisions(ctx context.Context, record *models.ModelRecord, addedNames []string) error {
	for _, descID := range record.Descendants {
		desc, err := s.fetchRecord(ctx, s.store, descID)
		if err != nil {
			return err
		}
		descIface, err := dtdl.Parse(desc.Model)
		if err != nil {
			return models.WrapError(models.KindInternal, err, "stored model %s failed to parse", descID)
		}
		for _, c := range descIface.Contents {
			if containsString(addedNames, c.Name) {
				return models.NewError(models.KindModelUpdateValidation,
					"model %s: added content %q collides with descendant %s", record.ID, c.Name, descID)
			}
		}
	}
	return nil
}

// relationshipTargetReferrers scans the catalog for models whose
// relationship target points at id. Targets are document-level references
// without a graph edge, so a scan is the only complete check.
func (s *Service) relationshipTargetReferrers(ctx context.Context, id string) ([]string, error) {
	rows, err := s.store.ExecuteCypher(ctx, s.graph, "MATCH (m:Model) RETURN m", nil, []string{"m"})
	if err != nil {
		return nil, err
	}
	var referrers []string
	for _, row := range rows {
		record, err := recordFromValue(row["m"])
		if err != nil {
			return nil, err
		}
		if record.ID == id {
			continue
		}
		iface, err := dtdl.Parse(record.Model)
		if err != nil {
			return nil, models.WrapError(models.KindInternal, err, "stored model %s failed to parse", record.ID)
		}
		for _, rel := range iface.ContentsOfKind(dtdl.ContentRelationship) {
			if rel.Target == id {
				referrers = append(referrers, record.ID)
				break
			}
		}
	}
	sort.Strings(referrers)
	return referrers, nil
}

func componentRefs(iface *dtdl.Interface) []string {
	var refs []string
	for _, c := range iface.ContentsOfKind(dtdl.ContentComponent) {
		if c.Schema != nil && c.Schema.Kind == dtdl.SchemaReference && !containsString(refs, c.Schema.Ref) {
			refs = append(refs, c.Schema.Ref)
		}
	}
	return refs
}

func sameStringSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// asInt normalizes a decoded agtype scalar to int64.
func asInt(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	}
	return 0
}
