// Package catalog owns the model side of the graph: DTDL parsing,
// cross-batch resolution, the persisted bases/descendants inheritance
// index, and the guarded update/replace/delete operations.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tessera/internal/dtdl"
	"github.com/ternarybob/tessera/internal/interfaces"
	"github.com/ternarybob/tessera/internal/models"
	"github.com/ternarybob/tessera/internal/storage/age"
)

// Service implements the model catalog over one graph.
type Service struct {
	store  interfaces.GraphStore
	graph  string
	cache  *modelCache
	logger arbor.ILogger
}

// NewService creates a catalog service. cacheTTL of zero disables the
// model cache.
func NewService(store interfaces.GraphStore, graph string, cacheTTL time.Duration, logger arbor.ILogger) *Service {
	return &Service{
		store:  store,
		graph:  graph,
		cache:  newModelCache(cacheTTL),
		logger: logger,
	}
}

// GetModel returns a single model record.
func (s *Service) GetModel(ctx context.Context, id string, opts models.GetModelOptions) (*models.ModelRecord, error) {
	record, err := s.fetchRecord(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	out := *record
	if opts.IncludeBaseModelContents {
		doc, err := s.flattenedDocument(ctx, record)
		if err != nil {
			return nil, err
		}
		out.Model = doc
	} else if !opts.IncludeModelDefinition {
		out.Model = nil
	}
	return &out, nil
}

// ListModels returns all models, sorted by id. When DependenciesFor is
// set, the result is restricted to those models and their transitive
// bases.
func (s *Service) ListModels(ctx context.Context, opts models.ListModelsOptions) ([]*models.ModelRecord, error) {
	rows, err := s.store.ExecuteCypher(ctx, s.graph,
		"MATCH (m:Model) RETURN m", nil, []string{"m"})
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*models.ModelRecord, len(rows))
	for _, row := range rows {
		record, err := recordFromValue(row["m"])
		if err != nil {
			return nil, err
		}
		byID[record.ID] = record
	}

	var ids []string
	if len(opts.DependenciesFor) > 0 {
		wanted := map[string]bool{}
		for _, root := range opts.DependenciesFor {
			record, ok := byID[root]
			if !ok {
				return nil, models.NewError(models.KindModelNotFound, "model %s not found", root)
			}
			wanted[root] = true
			for _, b := range record.Bases {
				wanted[b] = true
			}
		}
		for id := range wanted {
			ids = append(ids, id)
		}
	} else {
		for id := range byID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := make([]*models.ModelRecord, 0, len(ids))
	for _, id := range ids {
		record := byID[id]
		if !opts.IncludeModelDefinition {
			copied := *record
			copied.Model = nil
			record = &copied
		}
		out = append(out, record)
	}
	return out, nil
}

// UpdateModel toggles the decommissioned flag.
func (s *Service) UpdateModel(ctx context.Context, id string, decommissioned bool) error {
	if _, err := s.fetchRecord(ctx, s.store, id); err != nil {
		return err
	}
	_, err := s.store.ExecuteCypher(ctx, s.graph,
		"MATCH (m:Model {id: $id}) SET m.decommissioned = $flag RETURN m.id",
		map[string]interface{}{"id": id, "flag": decommissioned}, []string{"id"})
	if err != nil {
		return err
	}
	s.cache.invalidate(id)
	s.logger.Info().Str("model", id).Bool("decommissioned", decommissioned).Msg("Model decommission flag updated")
	return nil
}

// ResolveInterface returns the parsed interface for id plus its base
// interfaces in persisted bases order, served through the cache.
func (s *Service) ResolveInterface(ctx context.Context, id string) (*dtdl.Interface, []*dtdl.Interface, error) {
	record, iface, err := s.resolveOne(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	bases := make([]*dtdl.Interface, 0, len(record.Bases))
	for _, baseID := range record.Bases {
		_, baseIface, err := s.resolveOne(ctx, baseID)
		if err != nil {
			return nil, nil, err
		}
		bases = append(bases, baseIface)
	}
	return iface, bases, nil
}

// FlattenedContents returns the model's contents merged over all its
// bases, derived definitions shadowing base ones.
func (s *Service) FlattenedContents(ctx context.Context, id string) ([]dtdl.Content, error) {
	iface, bases, err := s.ResolveInterface(ctx, id)
	if err != nil {
		return nil, err
	}
	return dtdl.Flatten(iface, bases), nil
}

// Record returns the cached record for id, used by the data plane for
// decommission checks without a second round trip.
func (s *Service) Record(ctx context.Context, id string) (*models.ModelRecord, error) {
	record, _, err := s.resolveOne(ctx, id)
	return record, err
}

func (s *Service) resolveOne(ctx context.Context, id string) (*models.ModelRecord, *dtdl.Interface, error) {
	if record, iface, ok := s.cache.get(id); ok {
		return record, iface, nil
	}
	record, err := s.fetchRecord(ctx, s.store, id)
	if err != nil {
		return nil, nil, err
	}
	iface, err := dtdl.Parse(record.Model)
	if err != nil {
		return nil, nil, models.WrapError(models.KindInternal, err, "stored model %s failed to parse", id)
	}
	s.cache.put(id, record, iface)
	return record, iface, nil
}

// fetchRecord reads a model node through any querier, pool or transaction.
func (s *Service) fetchRecord(ctx context.Context, q interfaces.GraphQuerier, id string) (*models.ModelRecord, error) {
	rows, err := q.ExecuteCypher(ctx, s.graph,
		"MATCH (m:Model {id: $id}) RETURN m",
		map[string]interface{}{"id": id}, []string{"m"})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, models.NewError(models.KindModelNotFound, "model %s not found", id)
	}
	return recordFromValue(rows[0]["m"])
}

// flattenedDocument rebuilds the raw DTDL document with the contents
// array merged over all bases, keeping each entry's original JSON.
func (s *Service) flattenedDocument(ctx context.Context, record *models.ModelRecord) (json.RawMessage, error) {
	var root map[string]interface{}
	if err := json.Unmarshal(record.Model, &root); err != nil {
		return nil, models.WrapError(models.KindInternal, err, "stored model %s failed to parse", record.ID)
	}

	seen := map[string]bool{}
	var merged []interface{}
	appendContents := func(doc json.RawMessage) error {
		var body map[string]interface{}
		if err := json.Unmarshal(doc, &body); err != nil {
			return err
		}
		list, _ := body["contents"].([]interface{})
		for _, item := range list {
			obj, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			name, _ := obj["name"].(string)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			merged = append(merged, obj)
		}
		return nil
	}

	if err := appendContents(record.Model); err != nil {
		return nil, models.WrapError(models.KindInternal, err, "stored model %s failed to parse", record.ID)
	}
	for _, baseID := range record.Bases {
		base, err := s.fetchRecord(ctx, s.store, baseID)
		if err != nil {
			return nil, err
		}
		if err := appendContents(base.Model); err != nil {
			return nil, models.WrapError(models.KindInternal, err, "stored model %s failed to parse", baseID)
		}
	}

	root["contents"] = merged
	return json.Marshal(root)
}

// recordFromValue converts a decoded Model vertex into a ModelRecord.
func recordFromValue(v interface{}) (*models.ModelRecord, error) {
	props := age.VertexProperties(v)
	if props == nil {
		return nil, models.NewError(models.KindInternal, "query returned a non-vertex model value")
	}
	record := &models.ModelRecord{}
	record.ID, _ = props["id"].(string)
	record.Decommissioned, _ = props["decommissioned"].(bool)
	record.Bases = toStringSlice(props["bases"])
	record.Descendants = toStringSlice(props["descendants"])
	record.DisplayName = toStringMap(props["displayName"])
	record.Description = toStringMap(props["description"])

	if doc, ok := props["model"]; ok && doc != nil {
		data, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to re-encode model %s: %w", record.ID, err)
		}
		record.Model = data
	}
	if ts, ok := props["uploadTime"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			record.UploadTime = parsed
		}
	}
	return record, nil
}

func toStringSlice(v interface{}) []string {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toStringMap(v interface{}) map[string]string {
	obj, ok := v.(map[string]interface{})
	if !ok || len(obj) == 0 {
		return nil
	}
	out := make(map[string]string, len(obj))
	for k, val := range obj {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	return out
}
