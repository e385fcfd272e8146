package twins

import (
	"context"
	"encoding/json"
	"reflect"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/ternarybob/tessera/internal/models"
)

// CreateOrReplaceTwin upserts a full twin document. ifNoneMatch of "*"
// makes the call create-only.
func (s *Service) CreateOrReplaceTwin(ctx context.Context, id string, body []byte, ifNoneMatch string) (models.DigitalTwin, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, models.WrapError(models.KindArgument, err, "twin body is not valid JSON")
	}
	if existing, ok := doc[models.KeyDtID].(string); ok && existing != id {
		return nil, models.NewError(models.KindArgument,
			"body $dtId %q does not match twin id %q", existing, id)
	}

	modelID := models.DigitalTwin(doc).ModelID()
	if modelID == "" {
		return nil, models.NewError(models.KindArgument, "twin body is missing $metadata.$model")
	}
	contents, err := s.liveModelContents(ctx, modelID)
	if err != nil {
		return nil, err
	}
	if err := s.validateTwinBody(ctx, doc, contents); err != nil {
		return nil, err
	}

	var version int64
	_, prevVersion, err := s.fetchTwinNode(ctx, s.store, id)
	switch {
	case err == nil:
		if ifNoneMatch == "*" {
			return nil, models.NewError(models.KindPreconditionFailed, "digital twin %s already exists", id)
		}
		version = prevVersion + 1
	case models.IsKind(err, models.KindTwinNotFound):
		version = 1
	default:
		return nil, err
	}

	now := models.Timestamp(time.Now())
	callerMeta, _ := doc[models.KeyMetadata].(map[string]interface{})
	doc[models.KeyDtID] = id
	doc[models.KeyETag] = etagFor(id, version)
	doc[models.KeyMetadata] = s.freshMetadata(modelID, doc, callerMeta, now)

	if err := s.writeTwinNode(ctx, id, doc, version, version > 1); err != nil {
		return nil, err
	}
	s.logger.Debug().Str("twin", id).Str("model", modelID).Msg("Twin upserted")
	return models.DigitalTwin(doc), nil
}

// GetTwin returns a twin document with its current ETag.
func (s *Service) GetTwin(ctx context.Context, id string) (models.DigitalTwin, error) {
	twin, _, err := s.fetchTwinNode(ctx, s.store, id)
	return twin, err
}

// UpdateTwin applies an RFC 6902 JSON-Patch to a twin: load, patch in
// memory, re-validate, write back under a fresh ETag. Patches that touch
// `$metadata/<name>/sourceTime` are honored verbatim; removing an absent
// property is a no-op.
func (s *Service) UpdateTwin(ctx context.Context, id string, patch []byte, ifMatch string) error {
	current, version, err := s.fetchTwinNode(ctx, s.store, id)
	if err != nil {
		return err
	}
	if err := checkIfMatch(ifMatch, current.ETag()); err != nil {
		return err
	}

	patched, err := applyPatch(current, patch)
	if err != nil {
		return err
	}
	if newID, ok := patched[models.KeyDtID].(string); ok && newID != id {
		return models.NewError(models.KindArgument, "$dtId is immutable")
	}

	modelID := models.DigitalTwin(patched).ModelID()
	if modelID == "" {
		return models.NewError(models.KindArgument, "patch removed $metadata.$model")
	}
	contents, err := s.liveModelContents(ctx, modelID)
	if err != nil {
		return err
	}
	if err := s.validateTwinBody(ctx, patched, contents); err != nil {
		return err
	}

	now := models.Timestamp(time.Now())
	patchedMeta, _ := patched[models.KeyMetadata].(map[string]interface{})
	patched[models.KeyDtID] = id
	patched[models.KeyETag] = etagFor(id, version+1)
	patched[models.KeyMetadata] = s.patchedMetadata(modelID, current, patched, patchedMeta, now)

	if err := s.writeTwinNode(ctx, id, patched, version+1, true); err != nil {
		return err
	}
	s.logger.Debug().Str("twin", id).Msg("Twin patched")
	return nil
}

// DeleteTwin removes a twin. The delete is rejected while any relationship
// references the twin in either direction.
func (s *Service) DeleteTwin(ctx context.Context, id string, ifMatch string) error {
	twin, _, err := s.fetchTwinNode(ctx, s.store, id)
	if err != nil {
		return err
	}
	if err := checkIfMatch(ifMatch, twin.ETag()); err != nil {
		return err
	}
	edges, err := s.store.ExecuteScalar(ctx, s.graph,
		"MATCH (t:Twin)-[r]-() WHERE t['$dtId'] = $id RETURN count(r)",
		map[string]interface{}{"id": id})
	if err != nil {
		return err
	}
	if asInt(edges) > 0 {
		return models.NewError(models.KindArgument,
			"digital twin %s still has relationships; delete them first", id)
	}
	_, err = s.store.ExecuteCypher(ctx, s.graph,
		"MATCH (t:Twin) WHERE t['$dtId'] = $id DELETE t",
		map[string]interface{}{"id": id}, nil)
	if err != nil {
		return err
	}
	s.logger.Debug().Str("twin", id).Msg("Twin deleted")
	return nil
}

// CreateOrReplaceTwins upserts up to 100 twins. Elements fail or succeed
// independently; there are no all-or-nothing semantics.
func (s *Service) CreateOrReplaceTwins(ctx context.Context, batch []json.RawMessage) (*models.BatchResult, error) {
	if len(batch) > maxBatchSize {
		return nil, models.NewError(models.KindArgument,
			"batch contains %d elements; the limit is %d", len(batch), maxBatchSize)
	}
	result := &models.BatchResult{Successes: []string{}, Failures: []models.BatchItemError{}}
	for _, raw := range batch {
		var doc map[string]interface{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			result.Failures = append(result.Failures, models.BatchItemError{Message: "element is not valid JSON"})
			continue
		}
		id, _ := doc[models.KeyDtID].(string)
		if id == "" {
			result.Failures = append(result.Failures, models.BatchItemError{Message: "element is missing $dtId"})
			continue
		}
		if _, err := s.CreateOrReplaceTwin(ctx, id, raw, ""); err != nil {
			result.Failures = append(result.Failures, models.BatchItemError{ID: id, Message: err.Error()})
			continue
		}
		result.Successes = append(result.Successes, id)
	}
	return result, nil
}

// writeTwinNode persists the full property bag, including the hidden
// version counter.
func (s *Service) writeTwinNode(ctx context.Context, id string, doc map[string]interface{}, version int64, replace bool) error {
	props := make(map[string]interface{}, len(doc)+1)
	for k, v := range doc {
		props[k] = v
	}
	props[keyVersion] = version

	var cypher string
	if replace {
		cypher = "MATCH (t:Twin) WHERE t['$dtId'] = $id SET t = $props"
	} else {
		cypher = "CREATE (t:Twin $props)"
	}
	_, err := s.store.ExecuteCypher(ctx, s.graph, cypher,
		map[string]interface{}{"id": id, "props": props}, nil)
	return err
}

// freshMetadata builds the `$metadata` object for a full upsert: every
// property gets lastUpdatedOn = now, caller-supplied sourceTime survives.
func (s *Service) freshMetadata(modelID string, doc, callerMeta map[string]interface{}, now string) map[string]interface{} {
	meta := map[string]interface{}{
		models.KeyModel:      modelID,
		models.KeyLastUpdate: now,
	}
	for key := range doc {
		if reservedTwinKeys[key] {
			continue
		}
		entry := map[string]interface{}{"lastUpdatedOn": now}
		if st := sourceTimeOf(callerMeta, key); st != "" {
			entry["sourceTime"] = st
		}
		meta[key] = entry
	}
	return meta
}

// patchedMetadata rebuilds `$metadata` after a JSON-Patch: changed
// properties get fresh metadata, unchanged ones keep whatever the patched
// document carries, removed ones lose their entry.
func (s *Service) patchedMetadata(modelID string, before, after, patchedMeta map[string]interface{}, now string) map[string]interface{} {
	meta := map[string]interface{}{
		models.KeyModel:      modelID,
		models.KeyLastUpdate: now,
	}
	for key, newValue := range after {
		if reservedTwinKeys[key] {
			continue
		}
		oldValue, existed := before[key]
		if !existed || !reflect.DeepEqual(oldValue, newValue) {
			entry := map[string]interface{}{"lastUpdatedOn": now}
			if st := sourceTimeOf(patchedMeta, key); st != "" {
				entry["sourceTime"] = st
			}
			meta[key] = entry
			continue
		}
		if entry, ok := patchedMeta[key]; ok {
			meta[key] = entry
		}
	}
	return meta
}

func sourceTimeOf(meta map[string]interface{}, key string) string {
	entry, _ := meta[key].(map[string]interface{})
	if entry == nil {
		return ""
	}
	st, _ := entry["sourceTime"].(string)
	return st
}

// applyPatch decodes and applies an RFC 6902 patch to a document map.
func applyPatch(doc map[string]interface{}, patchBytes []byte) (map[string]interface{}, error) {
	patch, err := jsonpatch.DecodePatch(patchBytes)
	if err != nil {
		return nil, models.WrapError(models.KindArgument, err, "invalid JSON patch")
	}
	current, err := json.Marshal(doc)
	if err != nil {
		return nil, models.WrapError(models.KindInternal, err, "failed to encode document")
	}
	options := jsonpatch.NewApplyOptions()
	options.AllowMissingPathOnRemove = true
	options.EnsurePathExistsOnAdd = true
	patchedBytes, err := patch.ApplyWithOptions(current, options)
	if err != nil {
		return nil, models.WrapError(models.KindArgument, err, "failed to apply JSON patch")
	}
	var patched map[string]interface{}
	if err := json.Unmarshal(patchedBytes, &patched); err != nil {
		return nil, models.WrapError(models.KindArgument, err, "patched document is not an object")
	}
	return patched, nil
}
