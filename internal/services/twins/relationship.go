package twins

import (
	"context"
	"encoding/json"

	"github.com/ternarybob/tessera/internal/dtdl"
	"github.com/ternarybob/tessera/internal/interfaces"
	"github.com/ternarybob/tessera/internal/models"
	"github.com/ternarybob/tessera/internal/storage/age"
)

// CreateOrReplaceRelationship upserts an edge from sourceID. The edge
// label is the relationship name, which must be declared by the source
// twin's model or one of its bases.
func (s *Service) CreateOrReplaceRelationship(ctx context.Context, sourceID, relID string, body []byte, ifNoneMatch string) (models.Relationship, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, models.WrapError(models.KindArgument, err, "relationship body is not valid JSON")
	}
	if existing, ok := doc[models.KeyRelationshipID].(string); ok && existing != relID {
		return nil, models.NewError(models.KindArgument,
			"body $relationshipId %q does not match %q", existing, relID)
	}
	if existing, ok := doc[models.KeySourceID].(string); ok && existing != sourceID {
		return nil, models.NewError(models.KindArgument,
			"body $sourceId %q does not match %q", existing, sourceID)
	}
	targetID, _ := doc[models.KeyTargetID].(string)
	if targetID == "" {
		return nil, models.NewError(models.KindArgument, "relationship body is missing $targetId")
	}
	name, _ := doc[models.KeyRelationshipName].(string)
	if name == "" {
		return nil, models.NewError(models.KindArgument, "relationship body is missing $relationshipName")
	}

	source, _, err := s.fetchTwinNode(ctx, s.store, sourceID)
	if err != nil {
		return nil, err
	}
	target, _, err := s.fetchTwinNode(ctx, s.store, targetID)
	if err != nil {
		return nil, err
	}

	contents, err := s.catalog.FlattenedContents(ctx, source.ModelID())
	if err != nil {
		return nil, err
	}
	rel := dtdl.FindContentOfKind(contents, name, dtdl.ContentRelationship)
	if rel == nil {
		return nil, models.NewError(models.KindValidationFailed,
			"model %s does not define relationship %s", source.ModelID(), name)
	}
	if rel.Target != "" {
		if err := s.checkTargetModel(ctx, rel, target.ModelID()); err != nil {
			return nil, err
		}
	}
	if err := validateRelationshipProperties(doc, rel); err != nil {
		return nil, err
	}

	var version int64 = 1
	if _, prevVersion, err := s.fetchRelationshipEdge(ctx, sourceID, relID); err == nil {
		if ifNoneMatch == "*" {
			return nil, models.NewError(models.KindPreconditionFailed,
				"relationship %s on twin %s already exists", relID, sourceID)
		}
		version = prevVersion + 1
	} else if !models.IsKind(err, models.KindRelationshipNotFound) {
		return nil, err
	}

	doc[models.KeyRelationshipID] = relID
	doc[models.KeySourceID] = sourceID
	doc[models.KeyTargetID] = targetID
	doc[models.KeyETag] = etagFor(sourceID+"/"+relID, version)

	if err := s.writeRelationshipEdge(ctx, sourceID, relID, targetID, name, doc, version, version > 1); err != nil {
		return nil, err
	}
	s.logger.Debug().Str("source", sourceID).Str("relationship", relID).Str("name", name).Msg("Relationship upserted")
	return models.Relationship(doc), nil
}

// GetRelationship returns one relationship document.
func (s *Service) GetRelationship(ctx context.Context, sourceID, relID string) (models.Relationship, error) {
	rel, _, err := s.fetchRelationshipEdge(ctx, sourceID, relID)
	return rel, err
}

// UpdateRelationship applies a JSON-Patch to a relationship's custom
// properties. The system keys are immutable.
func (s *Service) UpdateRelationship(ctx context.Context, sourceID, relID string, patch []byte, ifMatch string) error {
	current, version, err := s.fetchRelationshipEdge(ctx, sourceID, relID)
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
	after := models.Relationship(patched)
	if after.ID() != relID || after.SourceID() != sourceID ||
		after.TargetID() != current.TargetID() || after.Name() != current.Name() {
		return models.NewError(models.KindArgument,
			"relationship system properties are immutable")
	}

	source, _, err := s.fetchTwinNode(ctx, s.store, sourceID)
	if err != nil {
		return err
	}
	contents, err := s.catalog.FlattenedContents(ctx, source.ModelID())
	if err != nil {
		return err
	}
	rel := dtdl.FindContentOfKind(contents, current.Name(), dtdl.ContentRelationship)
	if rel == nil {
		return models.NewError(models.KindValidationFailed,
			"model %s does not define relationship %s", source.ModelID(), current.Name())
	}
	if err := validateRelationshipProperties(patched, rel); err != nil {
		return err
	}

	patched[models.KeyETag] = etagFor(sourceID+"/"+relID, version+1)
	if err := s.writeRelationshipEdge(ctx, sourceID, relID, current.TargetID(), current.Name(), patched, version+1, true); err != nil {
		return err
	}
	s.logger.Debug().Str("source", sourceID).Str("relationship", relID).Msg("Relationship patched")
	return nil
}

// DeleteRelationship removes one edge.
func (s *Service) DeleteRelationship(ctx context.Context, sourceID, relID string, ifMatch string) error {
	current, _, err := s.fetchRelationshipEdge(ctx, sourceID, relID)
	if err != nil {
		return err
	}
	if err := checkIfMatch(ifMatch, current.ETag()); err != nil {
		return err
	}
	_, err = s.store.ExecuteCypher(ctx, s.graph, `
		MATCH (src:Twin)-[r]->()
		WHERE src['$dtId'] = $src AND r['$relationshipId'] = $rid
		DELETE r`,
		map[string]interface{}{"src": sourceID, "rid": relID}, nil)
	if err != nil {
		return err
	}
	s.logger.Debug().Str("source", sourceID).Str("relationship", relID).Msg("Relationship deleted")
	return nil
}

// CreateOrReplaceRelationships upserts up to 100 relationships. The batch
// must not be empty; elements fail or succeed independently.
func (s *Service) CreateOrReplaceRelationships(ctx context.Context, batch []json.RawMessage) (*models.BatchResult, error) {
	if len(batch) == 0 {
		return nil, models.NewError(models.KindArgument, "relationship batch must not be empty")
	}
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
		rel := models.Relationship(doc)
		if rel.SourceID() == "" || rel.ID() == "" {
			result.Failures = append(result.Failures, models.BatchItemError{
				ID:      rel.ID(),
				Message: "element is missing $sourceId or $relationshipId",
			})
			continue
		}
		if _, err := s.CreateOrReplaceRelationship(ctx, rel.SourceID(), rel.ID(), raw, ""); err != nil {
			result.Failures = append(result.Failures, models.BatchItemError{ID: rel.ID(), Message: err.Error()})
			continue
		}
		result.Successes = append(result.Successes, rel.ID())
	}
	return result, nil
}

// ListRelationships returns the outgoing relationships of a twin,
// optionally filtered by relationship name.
func (s *Service) ListRelationships(ctx context.Context, twinID, name string) ([]models.Relationship, error) {
	if exists, err := s.twinExists(ctx, s.store, twinID); err != nil {
		return nil, err
	} else if !exists {
		return nil, models.NewError(models.KindTwinNotFound, "digital twin %s not found", twinID)
	}
	cypher := "MATCH (src:Twin)-[r]->(:Twin) WHERE src['$dtId'] = $id"
	params := map[string]interface{}{"id": twinID}
	if name != "" {
		cypher += " AND r['$relationshipName'] = $name"
		params["name"] = name
	}
	cypher += " RETURN r"
	return s.collectRelationships(ctx, cypher, params)
}

// ListIncomingRelationships returns the relationships pointing at a twin.
func (s *Service) ListIncomingRelationships(ctx context.Context, twinID string) ([]models.Relationship, error) {
	if exists, err := s.twinExists(ctx, s.store, twinID); err != nil {
		return nil, err
	} else if !exists {
		return nil, models.NewError(models.KindTwinNotFound, "digital twin %s not found", twinID)
	}
	return s.collectRelationships(ctx,
		"MATCH (:Twin)-[r]->(tgt:Twin) WHERE tgt['$dtId'] = $id RETURN r",
		map[string]interface{}{"id": twinID})
}

func (s *Service) collectRelationships(ctx context.Context, cypher string, params map[string]interface{}) ([]models.Relationship, error) {
	rows, err := s.store.ExecuteCypher(ctx, s.graph, cypher, params, []string{"r"})
	if err != nil {
		return nil, err
	}
	out := make([]models.Relationship, 0, len(rows))
	for _, row := range rows {
		props := age.EdgeProperties(row["r"])
		if props == nil {
			return nil, models.NewError(models.KindInternal, "query returned a non-edge relationship value")
		}
		popVersion(props)
		out = append(out, models.Relationship(props))
	}
	return out, nil
}

// checkTargetModel enforces the relationship definition's target
// constraint against the target twin's model.
func (s *Service) checkTargetModel(ctx context.Context, rel *dtdl.Content, targetModelID string) error {
	if targetModelID == rel.Target {
		return nil
	}
	record, err := s.catalog.Record(ctx, targetModelID)
	if err != nil {
		return err
	}
	for _, base := range record.Bases {
		if base == rel.Target {
			return nil
		}
	}
	return models.NewError(models.KindValidationFailed,
		"relationship %s requires a target of model %s", rel.Name, rel.Target)
}

// fetchRelationshipEdge reads one edge and splits off the hidden version
// counter.
func (s *Service) fetchRelationshipEdge(ctx context.Context, sourceID, relID string) (models.Relationship, int64, error) {
	rows, err := s.store.ExecuteCypher(ctx, s.graph, `
		MATCH (src:Twin)-[r]->()
		WHERE src['$dtId'] = $src AND r['$relationshipId'] = $rid
		RETURN r`,
		map[string]interface{}{"src": sourceID, "rid": relID}, []string{"r"})
	if err != nil {
		return nil, 0, err
	}
	if len(rows) == 0 {
		return nil, 0, models.NewError(models.KindRelationshipNotFound,
			"relationship %s on twin %s not found", relID, sourceID)
	}
	props := age.EdgeProperties(rows[0]["r"])
	if props == nil {
		return nil, 0, models.NewError(models.KindInternal, "query returned a non-edge relationship value")
	}
	version := popVersion(props)
	return models.Relationship(props), version, nil
}

// writeRelationshipEdge persists the edge property bag. Creation names
// the edge label after the relationship, which translated queries match
// on directly.
func (s *Service) writeRelationshipEdge(ctx context.Context, sourceID, relID, targetID, name string, doc map[string]interface{}, version int64, replace bool) error {
	props := make(map[string]interface{}, len(doc)+1)
	for k, v := range doc {
		props[k] = v
	}
	props[keyVersion] = version

	if replace {
		_, err := s.store.ExecuteCypher(ctx, s.graph, `
			MATCH (src:Twin)-[r]->()
			WHERE src['$dtId'] = $src AND r['$relationshipId'] = $rid
			SET r = $props`,
			map[string]interface{}{"src": sourceID, "rid": relID, "props": props}, nil)
		return err
	}
	// The relationship name was validated against the model catalog, whose
	// DTDL name grammar keeps it safe to splice as a label.
	cypher := `
		MATCH (src:Twin), (tgt:Twin)
		WHERE src['$dtId'] = $src AND tgt['$dtId'] = $tgt
		CREATE (src)-[r:` + name + ` $props]->(tgt)`
	_, err := s.store.ExecuteCypher(ctx, s.graph, cypher,
		map[string]interface{}{"src": sourceID, "tgt": targetID, "props": props}, nil)
	return err
}

// conformance check: the relationship file completes the TwinService
// surface.
var _ interfaces.TwinService = (*Service)(nil)
