package twins

import (
	"context"
	"strings"
	"time"

	"github.com/ternarybob/tessera/internal/dtdl"
	"github.com/ternarybob/tessera/internal/models"
)

// GetComponent returns the component sub-object of a twin. A component
// declared by the model but never written reads back as an empty object
// with bare metadata.
func (s *Service) GetComponent(ctx context.Context, twinID, component string) (map[string]interface{}, error) {
	twin, _, err := s.fetchTwinNode(ctx, s.store, twinID)
	if err != nil {
		return nil, err
	}
	if _, err := s.componentDefinition(ctx, twin.ModelID(), component); err != nil {
		return nil, err
	}
	value, ok := twin[component].(map[string]interface{})
	if !ok {
		return map[string]interface{}{
			models.KeyMetadata: map[string]interface{}{},
		}, nil
	}
	return value, nil
}

// UpdateComponent applies a JSON-Patch to a component sub-object and
// writes the twin back under a fresh ETag.
func (s *Service) UpdateComponent(ctx context.Context, twinID, component string, patch []byte, ifMatch string) error {
	twin, version, err := s.fetchTwinNode(ctx, s.store, twinID)
	if err != nil {
		return err
	}
	if err := checkIfMatch(ifMatch, twin.ETag()); err != nil {
		return err
	}
	def, err := s.componentDefinition(ctx, twin.ModelID(), component)
	if err != nil {
		return err
	}

	current, _ := twin[component].(map[string]interface{})
	if current == nil {
		current = map[string]interface{}{}
	}
	patched, err := applyPatch(current, patch)
	if err != nil {
		return err
	}

	subContents, err := s.componentContents(ctx, def)
	if err != nil {
		return err
	}
	var violations []string
	s.collectViolations(ctx, patched, subContents, component+".", &violations)
	if len(violations) > 0 {
		return models.NewError(models.KindValidationFailed,
			"component validation failed: %s", joinViolations(violations))
	}

	twin[component] = patched
	now := models.Timestamp(time.Now())
	meta := twin.Metadata()
	meta[component] = map[string]interface{}{"lastUpdatedOn": now}
	meta[models.KeyLastUpdate] = now
	twin[models.KeyETag] = etagFor(twinID, version+1)

	if err := s.writeTwinNode(ctx, twinID, twin, version+1, true); err != nil {
		return err
	}
	s.logger.Debug().Str("twin", twinID).Str("component", component).Msg("Component patched")
	return nil
}

// componentDefinition resolves a component declaration on the twin's
// model, flattened over bases.
func (s *Service) componentDefinition(ctx context.Context, modelID, component string) (*dtdl.Content, error) {
	contents, err := s.catalog.FlattenedContents(ctx, modelID)
	if err != nil {
		return nil, err
	}
	def := dtdl.FindContentOfKind(contents, component, dtdl.ContentComponent)
	if def == nil {
		return nil, models.NewError(models.KindComponentNotFound,
			"component %s is not defined by model %s", component, modelID)
	}
	return def, nil
}

func joinViolations(violations []string) string {
	return strings.Join(violations, "; ")
}
