package twins

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ternarybob/tessera/internal/dtdl"
	"github.com/ternarybob/tessera/internal/models"
)

// reservedTwinKeys are system keys exempt from schema validation.
var reservedTwinKeys = map[string]bool{
	models.KeyDtID:       true,
	models.KeyETag:       true,
	models.KeyMetadata:   true,
	models.KeyLastUpdate: true,
}

var reservedRelationshipKeys = map[string]bool{
	models.KeyRelationshipID:   true,
	models.KeyRelationshipName: true,
	models.KeySourceID:         true,
	models.KeyTargetID:         true,
	models.KeyETag:             true,
	models.KeyMetadata:         true,
}

// validateTwinBody checks every user property of body against the model's
// flattened contents. All violations are collected and reported in a
// single ValidationFailed error.
func (s *Service) validateTwinBody(ctx context.Context, body map[string]interface{}, contents []dtdl.Content) error {
	var violations []string
	s.collectViolations(ctx, body, contents, "", &violations)
	if len(violations) > 0 {
		return models.NewError(models.KindValidationFailed,
			"twin validation failed: %s", strings.Join(violations, "; "))
	}
	return nil
}

func (s *Service) collectViolations(ctx context.Context, body map[string]interface{}, contents []dtdl.Content, prefix string, violations *[]string) {
	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if reservedTwinKeys[key] {
			continue
		}
		value := body[key]
		path := prefix + key

		content := dtdl.FindContent(contents, key)
		if content == nil {
			*violations = append(*violations, fmt.Sprintf("%s: not defined by the model", path))
			continue
		}
		switch content.Kind {
		case dtdl.ContentProperty:
			if err := dtdl.ValidateValue(content.Schema, value); err != nil {
				*violations = append(*violations, fmt.Sprintf("%s: %v", path, err))
			}
		case dtdl.ContentComponent:
			sub, ok := value.(map[string]interface{})
			if !ok {
				*violations = append(*violations, fmt.Sprintf("%s: component value must be an object", path))
				continue
			}
			subContents, err := s.componentContents(ctx, content)
			if err != nil {
				*violations = append(*violations, fmt.Sprintf("%s: %v", path, err))
				continue
			}
			s.collectViolations(ctx, sub, subContents, path+".", violations)
		case dtdl.ContentTelemetry:
			*violations = append(*violations, fmt.Sprintf("%s: telemetry cannot be written as a property", path))
		case dtdl.ContentRelationship:
			*violations = append(*violations, fmt.Sprintf("%s: relationships cannot be set as properties", path))
		}
	}
}

// componentContents resolves the flattened contents of a component's
// referenced interface.
func (s *Service) componentContents(ctx context.Context, content *dtdl.Content) ([]dtdl.Content, error) {
	if content.Schema == nil || content.Schema.Kind != dtdl.SchemaReference {
		return nil, fmt.Errorf("component has no schema reference")
	}
	return s.catalog.FlattenedContents(ctx, content.Schema.Ref)
}

// validateRelationshipProperties checks custom edge properties against the
// relationship definition's property list.
func validateRelationshipProperties(body map[string]interface{}, rel *dtdl.Content) error {
	var violations []string
	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if reservedRelationshipKeys[key] {
			continue
		}
		prop := dtdl.FindContentOfKind(rel.Properties, key, dtdl.ContentProperty)
		if prop == nil {
			violations = append(violations, fmt.Sprintf("%s: not defined by relationship %s", key, rel.Name))
			continue
		}
		if err := dtdl.ValidateValue(prop.Schema, body[key]); err != nil {
			violations = append(violations, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(violations) > 0 {
		return models.NewError(models.KindValidationFailed,
			"relationship validation failed: %s", strings.Join(violations, "; "))
	}
	return nil
}

// liveModelContents resolves a model for mutation: it must exist and must
// not be decommissioned.
func (s *Service) liveModelContents(ctx context.Context, modelID string) ([]dtdl.Content, error) {
	record, err := s.catalog.Record(ctx, modelID)
	if err != nil {
		if models.IsKind(err, models.KindModelNotFound) {
			return nil, models.NewError(models.KindValidationFailed, "model %s does not exist", modelID)
		}
		return nil, err
	}
	if record.Decommissioned {
		return nil, models.NewError(models.KindValidationFailed, "model %s is decommissioned", modelID)
	}
	return s.catalog.FlattenedContents(ctx, modelID)
}
