package dtdl

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// ValidateValue checks a decoded JSON value against a DTDL schema. Numeric
// primitives coerce across JSON number representations (a whole float64 is
// a valid integer); object and map schemas recurse. Reference schemas are
// not resolvable here and always pass; component payloads are validated
// against the referenced interface by the caller.
func ValidateValue(schema *Schema, value interface{}) error {
	if schema == nil {
		return nil
	}
	switch schema.Kind {
	case SchemaPrimitive:
		return validatePrimitive(schema.Primitive, value)
	case SchemaEnum:
		return validateEnum(schema, value)
	case SchemaObject:
		return validateObject(schema, value)
	case SchemaMap:
		return validateMap(schema, value)
	case SchemaArray:
		return validateArray(schema, value)
	case SchemaReference:
		return nil
	}
	return fmt.Errorf("unknown schema kind %q", schema.Kind)
}

func validatePrimitive(primitive string, value interface{}) error {
	switch primitive {
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", value)
		}
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
	case "integer", "long":
		f, ok := asFloat(value)
		if !ok {
			return fmt.Errorf("expected %s, got %T", primitive, value)
		}
		if f != math.Trunc(f) {
			return fmt.Errorf("expected %s, got fractional number %v", primitive, f)
		}
	case "double", "float":
		if _, ok := asFloat(value); !ok {
			return fmt.Errorf("expected %s, got %T", primitive, value)
		}
	case "date":
		return validateTimeString(value, "2006-01-02", "date")
	case "dateTime":
		return validateTimeString(value, time.RFC3339, "dateTime")
	case "time":
		return validateTimeString(value, "15:04:05", "time")
	case "duration":
		s, ok := value.(string)
		if !ok || len(s) < 2 || s[0] != 'P' {
			return fmt.Errorf("expected ISO 8601 duration string")
		}
	default:
		return fmt.Errorf("unsupported primitive %q", primitive)
	}
	return nil
}

func validateTimeString(value interface{}, layout, what string) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("expected %s string, got %T", what, value)
	}
	if _, err := time.Parse(layout, s); err != nil {
		return fmt.Errorf("invalid %s %q", what, s)
	}
	return nil
}

func validateEnum(schema *Schema, value interface{}) error {
	for _, allowed := range schema.EnumVals {
		if enumEqual(allowed, value) {
			return nil
		}
	}
	return fmt.Errorf("value %v is not a member of the enum", value)
}

func enumEqual(allowed, value interface{}) bool {
	if af, ok := asFloat(allowed); ok {
		vf, ok := asFloat(value)
		return ok && af == vf
	}
	return allowed == value
}

func validateObject(schema *Schema, value interface{}) error {
	obj, ok := value.(map[string]interface{})
	if !ok {
		return fmt.Errorf("expected object, got %T", value)
	}
	fields := map[string]*Schema{}
	for _, f := range schema.Fields {
		fields[f.Name] = f.Schema
	}
	for k, v := range obj {
		fs, ok := fields[k]
		if !ok {
			return fmt.Errorf("unknown object field %q", k)
		}
		if err := ValidateValue(fs, v); err != nil {
			return fmt.Errorf("field %q: %w", k, err)
		}
	}
	return nil
}

func validateMap(schema *Schema, value interface{}) error {
	obj, ok := value.(map[string]interface{})
	if !ok {
		return fmt.Errorf("expected map, got %T", value)
	}
	for k, v := range obj {
		if err := ValidateValue(schema.MapValue, v); err != nil {
			return fmt.Errorf("key %q: %w", k, err)
		}
	}
	return nil
}

func validateArray(schema *Schema, value interface{}) error {
	arr, ok := value.([]interface{})
	if !ok {
		return fmt.Errorf("expected array, got %T", value)
	}
	for i, v := range arr {
		if err := ValidateValue(schema.Element, v); err != nil {
			return fmt.Errorf("index %d: %w", i, err)
		}
	}
	return nil
}

func asFloat(value interface{}) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
