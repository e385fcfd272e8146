// -----------------------------------------------------------------------
// DTDL v2/v3 interface parsing and schema model
// -----------------------------------------------------------------------

package dtdl

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Content kinds inside a DTDL interface.
const (
	ContentProperty     = "Property"
	ContentRelationship = "Relationship"
	ContentTelemetry    = "Telemetry"
	ContentComponent    = "Component"
)

var (
	dtmiPattern = regexp.MustCompile(`^dtmi:[A-Za-z](?:[A-Za-z0-9_]*[A-Za-z0-9])?(?::[A-Za-z](?:[A-Za-z0-9_]*[A-Za-z0-9])?)*;[1-9][0-9]*$`)
	namePattern = regexp.MustCompile(`^[A-Za-z](?:[A-Za-z0-9_]*[A-Za-z0-9])?$`)
)

// IsValidDTMI reports whether s is a well-formed DTMI.
func IsValidDTMI(s string) bool {
	return dtmiPattern.MatchString(s)
}

// Interface is a parsed DTDL interface document.
type Interface struct {
	ID       string
	Context  []string
	Extends  []string
	Contents []Content
	Raw      json.RawMessage
}

// Content is one entry of an interface's `contents` array, a tagged variant
// over Property | Relationship | Telemetry | Component.
type Content struct {
	Kind   string
	Name   string
	Schema *Schema // Property/Telemetry value schema, or Component interface ref

	// Relationship only.
	Target     string // permitted target model, "" = unconstrained
	Properties []Content
}

// SchemaKind discriminates the schema variant.
type SchemaKind string

const (
	SchemaPrimitive SchemaKind = "primitive"
	SchemaObject    SchemaKind = "object"
	SchemaMap       SchemaKind = "map"
	SchemaArray     SchemaKind = "array"
	SchemaEnum      SchemaKind = "enum"
	SchemaReference SchemaKind = "reference" // DTMI of another interface (components)
)

// Schema is a parsed DTDL schema.
type Schema struct {
	Kind      SchemaKind
	Primitive string // boolean|date|dateTime|double|duration|float|integer|long|string|time
	Fields    []Field
	MapValue  *Schema
	Element   *Schema
	EnumKind  string // "string" or "integer"
	EnumVals  []interface{}
	Ref       string // DTMI for SchemaReference
}

// Field is one field of an Object schema.
type Field struct {
	Name   string
	Schema *Schema
}

var primitiveSchemas = map[string]bool{
	"boolean": true, "date": true, "dateTime": true, "double": true,
	"duration": true, "float": true, "integer": true, "long": true,
	"string": true, "time": true,
}

// Parse decodes and validates a single DTDL interface document.
func Parse(doc []byte) (*Interface, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(doc, &raw); err != nil {
		return nil, fmt.Errorf("invalid DTDL JSON: %w", err)
	}

	iface := &Interface{Raw: json.RawMessage(append([]byte(nil), doc...))}

	id, _ := raw["@id"].(string)
	if !IsValidDTMI(id) {
		return nil, fmt.Errorf("invalid or missing @id %q", id)
	}
	iface.ID = id

	if !hasType(raw["@type"], "Interface") {
		return nil, fmt.Errorf("model %s: @type must include Interface", id)
	}

	iface.Context = stringOrSlice(raw["@context"])

	for _, ext := range stringOrSlice(raw["extends"]) {
		if !IsValidDTMI(ext) {
			return nil, fmt.Errorf("model %s: invalid extends DTMI %q", id, ext)
		}
		iface.Extends = append(iface.Extends, ext)
	}

	contents, err := parseContents(raw["contents"])
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", id, err)
	}
	iface.Contents = contents

	seen := map[string]bool{}
	for _, c := range contents {
		if seen[c.Name] {
			return nil, fmt.Errorf("model %s: duplicate content name %q", id, c.Name)
		}
		seen[c.Name] = true
	}

	return iface, nil
}

// References returns every DTMI the interface depends on: direct extends,
// component schemas and relationship targets.
func (i *Interface) References() []string {
	var refs []string
	add := func(s string) {
		if s == "" {
			return
		}
		for _, r := range refs {
			if r == s {
				return
			}
		}
		refs = append(refs, s)
	}
	for _, e := range i.Extends {
		add(e)
	}
	for _, c := range i.Contents {
		switch c.Kind {
		case ContentComponent:
			if c.Schema != nil && c.Schema.Kind == SchemaReference {
				add(c.Schema.Ref)
			}
		case ContentRelationship:
			add(c.Target)
		}
	}
	return refs
}

// ContentsOfKind returns the interface's own contents of one kind.
func (i *Interface) ContentsOfKind(kind string) []Content {
	var out []Content
	for _, c := range i.Contents {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

func parseContents(v interface{}) ([]Content, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("contents must be an array")
	}
	var out []Content
	for _, item := range list {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("contents entries must be objects")
		}
		c, err := parseContent(obj)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func parseContent(obj map[string]interface{}) (Content, error) {
	var c Content
	switch {
	case hasType(obj["@type"], ContentProperty):
		c.Kind = ContentProperty
	case hasType(obj["@type"], ContentRelationship):
		c.Kind = ContentRelationship
	case hasType(obj["@type"], ContentTelemetry):
		c.Kind = ContentTelemetry
	case hasType(obj["@type"], ContentComponent):
		c.Kind = ContentComponent
	default:
		return c, fmt.Errorf("content entry has unsupported @type %v", obj["@type"])
	}

	name, _ := obj["name"].(string)
	if !namePattern.MatchString(name) {
		return c, fmt.Errorf("%s has invalid name %q", c.Kind, name)
	}
	c.Name = name

	switch c.Kind {
	case ContentProperty, ContentTelemetry:
		schema, err := parseSchema(obj["schema"])
		if err != nil {
			return c, fmt.Errorf("%s %q: %w", c.Kind, name, err)
		}
		c.Schema = schema
	case ContentComponent:
		ref, ok := obj["schema"].(string)
		if !ok || !IsValidDTMI(ref) {
			return c, fmt.Errorf("component %q schema must be a DTMI", name)
		}
		c.Schema = &Schema{Kind: SchemaReference, Ref: ref}
	case ContentRelationship:
		if target, ok := obj["target"].(string); ok {
			if !IsValidDTMI(target) {
				return c, fmt.Errorf("relationship %q: invalid target %q", name, target)
			}
			c.Target = target
		}
		if props, ok := obj["properties"]; ok {
			parsed, err := parseContents(props)
			if err != nil {
				return c, fmt.Errorf("relationship %q: %w", name, err)
			}
			for _, p := range parsed {
				if p.Kind != ContentProperty {
					return c, fmt.Errorf("relationship %q: properties may only contain Property entries", name)
				}
			}
			c.Properties = parsed
		}
	}
	return c, nil
}

func parseSchema(v interface{}) (*Schema, error) {
	switch s := v.(type) {
	case nil:
		return nil, fmt.Errorf("missing schema")
	case string:
		if primitiveSchemas[s] {
			return &Schema{Kind: SchemaPrimitive, Primitive: s}, nil
		}
		if IsValidDTMI(s) {
			return &Schema{Kind: SchemaReference, Ref: s}, nil
		}
		return nil, fmt.Errorf("unknown schema %q", s)
	case map[string]interface{}:
		return parseComplexSchema(s)
	default:
		return nil, fmt.Errorf("schema must be a string or object")
	}
}

func parseComplexSchema(obj map[string]interface{}) (*Schema, error) {
	switch {
	case hasType(obj["@type"], "Object"):
		fieldsRaw, _ := obj["fields"].([]interface{})
		out := &Schema{Kind: SchemaObject}
		for _, fr := range fieldsRaw {
			fo, ok := fr.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("object fields must be objects")
			}
			name, _ := fo["name"].(string)
			if !namePattern.MatchString(name) {
				return nil, fmt.Errorf("object field has invalid name %q", name)
			}
			fs, err := parseSchema(fo["schema"])
			if err != nil {
				return nil, fmt.Errorf("object field %q: %w", name, err)
			}
			out.Fields = append(out.Fields, Field{Name: name, Schema: fs})
		}
		return out, nil
	case hasType(obj["@type"], "Map"):
		mv, _ := obj["mapValue"].(map[string]interface{})
		if mv == nil {
			return nil, fmt.Errorf("map schema requires mapValue")
		}
		vs, err := parseSchema(mv["schema"])
		if err != nil {
			return nil, fmt.Errorf("mapValue: %w", err)
		}
		return &Schema{Kind: SchemaMap, MapValue: vs}, nil
	case hasType(obj["@type"], "Array"):
		es, err := parseSchema(obj["elementSchema"])
		if err != nil {
			return nil, fmt.Errorf("elementSchema: %w", err)
		}
		return &Schema{Kind: SchemaArray, Element: es}, nil
	case hasType(obj["@type"], "Enum"):
		valueSchema, _ := obj["valueSchema"].(string)
		if valueSchema != "string" && valueSchema != "integer" {
			return nil, fmt.Errorf("enum valueSchema must be string or integer")
		}
		out := &Schema{Kind: SchemaEnum, EnumKind: valueSchema}
		values, _ := obj["enumValues"].([]interface{})
		for _, vr := range values {
			vo, ok := vr.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("enumValues entries must be objects")
			}
			out.EnumVals = append(out.EnumVals, vo["enumValue"])
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported complex schema @type %v", obj["@type"])
	}
}

func hasType(v interface{}, want string) bool {
	switch t := v.(type) {
	case string:
		return t == want
	case []interface{}:
		for _, e := range t {
			if s, ok := e.(string); ok && s == want {
				return true
			}
		}
	}
	return false
}

func stringOrSlice(v interface{}) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []interface{}:
		var out []string
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// DisplayStrings extracts a localizable string field (displayName or
// description) from the raw document as a locale map.
func DisplayStrings(doc []byte, field string) map[string]string {
	var raw map[string]interface{}
	if err := json.Unmarshal(doc, &raw); err != nil {
		return nil
	}
	switch v := raw[field].(type) {
	case string:
		return map[string]string{"en": v}
	case map[string]interface{}:
		out := map[string]string{}
		for locale, val := range v {
			if s, ok := val.(string); ok {
				out[strings.ToLower(locale)] = s
			}
		}
		return out
	}
	return nil
}
