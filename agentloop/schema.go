package agentloop

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/invopop/jsonschema"
)

// NoArgs is the argument type of tools that take no arguments. Tools
// registered with it advertise no parameter schema and never decode their
// payload.
type NoArgs struct{}

// schemaNoise lists top-level keywords that carry no meaning for the model.
var schemaNoise = []string{"$schema", "$id", "title"}

// isUnitType reports whether t carries no information: an empty struct.
func isUnitType(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct && t.NumField() == 0
}

// DeriveSchema produces a self-contained JSON schema for values of type t,
// or nil when t is a unit type. The result is stable across calls.
func DeriveSchema(t reflect.Type) (map[string]interface{}, error) {
	if t == nil || isUnitType(t) {
		return nil, nil
	}

	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := r.ReflectFromType(t)

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode schema for %s: %w", t, err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode schema for %s: %w", t, err)
	}

	for _, key := range schemaNoise {
		delete(doc, key)
	}
	if defs, ok := doc["$defs"].(map[string]interface{}); ok && len(defs) == 0 {
		delete(doc, "$defs")
	}
	return doc, nil
}

// objectShape is the top-level key contract of an object schema.
type objectShape struct {
	required []string
	// allowed is nil when the schema admits additional properties.
	allowed map[string]bool
}

// shapeOf extracts the key contract from a derived schema, or nil when the
// schema does not describe an object.
func shapeOf(schema map[string]interface{}) *objectShape {
	if schema == nil || schema["type"] != "object" {
		return nil
	}
	shape := &objectShape{}
	if keys, ok := schema["required"].([]interface{}); ok {
		for _, k := range keys {
			if s, ok := k.(string); ok {
				shape.required = append(shape.required, s)
			}
		}
	}
	if extra, ok := schema["additionalProperties"].(bool); ok && !extra {
		shape.allowed = map[string]bool{}
		if props, ok := schema["properties"].(map[string]interface{}); ok {
			for k := range props {
				shape.allowed[k] = true
			}
		}
	}
	return shape
}

// check reports the first key in payload that breaks the contract. Keys
// match exactly, unlike encoding/json field matching.
func (s *objectShape) check(payload []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return err
	}
	if fields == nil {
		return errors.New("arguments must be a JSON object")
	}
	for _, key := range s.required {
		if _, ok := fields[key]; !ok {
			return fmt.Errorf("missing required field %q", key)
		}
	}
	if s.allowed == nil {
		return nil
	}
	var unknown []string
	for key := range fields {
		if !s.allowed[key] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unknown field %q", unknown[0])
	}
	return nil
}
