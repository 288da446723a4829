package agentloop

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type schemaArgs struct {
	Path  string `json:"path" jsonschema:"description=a relative path"`
	Limit int    `json:"limit,omitempty"`
}

func TestDeriveSchemaUnit(t *testing.T) {
	for _, typ := range []reflect.Type{
		reflect.TypeOf(NoArgs{}),
		reflect.TypeOf(struct{}{}),
		reflect.TypeOf(&NoArgs{}),
	} {
		schema, err := DeriveSchema(typ)
		require.NoError(t, err)
		assert.Nil(t, schema, "expected no schema for %s", typ)
	}
}

func TestDeriveSchemaStruct(t *testing.T) {
	schema, err := DeriveSchema(reflect.TypeOf(schemaArgs{}))
	require.NoError(t, err)

	for _, key := range []string{"$schema", "$id", "title", "$ref", "$defs"} {
		assert.NotContains(t, schema, key)
	}
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, false, schema["additionalProperties"])

	props, ok := schema["properties"].(map[string]interface{})
	require.True(t, ok, "expected properties map, got %T", schema["properties"])
	path, ok := props["path"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "string", path["type"])
	assert.Equal(t, "a relative path", path["description"])

	assert.Equal(t, []interface{}{"path"}, schema["required"])
}

func TestDeriveSchemaStable(t *testing.T) {
	first, err := DeriveSchema(reflect.TypeOf(WriteFileArgs{}))
	require.NoError(t, err)
	second, err := DeriveSchema(reflect.TypeOf(WriteFileArgs{}))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestObjectShapeFromSchema(t *testing.T) {
	schema, err := DeriveSchema(reflect.TypeOf(schemaArgs{}))
	require.NoError(t, err)
	shape := shapeOf(schema)
	require.NotNil(t, shape)
	assert.Equal(t, []string{"path"}, shape.required)
	assert.Equal(t, map[string]bool{"path": true, "limit": true}, shape.allowed)

	assert.NoError(t, shape.check([]byte(`{"path":"a"}`)))
	assert.NoError(t, shape.check([]byte(`{"path":"","limit":3}`)))
	assert.EqualError(t, shape.check([]byte(`{"limit":3}`)), `missing required field "path"`)
	assert.EqualError(t, shape.check([]byte(`{"path":"a","zeta":1,"alpha":2}`)), `unknown field "alpha"`)
	assert.Error(t, shape.check([]byte(`null`)))
	assert.Error(t, shape.check([]byte(`[]`)))
}

func TestObjectShapeIgnoresNonObjectSchemas(t *testing.T) {
	assert.Nil(t, shapeOf(nil))
	schema, err := DeriveSchema(reflect.TypeOf(""))
	require.NoError(t, err)
	assert.Nil(t, shapeOf(schema))
}
