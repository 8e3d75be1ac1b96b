package schemacheck

import (
	"testing"

	"github.com/alennartz/toolscript/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nodeManifest() catalog.Manifest {
	return catalog.Manifest{
		Schemas: []catalog.TypeDescriptor{
			{
				Name: "Node",
				Fields: []catalog.TypeField{
					{Name: "name", Type: catalog.FieldType{Kind: catalog.FieldScalarString}, Required: true},
					{
						Name: "children",
						Type: catalog.FieldType{
							Kind: catalog.FieldArray,
							Of:   &catalog.FieldType{Kind: catalog.FieldReference, RefName: "Node"},
						},
					},
				},
			},
		},
	}
}

func TestSelfReferentialTypeValidatesWithoutRecursing(t *testing.T) {
	cat, err := catalog.FromManifest(nodeManifest())
	require.NoError(t, err)
	checker := New(cat)

	value := map[string]any{
		"name": "root",
		"children": []any{
			map[string]any{
				"name": "child",
				"children": []any{
					map[string]any{"name": "grandchild"},
				},
			},
		},
	}
	assert.NoError(t, checker.Validate("Node", value))
}

func TestSelfReferentialTypeRejectsMissingRequiredFieldAtAnyDepth(t *testing.T) {
	cat, err := catalog.FromManifest(nodeManifest())
	require.NoError(t, err)
	checker := New(cat)

	value := map[string]any{
		"name": "root",
		"children": []any{
			map[string]any{"children": []any{}}, // missing required "name"
		},
	}
	assert.Error(t, checker.Validate("Node", value))
}

func TestMutuallyRecursiveTypesValidate(t *testing.T) {
	m := catalog.Manifest{
		Schemas: []catalog.TypeDescriptor{
			{
				Name: "A",
				Fields: []catalog.TypeField{
					{Name: "b", Type: catalog.FieldType{Kind: catalog.FieldReference, RefName: "B"}},
				},
			},
			{
				Name: "B",
				Fields: []catalog.TypeField{
					{Name: "a", Type: catalog.FieldType{Kind: catalog.FieldReference, RefName: "A"}},
				},
			},
		},
	}
	cat, err := catalog.FromManifest(m)
	require.NoError(t, err)
	checker := New(cat)

	value := map[string]any{"b": map[string]any{"a": map[string]any{}}}
	assert.NoError(t, checker.Validate("A", value))
}

func TestUnknownSchemaNameIsANoOp(t *testing.T) {
	cat, err := catalog.FromManifest(catalog.Manifest{})
	require.NoError(t, err)
	checker := New(cat)
	assert.NoError(t, checker.Validate("DoesNotExist", map[string]any{}))
}
