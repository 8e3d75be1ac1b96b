package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuplicateFunctionNameRejected(t *testing.T) {
	m := Manifest{
		Apis: []ApiDescriptor{{Name: "petstore", BaseURL: "https://example.com"}},
		Functions: []FunctionDescriptor{
			{Name: "get_pet", API: "petstore", Method: MethodGet, PathTemplate: "/pets/{id}", Parameters: []ParamDescriptor{
				{Name: "id", Location: LocationPath, Kind: KindString, Required: true},
			}},
			{Name: "get_pet", API: "petstore", Method: MethodGet, PathTemplate: "/pets/{id}", Parameters: []ParamDescriptor{
				{Name: "id", Location: LocationPath, Kind: KindString, Required: true},
			}},
		},
	}
	_, err := FromManifest(m)
	assert.Error(t, err, "expected duplicate function name to be rejected")
}

func TestPathParamMustHavePlaceholder(t *testing.T) {
	m := Manifest{
		Apis: []ApiDescriptor{{Name: "petstore", BaseURL: "https://example.com"}},
		Functions: []FunctionDescriptor{
			{Name: "get_pet", API: "petstore", Method: MethodGet, PathTemplate: "/pets", Parameters: []ParamDescriptor{
				{Name: "id", Location: LocationPath, Kind: KindString, Required: true},
			}},
		},
	}
	_, err := FromManifest(m)
	assert.Error(t, err, "expected missing path placeholder to be rejected")
}

func TestFrozenParameterNotVisible(t *testing.T) {
	frozen := "v2"
	f := FunctionDescriptor{
		Name: "list_items", API: "petstore", Method: MethodGet, PathTemplate: "/items",
		Parameters: []ParamDescriptor{
			{Name: "limit", Location: LocationQuery, Kind: KindInteger},
			{Name: "api_version", Location: LocationQuery, Kind: KindString, FrozenValue: &frozen},
		},
	}
	visible := f.VisibleParameters()
	require.Len(t, visible, 1)
	assert.Equal(t, "limit", visible[0].Name)
}

func TestStats(t *testing.T) {
	m := Manifest{
		Apis:      []ApiDescriptor{{Name: "petstore", BaseURL: "https://example.com"}},
		Functions: []FunctionDescriptor{{Name: "noop", API: "petstore", Method: MethodGet, PathTemplate: "/noop"}},
	}
	cat, err := FromManifest(m)
	require.NoError(t, err)

	stats := cat.Stats()
	assert.Equal(t, 1, stats.Apis)
	assert.Equal(t, 1, stats.Functions)
}
