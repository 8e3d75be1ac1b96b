package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLuauSignatureIncludesParamsTypeAndOptionalMarker(t *testing.T) {
	f := FunctionDescriptor{
		Name: "list_pets", API: "petstore", Method: MethodGet, PathTemplate: "/pets",
		Parameters: []ParamDescriptor{
			{Name: "status", Location: LocationQuery, Kind: KindString, Required: true, Enum: []string{"available", "sold"}},
			{Name: "limit", Location: LocationQuery, Kind: KindInteger},
		},
	}
	sig := f.LuauSignature()
	assert.Contains(t, sig, "export type ListPetsParams = {")
	assert.Contains(t, sig, `status: "available" | "sold",`)
	assert.Contains(t, sig, "limit?: number,")
	assert.Contains(t, sig, "function sdk.list_pets(params: ListPetsParams): any")
}

func TestLuauSignatureWithNoVisibleParamsOmitsParamsType(t *testing.T) {
	frozen := "v1"
	f := FunctionDescriptor{
		Name: "ping", API: "petstore", Method: MethodGet, PathTemplate: "/ping",
		Parameters: []ParamDescriptor{
			{Name: "api_version", Location: LocationQuery, Kind: KindString, FrozenValue: &frozen},
		},
	}
	sig := f.LuauSignature()
	assert.NotContains(t, sig, "export type")
	assert.Contains(t, sig, "function sdk.ping(): any")
}

func TestLuauSignatureWithBodyAndParams(t *testing.T) {
	f := FunctionDescriptor{
		Name: "create_pet", API: "petstore", Method: MethodPost, PathTemplate: "/pets",
		Parameters:  []ParamDescriptor{{Name: "dry_run", Location: LocationQuery, Kind: KindBoolean}},
		RequestBody: &RequestBodyDescriptor{ContentType: "application/json", Required: true},
	}
	sig := f.LuauSignature()
	assert.Contains(t, sig, "function sdk.create_pet(params: CreatePetParams, body: any): any")
}

func TestDocsSortedByFunctionName(t *testing.T) {
	m := Manifest{
		Apis: []ApiDescriptor{{Name: "petstore", BaseURL: "https://example.com"}},
		Functions: []FunctionDescriptor{
			{Name: "z_last", API: "petstore", Method: MethodGet, PathTemplate: "/z"},
			{Name: "a_first", API: "petstore", Method: MethodGet, PathTemplate: "/a"},
		},
	}
	cat, err := FromManifest(m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	docs := cat.Docs()
	if len(docs) != 2 {
		t.Fatalf("expected 2 docs, got %d", len(docs))
	}
	assert.Contains(t, docs[0], "sdk.a_first")
	assert.Contains(t, docs[1], "sdk.z_last")
}
