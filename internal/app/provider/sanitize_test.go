package provider

import (
	"reflect"
	"testing"
)

func TestSanitizeConfigDropsSecrets(t *testing.T) {
	cfg := map[string]any{
		"base_url": "https://api.example.com",
		"api_key":  "k",
		"headers": map[string]any{
			"Authorization": "Bearer x",
			"Accept":        "application/json",
		},
		"rpc-url": "https://node",
		"nested":  []any{map[string]any{"password": "p"}, "keep"},
	}
	got := SanitizeConfig(cfg)
	want := map[string]any{
		"base_url": "https://api.example.com",
		"headers":  map[string]any{"Accept": "application/json"},
		"nested":   []any{"keep"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected sanitized config:\n got %#v\nwant %#v", got, want)
	}
	if _, ok := cfg["api_key"]; !ok {
		t.Fatalf("input must not be mutated")
	}
}

func TestSanitizeSpecKeepsIdentity(t *testing.T) {
	spec := SanitizeSpec(Spec{Name: "pools", Adapter: "rest", Config: map[string]any{"token": "t"}})
	if spec.Name != "pools" || spec.Adapter != "rest" {
		t.Fatalf("unexpected spec %+v", spec)
	}
	if spec.Config != nil {
		t.Fatalf("expected empty config to collapse to nil, got %#v", spec.Config)
	}
}

func TestSanitizeConfigScrubsStringHeaders(t *testing.T) {
	got := SanitizeConfig(map[string]any{
		"headers":   map[string]string{"X-API-Key": "k", "Accept": "application/json"},
		"accessKey": "a",
		"timeout":   "10s",
		"empty":     nil,
	})
	want := map[string]any{
		"headers": map[string]string{"Accept": "application/json"},
		"timeout": "10s",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected sanitized config:\n got %#v\nwant %#v", got, want)
	}
	if SanitizeConfig(nil) != nil {
		t.Fatalf("expected nil for nil config")
	}
}
