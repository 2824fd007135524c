package shared

import (
	"testing"
	"time"
)

func TestDurationAcceptsStringsAndSeconds(t *testing.T) {
	cfg := map[string]any{"a": "250ms", "b": 2, "c": 1.5, "d": "nope"}
	if d, ok := Duration(cfg, "a"); !ok || d != 250*time.Millisecond {
		t.Fatalf("unexpected a: %v %v", d, ok)
	}
	if d, ok := Duration(cfg, "b"); !ok || d != 2*time.Second {
		t.Fatalf("unexpected b: %v %v", d, ok)
	}
	if d, ok := Duration(cfg, "c"); !ok || d != 1500*time.Millisecond {
		t.Fatalf("unexpected c: %v %v", d, ok)
	}
	if _, ok := Duration(cfg, "d"); ok {
		t.Fatalf("expected invalid duration to be rejected")
	}
}

func TestStringsFromYAMLList(t *testing.T) {
	cfg := map[string]any{"lines": []any{"0xa", " ", 3, "0xb"}}
	got, ok := Strings(cfg, "lines")
	if !ok || len(got) != 2 || got[0] != "0xa" || got[1] != "0xb" {
		t.Fatalf("unexpected strings: %v %v", got, ok)
	}
}

func TestNumericHelpers(t *testing.T) {
	cfg := map[string]any{"i": "7", "f": "0.25", "m": map[string]any{"x": "y"}}
	if v, ok := Int(cfg, "i"); !ok || v != 7 {
		t.Fatalf("unexpected int %v", v)
	}
	if v, ok := Float(cfg, "f"); !ok || v != 0.25 {
		t.Fatalf("unexpected float %v", v)
	}
	if m, ok := StringMap(cfg, "m"); !ok || m["x"] != "y" {
		t.Fatalf("unexpected map %v", m)
	}
	if _, ok := String(cfg, "missing"); ok {
		t.Fatalf("expected missing string")
	}
}
