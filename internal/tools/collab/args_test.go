package collab

import "testing"

func TestRequireString(t *testing.T) {
	args := map[string]any{"name": "alice", "empty": "", "num": 3.0}
	if v, err := requireString(args, "name"); err != nil || v != "alice" {
		t.Errorf("requireString(name) = %q, %v", v, err)
	}
	if _, err := requireString(args, "empty"); err == nil {
		t.Error("empty string accepted")
	}
	if _, err := requireString(args, "missing"); err == nil {
		t.Error("missing key accepted")
	}
	if _, err := requireString(args, "num"); err == nil {
		t.Error("non-string accepted")
	}
}

func TestRequireFloat64(t *testing.T) {
	args := map[string]any{"n": 7.0, "s": "x", "nil": nil}
	if v, err := requireFloat64(args, "n"); err != nil || v != 7 {
		t.Errorf("requireFloat64(n) = %v, %v", v, err)
	}
	if _, err := requireFloat64(args, "s"); err == nil {
		t.Error("string accepted as number")
	}
	if _, err := requireFloat64(args, "nil"); err == nil {
		t.Error("nil accepted as number")
	}
	if _, err := requireFloat64(args, "missing"); err == nil {
		t.Error("missing key accepted")
	}
}

func TestRequireBool(t *testing.T) {
	args := map[string]any{"b": true, "s": "true"}
	if v, err := requireBool(args, "b"); err != nil || !v {
		t.Errorf("requireBool(b) = %v, %v", v, err)
	}
	if _, err := requireBool(args, "s"); err == nil {
		t.Error("string accepted as bool")
	}
	if _, err := requireBool(args, "missing"); err == nil {
		t.Error("missing key accepted")
	}
}

func TestOptionalHelpers(t *testing.T) {
	args := map[string]any{"s": "x", "n": 2.0, "b": false}
	if v := optionalString(args, "s"); v != "x" {
		t.Errorf("optionalString = %q", v)
	}
	if v := optionalString(args, "missing"); v != "" {
		t.Errorf("optionalString(missing) = %q", v)
	}
	if v := optionalFloat64(args, "n", 9); v != 2 {
		t.Errorf("optionalFloat64 = %v", v)
	}
	if v := optionalFloat64(args, "missing", 9); v != 9 {
		t.Errorf("optionalFloat64(missing) = %v", v)
	}
	if v := optionalBool(args, "b", true); v {
		t.Error("optionalBool ignored the present value")
	}
	if v := optionalBool(args, "missing", true); !v {
		t.Error("optionalBool ignored the fallback")
	}
}

func TestOptionalStringList(t *testing.T) {
	args := map[string]any{
		"cc":    []any{"a", "", 3.0, "b"},
		"wrong": "not-a-list",
	}
	got := optionalStringList(args, "cc")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("optionalStringList = %v", got)
	}
	if optionalStringList(args, "wrong") != nil {
		t.Error("non-list accepted")
	}
	if optionalStringList(args, "missing") != nil {
		t.Error("missing key produced a list")
	}
}
