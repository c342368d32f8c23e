package jsonpath

import "testing"

func TestNormalizeStripsDollarPrefix(t *testing.T) {
	cases := map[string]string{
		"$.choices.0.delta": "choices.0.delta",
		"choices.0.delta":   "choices.0.delta",
		"$":                 "",
		"  $.a.b  ":         "a.b",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSetAutoExtendsArrays(t *testing.T) {
	out, err := Set([]byte(`{}`), "messages.2.role", "user")
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	got := Get(out, "messages.2.role").String()
	if got != "user" {
		t.Errorf("messages.2.role = %q, want %q", got, "user")
	}
	if Get(out, "messages.0").Type.String() == "" {
		t.Fatalf("expected messages array to be created with intermediate nulls")
	}
}

func TestSetIntermediateObjectCreation(t *testing.T) {
	out, err := Set([]byte(`{}`), "a.b.c", 42)
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := Get(out, "a.b.c").Int(); got != 42 {
		t.Errorf("a.b.c = %d, want 42", got)
	}
}

func TestGetExistsDistinguishesAbsentFromNull(t *testing.T) {
	data := []byte(`{"a": null}`)
	if !Get(data, "a").Exists() {
		t.Error("a should exist even though its value is null")
	}
	if Get(data, "b").Exists() {
		t.Error("b should not exist")
	}
}

func TestRoundTripCompiledParameterMapping(t *testing.T) {
	mappings := map[string]string{
		"temperature": "sampling.temperature",
		"max_tokens":  "generation.max_tokens",
	}
	doc := []byte(`{}`)
	var err error
	for param, path := range mappings {
		var v interface{}
		if param == "temperature" {
			v = 0.7
		} else {
			v = 256
		}
		doc, err = Set(doc, path, v)
		if err != nil {
			t.Fatalf("Set(%s): %v", param, err)
		}
	}
	if got := Get(doc, mappings["temperature"]).Float(); got != 0.7 {
		t.Errorf("temperature round-trip = %v, want 0.7", got)
	}
	if got := Get(doc, mappings["max_tokens"]).Int(); got != 256 {
		t.Errorf("max_tokens round-trip = %v, want 256", got)
	}
}
