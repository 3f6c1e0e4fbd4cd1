package validator

import (
	"strings"
	"testing"
)

func TestValidatePasses(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []any{"title"},
		"properties": map[string]any{
			"title": map[string]any{"type": "string"},
		},
	}
	data := map[string]any{"title": "Hello"}

	if err := Validate(schema, data); err != nil {
		t.Fatalf("expected valid data to pass, got %v", err)
	}
}

func TestValidateCollectsMultipleErrors(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []any{"title", "price"},
		"properties": map[string]any{
			"title": map[string]any{"type": "string"},
			"price": map[string]any{"type": "number"},
		},
	}
	data := map[string]any{"price": "not a number"}

	err := Validate(schema, data)
	if err == nil {
		t.Fatal("expected validation error")
	}
	// Missing "title" and the non-numeric "price" are both reported,
	// joined by "; ".
	if got := len(strings.Split(err.Error(), "; ")); got != 2 {
		t.Fatalf("expected 2 collected errors, got %d: %v", got, err)
	}
}
