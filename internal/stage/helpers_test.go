package stage

import (
	"errors"
	"testing"

	"storyreel/internal/services"
)

func TestParseScript_Valid(t *testing.T) {
	raw := `{"title":"T","scenes":[{"title":"S1","description":"d","image_prompt":"p"}]}`
	script, err := ParseScript(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if script.Title != "T" || len(script.Scenes) != 1 {
		t.Fatalf("unexpected script: %+v", script)
	}
}

func TestParseScript_Invalid(t *testing.T) {
	_, err := ParseScript("{invalid json")
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestParseScript_NoScenes(t *testing.T) {
	_, err := ParseScript(`{"title":"T","scenes":[]}`)
	if err == nil {
		t.Fatal("expected error for empty scene list")
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
