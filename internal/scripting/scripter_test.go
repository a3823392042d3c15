package scripting_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"storyreel/internal/logging"
	"storyreel/internal/scripting"
	"storyreel/internal/services"
	"storyreel/internal/services/llm"
	"storyreel/internal/stage"
	"storyreel/internal/testsupport"
)

type fakeScriptService struct {
	script  llm.Script
	err     error
	lastReq llm.ScriptRequest
}

func (f *fakeScriptService) GenerateScript(_ context.Context, req llm.ScriptRequest) (llm.Script, error) {
	f.lastReq = req
	if f.err != nil {
		return llm.Script{}, f.err
	}
	return f.script, nil
}

func (f *fakeScriptService) HealthCheck(context.Context) error { return nil }

func sampleScript() llm.Script {
	return llm.Script{
		Title:   "The Lighthouse Keeper",
		Logline: "A keeper discovers the light is alive.",
		Style:   "cinematic",
		Scenes: []llm.Scene{
			{Title: "Arrival", Description: "A keeper rows to the island", ImagePrompt: "stormy island lighthouse", MotionPrompt: "slow push in"},
			{Title: "Discovery", Description: "The lamp pulses on its own", ImagePrompt: "glowing lamp room", MotionPrompt: "orbit"},
		},
	}
}

func TestScripterStoresScriptAndArtifacts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	item := testsupport.NewStory(t, store, "", "a keeper discovers the light is alive")

	svc := &fakeScriptService{script: sampleScript()}
	scripter := scripting.NewScripterWithDependencies(cfg, store, logging.NewNop(), svc, nil)

	if err := scripter.Prepare(context.Background(), item); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := scripter.Execute(context.Background(), item); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if item.Title != "The Lighthouse Keeper" {
		t.Fatalf("expected title from script, got %q", item.Title)
	}
	script, err := stage.ParseScript(item.ScriptJSON)
	if err != nil {
		t.Fatalf("stored script does not parse: %v", err)
	}
	if len(script.Scenes) != 2 {
		t.Fatalf("expected 2 scenes, got %d", len(script.Scenes))
	}
	if item.ArtifactDir == "" {
		t.Fatal("expected artifact dir set")
	}
	if _, err := os.Stat(filepath.Join(item.ArtifactDir, scripting.ScriptFileName)); err != nil {
		t.Fatalf("expected script copy in artifact dir: %v", err)
	}
	if svc.lastReq.SceneCount != cfg.Story.SceneCount {
		t.Fatalf("expected configured scene count %d, got %d", cfg.Story.SceneCount, svc.lastReq.SceneCount)
	}
}

func TestScripterRejectsEmptyIdea(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	item := testsupport.NewStory(t, store, "Untitled", "placeholder")
	item.Idea = "   "

	scripter := scripting.NewScripterWithDependencies(cfg, store, logging.NewNop(), &fakeScriptService{}, nil)
	err := scripter.Execute(context.Background(), item)
	if err == nil {
		t.Fatal("expected error for empty idea")
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestScripterWrapsGenerationFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	item := testsupport.NewStory(t, store, "Untitled", "an idea")

	svc := &fakeScriptService{err: errors.New("model unavailable")}
	scripter := scripting.NewScripterWithDependencies(cfg, store, logging.NewNop(), svc, nil)
	err := scripter.Execute(context.Background(), item)
	if err == nil {
		t.Fatal("expected error when generation fails")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}

func TestScripterHealthCheck(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	scripter := scripting.NewScripterWithDependencies(cfg, store, logging.NewNop(), &fakeScriptService{}, nil)
	if health := scripter.HealthCheck(context.Background()); !health.Ready {
		t.Fatalf("expected healthy, got %+v", health)
	}

	cfg.LLM.APIKey = ""
	if health := scripter.HealthCheck(context.Background()); health.Ready {
		t.Fatal("expected unhealthy without api key")
	}
}
