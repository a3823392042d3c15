package rendering_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"storyreel/internal/logging"
	"storyreel/internal/queue"
	"storyreel/internal/render"
	"storyreel/internal/rendering"
	"storyreel/internal/services"
	"storyreel/internal/services/llm"
	"storyreel/internal/telemetry"
	"storyreel/internal/testsupport"
)

type fakeRunner struct {
	jobs     []render.Job
	failures map[int]error
	frames   int
}

func (f *fakeRunner) Run(_ context.Context, job render.Job) (render.Result, error) {
	f.jobs = append(f.jobs, job)
	if err, ok := f.failures[job.Scene]; ok {
		return render.Result{}, err
	}
	frames := make([]string, f.frames)
	for i := range frames {
		frames[i] = filepath.Join(job.OutputDir, fmt.Sprintf("%s_%05d_.png", job.FilePrefix, i+1))
	}
	return render.Result{PromptID: fmt.Sprintf("prompt-%d", job.Scene), Frames: frames, Attempts: 1}, nil
}

func scriptJSON(t *testing.T, sceneCount int) string {
	t.Helper()
	script := llm.Script{Title: "T", Style: "cinematic"}
	for i := 1; i <= sceneCount; i++ {
		script.Scenes = append(script.Scenes, llm.Scene{
			Title:       fmt.Sprintf("Scene %d", i),
			Description: "beat",
			ImagePrompt: fmt.Sprintf("prompt %d", i),
		})
	}
	data, err := json.Marshal(script)
	if err != nil {
		t.Fatalf("marshal script: %v", err)
	}
	return string(data)
}

func setupItem(t *testing.T, store *queue.Store, artifactRoot string, scenes int) *queue.Item {
	t.Helper()
	item := testsupport.NewStory(t, store, "T", "idea")
	item.ScriptJSON = scriptJSON(t, scenes)
	item.ArtifactDir = filepath.Join(artifactRoot, fmt.Sprintf("run-%d", item.ID))
	if err := os.MkdirAll(item.ArtifactDir, 0o755); err != nil {
		t.Fatalf("mkdir artifact dir: %v", err)
	}
	if err := store.Update(context.Background(), item); err != nil {
		t.Fatalf("update item: %v", err)
	}
	return item
}

func TestRendererRendersEveryScene(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	item := setupItem(t, store, cfg.Paths.StagingDir, 3)

	runner := &fakeRunner{frames: 30}
	var recorderDir string
	factory := func(rec *telemetry.Recorder) rendering.JobRunner {
		if rec != nil {
			recorderDir = filepath.Dir(rec.RunPath(item.ID))
		}
		return runner
	}
	renderer := rendering.NewRendererWithDependencies(cfg, store, logging.NewNop(), factory, nil)

	if err := renderer.Execute(context.Background(), item); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(runner.jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(runner.jobs))
	}
	if runner.jobs[0].FilePrefix != "scene-01" || runner.jobs[2].FilePrefix != "scene-03" {
		t.Fatalf("unexpected prefixes: %+v", runner.jobs)
	}
	wantDir := filepath.Join(cfg.Comfy.OutputDir, fmt.Sprintf("run-%d", item.ID))
	if runner.jobs[0].OutputDir != wantDir {
		t.Fatalf("expected output dir %s, got %s", wantDir, runner.jobs[0].OutputDir)
	}
	if recorderDir != item.ArtifactDir {
		t.Fatalf("expected telemetry in artifact dir %s, got %s", item.ArtifactDir, recorderDir)
	}

	manifest, err := queue.ParseManifest(item.ManifestJSON)
	if err != nil {
		t.Fatalf("parse manifest: %v", err)
	}
	if len(manifest.Scenes) != 3 || manifest.FailedScenes() != 0 {
		t.Fatalf("unexpected manifest: %+v", manifest)
	}
	if manifest.Scenes[0].FrameCount != 30 {
		t.Fatalf("expected frame count 30, got %d", manifest.Scenes[0].FrameCount)
	}
	if item.NeedsReview {
		t.Fatal("expected no review flag on full success")
	}
}

func TestRendererContinuesPastSceneFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	item := setupItem(t, store, cfg.Paths.StagingDir, 3)

	runner := &fakeRunner{
		frames:   30,
		failures: map[int]error{2: errors.New("render job failed after 3 attempt(s)")},
	}
	renderer := rendering.NewRendererWithDependencies(cfg, store, logging.NewNop(), func(*telemetry.Recorder) rendering.JobRunner { return runner }, nil)

	if err := renderer.Execute(context.Background(), item); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(runner.jobs) != 3 {
		t.Fatalf("expected all scenes attempted, got %d", len(runner.jobs))
	}
	manifest, err := queue.ParseManifest(item.ManifestJSON)
	if err != nil {
		t.Fatalf("parse manifest: %v", err)
	}
	if manifest.FailedScenes() != 1 {
		t.Fatalf("expected 1 failed scene, got %d", manifest.FailedScenes())
	}
	scene := manifest.Scene(2)
	if scene == nil || !scene.RenderFailed {
		t.Fatalf("expected scene 2 marked failed: %+v", scene)
	}
	if !item.NeedsReview {
		t.Fatal("expected review flag after partial failure")
	}
}

func TestRendererFailsWhenEverySceneFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	item := setupItem(t, store, cfg.Paths.StagingDir, 2)

	runner := &fakeRunner{failures: map[int]error{
		1: errors.New("boom"),
		2: errors.New("boom"),
	}}
	renderer := rendering.NewRendererWithDependencies(cfg, store, logging.NewNop(), func(*telemetry.Recorder) rendering.JobRunner { return runner }, nil)

	err := renderer.Execute(context.Background(), item)
	if err == nil {
		t.Fatal("expected error when every scene fails")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}

func TestRendererRequiresScript(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	item := testsupport.NewStory(t, store, "T", "idea")

	renderer := rendering.NewRendererWithDependencies(cfg, store, logging.NewNop(), func(*telemetry.Recorder) rendering.JobRunner { return &fakeRunner{} }, nil)
	err := renderer.Execute(context.Background(), item)
	if err == nil {
		t.Fatal("expected error without script")
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRendererHealthCheck(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	renderer := rendering.NewRendererWithDependencies(cfg, store, logging.NewNop(), func(*telemetry.Recorder) rendering.JobRunner { return &fakeRunner{} }, nil)
	if health := renderer.HealthCheck(context.Background()); !health.Ready {
		t.Fatalf("expected healthy, got %+v", health)
	}

	cfg.Comfy.BaseURL = ""
	if health := renderer.HealthCheck(context.Background()); health.Ready {
		t.Fatal("expected unhealthy without base url")
	}
}
