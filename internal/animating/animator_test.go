package animating_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"storyreel/internal/animating"
	"storyreel/internal/logging"
	"storyreel/internal/queue"
	"storyreel/internal/render"
	"storyreel/internal/rendering"
	"storyreel/internal/services"
	"storyreel/internal/services/fastvideo"
	"storyreel/internal/services/llm"
	"storyreel/internal/telemetry"
	"storyreel/internal/testsupport"
)

type fakeClipService struct {
	requests []fastvideo.GenerateRequest
	failWith error
	failN    int
}

func (f *fakeClipService) Generate(_ context.Context, req fastvideo.GenerateRequest) (fastvideo.GenerateResult, error) {
	f.requests = append(f.requests, req)
	if f.failWith != nil && (f.failN == 0 || len(f.requests) <= f.failN) {
		return fastvideo.GenerateResult{}, f.failWith
	}
	return fastvideo.GenerateResult{
		Status:          "ok",
		OutputVideoPath: fmt.Sprintf("/videos/clip-%d.mp4", len(f.requests)),
		Frames:          81,
	}, nil
}

func (f *fakeClipService) Health(context.Context) error { return nil }

type fakeClipRunner struct {
	jobs []render.Job
	err  error
}

func (f *fakeClipRunner) Run(_ context.Context, job render.Job) (render.Result, error) {
	f.jobs = append(f.jobs, job)
	if f.err != nil {
		return render.Result{}, f.err
	}
	clip := filepath.Join(job.OutputDir, job.FilePrefix+"_00001_.webp")
	return render.Result{PromptID: "prompt-clip", Frames: []string{clip}, Attempts: 1}, nil
}

func seedItem(t *testing.T, store *queue.Store, artifactRoot string, scenes int, renderFailed map[int]bool) *queue.Item {
	t.Helper()

	script := llm.Script{Title: "T"}
	manifest := queue.Manifest{Title: "T"}
	for i := 1; i <= scenes; i++ {
		script.Scenes = append(script.Scenes, llm.Scene{
			Title:        fmt.Sprintf("Scene %d", i),
			Description:  "beat",
			ImagePrompt:  fmt.Sprintf("image %d", i),
			MotionPrompt: fmt.Sprintf("motion %d", i),
		})
		artifact := queue.SceneArtifact{
			Index:       i,
			FramePrefix: fmt.Sprintf("scene-%02d", i),
			FrameCount:  30,
		}
		if renderFailed[i] {
			artifact.RenderFailed = true
			artifact.Failure = "render failed"
		}
		manifest.Scenes = append(manifest.Scenes, artifact)
	}

	item := testsupport.NewStory(t, store, "T", "idea")
	scriptData, err := json.Marshal(script)
	if err != nil {
		t.Fatalf("marshal script: %v", err)
	}
	item.ScriptJSON = string(scriptData)
	encoded, err := manifest.Encode()
	if err != nil {
		t.Fatalf("encode manifest: %v", err)
	}
	item.ManifestJSON = encoded
	item.ArtifactDir = filepath.Join(artifactRoot, fmt.Sprintf("run-%d", item.ID))
	if err := store.Update(context.Background(), item); err != nil {
		t.Fatalf("update item: %v", err)
	}
	return item
}

func TestAnimatorUsesFastVideoWhenConfigured(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithFastVideo("http://127.0.0.1:9188"))
	store := testsupport.MustOpenStore(t, cfg)
	item := seedItem(t, store, cfg.Paths.StagingDir, 2, nil)

	clips := &fakeClipService{}
	animator := animating.NewAnimatorWithDependencies(cfg, store, logging.NewNop(), clips, nil, nil)

	if err := animator.Execute(context.Background(), item); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(clips.requests) != 2 {
		t.Fatalf("expected 2 clip requests, got %d", len(clips.requests))
	}
	if clips.requests[0].Prompt != "motion 1" {
		t.Fatalf("expected motion prompt, got %q", clips.requests[0].Prompt)
	}
	if clips.requests[0].FPS != cfg.FastVideo.FPS || clips.requests[0].NumFrames != cfg.FastVideo.NumFrames {
		t.Fatalf("expected configured clip shape, got %+v", clips.requests[0])
	}

	manifest, err := queue.ParseManifest(item.ManifestJSON)
	if err != nil {
		t.Fatalf("parse manifest: %v", err)
	}
	for _, scene := range manifest.Scenes {
		if scene.ClipPath == "" || scene.ClipFailed {
			t.Fatalf("expected clip recorded for scene %d: %+v", scene.Index, scene)
		}
	}
}

func TestAnimatorFallsBackToComfyRunner(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	item := seedItem(t, store, cfg.Paths.StagingDir, 2, nil)

	runner := &fakeClipRunner{}
	factory := func(*telemetry.Recorder) rendering.JobRunner { return runner }
	animator := animating.NewAnimatorWithDependencies(cfg, store, logging.NewNop(), nil, factory, nil)

	if err := animator.Execute(context.Background(), item); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(runner.jobs) != 2 {
		t.Fatalf("expected 2 clip jobs, got %d", len(runner.jobs))
	}
	if runner.jobs[0].FilePrefix != "scene-01-clip" {
		t.Fatalf("unexpected clip prefix %q", runner.jobs[0].FilePrefix)
	}

	manifest, err := queue.ParseManifest(item.ManifestJSON)
	if err != nil {
		t.Fatalf("parse manifest: %v", err)
	}
	if manifest.Scenes[0].ClipPath == "" {
		t.Fatalf("expected clip path recorded: %+v", manifest.Scenes[0])
	}
}

func TestAnimatorFeedsKeyframeIntoVideoWorkflow(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	template := `{
		"1": {"class_type": "CLIPTextEncode", "inputs": {"text": ""}},
		"2": {"class_type": "LoadImage", "inputs": {"image": ""}},
		"3": {"class_type": "WanImageToVideo", "inputs": {"length": 0, "width": 0, "height": 0}},
		"4": {"class_type": "VHS_VideoCombine", "inputs": {"filename_prefix": "", "frame_rate": 0}}
	}`
	templatePath := filepath.Join(t.TempDir(), "video-workflow.json")
	if err := os.WriteFile(templatePath, []byte(template), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	cfg.Comfy.VideoWorkflowPath = templatePath

	store := testsupport.MustOpenStore(t, cfg)
	item := seedItem(t, store, cfg.Paths.StagingDir, 1, nil)
	manifest, err := queue.ParseManifest(item.ManifestJSON)
	if err != nil {
		t.Fatalf("parse manifest: %v", err)
	}
	keyframe := "/out/run-1/scene-01_00001_.png"
	manifest.Scenes[0].Keyframe = keyframe
	encoded, err := manifest.Encode()
	if err != nil {
		t.Fatalf("encode manifest: %v", err)
	}
	item.ManifestJSON = encoded
	if err := store.Update(context.Background(), item); err != nil {
		t.Fatalf("update item: %v", err)
	}

	runner := &fakeClipRunner{}
	factory := func(*telemetry.Recorder) rendering.JobRunner { return runner }
	animator := animating.NewAnimatorWithDependencies(cfg, store, logging.NewNop(), nil, factory, nil)

	if err := animator.Execute(context.Background(), item); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(runner.jobs) != 1 {
		t.Fatalf("expected 1 clip job, got %d", len(runner.jobs))
	}

	inputs := func(id string) map[string]any {
		node, ok := runner.jobs[0].Workflow[id].(map[string]any)
		if !ok {
			t.Fatalf("node %s missing from submitted workflow", id)
		}
		in, ok := node["inputs"].(map[string]any)
		if !ok {
			t.Fatalf("node %s has no inputs", id)
		}
		return in
	}
	if got := inputs("2")["image"]; got != keyframe {
		t.Fatalf("keyframe not fed into video workflow: %v", got)
	}
	video := inputs("3")
	if video["length"] != cfg.Story.FramesPerScene || video["width"] != cfg.Story.Width || video["height"] != cfg.Story.Height {
		t.Fatalf("clip geometry not injected: %v", video)
	}
	if got := inputs("4")["frame_rate"]; got != cfg.Story.FPS {
		t.Fatalf("fps not injected: %v", got)
	}
}

func TestAnimatorSkipsRenderFailedScenes(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithFastVideo("http://127.0.0.1:9188"))
	store := testsupport.MustOpenStore(t, cfg)
	item := seedItem(t, store, cfg.Paths.StagingDir, 3, map[int]bool{2: true})

	clips := &fakeClipService{}
	animator := animating.NewAnimatorWithDependencies(cfg, store, logging.NewNop(), clips, nil, nil)

	if err := animator.Execute(context.Background(), item); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(clips.requests) != 2 {
		t.Fatalf("expected failed scene skipped, got %d requests", len(clips.requests))
	}
	if !item.NeedsReview {
		t.Fatal("expected review flag when a scene was skipped")
	}
}

func TestAnimatorRetriesTransientClipFailures(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithFastVideo("http://127.0.0.1:9188"))
	cfg.FastVideo.RetryBudget = 2
	store := testsupport.MustOpenStore(t, cfg)
	item := seedItem(t, store, cfg.Paths.StagingDir, 1, nil)

	clips := &fakeClipService{failWith: errors.New("fastvideo: generate returned 500"), failN: 2}
	animator := animating.NewAnimatorWithDependencies(cfg, store, logging.NewNop(), clips, nil, nil)

	if err := animator.Execute(context.Background(), item); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(clips.requests) != 3 {
		t.Fatalf("expected 3 attempts (2 failures + success), got %d", len(clips.requests))
	}
}

func TestAnimatorFailsWhenNothingAnimates(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithFastVideo("http://127.0.0.1:9188"))
	cfg.FastVideo.RetryBudget = 0
	store := testsupport.MustOpenStore(t, cfg)
	item := seedItem(t, store, cfg.Paths.StagingDir, 1, nil)

	clips := &fakeClipService{failWith: fastvideo.ErrInsufficientVRAM}
	animator := animating.NewAnimatorWithDependencies(cfg, store, logging.NewNop(), clips, nil, nil)

	err := animator.Execute(context.Background(), item)
	if err == nil {
		t.Fatal("expected error when no scene animates")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}

func TestAnimatorRequiresManifest(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithFastVideo("http://127.0.0.1:9188"))
	store := testsupport.MustOpenStore(t, cfg)
	item := testsupport.NewStory(t, store, "T", "idea")
	scriptData, _ := json.Marshal(llm.Script{Title: "T", Scenes: []llm.Scene{{Title: "S", Description: "d", ImagePrompt: "p"}}})
	item.ScriptJSON = string(scriptData)

	animator := animating.NewAnimatorWithDependencies(cfg, store, logging.NewNop(), &fakeClipService{}, nil, nil)
	err := animator.Execute(context.Background(), item)
	if err == nil {
		t.Fatal("expected error without manifest")
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
