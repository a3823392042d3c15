package animating

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"log/slog"

	"storyreel/internal/config"
	"storyreel/internal/logging"
	"storyreel/internal/notifications"
	"storyreel/internal/queue"
	"storyreel/internal/render"
	"storyreel/internal/rendering"
	"storyreel/internal/services"
	"storyreel/internal/services/comfy"
	"storyreel/internal/services/fastvideo"
	"storyreel/internal/services/llm"
	"storyreel/internal/stage"
	"storyreel/internal/telemetry"
)

// ClipService is the subset of the FastVideo client the animator needs.
type ClipService interface {
	Generate(ctx context.Context, req fastvideo.GenerateRequest) (fastvideo.GenerateResult, error)
	Health(ctx context.Context) error
}

// Animator is the stage handler that generates one clip per rendered scene.
type Animator struct {
	store     *queue.Store
	cfg       *config.Config
	logger    *slog.Logger
	notifier  notifications.Service
	clips     ClipService
	newRunner rendering.RunnerFactory
}

// NewAnimator constructs the animating stage handler using default dependencies.
func NewAnimator(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Animator {
	var clips ClipService
	if cfg.FastVideo.Enabled {
		clips = fastvideo.NewClient(cfg.FastVideo.BaseURL, time.Duration(cfg.FastVideo.RequestTimeout)*time.Second)
	}
	client := comfy.NewClient(cfg.Comfy.BaseURL, time.Duration(cfg.Comfy.RequestTimeout)*time.Second)
	runnerCfg := rendering.RunnerConfig(cfg)
	var runnerOpts []render.Option
	if cfg.Comfy.WebsocketEnabled {
		runnerOpts = append(runnerOpts, render.WithProgressListener(client.ListenProgress))
	}
	factory := func(recorder *telemetry.Recorder) rendering.JobRunner {
		return render.NewRunner(client, runnerCfg, recorder, logger, runnerOpts...)
	}
	return NewAnimatorWithDependencies(cfg, store, logger, clips, factory, notifications.NewService(cfg))
}

// NewAnimatorWithDependencies allows injecting collaborators (used in tests).
func NewAnimatorWithDependencies(cfg *config.Config, store *queue.Store, logger *slog.Logger, clips ClipService, factory rendering.RunnerFactory, notifier notifications.Service) *Animator {
	return &Animator{
		store:     store,
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "animating"),
		notifier:  notifier,
		clips:     clips,
		newRunner: factory,
	}
}

func (a *Animator) Prepare(ctx context.Context, item *queue.Item) error {
	if item.ProgressStage == "" {
		item.ProgressStage = "Animating"
	}
	item.ProgressMessage = "Preparing clip generation"
	item.ProgressPercent = 0
	item.ErrorMessage = ""
	logging.WithContext(ctx, a.logger).Info("starting animation preparation")
	return nil
}

func (a *Animator) Execute(ctx context.Context, item *queue.Item) error {
	logger := logging.WithContext(ctx, a.logger)

	script, err := stage.ParseScript(item.ScriptJSON)
	if err != nil {
		return err
	}
	manifest, err := queue.ParseManifest(item.ManifestJSON)
	if err != nil {
		return services.Wrap(services.ErrValidation, "animating", "parse manifest", "Run manifest missing or invalid; rerun rendering", err)
	}
	if len(manifest.Scenes) == 0 {
		return services.Wrap(services.ErrValidation, "animating", "validate inputs", "Run manifest has no scenes; rerun rendering", nil)
	}

	recorder := a.recorderFor(item)
	total := len(manifest.Scenes)
	failures := 0
	animated := 0
	var lastErr error

	for i := range manifest.Scenes {
		artifact := &manifest.Scenes[i]
		if artifact.RenderFailed {
			failures++
			continue
		}
		sceneNum := artifact.Index
		var scene llm.Scene
		if sceneNum >= 1 && sceneNum <= len(script.Scenes) {
			scene = script.Scenes[sceneNum-1]
		}

		a.updateProgress(ctx, item, fmt.Sprintf("Animating scene %d/%d", sceneNum, total), progressFor(i, total))

		clipPath, clipErr := a.animateScene(ctx, item, scene, artifact, recorder)
		if clipErr != nil {
			if ctx.Err() != nil {
				return clipErr
			}
			failures++
			lastErr = clipErr
			artifact.ClipFailed = true
			artifact.Failure = clipErr.Error()
			logging.WarnWithContext(logger, "scene animation failed", "scene_animation_failed",
				logging.Int(logging.FieldScene, sceneNum),
				logging.Error(clipErr),
			)
			continue
		}
		artifact.ClipPath = clipPath
		animated++
		logger.Info(
			"scene animated",
			logging.Int(logging.FieldScene, sceneNum),
			logging.String("clip", clipPath),
		)
	}

	encoded, err := manifest.Encode()
	if err != nil {
		return services.Wrap(services.ErrTransient, "animating", "encode manifest", "Failed to encode run manifest", err)
	}
	item.ManifestJSON = encoded

	if animated == 0 {
		return services.Wrap(services.ErrExternalTool, "animating", "animate scenes", "No scene could be animated; check the video backend", lastErr)
	}
	if failures > 0 {
		item.NeedsReview = true
		item.ReviewReason = fmt.Sprintf("%d of %d scenes failed animation", failures, total)
	}

	a.updateProgress(ctx, item, fmt.Sprintf("Animated %d/%d scenes", animated, total), 100)

	if a.notifier != nil {
		if err := a.notifier.Publish(ctx, notifications.EventAnimationCompleted, notifications.Payload{"title": item.Title}); err != nil {
			logger.Warn("animation notification failed", logging.Error(err))
		}
	}
	return nil
}

func (a *Animator) animateScene(ctx context.Context, item *queue.Item, scene llm.Scene, artifact *queue.SceneArtifact, recorder *telemetry.Recorder) (string, error) {
	if a.clips != nil {
		return a.animateWithFastVideo(ctx, item, scene, artifact, recorder)
	}
	return a.animateWithComfy(ctx, item, scene, artifact, recorder)
}

// animateWithFastVideo drives the dedicated image-to-video backend with the
// same bounded retry discipline the render runner applies.
func (a *Animator) animateWithFastVideo(ctx context.Context, item *queue.Item, scene llm.Scene, artifact *queue.SceneArtifact, recorder *telemetry.Recorder) (string, error) {
	req := fastvideo.GenerateRequest{
		Prompt:         motionPrompt(scene),
		NegativePrompt: a.cfg.Story.NegativePrompt,
		FPS:            a.cfg.FastVideo.FPS,
		NumFrames:      a.cfg.FastVideo.NumFrames,
		Width:          a.cfg.FastVideo.Width,
		Height:         a.cfg.FastVideo.Height,
		Seed:           a.cfg.FastVideo.Seed,
	}
	if artifact.Keyframe != "" {
		data, err := os.ReadFile(artifact.Keyframe)
		if err != nil {
			return "", fmt.Errorf("read keyframe: %w", err)
		}
		req.KeyframeBase64 = base64.StdEncoding.EncodeToString(data)
	}

	maxAttempts := a.cfg.FastVideo.RetryBudget + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		record := telemetry.Attempt{
			ItemID:      item.ID,
			Scene:       artifact.Index,
			Attempt:     attempt,
			SubmittedAt: time.Now().UTC(),
		}
		result, err := a.clips.Generate(ctx, req)
		record.CompletedAt = time.Now().UTC()
		record.DurationMs = record.CompletedAt.Sub(record.SubmittedAt).Milliseconds()
		if err != nil {
			record.ExitReason = telemetry.ReasonExecutionError
			record.Error = err.Error()
			lastErr = err
		} else {
			record.ExitReason = telemetry.ReasonSuccess
			record.FrameCount = result.Frames
		}
		if recErr := recorder.Record(record); recErr != nil {
			logging.WithContext(ctx, a.logger).Warn("telemetry record failed", logging.Error(recErr))
		}
		if err == nil {
			return result.OutputVideoPath, nil
		}
	}
	return "", fmt.Errorf("clip generation failed after %d attempt(s): %w", maxAttempts, lastErr)
}

// animateWithComfy runs the video workflow through the bounded-retry runner,
// feeding the rendered keyframe and clip geometry into the template.
func (a *Animator) animateWithComfy(ctx context.Context, item *queue.Item, scene llm.Scene, artifact *queue.SceneArtifact, recorder *telemetry.Recorder) (string, error) {
	template, err := comfy.LoadWorkflow(a.videoWorkflowPath())
	if err != nil {
		return "", err
	}
	workflow, err := template.Clone()
	if err != nil {
		return "", err
	}
	runSlug := fmt.Sprintf("run-%d", item.ID)
	clipSlug := fmt.Sprintf("%s-clip", artifact.FramePrefix)
	if err := workflow.Inject(comfy.Injection{
		Positive:       motionPrompt(scene),
		Negative:       a.cfg.Story.NegativePrompt,
		Seed:           item.ID*1000 + int64(artifact.Index) + 500,
		Image:          artifact.Keyframe,
		FrameCount:     a.cfg.Story.FramesPerScene,
		Width:          a.cfg.Story.Width,
		Height:         a.cfg.Story.Height,
		FPS:            a.cfg.Story.FPS,
		FilenamePrefix: runSlug + "/" + clipSlug,
	}); err != nil {
		return "", err
	}

	runner := a.newRunner(recorder)
	result, err := runner.Run(ctx, render.Job{
		ItemID:     item.ID,
		Scene:      artifact.Index,
		Workflow:   workflow,
		OutputDir:  filepath.Join(a.cfg.Comfy.OutputDir, runSlug),
		FilePrefix: clipSlug,
	})
	if err != nil {
		return "", err
	}
	if len(result.Frames) == 0 {
		return "", fmt.Errorf("clip job %s produced no output", result.PromptID)
	}
	return result.Frames[0], nil
}

// videoWorkflowPath resolves the clip template, falling back to the keyframe
// template when no dedicated video workflow is configured.
func (a *Animator) videoWorkflowPath() string {
	if path := strings.TrimSpace(a.cfg.Comfy.VideoWorkflowPath); path != "" {
		return path
	}
	return a.cfg.Comfy.WorkflowPath
}

func motionPrompt(scene llm.Scene) string {
	prompt := strings.TrimSpace(scene.MotionPrompt)
	if prompt == "" {
		prompt = strings.TrimSpace(scene.Description)
	}
	if prompt == "" {
		prompt = strings.TrimSpace(scene.ImagePrompt)
	}
	return prompt
}

func progressFor(idx, total int) float64 {
	if total <= 0 {
		return 0
	}
	return 5 + float64(idx)/float64(total)*90
}

func (a *Animator) recorderFor(item *queue.Item) *telemetry.Recorder {
	if !a.cfg.Telemetry.Enabled {
		return nil
	}
	dir := strings.TrimSpace(item.ArtifactDir)
	if dir == "" {
		dir = a.cfg.Telemetry.Dir
	}
	return telemetry.NewRecorder(dir)
}

// HealthCheck verifies the configured clip backend.
func (a *Animator) HealthCheck(ctx context.Context) stage.Health {
	const name = "animating"
	if a.cfg == nil {
		return stage.Unhealthy(name, "configuration unavailable")
	}
	if a.cfg.FastVideo.Enabled {
		if strings.TrimSpace(a.cfg.FastVideo.BaseURL) == "" {
			return stage.Unhealthy(name, "fastvideo base url not configured")
		}
		if a.clips == nil {
			return stage.Unhealthy(name, "fastvideo client unavailable")
		}
		return stage.Healthy(name)
	}
	if strings.TrimSpace(a.cfg.Comfy.BaseURL) == "" {
		return stage.Unhealthy(name, "comfy base url not configured")
	}
	if _, err := comfy.LoadWorkflow(a.videoWorkflowPath()); err != nil {
		return stage.Unhealthy(name, fmt.Sprintf("video workflow template: %v", err))
	}
	if a.newRunner == nil {
		return stage.Unhealthy(name, "runner unavailable")
	}
	return stage.Healthy(name)
}

func (a *Animator) updateProgress(ctx context.Context, item *queue.Item, message string, percent float64) {
	logger := logging.WithContext(ctx, a.logger)
	updated := *item
	updated.ProgressMessage = message
	updated.ProgressPercent = percent
	if err := a.store.Update(ctx, &updated); err != nil {
		logger.Warn("failed to persist animation progress", logging.Error(err))
		return
	}
	*item = updated
}
