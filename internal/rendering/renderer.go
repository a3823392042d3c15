package rendering

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"log/slog"

	"storyreel/internal/config"
	"storyreel/internal/logging"
	"storyreel/internal/notifications"
	"storyreel/internal/queue"
	"storyreel/internal/render"
	"storyreel/internal/services"
	"storyreel/internal/services/comfy"
	"storyreel/internal/services/llm"
	"storyreel/internal/stage"
	"storyreel/internal/telemetry"
)

// JobRunner executes one render job to completion.
type JobRunner interface {
	Run(ctx context.Context, job render.Job) (render.Result, error)
}

// RunnerFactory builds a job runner bound to a per-run telemetry recorder.
type RunnerFactory func(recorder *telemetry.Recorder) JobRunner

// Renderer is the stage handler that renders one keyframe per scene.
type Renderer struct {
	store     *queue.Store
	cfg       *config.Config
	logger    *slog.Logger
	notifier  notifications.Service
	newRunner RunnerFactory
}

// NewRenderer constructs the rendering stage handler using default dependencies.
func NewRenderer(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Renderer {
	client := comfy.NewClient(cfg.Comfy.BaseURL, time.Duration(cfg.Comfy.RequestTimeout)*time.Second)
	runnerCfg := RunnerConfig(cfg)
	var runnerOpts []render.Option
	if cfg.Comfy.WebsocketEnabled {
		runnerOpts = append(runnerOpts, render.WithProgressListener(client.ListenProgress))
	}
	factory := func(recorder *telemetry.Recorder) JobRunner {
		return render.NewRunner(client, runnerCfg, recorder, logger, runnerOpts...)
	}
	return NewRendererWithDependencies(cfg, store, logger, factory, notifications.NewService(cfg))
}

// NewRendererWithDependencies allows injecting collaborators (used in tests).
func NewRendererWithDependencies(cfg *config.Config, store *queue.Store, logger *slog.Logger, factory RunnerFactory, notifier notifications.Service) *Renderer {
	return &Renderer{
		store:     store,
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "rendering"),
		notifier:  notifier,
		newRunner: factory,
	}
}

// RunnerConfig translates the ComfyUI polling settings into runner bounds.
func RunnerConfig(cfg *config.Config) render.Config {
	return render.Config{
		PollInterval:    time.Duration(cfg.Comfy.PollInterval) * time.Second,
		MaxWait:         time.Duration(cfg.Comfy.MaxWait) * time.Second,
		MaxPollAttempts: cfg.Comfy.MaxPollAttempts,
		GracePeriod:     time.Duration(cfg.Comfy.GracePeriod) * time.Second,
		RetryBudget:     cfg.Comfy.RetryBudget,
		FrameFloor:      cfg.Comfy.FrameFloor,
	}
}

func (r *Renderer) Prepare(ctx context.Context, item *queue.Item) error {
	if item.ProgressStage == "" {
		item.ProgressStage = "Rendering"
	}
	item.ProgressMessage = "Preparing keyframe rendering"
	item.ProgressPercent = 0
	item.ErrorMessage = ""
	logging.WithContext(ctx, r.logger).Info("starting render preparation")
	return nil
}

func (r *Renderer) Execute(ctx context.Context, item *queue.Item) error {
	logger := logging.WithContext(ctx, r.logger)

	script, err := stage.ParseScript(item.ScriptJSON)
	if err != nil {
		return err
	}
	if strings.TrimSpace(item.ArtifactDir) == "" {
		return services.Wrap(
			services.ErrValidation,
			"rendering",
			"validate inputs",
			"No artifact directory on item; run scripting before rendering",
			nil,
		)
	}

	template, err := comfy.LoadWorkflow(r.cfg.Comfy.WorkflowPath)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "rendering", "load workflow template", "Workflow template missing or invalid; check comfy.workflow_path", err)
	}

	runSlug := fmt.Sprintf("run-%d", item.ID)
	outputDir := filepath.Join(r.cfg.Comfy.OutputDir, runSlug)
	runner := r.newRunner(r.recorderFor(item))

	manifest := queue.Manifest{
		Title:       item.Title,
		GeneratedAt: time.Now().UTC(),
	}

	total := len(script.Scenes)
	failures := 0
	var lastErr error
	for idx, scene := range script.Scenes {
		sceneNum := idx + 1
		sceneSlug := fmt.Sprintf("scene-%02d", sceneNum)
		artifact := queue.SceneArtifact{
			Index:       sceneNum,
			Title:       scene.Title,
			FramePrefix: sceneSlug,
			KeyframeDir: outputDir,
		}

		r.updateProgress(ctx, item, fmt.Sprintf("Rendering scene %d/%d", sceneNum, total), progressFor(idx, total))

		result, sceneErr := r.renderScene(ctx, runner, template, item, script, scene, runSlug, sceneSlug, outputDir, sceneNum)
		if sceneErr != nil {
			if ctx.Err() != nil {
				return sceneErr
			}
			failures++
			lastErr = sceneErr
			artifact.RenderFailed = true
			artifact.Failure = sceneErr.Error()
			logging.WarnWithContext(logger, "scene render failed", "scene_render_failed",
				logging.Int(logging.FieldScene, sceneNum),
				logging.Error(sceneErr),
			)
			if r.notifier != nil {
				if nerr := r.notifier.Publish(ctx, notifications.EventError, notifications.Payload{
					"context": fmt.Sprintf("rendering scene %d of %s", sceneNum, item.Title),
					"error":   sceneErr.Error(),
				}); nerr != nil {
					logger.Warn("scene failure notification failed", logging.Error(nerr))
				}
			}
		} else {
			artifact.FrameCount = len(result.Frames)
			if len(result.Frames) > 0 {
				artifact.Keyframe = result.Frames[0]
			}
			logger.Info(
				"scene rendered",
				logging.Int(logging.FieldScene, sceneNum),
				logging.String(logging.FieldPromptID, result.PromptID),
				logging.Int("frames", len(result.Frames)),
				logging.Int(logging.FieldAttempt, result.Attempts),
			)
		}
		manifest.Scenes = append(manifest.Scenes, artifact)
	}

	encoded, err := manifest.Encode()
	if err != nil {
		return services.Wrap(services.ErrTransient, "rendering", "encode manifest", "Failed to encode run manifest", err)
	}
	item.ManifestJSON = encoded

	if failures == total {
		return services.Wrap(services.ErrExternalTool, "rendering", "render scenes", "Every scene failed to render; check the render server", lastErr)
	}
	if failures > 0 {
		item.NeedsReview = true
		item.ReviewReason = fmt.Sprintf("%d of %d scenes failed rendering", failures, total)
	}

	r.updateProgress(ctx, item, fmt.Sprintf("Rendered %d/%d scenes", total-failures, total), 100)

	if r.notifier != nil {
		if err := r.notifier.Publish(ctx, notifications.EventRenderingCompleted, notifications.Payload{"title": item.Title}); err != nil {
			logger.Warn("rendering notification failed", logging.Error(err))
		}
	}
	return nil
}

func (r *Renderer) renderScene(ctx context.Context, runner JobRunner, template comfy.Workflow, item *queue.Item, script llm.Script, scene llm.Scene, runSlug, sceneSlug, outputDir string, sceneNum int) (render.Result, error) {
	workflow, err := template.Clone()
	if err != nil {
		return render.Result{}, err
	}
	if err := workflow.Inject(comfy.Injection{
		Positive:       positivePrompt(scene, script.Style, r.cfg.Story.Style),
		Negative:       r.cfg.Story.NegativePrompt,
		Seed:           item.ID*1000 + int64(sceneNum),
		Width:          r.cfg.Story.Width,
		Height:         r.cfg.Story.Height,
		FilenamePrefix: runSlug + "/" + sceneSlug,
	}); err != nil {
		return render.Result{}, err
	}

	return runner.Run(ctx, render.Job{
		ItemID:     item.ID,
		Scene:      sceneNum,
		Workflow:   workflow,
		OutputDir:  outputDir,
		FilePrefix: sceneSlug,
	})
}

func positivePrompt(scene llm.Scene, scriptStyle, fallbackStyle string) string {
	prompt := strings.TrimSpace(scene.ImagePrompt)
	style := strings.TrimSpace(scriptStyle)
	if style == "" {
		style = strings.TrimSpace(fallbackStyle)
	}
	if style == "" || strings.Contains(strings.ToLower(prompt), strings.ToLower(style)) {
		return prompt
	}
	return prompt + ", " + style
}

func progressFor(idx, total int) float64 {
	if total <= 0 {
		return 0
	}
	return 5 + float64(idx)/float64(total)*90
}

func (r *Renderer) recorderFor(item *queue.Item) *telemetry.Recorder {
	if !r.cfg.Telemetry.Enabled {
		return nil
	}
	dir := strings.TrimSpace(item.ArtifactDir)
	if dir == "" {
		dir = r.cfg.Telemetry.Dir
	}
	return telemetry.NewRecorder(dir)
}

// HealthCheck verifies render prerequisites: server address and a loadable
// workflow template. Connectivity is preflight's job.
func (r *Renderer) HealthCheck(ctx context.Context) stage.Health {
	const name = "rendering"
	if r.cfg == nil {
		return stage.Unhealthy(name, "configuration unavailable")
	}
	if strings.TrimSpace(r.cfg.Comfy.BaseURL) == "" {
		return stage.Unhealthy(name, "comfy base url not configured")
	}
	if _, err := comfy.LoadWorkflow(r.cfg.Comfy.WorkflowPath); err != nil {
		return stage.Unhealthy(name, fmt.Sprintf("workflow template: %v", err))
	}
	if r.newRunner == nil {
		return stage.Unhealthy(name, "runner unavailable")
	}
	return stage.Healthy(name)
}

func (r *Renderer) updateProgress(ctx context.Context, item *queue.Item, message string, percent float64) {
	logger := logging.WithContext(ctx, r.logger)
	updated := *item
	updated.ProgressMessage = message
	updated.ProgressPercent = percent
	if err := r.store.Update(ctx, &updated); err != nil {
		logger.Warn("failed to persist rendering progress", logging.Error(err))
		return
	}
	*item = updated
}
