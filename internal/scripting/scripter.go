package scripting

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"storyreel/internal/config"
	"storyreel/internal/logging"
	"storyreel/internal/notifications"
	"storyreel/internal/queue"
	"storyreel/internal/services"
	"storyreel/internal/services/llm"
	"storyreel/internal/stage"
	"storyreel/internal/textutil"
)

// ScriptFileName is the human-readable copy of the script written into the
// run's artifact directory.
const ScriptFileName = "script.json"

// ScriptService is the subset of the LLM client the scripter needs.
type ScriptService interface {
	GenerateScript(ctx context.Context, req llm.ScriptRequest) (llm.Script, error)
	HealthCheck(ctx context.Context) error
}

// Scripter generates a scene script for a queued story idea.
type Scripter struct {
	store    *queue.Store
	cfg      *config.Config
	logger   *slog.Logger
	service  ScriptService
	notifier notifications.Service
}

// NewScripter constructs the scripting stage handler using default dependencies.
func NewScripter(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Scripter {
	client := llm.NewClient(llm.Config(cfg.GetLLM()))
	return NewScripterWithDependencies(cfg, store, logger, client, notifications.NewService(cfg))
}

// NewScripterWithDependencies allows injecting collaborators (used in tests).
func NewScripterWithDependencies(cfg *config.Config, store *queue.Store, logger *slog.Logger, service ScriptService, notifier notifications.Service) *Scripter {
	return &Scripter{
		store:    store,
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "scripting"),
		service:  service,
		notifier: notifier,
	}
}

func (s *Scripter) Prepare(ctx context.Context, item *queue.Item) error {
	if item.ProgressStage == "" {
		item.ProgressStage = "Scripting"
	}
	item.ProgressMessage = "Preparing script generation"
	item.ProgressPercent = 0
	item.ErrorMessage = ""
	logging.WithContext(ctx, s.logger).Info(
		"starting script preparation",
		logging.String("idea", strings.TrimSpace(item.Idea)),
	)
	return nil
}

func (s *Scripter) Execute(ctx context.Context, item *queue.Item) error {
	logger := logging.WithContext(ctx, s.logger)
	idea := strings.TrimSpace(item.Idea)
	if idea == "" {
		return services.Wrap(
			services.ErrValidation,
			"scripting",
			"validate inputs",
			"Story idea is empty; add the item again with an idea to script",
			nil,
		)
	}

	s.updateProgress(ctx, item, "Generating script", 10)
	req := llm.ScriptRequest{
		Idea:           idea,
		Title:          strings.TrimSpace(item.Title),
		SceneCount:     s.cfg.Story.SceneCount,
		MaxSceneCount:  s.cfg.Story.MaxSceneCount,
		Style:          s.cfg.Story.Style,
		NegativePrompt: s.cfg.Story.NegativePrompt,
	}
	script, err := s.service.GenerateScript(ctx, req)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "scripting", "generate script", "Script generation failed; check LLM connectivity and API key", err)
	}
	logger.Info(
		"script generated",
		logging.String("script_title", script.Title),
		logging.Int("scenes", len(script.Scenes)),
	)

	encoded, err := json.MarshalIndent(script, "", "  ")
	if err != nil {
		return services.Wrap(services.ErrTransient, "scripting", "encode script", "Failed to encode generated script", err)
	}
	item.ScriptJSON = string(encoded)
	if strings.TrimSpace(item.Title) == "" {
		item.Title = strings.TrimSpace(script.Title)
	}
	if strings.TrimSpace(item.Title) == "" {
		item.Title = textutil.TitleFromIdea(idea, 6)
	}

	artifactDir, err := s.ensureArtifactDir(item)
	if err != nil {
		return err
	}
	item.ArtifactDir = artifactDir
	if err := os.WriteFile(filepath.Join(artifactDir, ScriptFileName), encoded, 0o644); err != nil {
		logger.Warn("failed to write script copy", logging.Error(err))
	}

	s.updateProgress(ctx, item, fmt.Sprintf("Script ready (%d scenes)", len(script.Scenes)), 100)

	if s.notifier != nil {
		if err := s.notifier.Publish(ctx, notifications.EventScriptingCompleted, notifications.Payload{
			"title":  item.Title,
			"scenes": len(script.Scenes),
		}); err != nil {
			logger.Warn("scripting notification failed", logging.Error(err))
		}
	}
	return nil
}

func (s *Scripter) ensureArtifactDir(item *queue.Item) (string, error) {
	staging := strings.TrimSpace(s.cfg.Paths.StagingDir)
	if staging == "" {
		return "", services.Wrap(
			services.ErrConfiguration,
			"scripting",
			"resolve staging dir",
			"Staging directory not configured; set staging_dir in your storyreel config.toml",
			nil,
		)
	}
	dir := filepath.Join(staging, fmt.Sprintf("run-%d", item.ID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", services.Wrap(services.ErrConfiguration, "scripting", "ensure artifact dir", "Failed to create run artifact directory", err)
	}
	return dir, nil
}

// HealthCheck verifies scripting prerequisites such as API credentials.
func (s *Scripter) HealthCheck(ctx context.Context) stage.Health {
	const name = "scripting"
	if s.cfg == nil {
		return stage.Unhealthy(name, "configuration unavailable")
	}
	if strings.TrimSpace(s.cfg.GetLLM().APIKey) == "" {
		return stage.Unhealthy(name, "llm api key not configured")
	}
	if s.service == nil {
		return stage.Unhealthy(name, "llm client unavailable")
	}
	return stage.Healthy(name)
}

func (s *Scripter) updateProgress(ctx context.Context, item *queue.Item, message string, percent float64) {
	logger := logging.WithContext(ctx, s.logger)
	updated := *item
	updated.ProgressMessage = message
	updated.ProgressPercent = percent
	if err := s.store.Update(ctx, &updated); err != nil {
		logger.Warn("failed to persist scripting progress", logging.Error(err))
		return
	}
	*item = updated
}
