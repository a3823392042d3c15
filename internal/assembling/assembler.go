package assembling

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"storyreel/internal/config"
	"storyreel/internal/logging"
	"storyreel/internal/notifications"
	"storyreel/internal/queue"
	"storyreel/internal/services"
	"storyreel/internal/stage"
	"storyreel/internal/textutil"
)

// ManifestFileName is the finalized manifest written into the artifact dir.
const ManifestFileName = "manifest.json"

// Assembler is the stage handler that finalizes a story run.
type Assembler struct {
	store    *queue.Store
	cfg      *config.Config
	logger   *slog.Logger
	notifier notifications.Service
}

// NewAssembler constructs the assembling stage handler using default dependencies.
func NewAssembler(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Assembler {
	return NewAssemblerWithDependencies(cfg, store, logger, notifications.NewService(cfg))
}

// NewAssemblerWithDependencies allows injecting collaborators (used in tests).
func NewAssemblerWithDependencies(cfg *config.Config, store *queue.Store, logger *slog.Logger, notifier notifications.Service) *Assembler {
	return &Assembler{
		store:    store,
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "assembling"),
		notifier: notifier,
	}
}

func (a *Assembler) Prepare(ctx context.Context, item *queue.Item) error {
	if item.ProgressStage == "" {
		item.ProgressStage = "Assembling"
	}
	item.ProgressMessage = "Preparing assembly"
	item.ProgressPercent = 0
	item.ErrorMessage = ""
	logging.WithContext(ctx, a.logger).Info("starting assembly preparation")
	return nil
}

func (a *Assembler) Execute(ctx context.Context, item *queue.Item) error {
	logger := logging.WithContext(ctx, a.logger)

	manifest, err := queue.ParseManifest(item.ManifestJSON)
	if err != nil {
		return services.Wrap(services.ErrValidation, "assembling", "parse manifest", "Run manifest missing or invalid; rerun rendering", err)
	}
	if len(manifest.Scenes) == 0 {
		return services.Wrap(services.ErrValidation, "assembling", "validate inputs", "Run manifest has no scenes; rerun rendering", nil)
	}
	if strings.TrimSpace(item.ArtifactDir) == "" {
		return services.Wrap(services.ErrValidation, "assembling", "validate inputs", "No artifact directory on item; rerun scripting", nil)
	}

	a.updateProgress(ctx, item, "Validating artifacts", 10)
	for i := range manifest.Scenes {
		scene := &manifest.Scenes[i]
		if scene.Failed() {
			continue
		}
		if strings.TrimSpace(scene.ClipPath) == "" {
			scene.ClipFailed = true
			scene.Failure = "no clip recorded for scene"
		}
	}
	failed := manifest.FailedScenes()

	manifest.GeneratedAt = time.Now().UTC()
	encoded, err := manifest.Encode()
	if err != nil {
		return services.Wrap(services.ErrTransient, "assembling", "encode manifest", "Failed to encode run manifest", err)
	}
	item.ManifestJSON = encoded
	if err := os.WriteFile(filepath.Join(item.ArtifactDir, ManifestFileName), []byte(encoded), 0o644); err != nil {
		return services.Wrap(services.ErrTransient, "assembling", "write manifest", "Failed to write manifest into artifact directory", err)
	}

	if a.cfg.Telemetry.ArchiveRuns {
		a.updateProgress(ctx, item, "Packaging run archive", 50)
		target := filepath.Join(a.cfg.Paths.LibraryDir, archiveName(item))
		if err := writeArchive(target, item.ArtifactDir, artifactPaths(manifest)); err != nil {
			return services.Wrap(services.ErrTransient, "assembling", "package archive", "Failed to package run archive into library", err)
		}
		item.ArchivePath = target
		logger.Info("run archived", logging.String("archive", target))
	}

	if failed > 0 {
		item.NeedsReview = true
		if strings.TrimSpace(item.ReviewReason) == "" {
			item.ReviewReason = fmt.Sprintf("%d of %d scenes incomplete", failed, len(manifest.Scenes))
		}
		if a.notifier != nil {
			if err := a.notifier.Publish(ctx, notifications.EventReviewRequired, notifications.Payload{
				"title":  item.Title,
				"reason": item.ReviewReason,
			}); err != nil {
				logger.Warn("review notification failed", logging.Error(err))
			}
		}
	}

	a.updateProgress(ctx, item, assemblyMessage(item, failed, len(manifest.Scenes)), 100)
	logger.Info(
		"assembly completed",
		logging.Int("scenes", len(manifest.Scenes)),
		logging.Int("failed_scenes", failed),
		logging.Bool("needs_review", item.NeedsReview),
	)

	if a.notifier != nil {
		if err := a.notifier.Publish(ctx, notifications.EventAssemblyCompleted, notifications.Payload{
			"title":   item.Title,
			"archive": filepath.Base(item.ArchivePath),
		}); err != nil {
			logger.Warn("assembly notification failed", logging.Error(err))
		}
		if !item.NeedsReview {
			if err := a.notifier.Publish(ctx, notifications.EventProcessingCompleted, notifications.Payload{"title": item.Title}); err != nil {
				logger.Warn("completion notification failed", logging.Error(err))
			}
		}
	}
	return nil
}

func assemblyMessage(item *queue.Item, failed, total int) string {
	if failed > 0 {
		return fmt.Sprintf("Assembled with %d of %d scenes incomplete", failed, total)
	}
	if item.ArchivePath != "" {
		return fmt.Sprintf("Archived to %s", filepath.Base(item.ArchivePath))
	}
	return "Assembly completed"
}

// artifactPaths lists the locally visible generation outputs for archiving.
func artifactPaths(manifest queue.Manifest) []string {
	var paths []string
	for _, scene := range manifest.Scenes {
		if scene.Keyframe != "" {
			paths = append(paths, scene.Keyframe)
		}
		if scene.ClipPath != "" {
			paths = append(paths, scene.ClipPath)
		}
	}
	return paths
}

func archiveName(item *queue.Item) string {
	slug := textutil.Slug(item.Title, 40)
	if slug == "" {
		return fmt.Sprintf("run-%d.zip", item.ID)
	}
	return fmt.Sprintf("run-%d-%s.zip", item.ID, slug)
}

// HealthCheck verifies assembly prerequisites such as the library directory.
func (a *Assembler) HealthCheck(ctx context.Context) stage.Health {
	const name = "assembling"
	if a.cfg == nil {
		return stage.Unhealthy(name, "configuration unavailable")
	}
	if strings.TrimSpace(a.cfg.Paths.LibraryDir) == "" {
		return stage.Unhealthy(name, "library directory not configured")
	}
	return stage.Healthy(name)
}

func (a *Assembler) updateProgress(ctx context.Context, item *queue.Item, message string, percent float64) {
	logger := logging.WithContext(ctx, a.logger)
	updated := *item
	updated.ProgressMessage = message
	updated.ProgressPercent = percent
	if err := a.store.Update(ctx, &updated); err != nil {
		logger.Warn("failed to persist assembly progress", logging.Error(err))
		return
	}
	*item = updated
}
