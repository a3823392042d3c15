package main

import (
	"context"
	"log/slog"
	"path/filepath"

	"storyreel/internal/animating"
	"storyreel/internal/assembling"
	"storyreel/internal/config"
	"storyreel/internal/logging"
	"storyreel/internal/preflight"
	"storyreel/internal/queue"
	"storyreel/internal/rendering"
	"storyreel/internal/scripting"
	"storyreel/internal/workflow"
)

func buildStageSet(cfg *config.Config, store *queue.Store, logger *slog.Logger) workflow.StageSet {
	return workflow.StageSet{
		Scripter:  scripting.NewScripter(cfg, store, logger),
		Renderer:  rendering.NewRenderer(cfg, store, logger),
		Animator:  animating.NewAnimator(cfg, store, logger),
		Assembler: assembling.NewAssembler(cfg, store, logger),
	}
}

// logPreflight records environment check results at startup. Failures are
// logged but do not block the daemon: runs will fail individually with
// clearer errors once picked up.
func logPreflight(ctx context.Context, cfg *config.Config, logger *slog.Logger) {
	results := preflight.RunAll(ctx, cfg)
	for _, result := range results {
		if result.Passed {
			logger.Info("preflight check passed",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail),
			)
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "runs depending on this service will fail"),
		)
	}
}

func pruneOldLogs(cfg *config.Config, logger *slog.Logger) {
	if cfg == nil || cfg.Paths.LogDir == "" {
		return
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, logging.RetentionTarget{
		Dir:     cfg.Paths.LogDir,
		Pattern: "*.log*",
		Exclude: []string{filepath.Join(cfg.Paths.LogDir, logging.LogFileName)},
	})
}
