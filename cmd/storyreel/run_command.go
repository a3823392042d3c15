package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"storyreel/internal/animating"
	"storyreel/internal/assembling"
	"storyreel/internal/config"
	"storyreel/internal/daemon"
	"storyreel/internal/logging"
	"storyreel/internal/queue"
	"storyreel/internal/rendering"
	"storyreel/internal/scripting"
	"storyreel/internal/workflow"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Process the queue in the foreground until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForeground(cmd.Context(), ctx)
		},
	}
}

func runForeground(cmdCtx context.Context, ctx *commandContext) error {
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	store, err := queue.Open(cfg)
	if err != nil {
		return fmt.Errorf("open queue store: %w", err)
	}

	manager := workflow.NewManager(cfg, store, logger)
	manager.ConfigureStages(pipelineStages(cfg, store, logger))

	d, err := daemon.New(cfg, store, logger, manager)
	if err != nil {
		store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return err
	}

	<-signalCtx.Done()
	logger.Info("storyreel run shutting down")
	return nil
}

func pipelineStages(cfg *config.Config, store *queue.Store, logger *slog.Logger) workflow.StageSet {
	return workflow.StageSet{
		Scripter:  scripting.NewScripter(cfg, store, logger),
		Renderer:  rendering.NewRenderer(cfg, store, logger),
		Animator:  animating.NewAnimator(cfg, store, logger),
		Assembler: assembling.NewAssembler(cfg, store, logger),
	}
}
