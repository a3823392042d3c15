package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"storyreel/internal/config"
	"storyreel/internal/queue"
)

func newAddCommand(ctx *commandContext) *cobra.Command {
	var title string

	cmd := &cobra.Command{
		Use:   "add <idea>",
		Short: "Queue a story idea for processing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idea := strings.TrimSpace(strings.Join(args, " "))
			if idea == "" {
				return errors.New("story idea is required")
			}
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				item, err := store.Add(cmd.Context(), strings.TrimSpace(title), idea)
				if err != nil {
					return fmt.Errorf("enqueue story: %w", err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Queued run #%d\n", item.ID)
				if item.Title != "" {
					fmt.Fprintf(out, "Title: %s\n", item.Title)
				}
				fmt.Fprintln(out, "Start the daemon with `storyreel run` or storyreeld to process it.")
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Optional title for the run (the script stage fills it in otherwise)")
	return cmd
}
