package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"storyreel/internal/config"
	"storyreel/internal/queue"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <runID>",
		Short: "Show details for a single run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parsePositiveIDs(args)
			if err != nil {
				return err
			}
			id := ids[0]

			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				item, err := store.GetByID(cmd.Context(), id)
				if err != nil {
					return err
				}
				if item == nil {
					return fmt.Errorf("run %d not found", id)
				}
				if asJSON {
					return writeJSON(cmd, showJSON(item))
				}
				printRunDetails(cmd, item)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of formatted text")
	return cmd
}

func printRunDetails(cmd *cobra.Command, item *queue.Item) {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Run #%d\n", item.ID)
	if title := strings.TrimSpace(item.Title); title != "" {
		fmt.Fprintf(out, "Title:        %s\n", title)
	}
	fmt.Fprintf(out, "Idea:         %s\n", strings.TrimSpace(item.Idea))
	fmt.Fprintf(out, "Status:       %s\n", item.Status)
	if item.ProgressMessage != "" || item.ProgressPercent > 0 {
		fmt.Fprintf(out, "Progress:     %.0f%% %s\n", item.ProgressPercent, item.ProgressMessage)
	}
	fmt.Fprintf(out, "Created:      %s\n", item.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Updated:      %s\n", item.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	if item.ArtifactDir != "" {
		fmt.Fprintf(out, "Artifacts:    %s\n", item.ArtifactDir)
	}
	if item.ArchivePath != "" {
		fmt.Fprintf(out, "Archive:      %s\n", item.ArchivePath)
	}
	if item.ErrorMessage != "" {
		fmt.Fprintf(out, "Error:        %s\n", item.ErrorMessage)
	}
	fmt.Fprintf(out, "Needs review: %s\n", yesNo(item.NeedsReview))
	if item.ReviewReason != "" {
		fmt.Fprintf(out, "Review:       %s\n", item.ReviewReason)
	}

	manifest, err := queue.ParseManifest(item.ManifestJSON)
	if err != nil || len(manifest.Scenes) == 0 {
		return
	}

	fmt.Fprintln(out)
	rows := make([][]string, 0, len(manifest.Scenes))
	for _, scene := range manifest.Scenes {
		state := "ok"
		switch {
		case scene.RenderFailed:
			state = "render failed"
		case scene.ClipFailed:
			state = "clip failed"
		}
		rows = append(rows, []string{
			strconv.Itoa(scene.Index),
			truncate(scene.Title, 32),
			strconv.Itoa(scene.FrameCount),
			yesNo(scene.ClipPath != ""),
			state,
		})
	}
	tbl := renderTable(
		[]string{"Scene", "Title", "Frames", "Clip", "State"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignLeft},
	)
	fmt.Fprintln(out, tbl)
}

func showJSON(item *queue.Item) map[string]any {
	payload := map[string]any{
		"id":           item.ID,
		"title":        item.Title,
		"idea":         item.Idea,
		"status":       string(item.Status),
		"progress":     item.ProgressPercent,
		"message":      item.ProgressMessage,
		"artifact_dir": item.ArtifactDir,
		"archive_path": item.ArchivePath,
		"error":        item.ErrorMessage,
		"needs_review": item.NeedsReview,
		"review":       item.ReviewReason,
	}
	if manifest, err := queue.ParseManifest(item.ManifestJSON); err == nil && len(manifest.Scenes) > 0 {
		payload["scenes"] = manifest.Scenes
	}
	return payload
}
