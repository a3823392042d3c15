package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"storyreel/internal/queue"
)

func parsePositiveIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid run id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func buildQueueStatusRows(stats map[queue.Status]int) [][]string {
	rows := make([][]string, 0, len(stats))
	for _, status := range queue.AllStatuses() {
		count, ok := stats[status]
		if !ok || count == 0 {
			continue
		}
		rows = append(rows, []string{string(status), strconv.Itoa(count)})
	}
	return rows
}

func buildQueueListRows(items []*queue.Item) [][]string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			strconv.FormatInt(item.ID, 10),
			displayTitle(item),
			string(item.Status),
			formatProgress(item),
			item.CreatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	return rows
}

func buildQueueListJSON(items []*queue.Item) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, map[string]any{
			"id":           item.ID,
			"title":        item.Title,
			"status":       string(item.Status),
			"progress":     item.ProgressPercent,
			"message":      item.ProgressMessage,
			"needs_review": item.NeedsReview,
			"created_at":   item.CreatedAt.Format(time.RFC3339),
		})
	}
	return out
}

func displayTitle(item *queue.Item) string {
	if title := strings.TrimSpace(item.Title); title != "" {
		return truncate(title, 40)
	}
	return truncate(strings.TrimSpace(item.Idea), 40)
}

func formatProgress(item *queue.Item) string {
	if item.Status == queue.StatusCompleted {
		return "100%"
	}
	if item.ProgressMessage == "" && item.ProgressPercent == 0 {
		return ""
	}
	if item.ProgressMessage == "" {
		return fmt.Sprintf("%.0f%%", item.ProgressPercent)
	}
	return fmt.Sprintf("%.0f%% %s", item.ProgressPercent, truncate(item.ProgressMessage, 32))
}

func truncate(value string, limit int) string {
	if limit <= 3 || len(value) <= limit {
		return value
	}
	return value[:limit-3] + "..."
}
