package services

import (
	"errors"
	"fmt"
	"strings"

	"storyreel/internal/queue"
)

// Sentinel markers stages attach to their failures via Wrap. The workflow
// manager inspects the marker through FailureStatus to decide where a failed
// run lands.
var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
)

// Wrap tags err with marker and a "stage: operation: message" detail string.
// A nil marker is treated as transient.
func Wrap(marker error, stage, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	detail := joinDetail(stage, operation, message)
	if err == nil {
		return fmt.Errorf("%w: %s", marker, detail)
	}
	return fmt.Errorf("%w: %s: %w", marker, detail, err)
}

// FailureStatus picks the terminal queue status for a failed stage. Problems
// that need operator input (bad config, invalid inputs, missing artifacts)
// route to review; everything else is a plain failure eligible for retry.
func FailureStatus(err error) queue.Status {
	for _, marker := range []error{ErrValidation, ErrConfiguration, ErrNotFound} {
		if errors.Is(err, marker) {
			return queue.StatusReview
		}
	}
	return queue.StatusFailed
}

func joinDetail(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			kept = append(kept, part)
		}
	}
	if len(kept) == 0 {
		return "service failure"
	}
	return strings.Join(kept, ": ")
}
