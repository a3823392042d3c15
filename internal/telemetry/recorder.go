package telemetry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Exit reasons recorded for every render attempt.
const (
	ReasonSuccess              = "success"
	ReasonAttemptLimitExceeded = "attempt_limit_exceeded"
	ReasonTimeout              = "timeout"
	ReasonSubmissionError      = "submission_error"
	ReasonFrameFloor           = "frame_floor"
	ReasonExecutionError       = "execution_error"
	ReasonCanceled             = "canceled"
)

// Attempt is one recorded render attempt, successful or not.
type Attempt struct {
	ItemID       int64     `json:"item_id"`
	Scene        int       `json:"scene"`
	Attempt      int       `json:"attempt"`
	PromptID     string    `json:"prompt_id,omitempty"`
	SubmittedAt  time.Time `json:"submitted_at"`
	CompletedAt  time.Time `json:"completed_at"`
	DurationMs   int64     `json:"duration_ms"`
	Polls        int       `json:"polls"`
	ExitReason   string    `json:"exit_reason"`
	FrameCount   int       `json:"frame_count"`
	FrameFloor   int       `json:"frame_floor"`
	VRAMBeforeMB int64     `json:"vram_before_mb"`
	VRAMAfterMB  int64     `json:"vram_after_mb"`
	Error        string    `json:"error,omitempty"`
}

// Recorder appends attempt records to per-run JSONL files.
type Recorder struct {
	dir string

	mu sync.Mutex
}

// NewRecorder creates a recorder writing under dir. A nil recorder (disabled
// telemetry) is valid: every method is a no-op.
func NewRecorder(dir string) *Recorder {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil
	}
	return &Recorder{dir: dir}
}

// RunPath returns the JSONL file for one story run.
func (r *Recorder) RunPath(itemID int64) string {
	if r == nil {
		return ""
	}
	return filepath.Join(r.dir, fmt.Sprintf("run-%d.jsonl", itemID))
}

// Record appends one attempt to the run's telemetry file.
func (r *Recorder) Record(attempt Attempt) error {
	if r == nil {
		return nil
	}
	if attempt.DurationMs == 0 && !attempt.SubmittedAt.IsZero() && !attempt.CompletedAt.IsZero() {
		attempt.DurationMs = attempt.CompletedAt.Sub(attempt.SubmittedAt).Milliseconds()
	}

	encoded, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("telemetry: encode attempt: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("telemetry: create directory: %w", err)
	}
	file, err := os.OpenFile(r.RunPath(attempt.ItemID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("telemetry: open run file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("telemetry: append attempt: %w", err)
	}
	return nil
}

// ReadRun loads every attempt recorded for a story run. A missing file yields
// an empty slice.
func (r *Recorder) ReadRun(itemID int64) ([]Attempt, error) {
	if r == nil {
		return nil, nil
	}
	return ReadAttempts(r.RunPath(itemID))
}

// ReadAttempts decodes a JSONL telemetry file. Malformed lines are skipped so
// a torn write never hides the rest of a run's history.
func ReadAttempts(path string) ([]Attempt, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("telemetry: open %s: %w", path, err)
	}
	defer file.Close()

	var attempts []Attempt
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var attempt Attempt
		if err := json.Unmarshal([]byte(line), &attempt); err != nil {
			continue
		}
		attempts = append(attempts, attempt)
	}
	if err := scanner.Err(); err != nil {
		return attempts, fmt.Errorf("telemetry: scan %s: %w", path, err)
	}
	return attempts, nil
}

// Summary aggregates a run's attempts for reporting.
type Summary struct {
	Attempts   int
	Successes  int
	Failures   int
	TotalMs    int64
	LastReason string
	TotalPolls int
}

// Summarize folds a run's attempts into a Summary.
func Summarize(attempts []Attempt) Summary {
	var s Summary
	for _, attempt := range attempts {
		s.Attempts++
		s.TotalMs += attempt.DurationMs
		s.TotalPolls += attempt.Polls
		s.LastReason = attempt.ExitReason
		if attempt.ExitReason == ReasonSuccess {
			s.Successes++
		} else {
			s.Failures++
		}
	}
	return s
}
