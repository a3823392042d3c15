package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"storyreel/internal/logging"
	"storyreel/internal/services/comfy"
	"storyreel/internal/telemetry"
)

// JobClient is the subset of the ComfyUI client the runner needs.
type JobClient interface {
	SubmitPrompt(ctx context.Context, workflow comfy.Workflow) (string, error)
	History(ctx context.Context, promptID string) (*comfy.HistoryEntry, error)
	SystemStats(ctx context.Context) (comfy.SystemStats, error)
}

// Config bounds a single job: one submission plus resubmissions.
type Config struct {
	// PollInterval is the delay between history polls.
	PollInterval time.Duration
	// MaxWait bounds one attempt from submission to terminal poll.
	MaxWait time.Duration
	// MaxPollAttempts caps polls per attempt. Zero means bounded only by MaxWait.
	MaxPollAttempts int
	// GracePeriod is the settle delay between job completion and artifact collection.
	GracePeriod time.Duration
	// RetryBudget is the number of resubmissions after the first attempt.
	RetryBudget int
	// FrameFloor is the minimum artifact count for a complete render.
	FrameFloor int
}

// Job describes one render: a ready-to-submit workflow and where its
// artifacts will land.
type Job struct {
	ItemID     int64
	Scene      int
	Workflow   comfy.Workflow
	OutputDir  string
	FilePrefix string
}

// Result reports a successful render.
type Result struct {
	PromptID string
	Frames   []string
	Attempts int
}

// AttemptError is the terminal failure of a single attempt.
type AttemptError struct {
	Reason string
	Err    error
}

func (e *AttemptError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *AttemptError) Unwrap() error { return e.Err }

// Runner executes render jobs against a ComfyUI server.
type Runner struct {
	client   JobClient
	cfg      Config
	recorder *telemetry.Recorder
	logger   *slog.Logger

	listen ProgressListener
	sleep  func(context.Context, time.Duration) error
	now    func() time.Time
}

// ProgressListener streams advisory execution events until its context is
// canceled. The runner never uses the feed to decide completion; polling
// stays authoritative.
type ProgressListener func(ctx context.Context, onEvent func(comfy.Event)) error

// Option customizes the runner.
type Option func(*Runner)

// WithSleep overrides how the runner waits between polls (useful for tests).
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(r *Runner) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// WithClock overrides the runner's time source (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// WithProgressListener attaches a websocket progress feed started once per
// attempt. Feed events are logged; a dead feed never fails the attempt.
func WithProgressListener(listen ProgressListener) Option {
	return func(r *Runner) {
		r.listen = listen
	}
}

// NewRunner constructs a runner. The recorder may be nil when telemetry is
// disabled; the logger may be nil.
func NewRunner(client JobClient, cfg Config, recorder *telemetry.Recorder, logger *slog.Logger, opts ...Option) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 10 * time.Minute
	}
	if cfg.FrameFloor <= 0 {
		cfg.FrameFloor = 1
	}
	if cfg.RetryBudget < 0 {
		cfg.RetryBudget = 0
	}
	runner := &Runner{
		client:   client,
		cfg:      cfg,
		recorder: recorder,
		logger:   logging.NewComponentLogger(logger, "render-runner"),
		sleep:    sleepContext,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(runner)
	}
	return runner
}

// Run executes the job until it succeeds or the retry budget is spent. The
// returned error is the last attempt's failure; it is reported exactly once
// per job, resubmissions along the way surface as warnings only.
func (r *Runner) Run(ctx context.Context, job Job) (Result, error) {
	maxAttempts := r.cfg.RetryBudget + 1
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, attemptErr := r.runAttempt(ctx, job, attempt)
		if attemptErr == nil {
			result.Attempts = attempt
			return result, nil
		}
		lastErr = attemptErr

		if ctx.Err() != nil {
			break
		}
		if attempt < maxAttempts {
			logging.WarnWithContext(r.logger, "render attempt failed; resubmitting", "render_attempt_failed",
				logging.Int64(logging.FieldItemID, job.ItemID),
				logging.Int(logging.FieldScene, job.Scene),
				logging.Int(logging.FieldAttempt, attempt),
				logging.Int("attempts_left", maxAttempts-attempt),
				logging.Error(attemptErr),
			)
		}
	}

	return Result{}, fmt.Errorf("render job failed after %d attempt(s): %w", maxAttempts, lastErr)
}

func (r *Runner) runAttempt(ctx context.Context, job Job, attempt int) (Result, error) {
	record := telemetry.Attempt{
		ItemID:       job.ItemID,
		Scene:        job.Scene,
		Attempt:      attempt,
		SubmittedAt:  r.now().UTC(),
		FrameFloor:   r.cfg.FrameFloor,
		VRAMBeforeMB: r.freeVRAM(ctx),
	}

	result, attemptErr := r.executeAttempt(ctx, job, &record)

	record.CompletedAt = r.now().UTC()
	record.DurationMs = record.CompletedAt.Sub(record.SubmittedAt).Milliseconds()
	record.VRAMAfterMB = r.freeVRAM(ctx)
	if attemptErr != nil {
		record.Error = attemptErr.Error()
		var ae *AttemptError
		if errors.As(attemptErr, &ae) {
			record.ExitReason = ae.Reason
		} else {
			record.ExitReason = telemetry.ReasonExecutionError
		}
	} else {
		record.ExitReason = telemetry.ReasonSuccess
	}

	// Telemetry is advisory: a recording failure never fails the attempt.
	if err := r.recorder.Record(record); err != nil {
		logging.WarnWithContext(r.logger, "telemetry record failed", "telemetry_record_failed",
			logging.Int64(logging.FieldItemID, job.ItemID),
			logging.Int(logging.FieldAttempt, attempt),
			logging.Error(err),
		)
	}

	return result, attemptErr
}

func (r *Runner) executeAttempt(ctx context.Context, job Job, record *telemetry.Attempt) (Result, error) {
	if ctx.Err() != nil {
		return Result{}, &AttemptError{Reason: telemetry.ReasonCanceled, Err: ctx.Err()}
	}

	promptID, err := r.client.SubmitPrompt(ctx, job.Workflow)
	if err != nil {
		return Result{}, &AttemptError{Reason: telemetry.ReasonSubmissionError, Err: err}
	}
	record.PromptID = promptID

	if r.listen != nil {
		feedCtx, stopFeed := context.WithCancel(ctx)
		defer stopFeed()
		go r.streamProgress(feedCtx, promptID)
	}

	r.logger.Info("render job submitted",
		logging.Int64(logging.FieldItemID, job.ItemID),
		logging.Int(logging.FieldScene, job.Scene),
		logging.Int(logging.FieldAttempt, record.Attempt),
		logging.String(logging.FieldPromptID, promptID),
	)

	entry, polls, err := r.pollHistory(ctx, promptID)
	record.Polls = polls
	if err != nil {
		return Result{}, err
	}
	if entry.Failed() {
		return Result{}, &AttemptError{
			Reason: telemetry.ReasonExecutionError,
			Err:    fmt.Errorf("server reported execution error for prompt %s", promptID),
		}
	}

	// Output files can still be flushing when history reports completion. A
	// producer-written done marker ends the grace wait early.
	marker, err := r.awaitOutputs(ctx, job.OutputDir, job.FilePrefix)
	if err != nil {
		return Result{}, &AttemptError{Reason: telemetry.ReasonCanceled, Err: err}
	}

	frames, err := CollectFrames(job.OutputDir, job.FilePrefix)
	if err != nil {
		return Result{}, &AttemptError{Reason: telemetry.ReasonExecutionError, Err: err}
	}
	frameCount := len(frames)
	if marker != nil && marker.FrameCount > 0 {
		// The producer counted its own outputs; trust it over a directory scan.
		frameCount = marker.FrameCount
	}
	record.FrameCount = frameCount
	if frameCount < r.cfg.FrameFloor {
		return Result{}, &AttemptError{
			Reason: telemetry.ReasonFrameFloor,
			Err:    fmt.Errorf("collected %d frame(s), floor is %d", frameCount, r.cfg.FrameFloor),
		}
	}

	if marker == nil {
		if err := WriteDoneMarker(job.OutputDir, job.FilePrefix, len(frames)); err != nil {
			logging.WarnWithContext(r.logger, "done marker write failed", "done_marker_failed",
				logging.Int64(logging.FieldItemID, job.ItemID),
				logging.String("dir", job.OutputDir),
				logging.Error(err),
			)
		}
	}

	return Result{PromptID: promptID, Frames: frames}, nil
}

// awaitOutputs waits out the grace period between history completion and
// artifact collection, checking for the scene's done marker between waits.
// The returned marker is nil when the grace period expired without one.
func (r *Runner) awaitOutputs(ctx context.Context, dir, prefix string) (*DoneMarker, error) {
	deadline := r.now().Add(r.cfg.GracePeriod)
	for {
		marker, err := ReadDoneMarker(dir, prefix)
		if err != nil {
			r.logger.Debug("done marker unreadable", logging.String("dir", dir), logging.Error(err))
		}
		if marker != nil {
			return marker, nil
		}
		remaining := deadline.Sub(r.now())
		if remaining <= 0 {
			return nil, nil
		}
		step := r.cfg.PollInterval
		if step <= 0 || step > remaining {
			step = remaining
		}
		if err := r.sleep(ctx, step); err != nil {
			return nil, err
		}
	}
}

func (r *Runner) streamProgress(ctx context.Context, promptID string) {
	err := r.listen(ctx, func(ev comfy.Event) {
		if ev.PromptID != "" && ev.PromptID != promptID {
			return
		}
		switch ev.Type {
		case comfy.EventProgress:
			r.logger.Debug("render progress",
				logging.String(logging.FieldPromptID, promptID),
				logging.Int("value", ev.Value),
				logging.Int("max", ev.Max),
			)
		case comfy.EventExecutionError:
			logging.WarnWithContext(r.logger, "execution error on progress feed", "render_progress_error",
				logging.String(logging.FieldPromptID, promptID),
				logging.String("message", ev.Message),
			)
		}
	})
	if err != nil && ctx.Err() == nil {
		r.logger.Debug("progress feed ended",
			logging.String(logging.FieldPromptID, promptID),
			logging.Error(err),
		)
	}
}

func (r *Runner) pollHistory(ctx context.Context, promptID string) (*comfy.HistoryEntry, int, error) {
	deadline := r.now().Add(r.cfg.MaxWait)
	polls := 0

	for {
		if ctx.Err() != nil {
			return nil, polls, &AttemptError{Reason: telemetry.ReasonCanceled, Err: ctx.Err()}
		}
		if r.cfg.MaxPollAttempts > 0 && polls >= r.cfg.MaxPollAttempts {
			return nil, polls, &AttemptError{
				Reason: telemetry.ReasonAttemptLimitExceeded,
				Err:    fmt.Errorf("prompt %s still pending after %d poll(s)", promptID, polls),
			}
		}
		remaining := deadline.Sub(r.now())
		if remaining <= 0 {
			return nil, polls, &AttemptError{
				Reason: telemetry.ReasonTimeout,
				Err:    fmt.Errorf("prompt %s exceeded max wait %s", promptID, r.cfg.MaxWait),
			}
		}

		// The final wait is clamped so an attempt never overshoots MaxWait.
		delay := r.cfg.PollInterval
		if delay > remaining {
			delay = remaining
		}
		if err := r.sleep(ctx, delay); err != nil {
			return nil, polls, &AttemptError{Reason: telemetry.ReasonCanceled, Err: err}
		}

		polls++
		entry, err := r.client.History(ctx, promptID)
		if err != nil {
			// Transient poll errors are tolerated; the deadline bounds them.
			r.logger.Debug("history poll failed",
				logging.String(logging.FieldPromptID, promptID),
				logging.Int("poll", polls),
				logging.Error(err),
			)
			continue
		}
		if entry == nil {
			continue
		}
		if entry.Failed() || entry.Succeeded() {
			return entry, polls, nil
		}
	}
}

func (r *Runner) freeVRAM(ctx context.Context) int64 {
	if r.client == nil {
		return -1
	}
	stats, err := r.client.SystemStats(ctx)
	if err != nil {
		return -1
	}
	return stats.FreeVRAMMB()
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
