package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"storyreel/internal/services/comfy"
	"storyreel/internal/telemetry"
)

type fakeClient struct {
	mu           sync.Mutex
	submits      int
	submitErr    error
	completeAt   int
	failStatus   bool
	historyPolls int
	imageCount   int
}

func (f *fakeClient) SubmitPrompt(ctx context.Context, workflow comfy.Workflow) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	f.historyPolls = 0
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return fmt.Sprintf("prompt-%d", f.submits), nil
}

func (f *fakeClient) History(ctx context.Context, promptID string) (*comfy.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyPolls++
	if f.completeAt <= 0 || f.historyPolls < f.completeAt {
		return nil, nil
	}
	status := comfy.HistoryStatus{StatusStr: "success", Completed: true}
	if f.failStatus {
		status = comfy.HistoryStatus{StatusStr: "error"}
	}
	images := make([]comfy.ImageRef, f.imageCount)
	return &comfy.HistoryEntry{
		Status:  status,
		Outputs: map[string]comfy.NodeOutput{"9": {Images: images}},
	}, nil
}

func (f *fakeClient) SystemStats(ctx context.Context) (comfy.SystemStats, error) {
	return comfy.SystemStats{Devices: []comfy.Device{
		{Name: "cuda:0", Type: "cuda", VRAMFree: 4 << 30},
	}}, nil
}

// fakeClock advances on every sleep so poll loops terminate instantly.
type fakeClock struct {
	mu      sync.Mutex
	current time.Time
	slept   time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{current: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.mu.Lock()
	c.current = c.current.Add(d)
	c.slept += d
	c.mu.Unlock()
	return nil
}

func writeFrames(t *testing.T, dir, prefix string, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		path := filepath.Join(dir, fmt.Sprintf("%s_%05d_.png", prefix, i+1))
		if err := os.WriteFile(path, []byte("frame"), 0o644); err != nil {
			t.Fatalf("write frame: %v", err)
		}
	}
}

func newTestRunner(t *testing.T, client JobClient, cfg Config, clock *fakeClock) (*Runner, *telemetry.Recorder) {
	t.Helper()
	recorder := telemetry.NewRecorder(t.TempDir())
	runner := NewRunner(client, cfg, recorder, nil,
		WithClock(clock.now),
		WithSleep(clock.sleep),
	)
	return runner, recorder
}

func TestRunSucceedsWithoutRetry(t *testing.T) {
	outputDir := t.TempDir()
	writeFrames(t, outputDir, "scene-01", 30)

	client := &fakeClient{completeAt: 3, imageCount: 30}
	clock := newFakeClock()
	runner, recorder := newTestRunner(t, client, Config{
		PollInterval: time.Second,
		MaxWait:      time.Minute,
		GracePeriod:  5 * time.Second,
		RetryBudget:  2,
		FrameFloor:   25,
	}, clock)

	result, err := runner.Run(context.Background(), Job{
		ItemID:     1,
		Scene:      1,
		Workflow:   comfy.Workflow{"6": map[string]any{}},
		OutputDir:  outputDir,
		FilePrefix: "scene-01",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if client.submits != 1 {
		t.Fatalf("success within poll limit must not retry, got %d submits", client.submits)
	}
	if result.Attempts != 1 || len(result.Frames) != 30 {
		t.Fatalf("unexpected result: %+v", result)
	}

	marker, err := ReadDoneMarker(outputDir, "scene-01")
	if err != nil || marker == nil {
		t.Fatalf("expected done marker: %v %v", marker, err)
	}
	if marker.FrameCount != 30 {
		t.Fatalf("unexpected marker frame count: %d", marker.FrameCount)
	}

	attempts, err := recorder.ReadRun(1)
	if err != nil {
		t.Fatalf("read telemetry: %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("expected 1 telemetry record, got %d", len(attempts))
	}
	rec := attempts[0]
	if rec.ExitReason != telemetry.ReasonSuccess || rec.Polls != 3 || rec.FrameCount != 30 {
		t.Fatalf("unexpected telemetry: %+v", rec)
	}
	if rec.PromptID != "prompt-1" {
		t.Fatalf("unexpected prompt id: %q", rec.PromptID)
	}
	if rec.VRAMBeforeMB != 4096 || rec.VRAMAfterMB != 4096 {
		t.Fatalf("memory telemetry missing: %+v", rec)
	}
}

func TestRunExhaustsBudgetWhenFramesBelowFloor(t *testing.T) {
	outputDir := t.TempDir()
	writeFrames(t, outputDir, "scene-01", 10)

	client := &fakeClient{completeAt: 1, imageCount: 10}
	clock := newFakeClock()
	runner, recorder := newTestRunner(t, client, Config{
		PollInterval: time.Second,
		MaxWait:      time.Minute,
		GracePeriod:  time.Second,
		RetryBudget:  2,
		FrameFloor:   25,
	}, clock)

	_, err := runner.Run(context.Background(), Job{
		ItemID:     2,
		Scene:      1,
		Workflow:   comfy.Workflow{"6": map[string]any{}},
		OutputDir:  outputDir,
		FilePrefix: "scene-01",
	})
	if err == nil {
		t.Fatal("expected failure after budget exhaustion")
	}
	if !strings.Contains(err.Error(), "after 3 attempt(s)") {
		t.Fatalf("failure must be reported once with attempt count: %v", err)
	}
	var ae *AttemptError
	if !errors.As(err, &ae) || ae.Reason != telemetry.ReasonFrameFloor {
		t.Fatalf("expected frame floor reason, got %v", err)
	}
	if client.submits != 3 {
		t.Fatalf("expected budget+1 submissions, got %d", client.submits)
	}

	attempts, _ := recorder.ReadRun(2)
	if len(attempts) != 3 {
		t.Fatalf("telemetry must cover every attempt, got %d", len(attempts))
	}
	for i, rec := range attempts {
		if rec.Attempt != i+1 {
			t.Fatalf("attempt numbering broken: %+v", rec)
		}
		if rec.ExitReason != telemetry.ReasonFrameFloor {
			t.Fatalf("unexpected reason on attempt %d: %q", i+1, rec.ExitReason)
		}
		if rec.FrameCount != 10 {
			t.Fatalf("unexpected frame count: %+v", rec)
		}
	}
}

func TestRunTimesOutWithinWallClockBound(t *testing.T) {
	client := &fakeClient{completeAt: 0} // never completes
	clock := newFakeClock()
	cfg := Config{
		PollInterval: time.Second,
		MaxWait:      10 * time.Second,
		GracePeriod:  2 * time.Second,
		RetryBudget:  1,
		FrameFloor:   25,
	}
	runner, recorder := newTestRunner(t, client, cfg, clock)

	start := clock.now()
	_, err := runner.Run(context.Background(), Job{
		ItemID:    3,
		Workflow:  comfy.Workflow{"6": map[string]any{}},
		OutputDir: t.TempDir(),
	})
	if err == nil {
		t.Fatal("expected timeout failure")
	}
	var ae *AttemptError
	if !errors.As(err, &ae) || ae.Reason != telemetry.ReasonTimeout {
		t.Fatalf("expected timeout reason, got %v", err)
	}

	elapsed := clock.now().Sub(start)
	bound := time.Duration(cfg.RetryBudget+1)*cfg.MaxWait + time.Duration(cfg.RetryBudget+1)*cfg.GracePeriod
	if elapsed > bound {
		t.Fatalf("wall clock %s exceeds bound %s", elapsed, bound)
	}

	attempts, _ := recorder.ReadRun(3)
	if len(attempts) != 2 {
		t.Fatalf("expected 2 telemetry records, got %d", len(attempts))
	}
	for _, rec := range attempts {
		if rec.ExitReason != telemetry.ReasonTimeout {
			t.Fatalf("unexpected reason: %+v", rec)
		}
	}
}

func TestRunClampsFinalPollWait(t *testing.T) {
	client := &fakeClient{completeAt: 0} // never completes
	clock := newFakeClock()
	cfg := Config{
		PollInterval: 3 * time.Second,
		MaxWait:      10 * time.Second,
		RetryBudget:  0,
		FrameFloor:   25,
	}
	runner, _ := newTestRunner(t, client, cfg, clock)

	start := clock.now()
	_, err := runner.Run(context.Background(), Job{
		ItemID:    8,
		Workflow:  comfy.Workflow{"6": map[string]any{}},
		OutputDir: t.TempDir(),
	})
	var ae *AttemptError
	if !errors.As(err, &ae) || ae.Reason != telemetry.ReasonTimeout {
		t.Fatalf("expected timeout reason, got %v", err)
	}

	// The interval does not divide the wait; the last sleep must be clamped.
	elapsed := clock.now().Sub(start)
	if elapsed != cfg.MaxWait {
		t.Fatalf("attempt took %s, want exactly %s", elapsed, cfg.MaxWait)
	}
}

func TestRunHonorsProducerDoneMarker(t *testing.T) {
	outputDir := t.TempDir()
	writeFrames(t, outputDir, "scene-01", 1)
	if err := WriteDoneMarker(outputDir, "scene-01", 30); err != nil {
		t.Fatalf("WriteDoneMarker: %v", err)
	}

	client := &fakeClient{completeAt: 1, imageCount: 1}
	clock := newFakeClock()
	runner, recorder := newTestRunner(t, client, Config{
		PollInterval: time.Second,
		MaxWait:      time.Minute,
		GracePeriod:  30 * time.Second,
		RetryBudget:  0,
		FrameFloor:   25,
	}, clock)

	result, err := runner.Run(context.Background(), Job{
		ItemID:     9,
		Scene:      1,
		Workflow:   comfy.Workflow{"6": map[string]any{}},
		OutputDir:  outputDir,
		FilePrefix: "scene-01",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Frames) != 1 {
		t.Fatalf("unexpected frames: %v", result.Frames)
	}

	// The marker ends the grace wait immediately; only the poll sleeps.
	if clock.slept != time.Second {
		t.Fatalf("slept %s, marker should skip the grace period", clock.slept)
	}

	attempts, _ := recorder.ReadRun(9)
	if len(attempts) != 1 || attempts[0].FrameCount != 30 {
		t.Fatalf("marker frame count not honored: %+v", attempts)
	}
}

func TestRunStartsProgressFeedPerAttempt(t *testing.T) {
	outputDir := t.TempDir() // no frames: every attempt fails the floor

	client := &fakeClient{completeAt: 1}
	clock := newFakeClock()
	recorder := telemetry.NewRecorder(t.TempDir())

	var feeds atomic.Int32
	listener := func(ctx context.Context, onEvent func(comfy.Event)) error {
		feeds.Add(1)
		onEvent(comfy.Event{Type: comfy.EventProgress, PromptID: "prompt-1", Value: 1, Max: 2})
		<-ctx.Done()
		return ctx.Err()
	}
	runner := NewRunner(client, Config{
		PollInterval: time.Second,
		MaxWait:      time.Minute,
		RetryBudget:  1,
		FrameFloor:   25,
	}, recorder, nil,
		WithClock(clock.now),
		WithSleep(clock.sleep),
		WithProgressListener(listener),
	)

	_, err := runner.Run(context.Background(), Job{
		ItemID:     10,
		Workflow:   comfy.Workflow{"6": map[string]any{}},
		OutputDir:  outputDir,
		FilePrefix: "scene-01",
	})
	if err == nil {
		t.Fatal("expected frame floor failure")
	}

	deadline := time.Now().Add(2 * time.Second)
	for feeds.Load() != 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := feeds.Load(); got != 2 {
		t.Fatalf("expected a progress feed per attempt, got %d", got)
	}
}

func TestRunStopsAtPollAttemptLimit(t *testing.T) {
	client := &fakeClient{completeAt: 0}
	clock := newFakeClock()
	runner, recorder := newTestRunner(t, client, Config{
		PollInterval:    time.Second,
		MaxWait:         time.Hour,
		MaxPollAttempts: 4,
		RetryBudget:     0,
		FrameFloor:      1,
	}, clock)

	_, err := runner.Run(context.Background(), Job{
		ItemID:    4,
		Workflow:  comfy.Workflow{"6": map[string]any{}},
		OutputDir: t.TempDir(),
	})
	var ae *AttemptError
	if !errors.As(err, &ae) || ae.Reason != telemetry.ReasonAttemptLimitExceeded {
		t.Fatalf("expected attempt limit reason, got %v", err)
	}

	attempts, _ := recorder.ReadRun(4)
	if len(attempts) != 1 || attempts[0].Polls != 4 {
		t.Fatalf("expected exactly 4 polls recorded, got %+v", attempts)
	}
}

func TestRunRecordsSubmissionErrors(t *testing.T) {
	client := &fakeClient{submitErr: errors.New("connection refused")}
	clock := newFakeClock()
	runner, recorder := newTestRunner(t, client, Config{
		PollInterval: time.Second,
		MaxWait:      time.Minute,
		RetryBudget:  1,
		FrameFloor:   1,
	}, clock)

	_, err := runner.Run(context.Background(), Job{
		ItemID:    5,
		Workflow:  comfy.Workflow{"6": map[string]any{}},
		OutputDir: t.TempDir(),
	})
	var ae *AttemptError
	if !errors.As(err, &ae) || ae.Reason != telemetry.ReasonSubmissionError {
		t.Fatalf("expected submission error reason, got %v", err)
	}

	attempts, _ := recorder.ReadRun(5)
	if len(attempts) != 2 {
		t.Fatalf("expected telemetry for both attempts, got %d", len(attempts))
	}
	for _, rec := range attempts {
		if rec.ExitReason != telemetry.ReasonSubmissionError || rec.Polls != 0 {
			t.Fatalf("unexpected record: %+v", rec)
		}
	}
}

func TestRunReportsServerExecutionError(t *testing.T) {
	client := &fakeClient{completeAt: 2, failStatus: true}
	clock := newFakeClock()
	runner, _ := newTestRunner(t, client, Config{
		PollInterval: time.Second,
		MaxWait:      time.Minute,
		RetryBudget:  0,
		FrameFloor:   1,
	}, clock)

	_, err := runner.Run(context.Background(), Job{
		ItemID:    6,
		Workflow:  comfy.Workflow{"6": map[string]any{}},
		OutputDir: t.TempDir(),
	})
	var ae *AttemptError
	if !errors.As(err, &ae) || ae.Reason != telemetry.ReasonExecutionError {
		t.Fatalf("expected execution error reason, got %v", err)
	}
}

func TestRunStopsOnCanceledContext(t *testing.T) {
	client := &fakeClient{completeAt: 0}
	clock := newFakeClock()
	runner, _ := newTestRunner(t, client, Config{
		PollInterval: time.Second,
		MaxWait:      time.Hour,
		RetryBudget:  5,
		FrameFloor:   1,
	}, clock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runner.Run(ctx, Job{
		ItemID:    7,
		Workflow:  comfy.Workflow{"6": map[string]any{}},
		OutputDir: t.TempDir(),
	})
	var ae *AttemptError
	if !errors.As(err, &ae) || ae.Reason != telemetry.ReasonCanceled {
		t.Fatalf("expected canceled reason, got %v", err)
	}
	if client.submits != 0 {
		t.Fatalf("canceled context must not submit, got %d", client.submits)
	}
}
