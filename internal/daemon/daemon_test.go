package daemon_test

import (
	"context"
	"testing"
	"time"

	"storyreel/internal/daemon"
	"storyreel/internal/logging"
	"storyreel/internal/queue"
	"storyreel/internal/stage"
	"storyreel/internal/testsupport"
	"storyreel/internal/workflow"
)

type idleHandler struct{ name string }

func (h idleHandler) Prepare(context.Context, *queue.Item) error { return nil }
func (h idleHandler) Execute(context.Context, *queue.Item) error { return nil }
func (h idleHandler) HealthCheck(context.Context) stage.Health   { return stage.Healthy(h.name) }

func newTestDaemon(t *testing.T) (*daemon.Daemon, *queue.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	manager := workflow.NewManagerWithNotifier(cfg, store, logging.NewNop(), nil)
	manager.ConfigureStages(workflow.StageSet{
		Scripter:  idleHandler{name: "scripting"},
		Renderer:  idleHandler{name: "rendering"},
		Animator:  idleHandler{name: "animating"},
		Assembler: idleHandler{name: "assembling"},
	})

	d, err := daemon.New(cfg, store, logging.NewNop(), manager)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d, store
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := daemon.New(nil, nil, nil, nil); err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	d, _ := newTestDaemon(t)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !d.Running() {
		t.Fatal("expected daemon to report running")
	}
	if err := d.Start(context.Background()); err == nil {
		t.Fatal("expected second Start to fail")
	}

	d.Stop()
	if d.Running() {
		t.Fatal("expected daemon to stop")
	}
}

func TestStartResetsInterruptedRuns(t *testing.T) {
	d, store := newTestDaemon(t)

	item := testsupport.NewStory(t, store, "Stuck", "idea")
	item.Status = queue.StatusRendering
	if err := store.Update(context.Background(), item); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	// The reset returns the run to pending, so the pipeline picks it back up.
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		refreshed, err := store.GetByID(context.Background(), item.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if refreshed.Status == queue.StatusCompleted {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("interrupted run was never reprocessed")
}

func TestAddStoryValidatesIdea(t *testing.T) {
	d, _ := newTestDaemon(t)

	if _, err := d.AddStory(context.Background(), "Title", "   "); err == nil {
		t.Fatal("expected error for empty idea")
	}

	item, err := d.AddStory(context.Background(), "  Title  ", "a fox learns to fly")
	if err != nil {
		t.Fatalf("AddStory: %v", err)
	}
	if item.Title != "Title" {
		t.Fatalf("expected trimmed title, got %q", item.Title)
	}
	if item.Status != queue.StatusPending {
		t.Fatalf("expected pending status, got %s", item.Status)
	}
}

func TestStatusReportsPaths(t *testing.T) {
	d, store := newTestDaemon(t)

	status := d.Status(context.Background())
	if status.Running {
		t.Fatal("expected stopped daemon")
	}
	if status.QueueDBPath != store.Path() {
		t.Fatalf("expected queue db path %q, got %q", store.Path(), status.QueueDBPath)
	}
	if status.LockFilePath == "" {
		t.Fatal("expected lock file path")
	}
}
