package testsupport

import (
	"context"
	"testing"

	"storyreel/internal/config"
	"storyreel/internal/queue"
)

// MustOpenStore opens the queue store described by cfg, failing the test on
// error and closing the store during cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("open queue store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewStory enqueues a story run and fails the test if the insert errors.
func NewStory(t testing.TB, store *queue.Store, title, idea string) *queue.Item {
	t.Helper()

	item, err := store.Add(context.Background(), title, idea)
	if err != nil {
		t.Fatalf("add story: %v", err)
	}
	return item
}
