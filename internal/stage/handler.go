package stage

import (
	"context"

	"storyreel/internal/queue"
)

// Handler is one step of the story pipeline. The workflow manager calls
// Prepare before moving the item into the stage's processing status, then
// Execute to do the work. HealthCheck feeds preflight and daemon status.
type Handler interface {
	Prepare(context.Context, *queue.Item) error
	Execute(context.Context, *queue.Item) error
	HealthCheck(context.Context) Health
}
