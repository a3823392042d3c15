package workflow

import (
	"context"

	"storyreel/internal/stage"
)

// StageHealth reports readiness for every configured stage in pipeline order.
func (m *Manager) StageHealth(ctx context.Context) []stage.Health {
	var results []stage.Health
	for _, stg := range m.stages {
		if stg.handler == nil {
			results = append(results, stage.Unhealthy(stg.name, "handler not configured"))
			continue
		}
		results = append(results, stg.handler.HealthCheck(ctx))
	}
	return results
}
