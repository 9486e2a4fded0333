package workflow

import (
	"context"
	"time"

	"lingest/internal/queue"
	"lingest/internal/stage"
)

// Health summarizes daemon readiness: queue counts plus the transcribe
// stage's view of its dependencies.
type Health struct {
	Running bool
	Queue   queue.HealthSummary
	Stage   stage.Health
	Stuck   int
}

// Health gathers the current health snapshot.
func (m *Manager) Health(ctx context.Context) (Health, error) {
	summary, err := m.store.Health(ctx)
	if err != nil {
		return Health{}, err
	}
	stuck, err := m.store.StuckItems(ctx, m.stuckThreshold())
	if err != nil {
		return Health{}, err
	}
	health := Health{
		Running: m.Running(),
		Queue:   summary,
		Stuck:   len(stuck),
	}
	if m.handler != nil {
		health.Stage = m.handler.HealthCheck(ctx)
	}
	return health, nil
}

func (m *Manager) stuckThreshold() time.Duration {
	minutes := m.cfg.Workflow.StuckThresholdMinutes
	if minutes <= 0 {
		minutes = 30
	}
	return time.Duration(minutes) * time.Minute
}
