package coordinator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/docflow/internal/store"
)

// ReviewTaskExpirer periodically marks review tasks that outlived the review
// TTL as expired. The workflow's own deadline still fails the execution; the
// sweep only keeps the task table honest so abandoned tasks stop showing up
// as pending.
type ReviewTaskExpirer struct {
	store    store.ExecutionStore
	ttl      time.Duration
	interval time.Duration
}

// NewReviewTaskExpirer creates an expirer sweeping once a minute.
func NewReviewTaskExpirer(st store.ExecutionStore, ttl time.Duration) *ReviewTaskExpirer {
	return &ReviewTaskExpirer{store: st, ttl: ttl, interval: time.Minute}
}

// Run sweeps until the context is cancelled.
func (e *ReviewTaskExpirer) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.sweep(ctx)
		}
	}
}

func (e *ReviewTaskExpirer) sweep(ctx context.Context) {
	n, err := e.store.ExpireReviewTasks(ctx, time.Now().UTC().Add(-e.ttl))
	if err != nil {
		zap.L().Error("review task expiry sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		zap.L().Info("expired abandoned review tasks", zap.Int("count", n))
	}
}
