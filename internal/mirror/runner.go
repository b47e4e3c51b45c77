package mirror

import (
	"context"
	"errors"
	"time"
)

// Runner triggers a sync right away and then on every tick until the
// context ends. Ticks that land while a run is still going are dropped.
type Runner struct {
	engine   *Engine
	interval time.Duration
}

func NewRunner(engine *Engine, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Runner{engine: engine, interval: interval}
}

func (r *Runner) Start(ctx context.Context) {
	r.tick(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	// failures are logged by the engine
	if _, err := r.engine.Run(ctx); errors.Is(err, ErrSyncInProgress) {
		r.engine.logger.Debug("scheduled sync skipped, previous run still active")
	}
}
