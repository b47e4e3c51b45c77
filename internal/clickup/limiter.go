package clickup

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/emilianohg/clickmirror/internal/telemetry"
)

// Limiter is the single token bucket every request passes through.
//
// A bucket of capacity b refilled at r tokens/s issues at most b + r*w
// tokens in any window of length w. Refilling at (budget-b)/w therefore
// caps every sliding window at budget. That needs at least one token left
// over for refill, so budgets below 2 are raised to 2. Waiters are served
// in the order they reserve, so one busy caller cannot starve the rest.
type Limiter struct {
	lim    *rate.Limiter
	budget int
	window time.Duration

	requests atomic.Int64
	waits    atomic.Int64
	waitedNs atomic.Int64
}

type LimiterStats struct {
	Budget    int
	Window    time.Duration
	Requests  int64
	Waits     int64
	TotalWait time.Duration
}

// MinBudget is the smallest budget a Limiter enforces.
const MinBudget = 2

func NewLimiter(budget, burst int, window time.Duration) *Limiter {
	budget = max(budget, MinBudget)
	if window <= 0 {
		window = time.Minute
	}
	if burst <= 0 || burst >= budget {
		burst = max(1, budget/10)
	}

	refill := rate.Limit(float64(budget-burst) / window.Seconds())

	return &Limiter{
		lim:    rate.NewLimiter(refill, burst),
		budget: budget,
		window: window,
	}
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	if err := l.lim.Wait(ctx); err != nil {
		return err
	}

	l.requests.Add(1)
	if waited := time.Since(start); waited > time.Millisecond {
		l.waits.Add(1)
		l.waitedNs.Add(int64(waited))
		telemetry.LimiterWait.Observe(waited.Seconds())
	}
	return nil
}

func (l *Limiter) Stats() LimiterStats {
	return LimiterStats{
		Budget:    l.budget,
		Window:    l.window,
		Requests:  l.requests.Load(),
		Waits:     l.waits.Load(),
		TotalWait: time.Duration(l.waitedNs.Load()),
	}
}
