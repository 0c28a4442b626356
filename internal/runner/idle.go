package runner

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	minIdlePoll = time.Millisecond
	maxIdlePoll = time.Second
)

// idleTracker measures how long the runner has been idle without interruption.
type idleTracker struct {
	threshold time.Duration
	since     time.Time
}

// observe records a sample and reports whether the idle time exceeded the
// threshold. Any busy sample resets the idle time.
func (t *idleTracker) observe(now time.Time, idle bool) bool {
	if !idle {
		t.since = time.Time{}
		return false
	}
	if t.since.IsZero() {
		t.since = now
		return false
	}
	return now.Sub(t.since) > t.threshold
}

func idlePollInterval(threshold time.Duration) time.Duration {
	return max(min(threshold/10, maxIdlePoll), minIdlePoll)
}

// isIdle reports whether no packet is queued, in flight or awaiting delivery.
func (r *Runner) isIdle() bool {
	return r.input.IsEmpty() && r.output.IsEmpty() && !r.brick.IsProcessing()
}

// ExitWhenIdle shuts the runner down once it has been idle for longer than
// threshold. It returns when ctx is done or after initiating shutdown.
func (r *Runner) ExitWhenIdle(ctx context.Context, threshold time.Duration) {
	tracker := &idleTracker{threshold: threshold}
	ticker := time.NewTicker(idlePollInterval(threshold))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if tracker.observe(now, r.isIdle()) {
				r.logger.Info("Runner idle, shutting down", zap.Duration("idle", now.Sub(tracker.since)))
				r.Shutdown()
				return
			}
		}
	}
}
