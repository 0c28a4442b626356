package monitoring

import "time"

// Timer measures a grid manager call.
type Timer struct {
	start   time.Time
	metrics *Metrics
	method  string
}

// NewTimer starts a timer for method.
func NewTimer(metrics *Metrics, method string) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
		method:  method,
	}
}

// Stop records the call with the given status ("ok", "error").
func (t *Timer) Stop(status string) {
	t.metrics.RecordGridManagerCall(t.method, status, time.Since(t.start))
}
