package bricks

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/brickrunner/internal/brick"
)

const defaultCount = 10

// Generator is an inlet: the trigger packet starts a run that emits count
// packets {"seq": n}, one every interval. A count of zero runs until stopped.
type Generator struct {
	count    int
	interval time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

// NewGenerator returns an unconfigured generator. Setup reads the parameters.
func NewGenerator() *Generator {
	return &Generator{stop: make(chan struct{})}
}

func (g *Generator) Setup(_ context.Context, a *brick.Adapter) error {
	count, err := intParam(a.Parameters(), "count", defaultCount)
	if err != nil {
		return err
	}
	intervalMS, err := intParam(a.Parameters(), "interval_ms", 0)
	if err != nil {
		return err
	}
	g.count = count
	g.interval = time.Duration(intervalMS) * time.Millisecond
	return nil
}

func (g *Generator) Process(ctx context.Context, a *brick.Adapter, _ any) (any, error) {
	var tick <-chan time.Time
	if g.interval > 0 {
		ticker := time.NewTicker(g.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for seq := 0; g.count == 0 || seq < g.count; seq++ {
		if seq > 0 && tick != nil {
			select {
			case <-tick:
			case <-g.stop:
				return nil, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		select {
		case <-g.stop:
			return nil, nil
		default:
		}

		if err := a.Emit(ctx, map[string]any{"seq": seq}, ""); err != nil {
			if errors.Is(err, brick.ErrTerminated) {
				return nil, nil
			}
			return nil, err
		}
	}

	a.Logger().Debug("Generator finished", zap.Int("count", g.count))
	return nil, nil
}

func (g *Generator) Teardown(context.Context) error { return nil }

// Stop ends a running generation.
func (g *Generator) Stop() {
	g.stopOnce.Do(func() { close(g.stop) })
}
