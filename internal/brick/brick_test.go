package brick

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/brickrunner/internal/monitoring"
	"github.com/GriffinCanCode/brickrunner/internal/packet"
)

func newTestBrick(t *testing.T, plugin any) *Brick {
	t.Helper()
	registry := NewRegistry()
	registry.Register("test", func(Description) (any, error) { return plugin, nil })

	b := New(Description{UID: "b1", Module: "test"}, registry, monitoring.NewMetrics(), zap.NewNop())
	require.NoError(t, b.CreateInstance())
	require.NoError(t, b.Setup(context.Background()))
	return b
}

// collect acknowledges every result and forwards it to the returned channel.
func collect(ctx context.Context, b *Brick) <-chan *Result {
	out := make(chan *Result, 64)
	go func() {
		for {
			select {
			case r := <-b.Results():
				out <- r
				r.Ack()
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func double(_ context.Context, _ *Adapter, payload any) (any, error) {
	return payload.(int) * 2, nil
}

func TestProcessDoublesToDefaultPort(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := newTestBrick(t, Func(double))
	results := collect(ctx, b)

	require.NoError(t, b.Process(ctx, packet.New(5)))

	r := <-results
	assert.Equal(t, 10, r.Packet.Payload)
	assert.Equal(t, DefaultPortName, r.Port)
	assert.Equal(t, DefaultPortName, r.Packet.Port)
	assert.False(t, b.IsProcessing())
}

func TestProcessPreservesOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := newTestBrick(t, Func(double))
	results := collect(ctx, b)

	for i := 0; i < 20; i++ {
		require.NoError(t, b.Process(ctx, packet.New(i)))
	}
	for i := 0; i < 20; i++ {
		r := <-results
		assert.Equal(t, i*2, r.Packet.Payload)
	}
}

func TestProcessRoutesTuples(t *testing.T) {
	tests := []struct {
		name    string
		result  any
		payload any
		port    string
		emitted bool
		err     error
	}{
		{name: "bare value", result: 7, payload: 7, port: DefaultPortName, emitted: true},
		{name: "tuple", result: To("portA", 7), payload: 7, port: "portA", emitted: true},
		{name: "nil value to port", result: Tuple{nil, "portA"}, payload: nil, port: "portA", emitted: true},
		{name: "nil", result: nil},
		{name: "short tuple", result: Tuple{1}, err: ErrInvalidResult},
		{name: "long tuple", result: Tuple{1, "a", 2}, err: ErrInvalidResult},
		{name: "non-string port", result: Tuple{1, 2}, err: ErrInvalidResult},
		{name: "empty port", result: Tuple{1, ""}, err: ErrInvalidResult},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			b := newTestBrick(t, Func(func(context.Context, *Adapter, any) (any, error) {
				return tt.result, nil
			}))
			results := collect(ctx, b)

			err := b.Process(ctx, packet.New("in"))
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)

			if !tt.emitted {
				select {
				case r := <-results:
					t.Fatalf("unexpected result %v", r.Packet.Payload)
				case <-time.After(20 * time.Millisecond):
				}
				return
			}
			r := <-results
			assert.Equal(t, tt.payload, r.Packet.Payload)
			assert.Equal(t, tt.port, r.Port)
		})
	}
}

func TestPluginFailuresAreContained(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	b := newTestBrick(t, Func(func(_ context.Context, _ *Adapter, payload any) (any, error) {
		calls++
		switch payload {
		case "error":
			return nil, errors.New("boom")
		case "panic":
			panic("kaboom")
		}
		return payload, nil
	}))
	results := collect(ctx, b)

	assert.NoError(t, b.Process(ctx, packet.New("error")))
	assert.NoError(t, b.Process(ctx, packet.New("panic")))
	assert.NoError(t, b.Process(ctx, packet.New("ok")))

	r := <-results
	assert.Equal(t, "ok", r.Packet.Payload)
	assert.Equal(t, 3, calls)
	assert.False(t, b.IsProcessing())
}

func TestProcessWaitsForAck(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := newTestBrick(t, Func(double))

	done := make(chan error, 1)
	go func() { done <- b.Process(ctx, packet.New(1)) }()

	r := <-b.Results()
	select {
	case <-done:
		t.Fatal("process returned before ack")
	case <-time.After(20 * time.Millisecond):
	}
	assert.True(t, b.IsProcessing())

	r.Ack()
	require.NoError(t, <-done)
	assert.False(t, b.IsProcessing())
}

func TestProcessRejectsConcurrentCalls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := newTestBrick(t, Func(double))

	go func() { _ = b.Process(ctx, packet.New(1)) }()
	r := <-b.Results()

	assert.ErrorIs(t, b.Process(ctx, packet.New(2)), ErrBusy)
	r.Ack()
}

func TestProcessHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	b := newTestBrick(t, Func(double))
	done := make(chan error, 1)
	go func() { done <- b.Process(ctx, packet.New(1)) }()

	time.Sleep(10 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

type recordingProcessor struct {
	setups    atomic.Int32
	teardowns atomic.Int32
	setupErr  error
}

func (p *recordingProcessor) Setup(context.Context, *Adapter) error {
	p.setups.Add(1)
	return p.setupErr
}

func (p *recordingProcessor) Process(_ context.Context, _ *Adapter, payload any) (any, error) {
	return payload, nil
}

func (p *recordingProcessor) Teardown(context.Context) error {
	p.teardowns.Add(1)
	return nil
}

func TestSetupAndTeardownRunOnce(t *testing.T) {
	plugin := &recordingProcessor{}
	b := newTestBrick(t, plugin)

	require.NoError(t, b.Setup(context.Background()))
	require.NoError(t, b.Teardown(context.Background()))
	require.NoError(t, b.Teardown(context.Background()))

	assert.Equal(t, int32(1), plugin.setups.Load())
	assert.Equal(t, int32(1), plugin.teardowns.Load())
}

func TestTeardownFromAnotherGoroutine(t *testing.T) {
	plugin := &recordingProcessor{}
	b := newTestBrick(t, plugin)

	setup := make(chan error, 1)
	go func() { setup <- b.Setup(context.Background()) }()
	require.NoError(t, <-setup)

	teardown := make(chan error, 1)
	go func() { teardown <- b.Teardown(context.Background()) }()
	require.NoError(t, <-teardown)

	assert.Equal(t, int32(1), plugin.teardowns.Load())
}

func TestTeardownSkippedWhenSetupFailed(t *testing.T) {
	plugin := &recordingProcessor{setupErr: errors.New("no database")}
	registry := NewRegistry()
	registry.Register("test", func(Description) (any, error) { return plugin, nil })

	b := New(Description{UID: "b1", Module: "test"}, registry, nil, zap.NewNop())
	require.NoError(t, b.CreateInstance())

	err := b.Setup(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no database")

	require.NoError(t, b.Teardown(context.Background()))
	assert.Equal(t, int32(0), plugin.teardowns.Load())
}

func TestProcessBeforeCreateInstance(t *testing.T) {
	b := New(Description{UID: "b1", Module: "test"}, NewRegistry(), nil, zap.NewNop())
	assert.ErrorIs(t, b.Process(context.Background(), packet.New(1)), ErrNoInstance)
	assert.ErrorIs(t, b.Setup(context.Background()), ErrNoInstance)
}

func TestEmitFromInlet(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopped := make(chan struct{})
	b := newTestBrick(t, Module{
		Process: func(ctx context.Context, a *Adapter, _ any) (any, error) {
			for i := 0; i < 3; i++ {
				if err := a.Emit(ctx, i, ""); err != nil {
					return nil, err
				}
			}
			_ = a.Emit(ctx, "side", "audit")
			return nil, nil
		},
		Stop: func() { close(stopped) },
	})
	results := collect(ctx, b)

	require.NoError(t, b.Process(ctx, nil))
	for i := 0; i < 3; i++ {
		r := <-results
		assert.Equal(t, i, r.Packet.Payload)
		assert.Equal(t, DefaultPortName, r.Port)
	}
	r := <-results
	assert.Equal(t, "audit", r.Port)

	b.Terminate()
	b.Terminate()
	<-stopped
}

func TestEmitAfterTerminate(t *testing.T) {
	b := newTestBrick(t, Func(double))
	b.Terminate()

	err := b.adapter.Emit(context.Background(), 1, "")
	assert.ErrorIs(t, err, ErrTerminated)
}
