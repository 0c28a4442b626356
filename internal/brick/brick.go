package brick

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/brickrunner/internal/monitoring"
	"github.com/GriffinCanCode/brickrunner/internal/packet"
)

var (
	// ErrBusy is returned when Process is entered while a packet is in flight.
	ErrBusy = errors.New("brick is already processing")
	// ErrNoInstance is returned when the brick is used before CreateInstance.
	ErrNoInstance = errors.New("brick instance not created")
	// ErrTerminated is returned when publishing after Terminate.
	ErrTerminated = errors.New("brick terminated")
)

// pluginError marks a failure inside the plugin. These are contained.
type pluginError struct {
	err   error
	stack []byte
}

func (e *pluginError) Error() string { return "brick plugin failed: " + e.err.Error() }
func (e *pluginError) Unwrap() error { return e.err }

// Result is a packet produced by the brick, waiting to be taken over by the
// Output. The producer blocks until Ack is called.
type Result struct {
	Packet *packet.Packet
	Port   string
	done   chan struct{}
	once   sync.Once
}

// Ack releases the producer.
func (r *Result) Ack() {
	r.once.Do(func() { close(r.done) })
}

// Brick runs one plugin instance. At most one packet is processed at a time.
type Brick struct {
	desc     Description
	registry *Registry
	metrics  *monitoring.Metrics
	logger   *zap.Logger

	instance Processor
	adapter  *Adapter
	results  chan *Result

	processing atomic.Bool

	setupOnce     sync.Once
	setupDone     atomic.Bool
	teardownOnce  sync.Once
	terminateOnce sync.Once
	terminated    chan struct{}
}

// New creates a brick for desc. The logger should already carry the brick's
// identity (see logging.ForBrick).
func New(desc Description, registry *Registry, metrics *monitoring.Metrics, logger *zap.Logger) *Brick {
	desc = desc.WithDefaults()
	b := &Brick{
		desc:       desc,
		registry:   registry,
		metrics:    metrics,
		logger:     logger,
		results:    make(chan *Result),
		terminated: make(chan struct{}),
	}
	b.adapter = &Adapter{
		desc:       desc,
		logger:     logger,
		publish:    b.publish,
		terminated: b.terminated,
	}
	return b
}

// Description returns the description the brick was built from.
func (b *Brick) Description() Description {
	return b.desc
}

// CreateInstance builds the plugin through the registry.
func (b *Brick) CreateInstance() error {
	instance, err := b.registry.Instantiate(b.desc)
	if err != nil {
		return err
	}
	b.instance = instance
	b.logger.Info("Brick instance created", zap.String("module", b.desc.Module))
	return nil
}

// Setup runs the plugin's setup once. Errors are fatal to the runner.
func (b *Brick) Setup(ctx context.Context) error {
	if b.instance == nil {
		return ErrNoInstance
	}
	var err error
	b.setupOnce.Do(func() {
		err = b.instance.Setup(ctx, b.adapter)
		b.setupDone.Store(err == nil)
	})
	if err != nil {
		return fmt.Errorf("brick setup failed: %w", err)
	}
	return nil
}

// Teardown runs the plugin's teardown once, and only if setup succeeded.
func (b *Brick) Teardown(ctx context.Context) error {
	if b.instance == nil || !b.setupDone.Load() {
		return nil
	}
	var err error
	b.teardownOnce.Do(func() {
		err = b.instance.Teardown(ctx)
	})
	if err != nil {
		return fmt.Errorf("brick teardown failed: %w", err)
	}
	return nil
}

// Terminate tells a self-producing plugin to stop and unblocks pending emits.
func (b *Brick) Terminate() {
	b.terminateOnce.Do(func() {
		close(b.terminated)
		if s, ok := b.instance.(Stopper); ok {
			s.Stop()
		}
		b.logger.Info("Brick terminated")
	})
}

// IsProcessing reports whether a packet is in flight.
func (b *Brick) IsProcessing() bool {
	return b.processing.Load()
}

// Results delivers produced packets to the output fan-out.
func (b *Brick) Results() <-chan *Result {
	return b.results
}

// Process runs the plugin on p and forwards the result. It returns only after
// the result was acknowledged by the fan-out, so the next packet cannot start
// before the previous one has drained.
//
// Plugin failures are logged and swallowed. ErrInvalidResult and ctx errors are
// returned.
func (b *Brick) Process(ctx context.Context, p *packet.Packet) error {
	if b.instance == nil {
		return ErrNoInstance
	}
	if !b.processing.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer b.processing.Store(false)

	start := time.Now()
	result, err := b.execute(ctx, p.Payload)
	b.metrics.RecordBrickExecution(time.Since(start))

	if err != nil {
		var perr *pluginError
		if !errors.As(err, &perr) {
			return err
		}
		fields := []zap.Field{zap.String("packet_id", p.ID.String()), zap.Error(perr.err)}
		kind := "plugin"
		if perr.stack != nil {
			kind = "panic"
			fields = append(fields, zap.ByteString("stack", perr.stack))
		}
		b.metrics.RecordBrickError(kind)
		b.logger.Error("Brick failed to process packet", fields...)
		return nil
	}

	payload, port, ok, err := route(result, b.desc.DefaultPort)
	if err != nil {
		b.metrics.RecordBrickError("contract")
		return err
	}
	if !ok {
		return nil
	}

	p.Payload = payload
	p.Port = port
	return b.publish(ctx, p, port)
}

// execute runs the plugin off the caller's goroutine so a blocking plugin
// cannot hold up cancellation.
func (b *Brick) execute(ctx context.Context, payload any) (any, error) {
	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &pluginError{err: fmt.Errorf("panic: %v", r), stack: debug.Stack()}}
			}
		}()
		v, err := b.instance.Process(ctx, b.adapter, payload)
		if err != nil {
			err = &pluginError{err: err}
		}
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		return o.value, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *Brick) publish(ctx context.Context, p *packet.Packet, port string) error {
	r := &Result{Packet: p, Port: port, done: make(chan struct{})}

	select {
	case b.results <- r:
	case <-b.terminated:
		return ErrTerminated
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
