// Package input feeds a brick from upstream runners. Each source is pulled in
// batches and pulling pauses while the local queue is above the low watermark.
package input

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/brickrunner/internal/monitoring"
	"github.com/GriffinCanCode/brickrunner/internal/packet"
	"github.com/GriffinCanCode/brickrunner/internal/protocol"
	"github.com/GriffinCanCode/brickrunner/internal/queue"
	"github.com/GriffinCanCode/brickrunner/internal/transport"
)

// Defaults for Options.
const (
	DefaultLowWatermark = 10
	DefaultBatchSize    = 25
)

// ErrClosed is returned by Get once the Input is closed. It is the normal end
// of the processing loop.
var ErrClosed = queue.ErrClosed

// Options configures an Input.
type Options struct {
	// BrickInstanceID identifies this runner to upstream Outputs.
	BrickInstanceID string
	// Group is the consumer group to join upstream, normally the brick uid.
	Group        string
	LowWatermark int
	BatchSize    int
	// Dial opens source connections. Defaults to websocket dialing.
	Dial    transport.DialFunc
	Codec   *protocol.Codec
	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

func (o Options) withDefaults() Options {
	if o.LowWatermark <= 0 {
		o.LowWatermark = DefaultLowWatermark
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Codec == nil {
		o.Codec = protocol.NewCodec(protocol.DefaultCompressThreshold)
	}
	if o.Dial == nil {
		o.Dial = transport.Dialer(o.Codec)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Input is a FIFO of packets fed by any number of upstream sources.
type Input struct {
	opts    Options
	logger  *zap.Logger
	metrics *monitoring.Metrics

	packets *queue.Queue[*packet.Packet]
	ready   *queue.Event
	// watermarkMu orders each enqueue or dequeue with the ready decision
	// taken on the length it produced.
	watermarkMu sync.Mutex

	// unfinished counts packets put but not yet marked done.
	unfinished atomic.Int64
	sources    atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// New creates an Input.
func New(opts Options) *Input {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Input{
		opts:    opts,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		packets: queue.New[*packet.Packet](),
		ready:   queue.NewEvent(true),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// AddSource connects to the Output of an upstream runner and starts pulling
// packets from port. Only the dial happens on the caller's goroutine.
func (in *Input) AddSource(ctx context.Context, address, port string) error {
	if in.ctx.Err() != nil {
		return ErrClosed
	}

	conn, err := in.opts.Dial(ctx, address)
	if err != nil {
		return fmt.Errorf("failed to connect to source %s: %w", address, err)
	}

	in.wg.Add(1)
	in.sources.Add(1)
	go func() {
		defer in.wg.Done()
		defer in.sources.Add(-1)
		defer conn.Close()
		in.pull(conn, address, port)
	}()
	return nil
}

// pull registers as a consumer and then requests batches while the queue is
// at or below the low watermark.
func (in *Input) pull(conn transport.Conn, address, port string) {
	logger := in.logger.With(zap.String("source", address), zap.String("port", port))

	reg := protocol.ConsumerRegistration{
		BrickInstanceID: in.opts.BrickInstanceID,
		Group:           in.opts.Group,
		Port:            port,
	}
	if err := conn.Send(in.ctx, reg); err != nil {
		in.logSourceEnd(logger, err)
		return
	}
	logger.Info("Registered with source")

	for {
		if err := in.ready.Wait(in.ctx); err != nil {
			return
		}
		if err := conn.Send(in.ctx, protocol.PacketRequest{BatchSize: in.opts.BatchSize}); err != nil {
			in.logSourceEnd(logger, err)
			return
		}

		for i := 0; i < in.opts.BatchSize; i++ {
			msg, err := conn.Receive(in.ctx)
			if err != nil {
				in.logSourceEnd(logger, err)
				return
			}
			frame, ok := msg.(protocol.PacketFrame)
			if !ok {
				logger.Warn("Unexpected message from source", zap.Stringer("type", msg.Type()))
				i--
				continue
			}
			if err := in.Put(packet.FromFrame(frame)); err != nil {
				return
			}
		}
	}
}

func (in *Input) logSourceEnd(logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, transport.ErrClosed):
		logger.Info("Source disconnected")
	case in.ctx.Err() != nil:
		// closing
	default:
		logger.Warn("Source connection failed", zap.Error(err))
	}
}

// Put enqueues a packet. Above the low watermark the pull loops pause.
func (in *Input) Put(p *packet.Packet) error {
	p.MarkInputEntry()
	in.unfinished.Add(1)

	in.watermarkMu.Lock()
	if err := in.packets.Put(p); err != nil {
		in.watermarkMu.Unlock()
		in.unfinished.Add(-1)
		return ErrClosed
	}
	depth := in.packets.Len()
	if depth > in.opts.LowWatermark {
		in.ready.Clear()
	}
	in.watermarkMu.Unlock()

	in.metrics.RecordInput(depth)
	return nil
}

// Get blocks for the next packet. It returns ErrClosed once the Input has been
// closed, and ctx's error if ctx ends first. The caller must call Done after
// handling the packet.
func (in *Input) Get(ctx context.Context) (*packet.Packet, error) {
	p, err := in.packets.Get(ctx)
	if err != nil {
		if errors.Is(err, queue.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, err
	}

	in.watermarkMu.Lock()
	depth := in.packets.Len()
	if depth <= in.opts.LowWatermark {
		in.ready.Set()
	}
	in.watermarkMu.Unlock()

	p.MarkInputExit()
	in.metrics.RecordInputExit(p.InputQueueTime(), depth)
	return p, nil
}

// Done marks a packet returned by Get as fully handled.
func (in *Input) Done() {
	in.unfinished.Add(-1)
}

// IsEmpty reports whether every packet put has been handled.
func (in *Input) IsEmpty() bool {
	return in.unfinished.Load() <= 0
}

// Len is the number of queued packets.
func (in *Input) Len() int {
	return in.packets.Len()
}

// Ready reports whether the pull loops may request more packets.
func (in *Input) Ready() bool {
	return in.ready.IsSet()
}

// Sources is the number of connected sources.
func (in *Input) Sources() int {
	return int(in.sources.Load())
}

// Close stops all pull loops and releases a blocked Get with ErrClosed.
func (in *Input) Close() {
	in.closeOnce.Do(func() {
		in.cancel()
		in.packets.Close()
		in.wg.Wait()
		in.logger.Debug("Input closed")
	})
}
