package output

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/brickrunner/internal/monitoring"
	"github.com/GriffinCanCode/brickrunner/internal/packet"
	"github.com/GriffinCanCode/brickrunner/internal/protocol"
	"github.com/GriffinCanCode/brickrunner/internal/transport"
)

var codec = protocol.NewCodec(0)

// connect registers a consumer over a pipe and returns the downstream end.
func connect(t *testing.T, o *Output, reg protocol.ConsumerRegistration) transport.Conn {
	t.Helper()
	local, remote := transport.Pipe(codec)
	go func() { _ = o.AddConsumer(context.Background(), reg, local) }()

	require.Eventually(t, func() bool {
		c, ok := o.Consumer(reg.Port, reg.BrickInstanceID)
		return ok && c.conn == local
	}, time.Second, time.Millisecond)
	return remote
}

func request(t *testing.T, conn transport.Conn, n int) {
	t.Helper()
	require.NoError(t, conn.Send(context.Background(), protocol.PacketRequest{BatchSize: n}))
}

func receivePayload(t *testing.T, conn transport.Conn) any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := conn.Receive(ctx)
	require.NoError(t, err)
	frame, ok := msg.(protocol.PacketFrame)
	require.True(t, ok, "expected packet, got %T", msg)
	return frame.Payload
}

func newTestOutput(t *testing.T, opts Options) *Output {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	o := New(opts)
	t.Cleanup(o.Close)
	return o
}

func TestFanOutToEveryGroup(t *testing.T) {
	o := newTestOutput(t, Options{})
	o.AddTargets(map[string][]Target{"out": {{Brick: "B2"}, {Brick: "B3"}}}, nil)
	assert.Equal(t, []string{"B2", "B3"}, o.Groups("out"))

	for i := 0; i < 3; i++ {
		o.Enqueue(packet.New(float64(i)), "out")
	}
	assert.Equal(t, 6, o.Pending())

	b2 := connect(t, o, protocol.ConsumerRegistration{BrickInstanceID: "b2-1", Group: "B2", Port: "out"})
	b3 := connect(t, o, protocol.ConsumerRegistration{BrickInstanceID: "b3-1", Group: "B3", Port: "out"})
	request(t, b2, 3)
	request(t, b3, 3)

	for i := 0; i < 3; i++ {
		assert.Equal(t, float64(i), receivePayload(t, b2))
		assert.Equal(t, float64(i), receivePayload(t, b3))
	}
	assert.Eventually(t, o.IsEmpty, time.Second, time.Millisecond)
}

func TestConsumersInGroupShareQueue(t *testing.T) {
	o := newTestOutput(t, Options{})
	o.AddTargets(map[string][]Target{"out": {{Brick: "B2"}}}, nil)

	a := connect(t, o, protocol.ConsumerRegistration{BrickInstanceID: "b2-1", Group: "B2", Port: "out"})
	b := connect(t, o, protocol.ConsumerRegistration{BrickInstanceID: "b2-2", Group: "B2", Port: "out"})
	assert.Len(t, o.Consumers("out"), 2)

	request(t, a, 2)
	request(t, b, 2)
	for i := 0; i < 4; i++ {
		o.Enqueue(packet.New(float64(i)), "out")
	}

	var got []any
	for i := 0; i < 2; i++ {
		got = append(got, receivePayload(t, a), receivePayload(t, b))
	}
	assert.ElementsMatch(t, []any{0.0, 1.0, 2.0, 3.0}, got)
	assert.Eventually(t, o.IsEmpty, time.Second, time.Millisecond)
}

func TestFailedSendRequeuesAtFront(t *testing.T) {
	o := newTestOutput(t, Options{})
	o.AddTargets(map[string][]Target{"out": {{Brick: "B2"}}}, nil)

	gone := connect(t, o, protocol.ConsumerRegistration{BrickInstanceID: "b2-1", Group: "B2", Port: "out"})
	request(t, gone, 1)
	require.NoError(t, gone.Close())

	o.Enqueue(packet.New("first"), "out")
	o.Enqueue(packet.New("second"), "out")

	assert.Eventually(t, func() bool {
		_, ok := o.Consumer("out", "b2-1")
		return !ok
	}, time.Second, time.Millisecond)
	assert.Equal(t, 2, o.Depth("out", "B2"))
	assert.False(t, o.IsEmpty())

	next := connect(t, o, protocol.ConsumerRegistration{BrickInstanceID: "b2-2", Group: "B2", Port: "out"})
	request(t, next, 2)
	assert.Equal(t, "first", receivePayload(t, next))
	assert.Equal(t, "second", receivePayload(t, next))
}

func TestDuplicateRegistrationReplaces(t *testing.T) {
	o := newTestOutput(t, Options{})
	reg := protocol.ConsumerRegistration{BrickInstanceID: "b2-1", Group: "B2", Port: "out"}

	old := connect(t, o, reg)
	replacement := connect(t, o, reg)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := old.Receive(ctx)
	assert.ErrorIs(t, err, transport.ErrClosed)

	assert.Len(t, o.Consumers("out"), 1)
	c, ok := o.Consumer("out", "b2-1")
	require.True(t, ok)

	request(t, replacement, 1)
	o.Enqueue(packet.New("x"), "out")
	assert.Equal(t, "x", receivePayload(t, replacement))
	assert.Eventually(t, func() bool { return c.Delivered() == 1 }, time.Second, time.Millisecond)
}

func TestGroupDefaultsToInstanceID(t *testing.T) {
	o := newTestOutput(t, Options{})
	connect(t, o, protocol.ConsumerRegistration{BrickInstanceID: "solo", Port: "out"})

	c, ok := o.Consumer("out", "solo")
	require.True(t, ok)
	assert.Equal(t, "solo", c.Group)
	assert.Equal(t, []string{"solo"}, o.Groups("out"))
}

func TestEnqueueWithoutGroupsDrops(t *testing.T) {
	metrics := monitoring.NewMetrics()
	o := newTestOutput(t, Options{Metrics: metrics})

	o.Enqueue(packet.New(1), "nowhere")
	assert.True(t, o.IsEmpty())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PacketsDropped.WithLabelValues("nowhere")))
}

type alertRecorder struct {
	mu    sync.Mutex
	calls [][2]string
	err   error
}

func (r *alertRecorder) alert(_ context.Context, brickID, group string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, [2]string{brickID, group})
	return r.err
}

func (r *alertRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func enqueueSlowly(o *Output, n int) {
	for i := 0; i < n; i++ {
		o.Enqueue(packet.New(i), "out")
		time.Sleep(time.Millisecond)
	}
}

func TestSlowQueueAlertOncePerEpisode(t *testing.T) {
	rec := &alertRecorder{}
	o := newTestOutput(t, Options{
		NewPolicy: GrowthPolicyFactory(GrowthConfig{MinDepth: 5, ResetDepth: 1, Samples: 3}),
	})
	o.AddTargets(map[string][]Target{"out": {{Brick: "B1", Group: "G1"}}}, rec.alert)

	enqueueSlowly(o, 10)
	assert.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, [2]string{"B1", "G1"}, rec.calls[0])

	enqueueSlowly(o, 5)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, rec.count())

	// drain and fill again
	c := connect(t, o, protocol.ConsumerRegistration{BrickInstanceID: "b1-1", Group: "G1", Port: "out"})
	request(t, c, 15)
	for i := 0; i < 15; i++ {
		receivePayload(t, c)
	}
	assert.Eventually(t, o.IsEmpty, time.Second, time.Millisecond)

	require.NoError(t, c.Close())
	assert.Eventually(t, func() bool { return len(o.Consumers("out")) == 0 }, time.Second, time.Millisecond)

	enqueueSlowly(o, 10)
	assert.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, time.Millisecond)
}

func TestSlowQueueAlertFailureIsContained(t *testing.T) {
	metrics := monitoring.NewMetrics()
	rec := &alertRecorder{err: errors.New("gridmanager unavailable")}
	o := newTestOutput(t, Options{
		NewPolicy: GrowthPolicyFactory(GrowthConfig{MinDepth: 3, ResetDepth: 0, Samples: 2}),
		Metrics:   metrics,
	})
	o.AddTargets(map[string][]Target{"out": {{Brick: "B1"}}}, rec.alert)

	enqueueSlowly(o, 5)
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.SlowQueueAlerts.WithLabelValues("B1", "error")) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, 5, o.Depth("out", "B1"))
}

func TestCloseDisconnectsConsumers(t *testing.T) {
	o := New(Options{Logger: zap.NewNop()})
	reg := protocol.ConsumerRegistration{BrickInstanceID: "b2-1", Port: "out"}

	local, remote := transport.Pipe(codec)
	done := make(chan error, 1)
	go func() { done <- o.AddConsumer(context.Background(), reg, local) }()
	require.Eventually(t, func() bool { return len(o.Consumers("out")) == 1 }, time.Second, time.Millisecond)

	o.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer still served after close")
	}

	_, err := remote.Receive(context.Background())
	assert.ErrorIs(t, err, transport.ErrClosed)

	l2, _ := transport.Pipe(codec)
	assert.ErrorIs(t, o.AddConsumer(context.Background(), reg, l2), ErrClosed)
	o.Close()
}
