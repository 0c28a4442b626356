package output

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/brickrunner/internal/protocol"
	"github.com/GriffinCanCode/brickrunner/internal/queue"
	"github.com/GriffinCanCode/brickrunner/internal/transport"
)

const endOfStreamTimeout = 250 * time.Millisecond

// Consumer is one downstream runner subscribed to a port.
type Consumer struct {
	Port            string
	BrickInstanceID string
	Group           string

	conn      transport.Conn
	group     *group
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	delivered atomic.Int64
}

// Delivered is the number of packets sent to this consumer.
func (c *Consumer) Delivered() int64 {
	return c.delivered.Load()
}

// RemoteAddr describes the consumer's connection.
func (c *Consumer) RemoteAddr() string {
	return c.conn.RemoteAddr()
}

// close ends the consumer's stream and its connection.
func (c *Consumer) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		ctx, cancel := context.WithTimeout(context.Background(), endOfStreamTimeout)
		defer cancel()
		_ = c.conn.Send(ctx, protocol.EndOfStream{})
		_ = c.conn.Close()
	})
}

// AddConsumer registers the sender of reg and serves its packet requests until
// the connection ends or the Output is closed. A second registration for the
// same port and instance replaces the first, whose connection is closed.
func (o *Output) AddConsumer(ctx context.Context, reg protocol.ConsumerRegistration, conn transport.Conn) error {
	groupName := reg.Group
	if groupName == "" {
		groupName = reg.BrickInstanceID
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	p := o.portLocked(reg.Port)
	g := o.groupLocked(p, groupName, "")

	cctx, cancel := context.WithCancel(ctx)
	c := &Consumer{
		Port:            reg.Port,
		BrickInstanceID: reg.BrickInstanceID,
		Group:           groupName,
		conn:            conn,
		group:           g,
		ctx:             cctx,
		cancel:          cancel,
	}
	previous := p.consumers[reg.BrickInstanceID]
	p.consumers[reg.BrickInstanceID] = c
	count := len(p.consumers)
	o.wg.Add(1)
	o.mu.Unlock()
	defer o.wg.Done()

	stop := context.AfterFunc(o.ctx, cancel)
	defer stop()

	logger := o.logger.With(
		zap.String("port", reg.Port),
		zap.String("consumer", reg.BrickInstanceID),
		zap.String("group", groupName),
	)
	if previous != nil {
		logger.Info("Consumer re-registered, replacing previous connection")
		previous.close()
	}
	o.metrics.SetConsumers(reg.Port, count)
	logger.Info("Consumer registered", zap.String("remote", conn.RemoteAddr()))

	err := o.serve(c, logger)

	o.mu.Lock()
	if p.consumers[reg.BrickInstanceID] == c {
		delete(p.consumers, reg.BrickInstanceID)
	}
	count = len(p.consumers)
	o.mu.Unlock()
	o.metrics.SetConsumers(reg.Port, count)
	c.close()

	if isNormalEnd(err) {
		logger.Info("Consumer disconnected", zap.Int64("delivered", c.Delivered()))
	} else {
		logger.Warn("Consumer connection failed", zap.Error(err), zap.Int64("delivered", c.Delivered()))
	}
	return nil
}

// serve answers packet requests. A packet whose send fails goes back to the
// front of the group queue.
func (o *Output) serve(c *Consumer, logger *zap.Logger) error {
	for {
		msg, err := c.conn.Receive(c.ctx)
		if err != nil {
			return err
		}

		req, ok := msg.(protocol.PacketRequest)
		if !ok {
			logger.Warn("Unexpected message from consumer", zap.Stringer("type", msg.Type()))
			continue
		}

		for i := 0; i < req.BatchSize; i++ {
			p, err := c.group.queue.Get(c.ctx)
			if err != nil {
				return err
			}
			if err := c.conn.Send(c.ctx, p.ToFrame()); err != nil {
				if qerr := c.group.queue.PutFront(p); qerr != nil {
					o.pending.Add(-1)
				}
				return err
			}
			c.delivered.Add(1)
			o.pending.Add(-1)
			o.metrics.RecordDelivered(c.Port, p.OutputQueueTime(time.Now()))
			o.observe(c.group)
		}
	}
}

// Consumer looks up the consumer registered by instanceID on a port.
func (o *Output) Consumer(portName, instanceID string) (*Consumer, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	p, ok := o.ports[portName]
	if !ok {
		return nil, false
	}
	c, ok := p.consumers[instanceID]
	return c, ok
}

// Consumers lists the consumers of a port ordered by instance id.
func (o *Output) Consumers(portName string) []*Consumer {
	o.mu.RLock()
	defer o.mu.RUnlock()

	p, ok := o.ports[portName]
	if !ok {
		return nil
	}
	out := make([]*Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BrickInstanceID < out[j].BrickInstanceID })
	return out
}

// isNormalEnd reports whether err is an expected end of a consumer stream.
func isNormalEnd(err error) bool {
	return errors.Is(err, transport.ErrClosed) ||
		errors.Is(err, queue.ErrClosed) ||
		errors.Is(err, context.Canceled)
}
