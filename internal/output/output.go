// Package output delivers a brick's results to downstream runners.
//
// Packets are kept per port and per consumer group. Every group subscribed to
// a port receives its own copy of each packet; the consumers inside a group
// (scaled instances of the same downstream brick) share the group's queue.
// Consumers pull: they send a PacketRequest and the Output answers with up to
// that many packets.
package output

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/brickrunner/internal/monitoring"
	"github.com/GriffinCanCode/brickrunner/internal/packet"
)

// ErrClosed is returned when consumers register after Close.
var ErrClosed = errors.New("output closed")

const defaultAlertTimeout = 5 * time.Second

// Target is a downstream brick wired to a port in the brick file.
type Target struct {
	Brick string `yaml:"brick" toml:"brick" json:"brick"`
	Name  string `yaml:"name,omitempty" toml:"name,omitempty" json:"name,omitempty"`
	// Group is the consumer group the target's runners join. Defaults to Brick.
	Group string `yaml:"group,omitempty" toml:"group,omitempty" json:"group,omitempty"`
}

// GroupName returns the consumer group of the target.
func (t Target) GroupName() string {
	if t.Group != "" {
		return t.Group
	}
	return t.Brick
}

// AlertFunc asks the control plane to scale out brickID because the queue of
// group is not draining.
type AlertFunc func(ctx context.Context, brickID, group string) error

// Options configures an Output.
type Options struct {
	// NewPolicy builds the slow-queue policy of each group.
	NewPolicy PolicyFactory
	// AlertTimeout bounds a single alert call.
	AlertTimeout time.Duration
	Logger       *zap.Logger
	Metrics      *monitoring.Metrics
}

// Output is the fan-out side of a runner.
type Output struct {
	logger  *zap.Logger
	metrics *monitoring.Metrics

	newPolicy    PolicyFactory
	alertTimeout time.Duration

	mu     sync.RWMutex
	ports  map[string]*port
	alert  AlertFunc
	closed bool

	// pending counts packets queued or being sent, across all groups.
	pending atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type port struct {
	name      string
	groups    map[string]*group
	consumers map[string]*Consumer
}

// New creates an empty Output.
func New(opts Options) *Output {
	if opts.NewPolicy == nil {
		opts.NewPolicy = GrowthPolicyFactory(DefaultGrowthConfig())
	}
	if opts.AlertTimeout <= 0 {
		opts.AlertTimeout = defaultAlertTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Output{
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		newPolicy:    opts.NewPolicy,
		alertTimeout: opts.AlertTimeout,
		ports:        make(map[string]*port),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// AddTargets creates a group for every declared target so that packets are
// retained until the target's runners connect. alert may be nil.
func (o *Output) AddTargets(targets map[string][]Target, alert AlertFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.alert = alert
	for name, list := range targets {
		p := o.portLocked(name)
		for _, t := range list {
			g := o.groupLocked(p, t.GroupName(), t.Brick)
			o.logger.Info("Output target added",
				zap.String("port", name),
				zap.String("brick", t.Brick),
				zap.String("group", g.name),
			)
		}
	}
}

// portLocked must be called with mu held.
func (o *Output) portLocked(name string) *port {
	p, ok := o.ports[name]
	if !ok {
		p = &port{
			name:      name,
			groups:    make(map[string]*group),
			consumers: make(map[string]*Consumer),
		}
		o.ports[name] = p
	}
	return p
}

// groupLocked must be called with mu held.
func (o *Output) groupLocked(p *port, name, brickID string) *group {
	g, ok := p.groups[name]
	if !ok {
		g = newGroup(p.name, name, brickID, o.newPolicy())
		p.groups[name] = g
	}
	return g
}

// Enqueue hands p to every group subscribed to portName. Ports nobody
// subscribed to drop the packet.
func (o *Output) Enqueue(p *packet.Packet, portName string) {
	p.Port = portName
	p.MarkOutputEntry()

	o.mu.RLock()
	var groups []*group
	if pt, ok := o.ports[portName]; ok {
		groups = make([]*group, 0, len(pt.groups))
		for _, g := range pt.groups {
			groups = append(groups, g)
		}
	}
	o.mu.RUnlock()

	if len(groups) == 0 {
		o.metrics.RecordDropped(portName)
		o.logger.Warn("No consumers for port, dropping packet",
			zap.String("port", portName),
			zap.String("packet_id", p.ID.String()),
		)
		return
	}

	for i, g := range groups {
		item := p
		if i > 0 {
			item = p.Copy()
		}
		o.pending.Add(1)
		if err := g.queue.Put(item); err != nil {
			o.pending.Add(-1)
			o.metrics.RecordDropped(portName)
			continue
		}
		o.observe(g)
	}
	o.metrics.RecordEmitted(portName)
}

// observe feeds the group's depth to its policy and fires an alert when the
// policy asks for one.
func (o *Output) observe(g *group) {
	depth := g.queue.Len()
	o.metrics.SetOutputDepth(g.port, g.name, depth)
	if !g.observe(time.Now(), depth) {
		return
	}

	o.logger.Warn("Slow queue detected",
		zap.String("port", g.port),
		zap.String("group", g.name),
		zap.String("brick", g.brickID),
		zap.Int("depth", depth),
	)

	o.mu.RLock()
	alert := o.alert
	if alert == nil || o.closed {
		o.mu.RUnlock()
		return
	}
	o.wg.Add(1)
	o.mu.RUnlock()

	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(o.ctx, o.alertTimeout)
		defer cancel()

		if err := alert(ctx, g.brickID, g.name); err != nil {
			o.metrics.RecordSlowQueueAlert(g.name, "error")
			o.logger.Warn("Failed to send slow queue alert",
				zap.String("brick", g.brickID),
				zap.String("group", g.name),
				zap.Error(err),
			)
			return
		}
		o.metrics.RecordSlowQueueAlert(g.name, "ok")
	}()
}

// IsEmpty reports whether every enqueued packet has been delivered.
func (o *Output) IsEmpty() bool {
	return o.pending.Load() <= 0
}

// Pending is the number of packets not yet delivered, counted per group.
func (o *Output) Pending() int {
	return int(o.pending.Load())
}

// Depth is the queue depth of one group.
func (o *Output) Depth(portName, groupName string) int {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if p, ok := o.ports[portName]; ok {
		if g, ok := p.groups[groupName]; ok {
			return g.queue.Len()
		}
	}
	return 0
}

// Groups lists the consumer groups of a port.
func (o *Output) Groups(portName string) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	p, ok := o.ports[portName]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(p.groups))
	for name := range p.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close disconnects all consumers and abandons undelivered packets.
func (o *Output) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	var consumers []*Consumer
	for _, p := range o.ports {
		for _, c := range p.consumers {
			consumers = append(consumers, c)
		}
		for _, g := range p.groups {
			g.queue.Close()
		}
	}
	o.mu.Unlock()

	for _, c := range consumers {
		c.close()
	}
	o.cancel()
	o.wg.Wait()
	o.logger.Debug("Output closed")
}
