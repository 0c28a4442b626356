package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all runner metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Packet flow
	PacketsReceived prometheus.Counter
	PacketsEmitted  *prometheus.CounterVec
	PacketsDropped  *prometheus.CounterVec

	// Brick
	BrickExecution prometheus.Histogram
	BrickErrors    *prometheus.CounterVec

	// Queues
	InputQueueTime   prometheus.Histogram
	OutputQueueTime  *prometheus.HistogramVec
	InputQueueDepth  prometheus.Gauge
	OutputQueueDepth *prometheus.GaugeVec
	Consumers        *prometheus.GaugeVec

	// Control plane
	SlowQueueAlerts     *prometheus.CounterVec
	GridManagerCalls    *prometheus.CounterVec
	GridManagerDuration *prometheus.HistogramVec

	// System
	Uptime    prometheus.Gauge
	startTime time.Time

	stopOnce sync.Once
	startMu  sync.Mutex
	started  bool
	stop     chan struct{}
}

var latencyBuckets = []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// NewMetrics creates a metric emitter with its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry:  reg,
		startTime: time.Now(),
		stop:      make(chan struct{}),

		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "brickrunner_packets_received_total",
			Help: "Packets accepted by the Input",
		}),
		PacketsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "brickrunner_packets_emitted_total",
			Help: "Packets handed to the Output, by port",
		}, []string{"port"}),
		PacketsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "brickrunner_packets_dropped_total",
			Help: "Packets discarded because a port had no consumer groups",
		}, []string{"port"}),

		BrickExecution: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "brickrunner_brick_execution_seconds",
			Help:    "Time spent inside the brick plugin per packet",
			Buckets: latencyBuckets,
		}),
		BrickErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "brickrunner_brick_errors_total",
			Help: "Brick failures by kind (plugin, panic, contract)",
		}, []string{"kind"}),

		InputQueueTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "brickrunner_input_queue_seconds",
			Help:    "Time packets waited in the Input queue",
			Buckets: latencyBuckets,
		}),
		OutputQueueTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "brickrunner_output_queue_seconds",
			Help:    "Time packets waited in an Output queue before delivery",
			Buckets: latencyBuckets,
		}, []string{"port"}),
		InputQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "brickrunner_input_queue_depth",
			Help: "Packets waiting in the Input queue",
		}),
		OutputQueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "brickrunner_output_queue_depth",
			Help: "Packets waiting per consumer group",
		}, []string{"port", "group"}),
		Consumers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "brickrunner_consumers",
			Help: "Registered downstream consumers, by port",
		}, []string{"port"}),

		SlowQueueAlerts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "brickrunner_slow_queue_alerts_total",
			Help: "Slow queue alerts sent to the grid manager",
		}, []string{"group", "status"}),
		GridManagerCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "brickrunner_gridmanager_calls_total",
			Help: "Grid manager calls by method and status",
		}, []string{"method", "status"}),
		GridManagerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "brickrunner_gridmanager_duration_seconds",
			Help:    "Grid manager call duration",
			Buckets: latencyBuckets,
		}, []string{"method"}),

		Uptime: factory.NewGauge(prometheus.GaugeOpts{
			Name: "brickrunner_uptime_seconds",
			Help: "Runner uptime in seconds",
		}),
	}
}

// Start launches the uptime sampler. Calling it again is a no-op.
func (m *Metrics) Start() {
	if m == nil {
		return
	}
	m.startMu.Lock()
	defer m.startMu.Unlock()
	if m.started {
		return
	}
	m.started = true
	go m.updateUptime()
}

// Stop halts background sampling. Safe to call more than once.
func (m *Metrics) Stop() {
	if m == nil {
		return
	}
	m.stopOnce.Do(func() { close(m.stop) })
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Uptime.Set(time.Since(m.startTime).Seconds())
		case <-m.stop:
			return
		}
	}
}

// RecordInput records a packet accepted by the Input.
func (m *Metrics) RecordInput(depth int) {
	if m == nil {
		return
	}
	m.PacketsReceived.Inc()
	m.InputQueueDepth.Set(float64(depth))
}

// RecordInputExit records a packet leaving the Input queue.
func (m *Metrics) RecordInputExit(waited time.Duration, depth int) {
	if m == nil {
		return
	}
	m.InputQueueTime.Observe(waited.Seconds())
	m.InputQueueDepth.Set(float64(depth))
}

// RecordBrickExecution records plugin execution time.
func (m *Metrics) RecordBrickExecution(d time.Duration) {
	if m == nil {
		return
	}
	m.BrickExecution.Observe(d.Seconds())
}

// RecordBrickError counts a contained or fatal brick failure.
func (m *Metrics) RecordBrickError(kind string) {
	if m == nil {
		return
	}
	m.BrickErrors.WithLabelValues(kind).Inc()
}

// RecordEmitted counts a packet handed to an output port.
func (m *Metrics) RecordEmitted(port string) {
	if m == nil {
		return
	}
	m.PacketsEmitted.WithLabelValues(port).Inc()
}

// RecordDropped counts a packet discarded at an output port.
func (m *Metrics) RecordDropped(port string) {
	if m == nil {
		return
	}
	m.PacketsDropped.WithLabelValues(port).Inc()
}

// SetOutputDepth updates the depth of a consumer group queue.
func (m *Metrics) SetOutputDepth(port, group string, depth int) {
	if m == nil {
		return
	}
	m.OutputQueueDepth.WithLabelValues(port, group).Set(float64(depth))
}

// RecordDelivered records the output queue time of a delivered packet.
func (m *Metrics) RecordDelivered(port string, waited time.Duration) {
	if m == nil {
		return
	}
	m.OutputQueueTime.WithLabelValues(port).Observe(waited.Seconds())
}

// SetConsumers sets the number of consumers registered on a port.
func (m *Metrics) SetConsumers(port string, count int) {
	if m == nil {
		return
	}
	m.Consumers.WithLabelValues(port).Set(float64(count))
}

// RecordSlowQueueAlert counts an alert attempt.
func (m *Metrics) RecordSlowQueueAlert(group, status string) {
	if m == nil {
		return
	}
	m.SlowQueueAlerts.WithLabelValues(group, status).Inc()
}

// RecordGridManagerCall records a control-plane call.
func (m *Metrics) RecordGridManagerCall(method, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.GridManagerCalls.WithLabelValues(method, status).Inc()
	m.GridManagerDuration.WithLabelValues(method).Observe(d.Seconds())
}
