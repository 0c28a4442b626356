// Package monitoring is the runner's metric emitter.
//
// Metrics live in a per-runner prometheus registry so that several runners can
// share a process (tests, embedded pipelines) without colliding. The registry is
// served on the runner's /metrics endpoint.
//
// All recording methods are safe on a nil *Metrics, which records nothing.
//
// Metric families:
//   - brickrunner_packets_*: packet counts at the Input, per output port
//   - brickrunner_brick_*: plugin execution time and failures
//   - brickrunner_*_queue_*: queue depth and waiting time
//   - brickrunner_slow_queue_alerts_total: scaling hints sent upstream
//   - brickrunner_gridmanager_*: control-plane calls
package monitoring
