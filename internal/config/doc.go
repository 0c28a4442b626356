// Package config loads runner configuration.
//
// Process settings come from environment variables (optionally preloaded
// from a .env file) with defaults for everything. The brick itself and its
// output connections come from a brick file in YAML or TOML:
//
//	brick:
//	  uid: B1
//	  module: builtin/scale
//	  default_port: out
//	  parameters: {factor: 2}
//	output_connections:
//	  out:
//	    - brick: B2
//
// Environment Variables:
//   - RUNNER_HOST, RUNNER_PORT, RUNNER_ADVERTISE_HOST
//   - GRIDMANAGER_ADDR, GRIDMANAGER_ENABLED, GRIDMANAGER_TIMEOUT,
//     GRIDMANAGER_RETRIES, GRIDMANAGER_ALERT_RPS
//   - INPUT_LOW_WATERMARK, INPUT_BATCH_SIZE
//   - SLOW_QUEUE_MIN_DEPTH, SLOW_QUEUE_RESET_DEPTH, SLOW_QUEUE_SAMPLES,
//     SLOW_QUEUE_MIN_GROWTH
//   - COMPRESS_THRESHOLD, LOG_LEVEL, LOG_DEV, BRICK_CONFIG
package config
