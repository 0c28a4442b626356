// Package logging builds the zap loggers used across the runner.
//
// Two modes are supported:
//   - Production: JSON output for log shipping
//   - Development: coloured console output
//
// There is no global logging context. The runner creates one root logger and
// derives bound children for each component:
//
//	root, _ := logging.New(logging.Config{Level: "info"})
//	log := logging.ForBrick(root, desc.UID, desc.Name, desc.Family, runnerID)
//	log.Info("brick ready", zap.String("module", desc.Module))
package logging
