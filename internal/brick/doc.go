// Package brick hosts a user-supplied processing plugin.
//
// A plugin comes in one of two shapes:
//   - a Processor, with Setup, Process and Teardown (and optionally Stop)
//   - a legacy single-function module: a Func, or a Module bundling optional
//     setup/teardown/stop hooks around a process function
//
// Legacy shapes are lifted into a Processor once, when the instance is created,
// so the rest of the runner only ever talks to a Processor.
//
// A plugin's Process returns one of:
//   - nil: no output for this packet
//   - a bare value: routed to the brick's default port
//   - a Tuple{value, port}: routed to the named port
//
// Any other Tuple is a contract violation (ErrInvalidResult) and halts the runner.
// Errors and panics raised by the plugin are logged and the packet is dropped.
package brick
