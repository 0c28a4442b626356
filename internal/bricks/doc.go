// Package bricks contains the plugins that ship with the runner and the
// JavaScript loader for user scripts.
//
// Built-in modules:
//
//	builtin/passthrough  returns the payload unchanged
//	builtin/scale        multiplies a number (or map "value") by parameters.factor
//	builtin/generator    inlet; emits parameters.count packets {"seq": n}
//	builtin/route        sends the payload to parameters.port
//
// Any module path ending in ".js" is loaded as a script defining
// process(payload, params), and optionally setup(params) and teardown().
package bricks
