package bricks

import (
	"github.com/GriffinCanCode/brickrunner/internal/brick"
)

// Module paths of the built-in plugins.
const (
	PassthroughModule = "builtin/passthrough"
	ScaleModule       = "builtin/scale"
	GeneratorModule   = "builtin/generator"
	RouteModule       = "builtin/route"

	ScriptExtension = ".js"
)

// Register adds every built-in plugin and the script loader to r.
func Register(r *brick.Registry) {
	r.Register(PassthroughModule, func(brick.Description) (any, error) {
		return Passthrough{}, nil
	})
	r.Register(ScaleModule, NewScale)
	r.Register(GeneratorModule, func(brick.Description) (any, error) {
		return NewGenerator(), nil
	})
	r.Register(RouteModule, NewRoute)
	r.RegisterLoader(ScriptExtension, LoadScript)
}

// NewRegistry returns a registry with the built-ins already registered.
func NewRegistry() *brick.Registry {
	r := brick.NewRegistry()
	Register(r)
	return r
}
