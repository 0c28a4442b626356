package bricks

import (
	"context"
	"errors"

	"github.com/GriffinCanCode/brickrunner/internal/brick"
)

// Route sends every payload to a fixed port.
type Route struct {
	port string
}

// NewRoute builds a Route from parameters.port.
func NewRoute(desc brick.Description) (any, error) {
	port, err := stringParam(desc.Parameters, "port", "")
	if err != nil {
		return nil, err
	}
	if port == "" {
		return nil, errors.New("route: parameters.port is required")
	}
	return &Route{port: port}, nil
}

func (r *Route) Setup(context.Context, *brick.Adapter) error { return nil }

func (r *Route) Process(_ context.Context, _ *brick.Adapter, payload any) (any, error) {
	return brick.To(r.port, payload), nil
}

func (r *Route) Teardown(context.Context) error { return nil }
