package bricks

import (
	"context"

	"github.com/GriffinCanCode/brickrunner/internal/brick"
)

// Passthrough forwards every payload unchanged.
type Passthrough struct{}

func (Passthrough) Setup(context.Context, *brick.Adapter) error { return nil }

func (Passthrough) Process(_ context.Context, _ *brick.Adapter, payload any) (any, error) {
	return payload, nil
}

func (Passthrough) Teardown(context.Context) error { return nil }
