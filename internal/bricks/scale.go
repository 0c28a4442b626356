package bricks

import (
	"context"
	"fmt"
	"math"

	"github.com/GriffinCanCode/brickrunner/internal/brick"
)

const defaultFactor = 2

// NewScale builds the scale plugin. It uses the single-function shape.
func NewScale(desc brick.Description) (any, error) {
	factor, err := floatParam(desc.Parameters, "factor", defaultFactor)
	if err != nil {
		return nil, err
	}
	return brick.Func(func(_ context.Context, _ *brick.Adapter, payload any) (any, error) {
		return scale(payload, factor)
	}), nil
}

func scale(payload any, factor float64) (any, error) {
	if m, ok := payload.(map[string]any); ok {
		v, ok := m["value"]
		if !ok {
			return nil, fmt.Errorf("scale: payload has no value field")
		}
		scaled, err := scale(v, factor)
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = v
		}
		out["value"] = scaled
		return out, nil
	}

	whole := factor == math.Trunc(factor)
	switch n := payload.(type) {
	case int:
		if whole {
			return n * int(factor), nil
		}
	case int64:
		if whole {
			return n * int64(factor), nil
		}
	case float64:
		return n * factor, nil
	}

	f, ok := toFloat(payload)
	if !ok {
		return nil, fmt.Errorf("scale: payload must be numeric, got %T", payload)
	}
	return f * factor, nil
}
