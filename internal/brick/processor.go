package brick

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidResult is a plugin contract violation.
	ErrInvalidResult = errors.New("invalid brick result")
	// ErrUnsupportedPlugin is returned when a factory yields neither shape.
	ErrUnsupportedPlugin = errors.New("unsupported plugin shape")
)

// Processor is the capability every plugin is run through.
type Processor interface {
	Setup(ctx context.Context, a *Adapter) error
	Process(ctx context.Context, a *Adapter, payload any) (any, error)
	Teardown(ctx context.Context) error
}

// Stopper is implemented by plugins that keep producing on their own
// (inlets) and must be told to stop.
type Stopper interface {
	Stop()
}

// Func is the legacy single-function plugin shape.
type Func func(ctx context.Context, a *Adapter, payload any) (any, error)

// Module is a legacy plugin made of loose functions. Only Process is required.
type Module struct {
	Process  Func
	Setup    func(ctx context.Context, a *Adapter) error
	Teardown func(ctx context.Context) error
	Stop     func()
}

// Tuple is an explicitly routed result: Tuple{value, port}.
type Tuple []any

// To routes value to port.
func To(port string, value any) Tuple {
	return Tuple{value, port}
}

// Lift turns any supported plugin shape into a Processor.
func Lift(plugin any) (Processor, error) {
	switch p := plugin.(type) {
	case Processor:
		return p, nil
	case Func:
		return &moduleProcessor{m: Module{Process: p}}, nil
	case func(context.Context, *Adapter, any) (any, error):
		return &moduleProcessor{m: Module{Process: p}}, nil
	case Module:
		return liftModule(p)
	case *Module:
		if p == nil {
			return nil, ErrUnsupportedPlugin
		}
		return liftModule(*p)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedPlugin, plugin)
	}
}

func liftModule(m Module) (Processor, error) {
	if m.Process == nil {
		return nil, fmt.Errorf("%w: module without process function", ErrUnsupportedPlugin)
	}
	return &moduleProcessor{m: m}, nil
}

// moduleProcessor adapts a legacy Module to Processor and Stopper.
type moduleProcessor struct {
	m Module
}

func (p *moduleProcessor) Setup(ctx context.Context, a *Adapter) error {
	if p.m.Setup == nil {
		return nil
	}
	return p.m.Setup(ctx, a)
}

func (p *moduleProcessor) Process(ctx context.Context, a *Adapter, payload any) (any, error) {
	return p.m.Process(ctx, a, payload)
}

func (p *moduleProcessor) Teardown(ctx context.Context) error {
	if p.m.Teardown == nil {
		return nil
	}
	return p.m.Teardown(ctx)
}

func (p *moduleProcessor) Stop() {
	if p.m.Stop != nil {
		p.m.Stop()
	}
}

// route normalizes a plugin result. ok is false when there is nothing to emit.
func route(result any, defaultPort string) (payload any, port string, ok bool, err error) {
	switch r := result.(type) {
	case nil:
		return nil, "", false, nil
	case Tuple:
		if len(r) != 2 {
			return nil, "", false, fmt.Errorf("%w: tuple of length %d", ErrInvalidResult, len(r))
		}
		port, isString := r[1].(string)
		if !isString || port == "" {
			return nil, "", false, fmt.Errorf("%w: port must be a non-empty string, got %T", ErrInvalidResult, r[1])
		}
		return r[0], port, true, nil
	default:
		return result, defaultPort, true, nil
	}
}
