package bricks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/GriffinCanCode/brickrunner/internal/brick"
)

var (
	// ErrNoProcessFunction is returned when a script does not define process.
	ErrNoProcessFunction = errors.New("script does not define a process function")
	// ErrNotScript is returned when a module file does not hold text.
	ErrNotScript = errors.New("module file is not a text script")
)

// Script runs a JavaScript plugin on a goja VM. The VM is not safe for
// concurrent use, so every call holds mu.
type Script struct {
	path    string
	vm      *goja.Runtime
	mu      sync.Mutex
	timeout time.Duration
	tuples  bool
	params  map[string]any
	logger  *zap.Logger

	process  goja.Callable
	setup    goja.Callable
	teardown goja.Callable
}

// LoadScript is the loader for ".js" modules.
func LoadScript(desc brick.Description) (any, error) {
	src, err := os.ReadFile(desc.Module)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	if mt := mimetype.Detect(src); !isText(mt) {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotScript, desc.Module, mt.String())
	}
	s, err := NewScript(desc.Module, string(src), desc.Parameters)
	if err != nil {
		return nil, err
	}
	return s.Module(), nil
}

func isText(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// NewScript compiles src. Parameters recognised by the host itself are
// timeout_ms (per call, 0 = none) and tuple_results.
func NewScript(name, src string, params map[string]any) (*Script, error) {
	timeoutMS, err := intParam(params, "timeout_ms", 0)
	if err != nil {
		return nil, err
	}

	s := &Script{
		path:    name,
		vm:      goja.New(),
		timeout: time.Duration(timeoutMS) * time.Millisecond,
		tuples:  boolParam(params, "tuple_results"),
		params:  params,
		logger:  zap.NewNop(),
	}
	s.vm.SetMaxCallStackSize(1024)
	s.setupGlobals()

	if _, err := s.vm.RunScript(name, src); err != nil {
		return nil, fmt.Errorf("failed to evaluate script %s: %w", name, err)
	}

	var ok bool
	if s.process, ok = goja.AssertFunction(s.vm.Get("process")); !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoProcessFunction, name)
	}
	s.setup, _ = goja.AssertFunction(s.vm.Get("setup"))
	s.teardown, _ = goja.AssertFunction(s.vm.Get("teardown"))
	return s, nil
}

// Module exposes the script in the single-function plugin shape.
func (s *Script) Module() brick.Module {
	return brick.Module{
		Process:  s.Process,
		Setup:    s.Setup,
		Teardown: s.Teardown,
	}
}

// Setup calls setup(params) if the script defines it.
func (s *Script) Setup(ctx context.Context, a *brick.Adapter) error {
	s.mu.Lock()
	if a != nil {
		s.logger = a.Logger()
	}
	s.mu.Unlock()

	if s.setup == nil {
		return nil
	}
	_, err := s.call(ctx, s.setup, s.params)
	return err
}

// Process calls process(payload, params).
func (s *Script) Process(ctx context.Context, _ *brick.Adapter, payload any) (any, error) {
	v, err := s.call(ctx, s.process, payload, s.params)
	if err != nil {
		return nil, err
	}
	return s.export(v), nil
}

// Teardown calls teardown() if the script defines it.
func (s *Script) Teardown(ctx context.Context) error {
	if s.teardown == nil {
		return nil
	}
	_, err := s.call(ctx, s.teardown)
	return err
}

func (s *Script) call(ctx context.Context, fn goja.Callable, args ...any) (goja.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	values := make([]goja.Value, len(args))
	for i, arg := range args {
		values[i] = s.vm.ToValue(arg)
	}

	finished := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			s.vm.Interrupt(ctx.Err())
		case <-finished:
		}
	}()

	v, err := fn(goja.Undefined(), values...)
	close(finished)
	<-exited
	s.vm.ClearInterrupt()

	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, fmt.Errorf("script %s interrupted: %v", s.path, interrupted.Value())
		}
		return nil, fmt.Errorf("script %s failed: %w", s.path, err)
	}
	return v, nil
}

// export converts a script result. With tuple_results set, a two element
// array whose second element is a string is read as [value, port].
func (s *Script) export(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	out := v.Export()
	if !s.tuples {
		return out
	}
	if arr, ok := out.([]any); ok && len(arr) == 2 {
		if port, ok := arr[1].(string); ok {
			return brick.Tuple{arr[0], port}
		}
	}
	return out
}

func (s *Script) setupGlobals() {
	s.vm.Set("require", goja.Undefined())
	s.vm.Set("module", goja.Undefined())
	s.vm.Set("exports", goja.Undefined())

	console := s.vm.NewObject()
	console.Set("log", s.consoleFunc(zap.InfoLevel))
	console.Set("info", s.consoleFunc(zap.InfoLevel))
	console.Set("warn", s.consoleFunc(zap.WarnLevel))
	console.Set("error", s.consoleFunc(zap.ErrorLevel))
	s.vm.Set("console", console)
}

func (s *Script) consoleFunc(level zapcore.Level) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		if ce := s.logger.Check(level, strings.Join(parts, " ")); ce != nil {
			ce.Write(zap.String("script", s.path))
		}
		return goja.Undefined()
	}
}
