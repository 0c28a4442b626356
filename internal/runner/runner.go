// Package runner hosts one brick: it pulls packets from upstream runners into
// the Input, runs them through the Brick and fans the results out to
// downstream runners through the Output.
//
// Lifecycle:
//
//	created -> setup -> running -> shutting_down -> terminated
//
// Setup registers with the grid manager, connects the Input to the sources
// it returns, declares the output targets and opens the listener on which
// downstream runners connect. Shutdown runs exactly once, whoever triggers it
// (end of input, idle timeout, signal or a fatal brick error).
package runner

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/brickrunner/internal/brick"
	"github.com/GriffinCanCode/brickrunner/internal/bricks"
	"github.com/GriffinCanCode/brickrunner/internal/config"
	"github.com/GriffinCanCode/brickrunner/internal/gridmanager"
	"github.com/GriffinCanCode/brickrunner/internal/input"
	"github.com/GriffinCanCode/brickrunner/internal/logging"
	"github.com/GriffinCanCode/brickrunner/internal/monitoring"
	"github.com/GriffinCanCode/brickrunner/internal/output"
	"github.com/GriffinCanCode/brickrunner/internal/protocol"
	"github.com/GriffinCanCode/brickrunner/internal/queue"
	"github.com/GriffinCanCode/brickrunner/internal/shared/id"
	"github.com/GriffinCanCode/brickrunner/internal/transport"
)

// ControlPlane is the part of the grid manager API a runner uses.
type ControlPlane interface {
	RegisterRunner(ctx context.Context, reg gridmanager.Registration) ([]gridmanager.Source, error)
	DeregisterRunner(ctx context.Context, runnerID, brickUID string) error
	SendSlowQueueAlert(ctx context.Context, brickID, group string) error
}

var _ ControlPlane = (*gridmanager.Client)(nil)

// Options configures a Runner.
type Options struct {
	Config            *config.Config
	Brick             brick.Description
	OutputConnections map[string][]output.Target
	// Registry resolves the brick module. Defaults to the built-in bricks.
	Registry *brick.Registry
	// ControlPlane defaults to a grid manager client when enabled in Config.
	ControlPlane ControlPlane
	Logger       *zap.Logger
	Metrics      *monitoring.Metrics
	// Dial opens connections to upstream runners. Defaults to websockets.
	Dial transport.DialFunc
}

// Runner orchestrates Input, Brick and Output.
type Runner struct {
	id      id.RunnerID
	cfg     *config.Config
	desc    brick.Description
	targets map[string][]output.Target
	logger  *zap.Logger
	metrics *monitoring.Metrics
	codec   *protocol.Codec
	control ControlPlane

	brick  *brick.Brick
	input  *input.Input
	output *output.Output

	listener net.Listener
	server   *http.Server
	address  string

	state      atomic.Int32
	setupDone  *queue.Event
	registered atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	shutdownOnce sync.Once
	done         chan struct{}
}

// New builds a runner and its components. Nothing is started.
func New(opts Options) (*Runner, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	desc := opts.Brick.WithDefaults()
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}
	registry := opts.Registry
	if registry == nil {
		registry = bricks.NewRegistry()
	}

	runnerID := id.NewRunnerID()
	logger = logging.ForBrick(logger, desc.UID, desc.Name, desc.BrickFamily, runnerID.String())

	control := opts.ControlPlane
	if control == nil && cfg.GridManager.Enabled {
		control = gridmanager.New(cfg.GridManagerClient(), logging.ForComponent(logger, "gridmanager"), metrics)
	}

	codec := protocol.NewCodec(cfg.Protocol.CompressThreshold)
	dial := opts.Dial
	if dial == nil {
		dial = transport.Dialer(codec)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		id:        runnerID,
		cfg:       cfg,
		desc:      desc,
		targets:   opts.OutputConnections,
		logger:    logger,
		metrics:   metrics,
		codec:     codec,
		control:   control,
		setupDone: queue.NewEvent(false),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	r.brick = brick.New(desc, registry, metrics, logging.ForComponent(logger, "brick"))
	r.input = input.New(input.Options{
		BrickInstanceID: runnerID.String(),
		Group:           desc.UID,
		LowWatermark:    cfg.Input.LowWatermark,
		BatchSize:       cfg.Input.BatchSize,
		Dial:            dial,
		Codec:           codec,
		Logger:          logging.ForComponent(logger, "input"),
		Metrics:         metrics,
	})
	r.output = output.New(output.Options{
		NewPolicy:    output.GrowthPolicyFactory(cfg.Growth()),
		AlertTimeout: cfg.GridManager.Timeout,
		Logger:       logging.ForComponent(logger, "output"),
		Metrics:      metrics,
	})
	return r, nil
}

// ID is the runner's instance id.
func (r *Runner) ID() id.RunnerID { return r.id }

// State returns the lifecycle state.
func (r *Runner) State() State { return State(r.state.Load()) }

// Address is where other runners reach this one. Empty before Setup.
func (r *Runner) Address() string { return r.address }

// Done is closed once Run has returned.
func (r *Runner) Done() <-chan struct{} { return r.done }

func (r *Runner) setState(s State) {
	r.state.Store(int32(s))
	r.logger.Debug("Runner state changed", zap.Stringer("state", s))
}

// isClosing reports errors that mean the runner is going away.
func isClosing(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, input.ErrClosed)
}
