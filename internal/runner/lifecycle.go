package runner

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/brickrunner/internal/brick"
	"github.com/GriffinCanCode/brickrunner/internal/gridmanager"
	"github.com/GriffinCanCode/brickrunner/internal/output"
	"github.com/GriffinCanCode/brickrunner/internal/packet"
)

const serverShutdownTimeout = 5 * time.Second

// Setup prepares the runner to process packets: it instantiates the brick,
// opens the listener, registers with the grid manager, connects to the
// sources it returns and declares the output targets. Inbound connections
// are held until Setup completes.
func (r *Runner) Setup(ctx context.Context) error {
	if !r.state.CompareAndSwap(int32(StateCreated), int32(StateSetup)) {
		return fmt.Errorf("runner already set up (state %s)", r.State())
	}
	r.logger.Info("Setting up runner")

	if err := r.brick.CreateInstance(); err != nil {
		return fmt.Errorf("create brick instance: %w", err)
	}
	if err := r.brick.Setup(ctx); err != nil {
		return fmt.Errorf("brick setup: %w", err)
	}
	if err := r.listen(); err != nil {
		return err
	}
	r.metrics.Start()

	for _, src := range r.register(ctx) {
		if err := r.input.AddSource(ctx, src.Address, src.Port); err != nil {
			r.logger.Warn("Failed to connect to source",
				zap.String("address", src.Address),
				zap.String("port", src.Port),
				zap.Error(err))
		}
	}

	var alert output.AlertFunc
	if r.control != nil {
		alert = r.control.SendSlowQueueAlert
	}
	r.output.AddTargets(r.targets, alert)

	r.setupDone.Set()
	if !r.state.CompareAndSwap(int32(StateSetup), int32(StateRunning)) {
		return nil
	}
	r.logger.Info("Runner ready",
		zap.String("address", r.address),
		zap.Int("sources", r.input.Sources()))
	return nil
}

func (r *Runner) listen() error {
	addr := net.JoinHostPort(r.cfg.Runner.Host, strconv.Itoa(r.cfg.Runner.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	if limit := r.cfg.Runner.MaxConnections; limit > 0 {
		ln = netutil.LimitListener(ln, limit)
	}
	r.listener = ln
	r.server = &http.Server{
		Handler:           r.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	host := r.cfg.Runner.AdvertiseHost
	if host == "" {
		host = r.cfg.Runner.Host
	}
	r.address = net.JoinHostPort(host, strconv.Itoa(port))
	return nil
}

// register announces the runner. A failing control plane is logged and the
// runner continues without upstream sources.
func (r *Runner) register(ctx context.Context) []gridmanager.Source {
	if r.control == nil {
		return nil
	}
	sources, err := r.control.RegisterRunner(ctx, gridmanager.Registration{
		RunnerID: r.id.String(),
		Address:  r.address,
		BrickUID: r.desc.UID,
	})
	if err != nil {
		r.logger.Error("Failed to register with grid manager", zap.Error(err))
		return nil
	}
	r.registered.Store(true)
	return sources
}

// Run sets the runner up and processes packets until shutdown. It returns the
// error that stopped processing, if any. Cancelling ctx shuts the runner down.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.done)
	defer r.setState(StateTerminated)

	stop := context.AfterFunc(ctx, r.Shutdown)
	defer stop()

	if err := r.Setup(ctx); err != nil {
		r.logger.Error("Runner setup failed", zap.Error(err))
		r.Shutdown()
		r.teardown()
		return err
	}

	g, gctx := errgroup.WithContext(r.ctx)
	g.Go(func() error { return r.serve() })
	g.Go(func() error { return r.fanOut(gctx) })
	g.Go(func() error {
		err := r.ProcessInput(gctx)
		r.Shutdown()
		return err
	})

	if r.desc.IsInlet {
		if err := r.input.Put(packet.New(nil)); err != nil {
			r.logger.Warn("Failed to queue inlet trigger", zap.Error(err))
		}
	} else if idle := r.desc.ExitAfterIdle(); idle > 0 {
		g.Go(func() error {
			r.ExitWhenIdle(gctx, idle)
			return nil
		})
	}

	err := g.Wait()
	r.teardown()
	if err != nil {
		r.logger.Error("Runner stopped with error", zap.Error(err))
		return err
	}
	r.logger.Info("Runner stopped")
	return nil
}

func (r *Runner) serve() error {
	err := r.server.Serve(r.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	r.Shutdown()
	return fmt.Errorf("serve: %w", err)
}

// fanOut hands every brick result to the Output.
func (r *Runner) fanOut(ctx context.Context) error {
	results := r.brick.Results()
	for {
		select {
		case res := <-results:
			r.output.Enqueue(res.Packet, res.Port)
			res.Ack()
		case <-ctx.Done():
			return nil
		}
	}
}

// ProcessInput feeds packets from the Input to the Brick until the Input is
// closed. A brick result that violates the routing contract stops processing
// and is returned.
func (r *Runner) ProcessInput(ctx context.Context) error {
	for {
		p, err := r.input.Get(ctx)
		if err != nil {
			if isClosing(err) {
				return nil
			}
			return err
		}

		err = r.brick.Process(ctx, p)
		r.input.Done()
		switch {
		case err == nil:
		case errors.Is(err, brick.ErrInvalidResult):
			return err
		case isClosing(err), errors.Is(err, brick.ErrTerminated):
			return nil
		default:
			r.logger.Warn("Packet processing failed", zap.String("packet_id", p.ID.String()), zap.Error(err))
		}
	}
}

// Shutdown stops the runner. It deregisters from the grid manager, stops
// accepting input, terminates the brick, closes the listener and the Output.
// Later calls return immediately.
func (r *Runner) Shutdown() {
	r.shutdownOnce.Do(func() {
		r.setState(StateShuttingDown)
		r.logger.Info("Shutting down runner")

		if r.control != nil && r.registered.Load() {
			ctx, cancel := context.WithTimeout(context.Background(), r.cfg.GridManager.Timeout)
			if err := r.control.DeregisterRunner(ctx, r.id.String(), r.desc.UID); err != nil {
				r.logger.Warn("Failed to deregister from grid manager", zap.Error(err))
			}
			cancel()
		}

		r.input.Close()
		r.brick.Terminate()

		if r.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
			if err := r.server.Shutdown(ctx); err != nil {
				r.logger.Warn("Server shutdown incomplete", zap.Error(err))
			}
			cancel()
		}

		r.output.Close()
		r.metrics.Stop()
		r.cancel()
	})
}

func (r *Runner) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	if err := r.brick.Teardown(ctx); err != nil {
		r.logger.Warn("Brick teardown failed", zap.Error(err))
	}
}
