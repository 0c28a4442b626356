package runner

import (
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// HandleSignals shuts the runner down on SIGINT or SIGTERM. The returned
// function stops listening for signals.
func (r *Runner) HandleSignals() (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := r.watchSignals(sigCh)
	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

func (r *Runner) watchSignals(sigCh <-chan os.Signal) chan struct{} {
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigCh:
			r.logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
			go r.Shutdown()
		case <-done:
		case <-r.done:
		}
	}()
	return done
}
