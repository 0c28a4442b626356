package brick

import (
	"context"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/brickrunner/internal/packet"
)

// Adapter is the plugin's view of the runner: its parameters, its logger and
// a sink for packets it produces on its own.
type Adapter struct {
	desc       Description
	logger     *zap.Logger
	publish    func(ctx context.Context, p *packet.Packet, port string) error
	terminated <-chan struct{}
}

// Parameters returns the brick parameters from the description.
func (a *Adapter) Parameters() map[string]any {
	return a.desc.Parameters
}

// Param returns one parameter.
func (a *Adapter) Param(key string) (any, bool) {
	v, ok := a.desc.Parameters[key]
	return v, ok
}

// DefaultPort is where bare results are routed.
func (a *Adapter) DefaultPort() string {
	return a.desc.DefaultPort
}

// Description returns the brick description.
func (a *Adapter) Description() Description {
	return a.desc
}

// Logger is bound to the brick's identity.
func (a *Adapter) Logger() *zap.Logger {
	return a.logger
}

// Emit sends a new packet to port (default port when empty). It blocks until
// the packet has been taken over by the Output.
func (a *Adapter) Emit(ctx context.Context, payload any, port string) error {
	if port == "" {
		port = a.desc.DefaultPort
	}
	return a.publish(ctx, packet.New(payload), port)
}

// Terminated is closed when the runner asked the brick to stop.
func (a *Adapter) Terminated() <-chan struct{} {
	return a.terminated
}
