// Package transport carries protocol frames over persistent, bidirectional
// connections between runners.
package transport

import (
	"context"
	"errors"

	"github.com/GriffinCanCode/brickrunner/internal/protocol"
)

// ConnectPath is the HTTP path on which runners accept peer connections.
const ConnectPath = "/connect"

// ErrClosed reports that the peer went away or sent EndOfStream. For a pull
// loop this is a normal end, not a failure.
var ErrClosed = errors.New("connection closed")

// Conn is a framed message connection.
type Conn interface {
	// Send writes one message.
	Send(ctx context.Context, msg protocol.Message) error
	// Receive blocks for the next message. It returns ErrClosed on disconnect
	// or EndOfStream.
	Receive(ctx context.Context) (protocol.Message, error)
	// Close releases the connection. Safe to call more than once.
	Close() error
	// RemoteAddr describes the peer for logs.
	RemoteAddr() string
}

// DialFunc opens a connection to a runner's Output.
type DialFunc func(ctx context.Context, address string) (Conn, error)
