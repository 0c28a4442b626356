package transport

import (
	"context"
	"sync"

	"github.com/GriffinCanCode/brickrunner/internal/protocol"
)

// pipeConn is one end of an in-process connection. Frames are encoded and
// decoded on the way through so both ends see exactly what a network peer
// would.
type pipeConn struct {
	codec *protocol.Codec
	name  string

	in  <-chan []byte
	out chan<- []byte

	closed     chan struct{}
	peerClosed <-chan struct{}
	closeOnce  sync.Once
}

// Pipe returns two connected in-process ends. Used to wire runners living in
// the same process and in tests.
func Pipe(codec *protocol.Codec) (Conn, Conn) {
	ab := make(chan []byte)
	ba := make(chan []byte)
	aClosed := make(chan struct{})
	bClosed := make(chan struct{})

	a := &pipeConn{codec: codec, name: "pipe:a", in: ba, out: ab, closed: aClosed, peerClosed: bClosed}
	b := &pipeConn{codec: codec, name: "pipe:b", in: ab, out: ba, closed: bClosed, peerClosed: aClosed}
	return a, b
}

func (p *pipeConn) Send(ctx context.Context, msg protocol.Message) error {
	frame, err := p.codec.Encode(msg)
	if err != nil {
		return err
	}

	select {
	case <-p.closed:
		return ErrClosed
	case <-p.peerClosed:
		return ErrClosed
	default:
	}

	select {
	case p.out <- frame:
		return nil
	case <-p.closed:
		return ErrClosed
	case <-p.peerClosed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeConn) Receive(ctx context.Context) (protocol.Message, error) {
	select {
	case frame := <-p.in:
		msg, err := p.codec.Decode(frame)
		if err != nil {
			return nil, err
		}
		if msg.Type() == protocol.TypeEndOfStream {
			return nil, ErrClosed
		}
		return msg, nil
	case <-p.closed:
		return nil, ErrClosed
	case <-p.peerClosed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeConn) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func (p *pipeConn) RemoteAddr() string {
	return p.name
}
