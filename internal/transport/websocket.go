package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/GriffinCanCode/brickrunner/internal/protocol"
)

const closeGracePeriod = time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // peers are runners, not browsers
	},
}

// wsConn is a Conn over a websocket. Each protocol frame is one binary
// websocket message. Cancelling the ctx of a blocked Send or Receive closes
// the connection.
type wsConn struct {
	ws     *websocket.Conn
	codec  *protocol.Codec
	remote string

	writeMu   sync.Mutex
	readMu    sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// Dial connects to the runner listening on address (host:port).
func Dial(ctx context.Context, address string, codec *protocol.Codec) (Conn, error) {
	u := url.URL{Scheme: "ws", Host: address, Path: ConnectPath}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", address, err)
	}
	return newWSConn(ws, codec), nil
}

// Dialer returns a DialFunc bound to codec.
func Dialer(codec *protocol.Codec) DialFunc {
	return func(ctx context.Context, address string) (Conn, error) {
		return Dial(ctx, address, codec)
	}
}

// Upgrade accepts a peer connection on an HTTP request.
func Upgrade(w http.ResponseWriter, r *http.Request, codec *protocol.Codec) (Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade failed: %w", err)
	}
	return newWSConn(ws, codec), nil
}

func newWSConn(ws *websocket.Conn, codec *protocol.Codec) *wsConn {
	if limit := codec.MaxFrameSize(); limit > 0 {
		ws.SetReadLimit(limit)
	}
	return &wsConn{
		ws:     ws,
		codec:  codec,
		remote: ws.RemoteAddr().String(),
	}
}

func (c *wsConn) Send(ctx context.Context, msg protocol.Message) error {
	frame, err := c.codec.Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	if deadline, ok := ctx.Deadline(); ok {
		c.ws.SetWriteDeadline(deadline)
	} else {
		c.ws.SetWriteDeadline(time.Time{})
	}

	if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

func (c *wsConn) Receive(ctx context.Context) (protocol.Message, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: %v", ErrClosed, err)
		}
		if kind != websocket.BinaryMessage {
			continue
		}

		msg, err := c.codec.Decode(data)
		if err != nil {
			return nil, err
		}
		if msg.Type() == protocol.TypeEndOfStream {
			return nil, ErrClosed
		}
		return msg, nil
	}
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		err := c.ws.Close()
		if err != nil && !errors.Is(err, net.ErrClosed) {
			c.closeErr = err
		}
	})
	return c.closeErr
}

func (c *wsConn) RemoteAddr() string {
	return c.remote
}
