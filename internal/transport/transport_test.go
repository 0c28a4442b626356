package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/brickrunner/internal/protocol"
)

func TestPipeExchange(t *testing.T) {
	a, b := Pipe(protocol.NewCodec(0))
	ctx := context.Background()

	go func() {
		_ = a.Send(ctx, protocol.ConsumerRegistration{BrickInstanceID: "i1", Port: "out"})
	}()

	msg, err := b.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.ConsumerRegistration{BrickInstanceID: "i1", Port: "out"}, msg)
}

func TestPipeCloseEndsPeer(t *testing.T) {
	a, b := Pipe(protocol.NewCodec(0))
	ctx := context.Background()

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	_, err := b.Receive(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, b.Send(ctx, protocol.PacketRequest{BatchSize: 1}), ErrClosed)
}

func TestPipeEndOfStream(t *testing.T) {
	a, b := Pipe(protocol.NewCodec(0))
	go func() { _ = a.Send(context.Background(), protocol.EndOfStream{}) }()

	_, err := b.Receive(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPipeReceiveHonoursContext(t *testing.T) {
	_, b := Pipe(protocol.NewCodec(0))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWebsocketRoundTrip(t *testing.T) {
	codec := protocol.NewCodec(protocol.DefaultCompressThreshold)
	serverGot := make(chan protocol.Message, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(ConnectPath, func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrade(w, r, codec)
		if err != nil {
			return
		}
		defer conn.Close()

		msg, err := conn.Receive(r.Context())
		if err != nil {
			return
		}
		serverGot <- msg
		_ = conn.Send(r.Context(), protocol.PacketFrame{ID: "pkt_1", Payload: "hello", Port: "out"})
		_ = conn.Send(r.Context(), protocol.EndOfStream{})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, strings.TrimPrefix(srv.URL, "http://"), codec)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Send(ctx, protocol.PacketRequest{BatchSize: 3}))
	assert.Equal(t, protocol.PacketRequest{BatchSize: 3}, <-serverGot)

	msg, err := conn.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.(protocol.PacketFrame).Payload)

	_, err = conn.Receive(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := Dial(ctx, "127.0.0.1:1", protocol.NewCodec(0))
	assert.Error(t, err)
}
