package runner

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/brickrunner/internal/logging"
	"github.com/GriffinCanCode/brickrunner/internal/middleware"
	"github.com/GriffinCanCode/brickrunner/internal/protocol"
	"github.com/GriffinCanCode/brickrunner/internal/transport"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	RunnerID string `json:"runner_id"`
	BrickUID string `json:"brick_uid"`
	State    string `json:"state"`
	Address  string `json:"address"`
	Sources  int    `json:"sources"`
	Pending  int    `json:"pending"`
}

func (r *Runner) router() *gin.Engine {
	if !r.cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logging.ForComponent(r.logger, "http")))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))

	router.GET(transport.ConnectPath, r.handleConnect)

	ops := router.Group("/", middleware.RateLimit(middleware.DefaultRateLimitConfig()))
	ops.GET("/health", r.handleHealth)
	ops.GET("/metrics", gin.WrapH(r.metrics.Handler()))
	return router
}

func (r *Runner) handleConnect(c *gin.Context) {
	conn, err := transport.Upgrade(c.Writer, c.Request, r.codec)
	if err != nil {
		r.logger.Warn("Websocket upgrade failed", zap.String("remote", c.Request.RemoteAddr), zap.Error(err))
		return
	}
	if err := r.HandleIncomingConnection(r.ctx, conn); err != nil && !isClosing(err) {
		r.logger.Warn("Connection ended with error", zap.String("remote", conn.RemoteAddr()), zap.Error(err))
	}
}

func (r *Runner) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		RunnerID: r.id.String(),
		BrickUID: r.desc.UID,
		State:    r.State().String(),
		Address:  r.address,
		Sources:  r.input.Sources(),
		Pending:  r.output.Pending(),
	})
}

// HandleIncomingConnection dispatches a new connection on its first message.
// A SourceAnnouncement connects the Input to another runner's Output; a
// ConsumerRegistration attaches the peer to this runner's Output and blocks
// while it is served. Messages are not read before Setup has completed.
func (r *Runner) HandleIncomingConnection(ctx context.Context, conn transport.Conn) error {
	if err := r.setupDone.Wait(ctx); err != nil {
		conn.Close()
		return err
	}

	msg, err := conn.Receive(ctx)
	if err != nil {
		conn.Close()
		return fmt.Errorf("read handshake: %w", err)
	}

	switch m := msg.(type) {
	case protocol.SourceAnnouncement:
		conn.Close()
		r.logger.Info("Source announced", zap.String("address", m.Address), zap.String("port", m.Port))
		return r.input.AddSource(ctx, m.Address, m.Port)
	case protocol.ConsumerRegistration:
		return r.output.AddConsumer(ctx, m, conn)
	default:
		conn.Close()
		return fmt.Errorf("unexpected handshake message %s", msg.Type())
	}
}
