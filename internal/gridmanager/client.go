// Package gridmanager is the runner's client for the grid manager, the
// control plane that places runners and scales bricks.
//
// Every call is best effort from the runner's point of view: callers log
// failures and carry on.
package gridmanager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/brickrunner/internal/monitoring"
)

var (
	ErrCircuitOpen      = errors.New("circuit breaker is open")
	ErrTooManyRequests  = errors.New("too many requests")
	ErrUnexpectedStatus = errors.New("unexpected grid manager response")
	ErrRateLimited      = errors.New("slow queue alert rate limited")
)

// API paths relative to Config.Address.
const (
	RegisterPath   = "/runner/register"
	DeregisterPath = "/runner/deregister"
	SlowQueuePath  = "/scaling/slow-queue"
)

// Config configures the client.
type Config struct {
	Address  string
	Timeout  time.Duration
	Retries  int
	AlertRPS float64
	Breaker  BreakerSettings
}

// DefaultConfig returns the client defaults.
func DefaultConfig() Config {
	return Config{
		Address:  "http://localhost:8080/gridmanager",
		Timeout:  5 * time.Second,
		Retries:  2,
		AlertRPS: 1,
	}
}

// Registration announces a runner.
type Registration struct {
	RunnerID string `json:"runner_id"`
	Address  string `json:"address"`
	BrickUID string `json:"brick_uid"`
}

// Source is an upstream Output the runner should pull from.
type Source struct {
	Address string `json:"address"`
	Port    string `json:"port"`
}

type registerResponse struct {
	InputSources []Source `json:"input_sources"`
}

type deregistration struct {
	RunnerID string `json:"runner_id"`
	BrickUID string `json:"brick_uid"`
}

type slowQueueAlert struct {
	BrickID   string `json:"brick_id"`
	GroupName string `json:"group_name"`
}

type alertKey struct {
	brickID string
	group   string
}

// Client talks to the grid manager.
type Client struct {
	resty   *resty.Client
	breaker *Breaker
	logger  *zap.Logger
	metrics *monitoring.Metrics

	alertLimit rate.Limit
	alertBurst int
	limitersMu sync.Mutex
	limiters   map[alertKey]*rate.Limiter
}

// New creates a client.
func New(cfg Config, logger *zap.Logger, metrics *monitoring.Metrics) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil

	r := resty.New().
		SetBaseURL(strings.TrimRight(cfg.Address, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(100*time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || resp.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "brickrunner").
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal)
	r.SetTransport(retryClient.HTTPClient.Transport)

	limit := rate.Inf
	burst := 0
	if cfg.AlertRPS > 0 {
		limit = rate.Limit(cfg.AlertRPS)
		burst = max(1, int(cfg.AlertRPS))
	}

	settings := cfg.Breaker
	userHook := settings.OnStateChange
	settings.OnStateChange = func(from, to State) {
		logger.Warn("Grid manager circuit breaker changed state",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
		if userHook != nil {
			userHook(from, to)
		}
	}

	return &Client{
		resty:      r,
		breaker:    NewBreaker(settings),
		logger:     logger,
		metrics:    metrics,
		alertLimit: limit,
		alertBurst: burst,
		limiters:   make(map[alertKey]*rate.Limiter),
	}
}

// alertLimiter returns the limiter of one (brick, group) pair. Groups are
// few and live as long as the runner, so limiters are never evicted.
func (c *Client) alertLimiter(brickID, group string) *rate.Limiter {
	key := alertKey{brickID: brickID, group: group}

	c.limitersMu.Lock()
	defer c.limitersMu.Unlock()
	l, ok := c.limiters[key]
	if !ok {
		l = rate.NewLimiter(c.alertLimit, c.alertBurst)
		c.limiters[key] = l
	}
	return l
}

// BreakerState exposes the circuit breaker state.
func (c *Client) BreakerState() State {
	return c.breaker.State()
}

// RegisterRunner announces the runner and returns the sources it should
// connect its Input to.
func (c *Client) RegisterRunner(ctx context.Context, reg Registration) ([]Source, error) {
	var out registerResponse
	if err := c.post(ctx, "register", RegisterPath, reg, &out); err != nil {
		return nil, err
	}
	c.logger.Info("Registered with grid manager", zap.Int("input_sources", len(out.InputSources)))
	return out.InputSources, nil
}

// DeregisterRunner removes the runner.
func (c *Client) DeregisterRunner(ctx context.Context, runnerID, brickUID string) error {
	return c.post(ctx, "deregister", DeregisterPath, deregistration{RunnerID: runnerID, BrickUID: brickUID}, nil)
}

// SendSlowQueueAlert asks for more instances of brickID because the queue of
// group is not draining. Alerts are rate limited per brick and group.
func (c *Client) SendSlowQueueAlert(ctx context.Context, brickID, group string) error {
	if !c.alertLimiter(brickID, group).Allow() {
		c.metrics.RecordGridManagerCall("slow_queue", "limited", 0)
		return ErrRateLimited
	}
	return c.post(ctx, "slow_queue", SlowQueuePath, slowQueueAlert{BrickID: brickID, GroupName: group}, nil)
}

func (c *Client) post(ctx context.Context, method, path string, body, result any) error {
	timer := monitoring.NewTimer(c.metrics, method)

	err := c.breaker.Do(func() error {
		req := c.resty.R().SetContext(ctx).SetBody(body)
		if result != nil {
			req.SetResult(result)
		}
		resp, err := req.Post(path)
		if err != nil {
			return fmt.Errorf("grid manager %s failed: %w", method, err)
		}
		if resp.IsError() {
			return fmt.Errorf("%w: %s returned %d", ErrUnexpectedStatus, path, resp.StatusCode())
		}
		return nil
	})

	if err != nil {
		timer.Stop("error")
		return err
	}
	timer.Stop("ok")
	return nil
}
