package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/bulkhead"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/timeout"
	"github.com/go-resty/resty/v2"

	"github.com/affiliatedkat/sourcify/protocol"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

// ErrUnexpectedStatus is returned when a gateway answers with a non-2xx status.
var ErrUnexpectedStatus = errors.New("unexpected gateway status")

// ResilienceConfig contains configuration for the policies applied to every gateway request.
type ResilienceConfig struct {
	// Timeout for a single retrieval attempt (default: 30s)
	RequestTimeout time.Duration
	// Maximum concurrent requests across all gateways (default: 16)
	MaxConcurrentRequests uint

	// Circuit breaker configuration, one breaker per gateway
	FailureThreshold    uint          // Failures before opening (default: 5)
	SuccessThreshold    uint          // Successes in half-open state to close (default: 1)
	CircuitBreakerDelay time.Duration // Time spent open before half-open (default: 30s)

	// Responses larger than this are rejected (default: 16 MiB)
	MaxResponseBytes int
}

// DefaultResilienceConfig returns a configuration with sensible defaults.
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		RequestTimeout:        30 * time.Second,
		MaxConcurrentRequests: 16,
		FailureThreshold:      5,
		SuccessThreshold:      1,
		CircuitBreakerDelay:   30 * time.Second,
		MaxResponseBytes:      16 << 20,
	}
}

// Client retrieves content from the gateway registered for each origin.
// Each gateway gets its own circuit breaker so a dead gateway does not affect the others.
type Client struct {
	registry  *Registry
	http      *resty.Client
	lggr      logger.Logger
	executors map[string]failsafe.Executor[[]byte]
	breakers  map[string]circuitbreaker.CircuitBreaker[[]byte]
}

// NewClient creates a gateway client over the registry's gateways.
func NewClient(registry *Registry, lggr logger.Logger, cfg ResilienceConfig) *Client {
	lggr = logger.With(lggr, "component", "GatewayClient")

	httpClient := resty.New().
		SetTimeout(cfg.RequestTimeout).
		SetHeader("Accept", "*/*")
	if cfg.MaxResponseBytes > 0 {
		httpClient.SetResponseBodyLimit(cfg.MaxResponseBytes)
	}

	// Order matters: outermost to innermost
	// Bulkhead -> CircuitBreaker -> Timeout
	bh := createBulkhead(cfg, lggr)
	to := createTimeoutPolicy(cfg, lggr)

	c := &Client{
		registry:  registry,
		http:      httpClient,
		lggr:      lggr,
		executors: make(map[string]failsafe.Executor[[]byte]),
		breakers:  make(map[string]circuitbreaker.CircuitBreaker[[]byte]),
	}
	for _, gw := range registry.Gateways() {
		base := gw.BaseURL()
		if _, ok := c.executors[base]; ok {
			continue
		}
		cb := createCircuitBreaker(cfg, logger.With(lggr, "gateway", base))
		c.breakers[base] = cb
		c.executors[base] = failsafe.With[[]byte](bh, cb, to)
	}
	return c
}

// Fetch retrieves the raw content for addr. Any transport error, timeout,
// open circuit or non-2xx response is returned as an error.
func (c *Client) Fetch(ctx context.Context, addr protocol.SourceAddress) ([]byte, error) {
	gw, err := c.registry.Lookup(addr.Origin)
	if err != nil {
		return nil, err
	}
	url := gw.CreateURL(addr.ID)

	executor, ok := c.executors[gw.BaseURL()]
	if !ok {
		return c.get(ctx, url)
	}
	body, err := executor.WithContext(ctx).GetWithExecution(func(exec failsafe.Execution[[]byte]) ([]byte, error) {
		return c.get(exec.Context(), url)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", addr.Key(), err)
	}
	return body, nil
}

// CircuitBreakerState returns the state of the breaker guarding the gateway with baseURL.
func (c *Client) CircuitBreakerState(baseURL string) (circuitbreaker.State, bool) {
	cb, ok := c.breakers[baseURL]
	if !ok {
		return circuitbreaker.ClosedState, false
	}
	return cb.State(), true
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: %s returned %d", ErrUnexpectedStatus, url, resp.StatusCode())
	}
	return resp.Body(), nil
}

func createCircuitBreaker(cfg ResilienceConfig, lggr logger.Logger) circuitbreaker.CircuitBreaker[[]byte] {
	return circuitbreaker.NewBuilder[[]byte]().
		HandleIf(func(_ []byte, err error) bool {
			// Caller cancellation says nothing about gateway health.
			return err != nil && !errors.Is(err, context.Canceled)
		}).
		WithDelay(cfg.CircuitBreakerDelay).
		WithFailureThreshold(cfg.FailureThreshold).
		WithSuccessThreshold(cfg.SuccessThreshold).
		OnOpen(func(event circuitbreaker.StateChangedEvent) {
			lggr.Warnw("Circuit breaker opened", "failures", cfg.FailureThreshold)
		}).
		OnHalfOpen(func(event circuitbreaker.StateChangedEvent) {
			lggr.Info("Circuit breaker entering half-open state, attempting recovery")
		}).
		OnClose(func(event circuitbreaker.StateChangedEvent) {
			lggr.Infow("Circuit breaker closed", "successes", cfg.SuccessThreshold)
		}).
		Build()
}

func createTimeoutPolicy(cfg ResilienceConfig, lggr logger.Logger) timeout.Timeout[[]byte] {
	return timeout.NewBuilder[[]byte](cfg.RequestTimeout).
		OnTimeoutExceeded(func(event failsafe.ExecutionDoneEvent[[]byte]) {
			lggr.Debugw("Gateway request timeout exceeded", "timeout", cfg.RequestTimeout)
		}).
		Build()
}

func createBulkhead(cfg ResilienceConfig, lggr logger.Logger) bulkhead.Bulkhead[[]byte] {
	return bulkhead.NewBuilder[[]byte](cfg.MaxConcurrentRequests).
		WithMaxWaitTime(cfg.RequestTimeout).
		OnFull(func(event failsafe.ExecutionEvent[[]byte]) {
			lggr.Warnw("Gateway bulkhead is full", "max_concurrent_requests", cfg.MaxConcurrentRequests)
		}).
		Build()
}
