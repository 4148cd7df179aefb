package resiliency

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// EnhancedClient wraps http.Client with resilience patterns:
// - Exponential Backoff & Jitter
// - Circuit Breaking
// - Trace context propagation
type EnhancedClient struct {
	client      *http.Client
	maxRetries  int
	baseBackoff time.Duration
	breaker     *CircuitBreaker
}

// ClientOption configures an EnhancedClient.
type ClientOption func(*EnhancedClient)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(e *EnhancedClient) { e.client = c }
}

func WithMaxRetries(n int) ClientOption {
	return func(e *EnhancedClient) { e.maxRetries = n }
}

func WithBackoff(base time.Duration) ClientOption {
	return func(e *EnhancedClient) { e.baseBackoff = base }
}

func WithBreaker(cb *CircuitBreaker) ClientOption {
	return func(e *EnhancedClient) { e.breaker = cb }
}

func NewEnhancedClient(opts ...ClientOption) *EnhancedClient {
	c := &EnhancedClient{
		client:      &http.Client{Timeout: 30 * time.Second},
		maxRetries:  3,
		baseBackoff: 100 * time.Millisecond,
		breaker:     NewCircuitBreaker("default", 5, 10*time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Breaker exposes the client's circuit breaker.
func (c *EnhancedClient) Breaker() *CircuitBreaker { return c.breaker }

// Do executes an HTTP request with resiliency patterns. Only transport
// errors and 5xx responses are retried; the request must have no body or a
// replayable one (GetBody set).
func (c *EnhancedClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	if !c.breaker.Allow() {
		return nil, fmt.Errorf("%s: %w", c.breaker.name, ErrOpen)
	}

	var resp *http.Response
	var err error

	for i := 0; i <= c.maxRetries; i++ {
		if i > 0 && req.GetBody != nil {
			body, berr := req.GetBody()
			if berr != nil {
				return nil, berr
			}
			req.Body = body
		}
		resp, err = c.client.Do(req)

		if err == nil && resp.StatusCode < 500 {
			c.breaker.Success()
			return resp, nil
		}
		if i == c.maxRetries || ctx.Err() != nil {
			break
		}
		if resp != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
		if serr := sleep(ctx, c.backoff(i)); serr != nil {
			err = serr
			resp = nil
			break
		}
	}

	c.breaker.Failure()
	return resp, err
}

// backoff is base * 2^i + jitter.
func (c *EnhancedClient) backoff(i int) time.Duration {
	d := time.Duration(math.Pow(2, float64(i))) * c.baseBackoff
	if n, err := rand.Int(rand.Reader, big.NewInt(50)); err == nil {
		d += time.Duration(n.Int64()) * time.Millisecond
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
