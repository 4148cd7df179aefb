// Package ownership resolves single-hop ownership exposure.
//
// The ownership graph itself lives outside this module. A Lookup returns
// the edges out of one subject; ResolveOwnershipMatches ties those edges to
// the restricted list. Lookups are decorated for production use (provider
// chains, per-batch memoization, Redis caching, rate limiting, timeouts)
// without changing the Lookup contract.
package ownership

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/Mindburn-Labs/exposure/pkg/resiliency"
	"github.com/Mindburn-Labs/exposure/pkg/screening"
)

// Ownership is the answer of a lookup for one subject.
type Ownership struct {
	Subject string                    `json:"subject"`
	Edges   []screening.OwnershipEdge `json:"edges"`
	// Source names the provider that answered.
	Source string `json:"source"`
	// Ceiling is the provider's confidence ceiling in (0,1].
	Ceiling float64 `json:"ceiling"`
}

// Lookup retrieves the ownership edges out of a subject.
type Lookup interface {
	Lookup(ctx context.Context, name string) (Ownership, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context, name string) (Ownership, error)

func (f LookupFunc) Lookup(ctx context.Context, name string) (Ownership, error) {
	return f(ctx, name)
}

// SiblingLister returns companies that share a parent with the subject.
type SiblingLister interface {
	Siblings(ctx context.Context, name string) ([]string, error)
}

// SiblingListerFunc adapts a function to SiblingLister.
type SiblingListerFunc func(ctx context.Context, name string) ([]string, error)

func (f SiblingListerFunc) Siblings(ctx context.Context, name string) ([]string, error) {
	return f(ctx, name)
}

// Kind classifies lookup failures.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindNotFound    Kind = "not_found"
	KindUnavailable Kind = "unavailable"
	KindRateLimited Kind = "rate_limited"
	KindCircuitOpen Kind = "circuit_open"
)

// LookupError is returned by every Lookup in this package.
type LookupError struct {
	Kind     Kind
	Provider string
	Name     string
	Err      error
}

func (e *LookupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ownership lookup %s for %q: %s: %v", e.Provider, e.Name, e.Kind, e.Err)
	}
	return fmt.Sprintf("ownership lookup %s for %q: %s", e.Provider, e.Name, e.Kind)
}

func (e *LookupError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the call later could succeed.
func (e *LookupError) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindUnavailable, KindRateLimited, KindCircuitOpen:
		return true
	}
	return false
}

// Classify wraps err into a LookupError, inferring the kind from well-known
// causes. An existing LookupError is returned unchanged.
func Classify(provider, name string, err error) *LookupError {
	if err == nil {
		return nil
	}
	var le *LookupError
	if errors.As(err, &le) {
		return le
	}
	kind := KindUnavailable
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	case errors.Is(err, resiliency.ErrOpen):
		kind = KindCircuitOpen
	}
	return &LookupError{Kind: kind, Provider: provider, Name: name, Err: err}
}

// IsNotFound reports whether err says the subject is unknown to the provider.
func IsNotFound(err error) bool {
	var le *LookupError
	return errors.As(err, &le) && le.Kind == KindNotFound
}

// ErrNotFound is the cause carried by not_found lookup errors.
var ErrNotFound = errors.New("subject not found")

// Waiter blocks until the caller may proceed. *rate.Limiter and RedisLimiter
// both satisfy it.
type Waiter interface {
	Wait(ctx context.Context) error
}

var _ Waiter = (*rate.Limiter)(nil)

// RateLimited gates every lookup on w.
func RateLimited(next Lookup, w Waiter) Lookup {
	return LookupFunc(func(ctx context.Context, name string) (Ownership, error) {
		if err := wait(ctx, w, name); err != nil {
			return Ownership{}, err
		}
		return next.Lookup(ctx, name)
	})
}

// RateLimitedSiblings gates every sibling listing on w. Share w with the
// lookup when both hit the same provider.
func RateLimitedSiblings(next SiblingLister, w Waiter) SiblingLister {
	return SiblingListerFunc(func(ctx context.Context, name string) ([]string, error) {
		if err := wait(ctx, w, name); err != nil {
			return nil, err
		}
		return next.Siblings(ctx, name)
	})
}

func wait(ctx context.Context, w Waiter, name string) error {
	if err := w.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return Classify("rate_limit", name, ctx.Err())
		}
		return &LookupError{Kind: KindRateLimited, Provider: "rate_limit", Name: name, Err: err}
	}
	return nil
}

// WithTimeout bounds every lookup to d. An expired deadline surfaces as a
// timeout LookupError.
func WithTimeout(next Lookup, d time.Duration) Lookup {
	if d <= 0 {
		return next
	}
	return LookupFunc(func(ctx context.Context, name string) (Ownership, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		o, err := next.Lookup(ctx, name)
		if err != nil {
			return Ownership{}, timedOut(ctx, name, err)
		}
		return o, nil
	})
}

// SiblingsWithTimeout bounds every sibling listing to d.
func SiblingsWithTimeout(next SiblingLister, d time.Duration) SiblingLister {
	if d <= 0 {
		return next
	}
	return SiblingListerFunc(func(ctx context.Context, name string) ([]string, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		sibs, err := next.Siblings(ctx, name)
		if err != nil {
			return nil, timedOut(ctx, name, err)
		}
		return sibs, nil
	})
}

func timedOut(ctx context.Context, name string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &LookupError{Kind: KindTimeout, Provider: "timeout", Name: name, Err: err}
	}
	return err
}
