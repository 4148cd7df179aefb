package ownership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Provider is one step of a fallback chain.
type Provider struct {
	Name    string
	Lookup  Lookup
	Ceiling float64
}

// Chain tries providers in order; the first success wins. The answer's
// ceiling is the lower of the provider's and the one the lookup reported.
type Chain struct {
	providers []Provider
	logger    *slog.Logger
}

func NewChain(providers ...Provider) *Chain {
	return &Chain{
		providers: providers,
		logger:    slog.Default().With("component", "ownership_chain"),
	}
}

// WithLogger replaces the chain's logger.
func (c *Chain) WithLogger(l *slog.Logger) *Chain {
	c.logger = l
	return c
}

// Lookup implements Lookup. When every provider fails the error is not_found
// if all of them reported not_found, unavailable otherwise.
func (c *Chain) Lookup(ctx context.Context, name string) (Ownership, error) {
	if len(c.providers) == 0 {
		return Ownership{}, &LookupError{Kind: KindUnavailable, Provider: "chain", Name: name, Err: errors.New("no providers configured")}
	}

	var errs []error
	allNotFound := true
	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return Ownership{}, Classify("chain", name, err)
		}
		o, err := p.Lookup.Lookup(ctx, name)
		if err != nil {
			le := Classify(p.Name, name, err)
			c.logger.Warn("ownership provider failed", "provider", p.Name, "subject", name, "kind", le.Kind, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name, le))
			if le.Kind != KindNotFound {
				allNotFound = false
			}
			continue
		}
		o.Source = p.Name
		if o.Ceiling <= 0 || o.Ceiling > p.Ceiling {
			o.Ceiling = p.Ceiling
		}
		return o, nil
	}

	kind := KindUnavailable
	if allNotFound {
		kind = KindNotFound
	}
	return Ownership{}, &LookupError{Kind: kind, Provider: "chain", Name: name, Err: errors.Join(errs...)}
}
