package entitylist

import (
	"context"
	"fmt"
	"log/slog"
)

// Provider is one step of a list fallback chain.
type Provider struct {
	Source  Source
	Ceiling float64
}

// Chain loads the first non-empty snapshot from its providers.
type Chain struct {
	providers []Provider
	logger    *slog.Logger
}

func NewChain(providers ...Provider) *Chain {
	return &Chain{
		providers: providers,
		logger:    slog.Default().With("component", "entitylist_chain"),
	}
}

// WithLogger replaces the chain's logger.
func (c *Chain) WithLogger(l *slog.Logger) *Chain {
	c.logger = l
	return c
}

// Load never fails. An empty snapshot counts as unavailable and the next
// provider is tried; when none succeeds the result is an empty snapshot
// whose Attempts describe every failure.
func (c *Chain) Load(ctx context.Context) *Snapshot {
	var attempts []string
	for _, p := range c.providers {
		if ctx.Err() != nil {
			attempts = append(attempts, fmt.Sprintf("%s: %v", p.Source.Name(), ctx.Err()))
			break
		}
		snap, err := p.Source.Load(ctx)
		switch {
		case err != nil:
			c.logger.Warn("list source failed", "source", p.Source.Name(), "error", err)
			attempts = append(attempts, fmt.Sprintf("%s: %v", p.Source.Name(), err))
			continue
		case snap.Empty():
			c.logger.Warn("list source returned empty snapshot", "source", p.Source.Name())
			attempts = append(attempts, p.Source.Name()+": empty snapshot")
			continue
		}
		snap.Ceiling = p.Ceiling
		snap.Attempts = attempts
		c.logger.Info("restricted list loaded",
			"source", snap.Source, "version", snap.Version, "records", len(snap.Records))
		return snap
	}
	c.logger.Error("no restricted list available", "attempts", len(attempts))
	return &Snapshot{Source: "none", Attempts: attempts}
}
