package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/Mindburn-Labs/exposure/pkg/artifacts"
	"github.com/Mindburn-Labs/exposure/pkg/config"
	"github.com/Mindburn-Labs/exposure/pkg/entitylist"
	"github.com/Mindburn-Labs/exposure/pkg/evidence"
	"github.com/Mindburn-Labs/exposure/pkg/observability"
	"github.com/Mindburn-Labs/exposure/pkg/resiliency"
	"github.com/Mindburn-Labs/exposure/pkg/screening/ownership"
	"github.com/Mindburn-Labs/exposure/pkg/screening/policy"
	"github.com/Mindburn-Labs/exposure/pkg/screening/resolve"
	"github.com/Mindburn-Labs/exposure/pkg/store"
)

// Ceilings for list snapshots by source. Local copies may lag the
// published list.
var listCeilings = map[string]float64{
	"postgres": 1.0,
	"artifact": 1.0,
	"sqlite":   0.95,
	"file":     0.9,
}

const (
	// ownershipFileCeiling caps answers from a hand-maintained edge file.
	ownershipFileCeiling = 0.8
	ownershipCacheTTL    = 24 * time.Hour
)

// app holds the subsystems a command needs. Everything is built lazily so
// a command only touches the backends it uses.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	obs    *observability.Provider

	artifactStore artifacts.Store
	redis         *redis.Client
	db            *sql.DB

	closers []func() error
}

func newApp(ctx context.Context, configPath string, stderr io.Writer) (*app, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.LogLevel, err)
	}
	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger, obs: observability.Disabled()}
	if cfg.OTelEnabled {
		oc := observability.DefaultConfig()
		oc.ServiceVersion = version
		oc.OTLPEndpoint = cfg.OTelEndpoint
		oc.Insecure = true
		obs, err := observability.New(ctx, oc)
		if err != nil {
			logger.Warn("observability unavailable, continuing without it", "error", err)
		} else {
			a.obs = obs
			a.closers = append(a.closers, func() error {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return obs.Shutdown(sctx)
			})
		}
	}
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("shutdown", "error", err)
		}
	}
}

func (a *app) artifacts(ctx context.Context) (artifacts.Store, error) {
	if a.artifactStore == nil {
		s, err := artifacts.NewStoreFromEnv(ctx)
		if err != nil {
			return nil, fmt.Errorf("artifact store: %w", err)
		}
		a.artifactStore = s
	}
	return a.artifactStore, nil
}

func (a *app) postgres() (*sql.DB, error) {
	if a.db == nil {
		if a.cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is not set")
		}
		db, err := sql.Open("postgres", a.cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.db = db
		a.closers = append(a.closers, db.Close)
	}
	return a.db, nil
}

func (a *app) redisClient() *redis.Client {
	if a.cfg.RedisAddr == "" {
		return nil
	}
	if a.redis == nil {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     a.cfg.RedisAddr,
			Password: a.cfg.RedisPassword,
			DB:       a.cfg.RedisDB,
		})
		a.closers = append(a.closers, a.redis.Close)
	}
	return a.redis
}

func (a *app) policy() (*policy.Policy, error) {
	if a.cfg.PolicyPath == "" {
		return policy.Default()
	}
	return policy.Load(a.cfg.PolicyPath)
}

// loadList walks the configured list sources. It never fails: with no
// usable source the snapshot is empty and screening degrades.
func (a *app) loadList(ctx context.Context) *entitylist.Snapshot {
	var providers []entitylist.Provider
	for _, name := range a.cfg.ListSources {
		src, err := a.listSource(ctx, name)
		if err != nil {
			a.logger.Warn("list source unavailable", "source", name, "error", err)
			continue
		}
		providers = append(providers, entitylist.Provider{Source: src, Ceiling: listCeilings[name]})
	}
	return entitylist.NewChain(providers...).WithLogger(a.logger).Load(ctx)
}

func (a *app) listSource(ctx context.Context, name string) (entitylist.Source, error) {
	switch name {
	case "file":
		return entitylist.NewFileSource(a.cfg.ListFile), nil
	case "artifact":
		if a.cfg.ListArtifactHash == "" {
			return nil, errors.New("LIST_ARTIFACT_HASH is not set")
		}
		s, err := a.artifacts(ctx)
		if err != nil {
			return nil, err
		}
		return entitylist.NewArtifactSource(s, a.cfg.ListArtifactHash), nil
	case "postgres":
		db, err := a.postgres()
		if err != nil {
			return nil, err
		}
		return entitylist.NewPostgresSource(db, ""), nil
	case "sqlite":
		src, err := entitylist.OpenSQLite(ctx, a.cfg.SQLitePath, "")
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, src.Close)
		return src, nil
	default:
		return nil, fmt.Errorf("unsupported list source %q", name)
	}
}

// ownership builds the lookup chain: the HTTP registry first, then the
// edge file. Both nil means ownership is never checked.
func (a *app) ownership() (ownership.Lookup, ownership.SiblingLister, error) {
	var (
		providers []ownership.Provider
		siblings  ownership.SiblingLister
	)
	if a.cfg.OwnershipURL != "" {
		h, err := ownership.NewHTTPLookup(a.cfg.OwnershipURL,
			ownership.WithCircuitBreaker(resiliency.NewCircuitBreaker("ownership", 5, 30*time.Second)))
		if err != nil {
			return nil, nil, err
		}
		var (
			lookup ownership.Lookup        = h
			sibs   ownership.SiblingLister = h
			waiter ownership.Waiter
		)
		rc := a.redisClient()
		switch {
		case rc != nil:
			waiter = ownership.NewRedisLimiter(rc, h.Name(), a.cfg.OwnershipRPS, a.cfg.OwnershipBurst)
		case a.cfg.OwnershipRPS > 0:
			waiter = rate.NewLimiter(rate.Limit(a.cfg.OwnershipRPS), max(a.cfg.OwnershipBurst, 1))
		}
		if waiter != nil {
			lookup = ownership.RateLimited(lookup, waiter)
			sibs = ownership.RateLimitedSiblings(sibs, waiter)
		}
		if rc != nil {
			lookup = ownership.NewRedisCache(rc, lookup, ownershipCacheTTL)
			sibs = ownership.NewRedisSiblingCache(rc, sibs, ownershipCacheTTL)
		}
		providers = append(providers, ownership.Provider{
			Name:    h.Name(),
			Lookup:  ownership.WithTimeout(lookup, a.cfg.OwnershipTimeout),
			Ceiling: 1.0,
		})
		siblings = ownership.SiblingsWithTimeout(sibs, a.cfg.OwnershipTimeout)
	}
	if a.cfg.OwnershipFile != "" {
		s, err := ownership.LoadStaticLookup(a.cfg.OwnershipFile, ownershipFileCeiling)
		if err != nil {
			return nil, nil, err
		}
		providers = append(providers, ownership.Provider{Name: "file", Lookup: s, Ceiling: ownershipFileCeiling})
		if siblings == nil {
			siblings = s
		}
	}
	if len(providers) == 0 {
		return nil, nil, nil
	}
	return ownership.NewChain(providers...).WithLogger(a.logger), siblings, nil
}

// resolver assembles a resolver over the current list and policy.
func (a *app) resolver(ctx context.Context) (*resolve.Resolver, error) {
	p, err := a.policy()
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	lookup, siblings, err := a.ownership()
	if err != nil {
		return nil, fmt.Errorf("ownership: %w", err)
	}
	opts := []resolve.Option{
		resolve.WithObservability(a.obs),
		resolve.WithLogger(a.logger),
	}
	if lookup != nil {
		opts = append(opts, resolve.WithOwnership(lookup))
	}
	if siblings != nil {
		opts = append(opts, resolve.WithSiblingLister(siblings))
	}
	return resolve.New(a.loadList(ctx), p, opts...)
}

func (a *app) archive() (store.AssessmentStore, error) {
	switch a.cfg.ArchiveDriver {
	case "sqlite":
		s, err := store.OpenSQLite(a.cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	case "postgres":
		db, err := a.postgres()
		if err != nil {
			return nil, err
		}
		s := store.NewPostgresAssessmentStore(db)
		if err := s.Migrate(context.Background()); err != nil {
			return nil, fmt.Errorf("migrate archive: %w", err)
		}
		return s, nil
	default:
		return nil, nil
	}
}

// signer is nil when no receipt seed is configured.
func (a *app) signer() (*evidence.ReceiptSigner, error) {
	if a.cfg.ReceiptSeed == "" {
		return nil, nil
	}
	return evidence.NewReceiptSigner([]byte(a.cfg.ReceiptSeed), a.cfg.ReceiptIssuer)
}

func levelColor(level string) string {
	switch strings.ToUpper(level) {
	case "CRITICAL", "HIGH":
		return ColorRed
	case "MEDIUM", "LOW":
		return ColorYellow
	default:
		return ColorGreen
	}
}
