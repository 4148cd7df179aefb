// Package batch screens a supplier list on a bounded worker pool.
//
// One list snapshot and one policy serve the whole run. Ownership lookups
// are memoized per run by normalized name, so a parent shared by many
// suppliers is fetched once. A failing supplier never stops the batch, and
// cancelling the context keeps every assessment already completed.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/exposure/pkg/observability"
	"github.com/Mindburn-Labs/exposure/pkg/screening"
	"github.com/Mindburn-Labs/exposure/pkg/screening/ownership"
	"github.com/Mindburn-Labs/exposure/pkg/screening/resolve"
)

// DefaultWorkers is the pool size when none is configured.
const DefaultWorkers = 8

// Scanner runs batches against one resolver.
type Scanner struct {
	resolver *resolve.Resolver
	workers  int
	obs      *observability.Provider
	logger   *slog.Logger
	newRunID func() string
	now      func() time.Time
}

type Option func(*Scanner)

// WithWorkers bounds concurrent resolutions. Values below 1 use
// DefaultWorkers.
func WithWorkers(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.workers = n
		}
	}
}

func WithObservability(p *observability.Provider) Option {
	return func(s *Scanner) { s.obs = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) { s.logger = l }
}

func NewScanner(r *resolve.Resolver, opts ...Option) *Scanner {
	s := &Scanner{
		resolver: r,
		workers:  DefaultWorkers,
		obs:      observability.Disabled(),
		logger:   slog.Default().With("component", "batch"),
		newRunID: func() string { return uuid.New().String() },
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result is the outcome for one input supplier.
type Result struct {
	Index      int                       `json:"index"`
	Supplier   screening.Supplier        `json:"supplier"`
	Assessment *screening.RiskAssessment `json:"assessment,omitempty"`
	Error      string                    `json:"error,omitempty"`
}

// Report is the batch aggregate handed to renderers.
type Report struct {
	RunID         string    `json:"run_id"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	ListVersion   string    `json:"list_version,omitempty"`
	PolicyVersion string    `json:"policy_version"`

	Total     int  `json:"total"`
	Screened  int  `json:"screened"`
	Failed    int  `json:"failed"`
	Skipped   int  `json:"skipped"`
	Cancelled bool `json:"cancelled"`

	Counts map[screening.RiskLevel]int     `json:"counts"`
	Spend  map[screening.RiskLevel]float64 `json:"spend"`

	// AtRiskSpend is the annual spend with High or Critical suppliers.
	AtRiskSpend float64 `json:"at_risk_spend"`
	Unverified  int     `json:"unverified"`

	OwnershipLookups int `json:"ownership_lookups"`
	SiblingLookups   int `json:"sibling_lookups"`

	// Results are in input order. Suppliers never started after a
	// cancellation are absent.
	Results []Result `json:"results"`
}

// Scan screens suppliers. The returned error is non-nil only when the
// context ended; the report is still returned and holds every completed
// assessment.
func (s *Scanner) Scan(ctx context.Context, suppliers []screening.Supplier) (*Report, error) {
	runID := s.newRunID()
	ctx, done := s.obs.TrackOperation(ctx, "batch_scan", observability.BatchOperation(runID, len(suppliers))...)
	logger := s.logger.With("run_id", runID)

	r := s.resolver
	var (
		memo    *ownership.Memo
		sibMemo *ownership.SiblingMemo
	)
	if l := r.Lookup(); l != nil {
		memo = ownership.NewMemo(l)
		r = r.WithLookup(memo)
	}
	if sl := r.SiblingLister(); sl != nil {
		sibMemo = ownership.NewSiblingMemo(sl)
		r = r.WithSiblings(sibMemo)
	}

	report := &Report{
		RunID:         runID,
		StartedAt:     s.now().UTC(),
		ListVersion:   r.Snapshot().Version,
		PolicyVersion: r.Policy().VersionString(),
		Total:         len(suppliers),
		Counts:        make(map[screening.RiskLevel]int),
		Spend:         make(map[screening.RiskLevel]float64),
	}
	logger.Info("batch started", "suppliers", len(suppliers), "workers", s.workers)

	results := make([]*Result, len(suppliers))
	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, sup := range suppliers {
		if ctx.Err() != nil {
			break
		}
		i, sup := i, sup
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			a, err := r.ResolveEntity(ctx, resolve.Request{Name: sup.OriginalName, Location: sup.Location})
			if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return nil
			}
			res := &Result{Index: i, Supplier: sup, Assessment: a}
			if err != nil {
				res.Error = err.Error()
				level := slog.LevelWarn
				if errors.Is(err, screening.ErrInvariantViolation) {
					level = slog.LevelError
				}
				logger.Log(ctx, level, "supplier failed", "supplier", sup.Label(), "error", err)
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		if res == nil {
			report.Skipped++
			continue
		}
		report.add(*res)
	}
	if memo != nil {
		report.OwnershipLookups = memo.Calls()
	}
	if sibMemo != nil {
		report.SiblingLookups = sibMemo.Calls()
	}
	report.FinishedAt = s.now().UTC()

	err := ctx.Err()
	if err != nil {
		report.Cancelled = true
		logger.Warn("batch cancelled", "screened", report.Screened, "skipped", report.Skipped)
	}
	logger.Info("batch finished",
		"screened", report.Screened, "failed", report.Failed,
		"critical", report.Counts[screening.RiskCritical], "high", report.Counts[screening.RiskHigh],
		"at_risk_spend", report.AtRiskSpend)
	done(err)
	return report, err
}

func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)
	if res.Assessment == nil {
		r.Failed++
		return
	}
	a := res.Assessment
	r.Screened++
	r.Counts[a.OverallRisk]++
	r.Spend[a.OverallRisk] += res.Supplier.AnnualSpend
	if a.OverallRisk >= screening.RiskHigh {
		r.AtRiskSpend += res.Supplier.AnnualSpend
	}
	if !a.Verified() {
		r.Unverified++
	}
}

// Errors returns failure messages keyed by supplier label.
func (r *Report) Errors() map[string]string {
	out := make(map[string]string)
	for _, res := range r.Results {
		if res.Error != "" {
			out[res.Supplier.Label()] = res.Error
		}
	}
	return out
}

// Flagged returns the results at or above level, most severe first.
func (r *Report) Flagged(level screening.RiskLevel) []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Assessment != nil && res.Assessment.OverallRisk >= level {
			out = append(out, res)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Assessment, out[j].Assessment
		if a.OverallRisk != b.OverallRisk {
			return a.OverallRisk > b.OverallRisk
		}
		return a.RiskScore > b.RiskScore
	})
	return out
}

type supplierFile struct {
	Suppliers []screening.Supplier `yaml:"suppliers"`
}

// LoadSuppliers reads a supplier file. Both a top-level list and a
// {suppliers: [...]} document are accepted, in YAML or JSON.
func LoadSuppliers(path string) ([]screening.Supplier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read suppliers: %w", err)
	}
	var list []screening.Supplier
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var doc supplierFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse suppliers %s: %w", path, err)
	}
	return doc.Suppliers, nil
}
