// Package resolve runs the full screening pipeline for one supplier name:
// normalize, scan the restricted list, resolve ownership, detect findings
// and aggregate them into a RiskAssessment.
//
// A Resolver is immutable after construction and safe for concurrent use.
// Unavailable data never fails a resolution; it lowers the assessment's
// confidence and adds an advisory finding instead.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Mindburn-Labs/exposure/pkg/entitylist"
	"github.com/Mindburn-Labs/exposure/pkg/observability"
	"github.com/Mindburn-Labs/exposure/pkg/screening"
	"github.com/Mindburn-Labs/exposure/pkg/screening/aggregate"
	"github.com/Mindburn-Labs/exposure/pkg/screening/detect"
	"github.com/Mindburn-Labs/exposure/pkg/screening/match"
	"github.com/Mindburn-Labs/exposure/pkg/screening/normalize"
	"github.com/Mindburn-Labs/exposure/pkg/screening/ownership"
	"github.com/Mindburn-Labs/exposure/pkg/screening/policy"
)

// Advisory descriptions. They appear verbatim in findings and in the
// assessment's DataAvailability list.
const (
	AdvisoryListUnavailable      = "Restricted-entity list unavailable: list screening and ownership resolution were not performed"
	AdvisoryOwnershipUnavailable = "Ownership data unavailable"
	AdvisorySiblingsUnavailable  = "Sibling data unavailable"
)

// Request is one supplier to resolve.
type Request struct {
	Name     string
	Location string
	// Edges, when non-nil, are used instead of calling the ownership lookup.
	Edges []screening.OwnershipEdge
	// Siblings, when non-nil, are used instead of the sibling lister.
	Siblings []string
}

// Resolver is the resolution orchestrator.
type Resolver struct {
	snap     *entitylist.Snapshot
	idx      *match.Index
	policy   *policy.Policy
	detector *detect.Detector
	agg      *aggregate.Aggregator
	lookup   ownership.Lookup
	siblings ownership.SiblingLister
	obs      *observability.Provider
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithOwnership sets the ownership lookup. If it also lists siblings it is
// used as the sibling lister.
func WithOwnership(l ownership.Lookup) Option {
	return func(r *Resolver) {
		r.lookup = l
		if sl, ok := l.(ownership.SiblingLister); ok && r.siblings == nil {
			r.siblings = sl
		}
	}
}

func WithSiblingLister(s ownership.SiblingLister) Option {
	return func(r *Resolver) { r.siblings = s }
}

func WithObservability(p *observability.Provider) Option {
	return func(r *Resolver) { r.obs = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithClock overrides the assessment timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// New builds a resolver over one list snapshot and one policy. A nil or
// empty snapshot is accepted; every assessment then reports the list as
// unavailable.
func New(snap *entitylist.Snapshot, p *policy.Policy, opts ...Option) (*Resolver, error) {
	if p == nil {
		return nil, fmt.Errorf("resolve: policy is required")
	}
	if snap == nil {
		snap = &entitylist.Snapshot{Source: "none"}
	}
	det, err := detect.New(p)
	if err != nil {
		return nil, fmt.Errorf("build detector: %w", err)
	}
	r := &Resolver{
		snap:     snap,
		idx:      match.NewIndex(snap.Records),
		policy:   p,
		detector: det,
		agg:      aggregate.New(p),
		obs:      observability.Disabled(),
		logger:   slog.Default().With("component", "resolver"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// WithLookup returns a copy of r that uses l for ownership. The batch
// scanner uses it to install a per-run memo.
func (r *Resolver) WithLookup(l ownership.Lookup) *Resolver {
	cp := *r
	cp.lookup = l
	return &cp
}

// WithSiblings is WithLookup for the sibling lister.
func (r *Resolver) WithSiblings(s ownership.SiblingLister) *Resolver {
	cp := *r
	cp.siblings = s
	return &cp
}

// Lookup returns the configured ownership lookup, or nil.
func (r *Resolver) Lookup() ownership.Lookup { return r.lookup }

// SiblingLister returns the configured sibling lister, or nil.
func (r *Resolver) SiblingLister() ownership.SiblingLister { return r.siblings }

func (r *Resolver) Snapshot() *entitylist.Snapshot { return r.snap }

func (r *Resolver) Policy() *policy.Policy { return r.policy }

// Resolve screens a bare name.
func (r *Resolver) Resolve(ctx context.Context, name string) (*screening.RiskAssessment, error) {
	return r.ResolveEntity(ctx, Request{Name: name})
}

// ResolveEntity screens one supplier. It returns an *InputError for an
// empty name, an *InvariantError if a pipeline stage produced an invalid
// entity, and ctx.Err() if the context ends mid-resolution. Data outages
// are not errors.
func (r *Resolver) ResolveEntity(ctx context.Context, req Request) (_ *screening.RiskAssessment, err error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, &screening.InputError{Field: "name", Value: req.Name, Err: screening.ErrEmptyName}
	}
	normalized := normalize.Company(name)
	if normalized == "" {
		return nil, &screening.InputError{Field: "name", Value: req.Name, Err: screening.ErrEmptyName}
	}

	ctx, done := r.obs.TrackOperation(ctx, "resolve_entity",
		observability.ScreeningOperation(name, r.snap.Version, r.snap.Len(), r.policy.VersionString())...)
	defer func() { done(err) }()

	run := &resolution{
		name:       name,
		normalized: normalized,
		confidence: 1,
		entities:   []screening.ResolvedEntity{},
	}
	run.trail(fmt.Sprintf("input %q normalized to %q", name, normalized))
	run.trail(r.snap.Describe())
	for _, a := range r.snap.Attempts {
		run.trail("list source failed: " + a)
	}
	run.trail("scoring policy " + r.policy.VersionString())

	if r.snap.Empty() {
		r.logger.WarnContext(ctx, "screening without restricted list", "supplier", name)
		run.degrade(AdvisoryListUnavailable, r.policy.ListUnavailableConfidence)
	} else {
		run.cap(r.snap.Ceiling)
		r.scanDirect(run)
		if err := r.resolveOwnership(ctx, run, req); err != nil {
			return nil, err
		}
	}

	for _, e := range run.entities {
		if err := e.Validate(name); err != nil {
			return nil, fmt.Errorf("resolve %q: %w", name, err)
		}
	}

	findings := r.detector.Detect(detect.Input{
		Query:      name,
		Normalized: normalized,
		Location:   req.Location,
		Entities:   run.entities,
		Advisories: run.advisories,
	})
	if r.snap.Empty() {
		findings = run.unscored(findings)
	}
	res := r.agg.Aggregate(findings)
	run.trail(fmt.Sprintf("%d finding(s), score %.0f, level %s", len(findings), res.RiskScore, res.OverallRisk))

	a := &screening.RiskAssessment{
		EntityName:       name,
		NormalizedName:   normalized,
		OverallRisk:      res.OverallRisk,
		RiskScore:        res.RiskScore,
		Confidence:       run.confidence,
		RiskFactors:      nonNilFindings(findings),
		ResolvedEntities: run.entities,
		Recommendations:  res.Recommendations,
		EvidenceTrail:    run.evidence,
		DataAvailability: run.advisories,
		Summary:          res.Summary,
		ListVersion:      r.snap.Version,
		PolicyVersion:    r.policy.VersionString(),
		GeneratedAt:      r.now().UTC(),
	}
	r.obs.RecordAssessment(ctx, a.OverallRisk.String(), a.Verified())
	r.logger.DebugContext(ctx, "supplier screened",
		"supplier", name, "level", a.OverallRisk.String(), "score", a.RiskScore, "confidence", a.Confidence)
	return a, nil
}

func (r *Resolver) scanDirect(run *resolution) {
	results := r.idx.ScanNormalized(run.normalized)
	for _, m := range results {
		run.entities = append(run.entities, screening.ResolvedEntity{
			MatchedName:    m.Record.CanonicalName,
			RecordID:       m.Record.ID,
			Citation:       m.Record.Citation,
			MatchType:      m.MatchType,
			Confidence:     m.Confidence,
			EvidencePoints: append([]string(nil), m.Evidence...),
		})
	}
	run.trail(fmt.Sprintf("direct scan: %d match(es) against %d record(s)", len(results), r.idx.Len()))
}

func (r *Resolver) resolveOwnership(ctx context.Context, run *resolution, req Request) error {
	edges := req.Edges
	switch {
	case edges != nil:
		run.trail(fmt.Sprintf("ownership: %d edge(s) supplied with request", len(edges)))
	case r.lookup == nil:
		run.degrade(AdvisoryOwnershipUnavailable+": no ownership source configured", r.policy.OwnershipUnavailableConfidence)
	default:
		o, err := r.lookup.Lookup(ctx, run.name)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			le := ownership.Classify("ownership", run.name, err)
			r.obs.RecordLookup(ctx, le.Provider, string(le.Kind))
			r.logger.WarnContext(ctx, "ownership unavailable, continuing without it",
				"supplier", run.name, "provider", le.Provider, "kind", le.Kind, "error", err)
			run.degrade(fmt.Sprintf("%s (%s): %v", AdvisoryOwnershipUnavailable, le.Kind, err), r.policy.OwnershipUnavailableConfidence)
			break
		}
		r.obs.RecordLookup(ctx, o.Source, "ok")
		run.cap(o.Ceiling)
		edges = o.Edges
		run.trail(fmt.Sprintf("ownership: %d edge(s) from %s", len(edges), o.Source))
	}

	owned := ownership.ResolveOwnershipMatches(run.name, edges, r.idx)
	run.entities = append(run.entities, owned...)
	if len(edges) > 0 {
		run.trail(fmt.Sprintf("ownership: %d listed related entit%s", len(owned), plural(len(owned), "y", "ies")))
	}

	siblings := req.Siblings
	if siblings == nil && r.siblings != nil {
		var err error
		siblings, err = r.siblings.Siblings(ctx, run.name)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			le := ownership.Classify("siblings", run.name, err)
			r.obs.RecordLookup(ctx, le.Provider, string(le.Kind))
			r.logger.WarnContext(ctx, "sibling lookup failed, continuing without it",
				"supplier", run.name, "provider", le.Provider, "kind", le.Kind, "error", err)
			run.degrade(fmt.Sprintf("%s (%s): %v", AdvisorySiblingsUnavailable, le.Kind, err), r.policy.OwnershipUnavailableConfidence)
			return nil
		}
	}
	if len(siblings) > 0 {
		inferred := ownership.ResolveSiblings(run.name, siblings, r.idx)
		run.entities = append(run.entities, inferred...)
		run.trail(fmt.Sprintf("siblings: %d checked, %d listed", len(siblings), len(inferred)))
	}
	return nil
}

// resolution is the mutable state of one ResolveEntity call.
type resolution struct {
	name       string
	normalized string
	confidence float64
	entities   []screening.ResolvedEntity
	advisories []string
	evidence   []string
}

func (s *resolution) trail(line string) { s.evidence = append(s.evidence, line) }

// cap lowers confidence to ceiling. Non-positive ceilings are ignored.
func (s *resolution) cap(ceiling float64) {
	if ceiling > 0 && ceiling < s.confidence {
		s.confidence = ceiling
	}
}

func (s *resolution) degrade(advisory string, confidence float64) {
	s.advisories = append(s.advisories, advisory)
	s.trail("degraded: " + advisory)
	s.cap(confidence)
}

// unscored keeps only advisory findings. Without a list the heuristic rules
// have nothing to corroborate, so their hits go to the trail unscored.
func (s *resolution) unscored(findings []screening.Finding) []screening.Finding {
	kept := make([]screening.Finding, 0, len(findings))
	for _, f := range findings {
		if f.Category == screening.CategoryDataAvailability {
			kept = append(kept, f)
			continue
		}
		s.trail(fmt.Sprintf("not scored without a list: %s %s: %s", f.Severity, f.Category, f.Description))
	}
	return kept
}

func nonNilFindings(f []screening.Finding) []screening.Finding {
	if f == nil {
		return []screening.Finding{}
	}
	return f
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
