package resolve

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/exposure/pkg/entitylist"
	"github.com/Mindburn-Labs/exposure/pkg/screening"
	"github.com/Mindburn-Labs/exposure/pkg/screening/ownership"
	"github.com/Mindburn-Labs/exposure/pkg/screening/policy"
)

var fixedNow = time.Date(2026, 10, 17, 9, 30, 0, 0, time.FixedZone("CEST", 2*3600))

func snapshot() *entitylist.Snapshot {
	return &entitylist.Snapshot{
		Version: "2026.10.1",
		Source:  "test",
		Ceiling: 1,
		Records: []screening.RestrictedEntityRecord{
			{ID: "EL-0001", CanonicalName: "Huawei Technologies Co., Ltd.", Jurisdiction: "China", Citation: "84 FR 22961"},
			{ID: "EL-0002", CanonicalName: "ZTE Corporation", Jurisdiction: "China", Citation: "81 FR 12004"},
		},
	}
}

func newResolver(t *testing.T, snap *entitylist.Snapshot, opts ...Option) *Resolver {
	t.Helper()
	p, err := policy.Default()
	require.NoError(t, err)
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	r, err := New(snap, p, opts...)
	require.NoError(t, err)
	return r
}

func countBy(findings []screening.Finding, cat screening.Category, sev screening.Severity) int {
	n := 0
	for _, f := range findings {
		if f.Category == cat && f.Severity == sev {
			n++
		}
	}
	return n
}

func TestDirectMatchIsCritical(t *testing.T) {
	r := newResolver(t, snapshot())

	a, err := r.ResolveEntity(context.Background(), Request{Name: "Huawei Tech Co Ltd", Edges: []screening.OwnershipEdge{}})
	require.NoError(t, err)

	assert.Equal(t, screening.RiskCritical, a.OverallRisk)
	assert.GreaterOrEqual(t, a.RiskScore, 40.0)
	assert.Equal(t, 1, countBy(a.RiskFactors, screening.CategoryDirectMatch, screening.SeverityCritical))
	require.NotEmpty(t, a.ResolvedEntities)
	assert.Equal(t, "EL-0001", a.ResolvedEntities[0].RecordID)
	assert.Equal(t, screening.PriorityUrgent, a.Recommendations[0].Priority)
	assert.Equal(t, "immediate_halt", a.Recommendations[0].Action)
	assert.True(t, a.Verified())
	assert.Equal(t, 1.0, a.Confidence)
	assert.Equal(t, "2026.10.1", a.ListVersion)
	assert.Equal(t, "1.2.0", a.PolicyVersion)
	assert.Equal(t, time.UTC, a.GeneratedAt.Location())
}

func TestParentOwnershipMatch(t *testing.T) {
	pct := 60.0
	lookup, err := ownership.NewStaticLookup("registry", 1, []screening.OwnershipEdge{
		{SubjectName: "Generic Parts Inc", RelatedName: "ZTE Corporation", Relation: screening.RelationParent, OwnershipPercentage: &pct},
	})
	require.NoError(t, err)
	r := newResolver(t, snapshot(), WithOwnership(lookup))

	a, err := r.Resolve(context.Background(), "Generic Parts Inc")
	require.NoError(t, err)

	require.Len(t, a.ResolvedEntities, 1)
	e := a.ResolvedEntities[0]
	assert.Equal(t, screening.MatchParent, e.MatchType)
	assert.Equal(t, 0.95, e.Confidence)
	assert.Equal(t, []string{"Generic Parts Inc", "ZTE Corporation", "ZTE Corporation"}, e.RelationshipPath)

	assert.Equal(t, 1, countBy(a.RiskFactors, screening.CategoryOwnership, screening.SeverityCritical))
	assert.Equal(t, screening.RiskCritical, a.OverallRisk)

	var edd *screening.Recommendation
	for i := range a.Recommendations {
		if a.Recommendations[i].Action == "enhanced_due_diligence" {
			edd = &a.Recommendations[i]
		}
	}
	require.NotNil(t, edd)
	assert.Equal(t, screening.PriorityUrgent, edd.Priority)
	assert.Contains(t, edd.LegalCitation, "50 Percent Rule")
}

func TestEmptyListDegrades(t *testing.T) {
	var calls atomic.Int32
	lookup := ownership.LookupFunc(func(ctx context.Context, name string) (ownership.Ownership, error) {
		calls.Add(1)
		return ownership.Ownership{}, nil
	})
	for _, snap := range []*entitylist.Snapshot{nil, {Source: "none", Attempts: []string{"primary: down"}}} {
		r := newResolver(t, snap, WithOwnership(lookup))

		a, err := r.Resolve(context.Background(), "Huawei Technologies")
		require.NoError(t, err)
		assert.Equal(t, screening.RiskClear, a.OverallRisk)
		assert.Equal(t, 0.2, a.Confidence)
		assert.False(t, a.Verified())
		assert.Equal(t, []string{AdvisoryListUnavailable}, a.DataAvailability)
		assert.Equal(t, 1, countBy(a.RiskFactors, screening.CategoryDataAvailability, screening.SeverityInfo))
		assert.Empty(t, a.ResolvedEntities)
		assert.Contains(t, a.Summary, "data source")
	}
	assert.Zero(t, calls.Load(), "ownership is skipped without a list")

	r := newResolver(t, nil)
	for _, req := range []Request{
		{Name: "Tehran Trading", Location: "Tehran, Iran"},
		{Name: "Moscow Aerospace Systems"},
	} {
		a, err := r.ResolveEntity(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, screening.RiskClear, a.OverallRisk, req.Name)
		assert.Zero(t, a.RiskScore, req.Name)
		assert.Equal(t, 0.2, a.Confidence, req.Name)
		require.Len(t, a.RiskFactors, 1, req.Name)
		assert.Equal(t, screening.CategoryDataAvailability, a.RiskFactors[0].Category)

		var unscored []string
		for _, line := range a.EvidenceTrail {
			if strings.HasPrefix(line, "not scored without a list") {
				unscored = append(unscored, line)
			}
		}
		assert.NotEmpty(t, unscored, "%s: heuristic hits stay in the trail", req.Name)
	}
}

func TestSiblingFailureDegrades(t *testing.T) {
	lister := ownership.SiblingListerFunc(func(ctx context.Context, name string) ([]string, error) {
		return nil, &ownership.LookupError{Kind: ownership.KindUnavailable, Provider: "registry", Name: name, Err: errors.New("502 Bad Gateway")}
	})
	r := newResolver(t, snapshot(), WithSiblingLister(lister))

	a, err := r.ResolveEntity(context.Background(), Request{Name: "Acme Widgets LLC", Edges: []screening.OwnershipEdge{}})
	require.NoError(t, err)
	assert.Equal(t, screening.RiskClear, a.OverallRisk)
	assert.False(t, a.Verified())
	assert.Equal(t, 0.7, a.Confidence)
	require.Len(t, a.DataAvailability, 1)
	assert.True(t, strings.HasPrefix(a.DataAvailability[0], AdvisorySiblingsUnavailable+" (unavailable)"))
	assert.Equal(t, 1, countBy(a.RiskFactors, screening.CategoryDataAvailability, screening.SeverityInfo))
}

func TestOwnershipFailureDegrades(t *testing.T) {
	lookup := ownership.LookupFunc(func(ctx context.Context, name string) (ownership.Ownership, error) {
		return ownership.Ownership{}, &ownership.LookupError{Kind: ownership.KindTimeout, Provider: "registry", Name: name, Err: context.DeadlineExceeded}
	})
	r := newResolver(t, snapshot(), WithOwnership(lookup))

	a, err := r.Resolve(context.Background(), "Huawei Technologies Co Ltd")
	require.NoError(t, err)
	assert.Equal(t, screening.RiskCritical, a.OverallRisk, "direct match still reported")
	assert.Equal(t, 0.7, a.Confidence)
	require.Len(t, a.DataAvailability, 1)
	assert.True(t, strings.HasPrefix(a.DataAvailability[0], AdvisoryOwnershipUnavailable+" (timeout)"))
}

func TestNoOwnershipSourceIsAdvisory(t *testing.T) {
	r := newResolver(t, snapshot())
	a, err := r.Resolve(context.Background(), "Acme Widgets LLC")
	require.NoError(t, err)
	assert.Equal(t, screening.RiskClear, a.OverallRisk)
	assert.Equal(t, 0.7, a.Confidence)
	assert.Len(t, a.DataAvailability, 1)
}

func TestCancelledLookupReturnsContextError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	lookup := ownership.LookupFunc(func(ctx context.Context, name string) (ownership.Ownership, error) {
		cancel()
		return ownership.Ownership{}, ctx.Err()
	})
	r := newResolver(t, snapshot(), WithOwnership(lookup))

	_, err := r.Resolve(ctx, "Generic Parts Inc")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSiblingsFromRequest(t *testing.T) {
	r := newResolver(t, snapshot())
	a, err := r.ResolveEntity(context.Background(), Request{
		Name:     "Generic Parts Inc",
		Edges:    []screening.OwnershipEdge{},
		Siblings: []string{"ZTE Corp", "Harmless Ltd"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, countBy(a.RiskFactors, screening.CategoryOwnership, screening.SeverityHigh))
	assert.Equal(t, screening.RiskMedium, a.OverallRisk)
}

func TestLocationScreening(t *testing.T) {
	r := newResolver(t, snapshot())
	a, err := r.ResolveEntity(context.Background(), Request{Name: "Acme Widgets", Location: "Havana, Cuba", Edges: []screening.OwnershipEdge{}})
	require.NoError(t, err)
	assert.Equal(t, 1, countBy(a.RiskFactors, screening.CategoryGeographic, screening.SeverityCritical))
}

func TestEmptyNameIsInputError(t *testing.T) {
	r := newResolver(t, snapshot())
	for _, name := range []string{"", "   ", "\t\n", "---"} {
		_, err := r.Resolve(context.Background(), name)
		require.Error(t, err, "name %q", name)
		var ie *screening.InputError
		assert.True(t, errors.As(err, &ie))
		assert.ErrorIs(t, err, screening.ErrEmptyName)
	}
}

func TestIdempotent(t *testing.T) {
	pct := 51.0
	lookup, err := ownership.NewStaticLookup("registry", 0.9, []screening.OwnershipEdge{
		{SubjectName: "Generic Parts Inc", RelatedName: "ZTE Corporation", Relation: screening.RelationParent, OwnershipPercentage: &pct},
	})
	require.NoError(t, err)

	var tick atomic.Int64
	clock := func() time.Time { return fixedNow.Add(time.Duration(tick.Add(1)) * time.Second) }
	r := newResolver(t, snapshot(), WithOwnership(lookup), WithClock(clock))

	first, err := r.Resolve(context.Background(), "Generic Parts Inc")
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), "Generic Parts Inc")
	require.NoError(t, err)

	assert.NotEqual(t, first.GeneratedAt, second.GeneratedAt)
	second.GeneratedAt = first.GeneratedAt
	assert.Equal(t, first, second)
	assert.Equal(t, 0.9, first.Confidence, "provider ceiling caps confidence")
}

func TestWithLookupCopies(t *testing.T) {
	r := newResolver(t, snapshot())
	memo := ownership.NewMemo(ownership.LookupFunc(func(ctx context.Context, name string) (ownership.Ownership, error) {
		return ownership.Ownership{}, nil
	}))
	cp := r.WithLookup(memo)
	assert.Nil(t, r.Lookup())
	assert.Same(t, memo, cp.Lookup())
}
