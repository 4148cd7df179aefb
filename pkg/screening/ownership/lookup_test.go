package ownership

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/Mindburn-Labs/exposure/pkg/resiliency"
	"github.com/Mindburn-Labs/exposure/pkg/screening"
)

func staticFixture(t *testing.T) *StaticLookup {
	t.Helper()
	s, err := NewStaticLookup("fixture", 1.0, []screening.OwnershipEdge{
		edge("Generic Parts Inc", "ZTE Corporation", screening.RelationParent),
		edge("ZTE Kangxun Telecom", "ZTE Corporation", screening.RelationParent),
		edge("Sister Components Ltd", "ZTE Corporation", screening.RelationParent),
		edge("Unrelated Co", "Other Holdings", screening.RelationParent),
	})
	require.NoError(t, err)
	return s
}

func TestStaticLookup(t *testing.T) {
	s := staticFixture(t)
	ctx := context.Background()

	o, err := s.Lookup(ctx, "GENERIC PARTS, INC.")
	require.NoError(t, err)
	assert.Equal(t, "fixture", o.Source)
	require.Len(t, o.Edges, 1)
	assert.Equal(t, "ZTE Corporation", o.Edges[0].RelatedName)

	_, err = s.Lookup(ctx, "Nobody Ltd")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.ErrorIs(t, err, ErrNotFound)

	sibs, err := s.Siblings(ctx, "Generic Parts Inc")
	require.NoError(t, err)
	assert.Equal(t, []string{"Sister Components Ltd", "ZTE Kangxun Telecom"}, sibs)

	_, err = NewStaticLookup("bad", 1, []screening.OwnershipEdge{{SubjectName: "A", RelatedName: "B", Relation: "OWNER"}})
	require.Error(t, err)
}

func TestLoadStaticLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ownership.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`edges:
  - subject_name: Generic Parts Inc
    related_name: ZTE Corporation
    relation: PARENT
    ownership_percentage: 60
`), 0o600))

	s, err := LoadStaticLookup(path, 0.9)
	require.NoError(t, err)
	o, err := s.Lookup(context.Background(), "Generic Parts Inc")
	require.NoError(t, err)
	require.Len(t, o.Edges, 1)
	require.NotNil(t, o.Edges[0].OwnershipPercentage)
	assert.Equal(t, 60.0, *o.Edges[0].OwnershipPercentage)
	assert.Equal(t, 0.9, o.Ceiling)
}

func TestLookupErrorClassification(t *testing.T) {
	tests := []struct {
		err       error
		kind      Kind
		retryable bool
	}{
		{context.DeadlineExceeded, KindTimeout, true},
		{resiliency.ErrOpen, KindCircuitOpen, true},
		{errors.New("connection refused"), KindUnavailable, true},
		{&LookupError{Kind: KindNotFound, Err: ErrNotFound}, KindNotFound, false},
	}
	for _, tt := range tests {
		le := Classify("p", "n", tt.err)
		assert.Equal(t, tt.kind, le.Kind, tt.err.Error())
		assert.Equal(t, tt.retryable, le.Retryable())
	}
	assert.Nil(t, Classify("p", "n", nil))
}

func failing(kind Kind) Lookup {
	return LookupFunc(func(ctx context.Context, name string) (Ownership, error) {
		return Ownership{}, &LookupError{Kind: kind, Provider: string(kind), Name: name}
	})
}

func TestChainFallsBack(t *testing.T) {
	s := staticFixture(t)
	c := NewChain(
		Provider{Name: "primary", Lookup: failing(KindUnavailable), Ceiling: 1.0},
		Provider{Name: "registry", Lookup: s, Ceiling: 0.8},
	)

	o, err := c.Lookup(context.Background(), "Generic Parts Inc")
	require.NoError(t, err)
	assert.Equal(t, "registry", o.Source)
	assert.Equal(t, 0.8, o.Ceiling)
}

func TestChainAllFail(t *testing.T) {
	c := NewChain(
		Provider{Name: "a", Lookup: failing(KindNotFound), Ceiling: 1},
		Provider{Name: "b", Lookup: failing(KindNotFound), Ceiling: 1},
	)
	_, err := c.Lookup(context.Background(), "x")
	assert.True(t, IsNotFound(err))

	c = NewChain(
		Provider{Name: "a", Lookup: failing(KindNotFound), Ceiling: 1},
		Provider{Name: "b", Lookup: failing(KindTimeout), Ceiling: 1},
	)
	_, err = c.Lookup(context.Background(), "x")
	var le *LookupError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, KindUnavailable, le.Kind)
	assert.Contains(t, err.Error(), "timeout")

	_, err = NewChain().Lookup(context.Background(), "x")
	require.Error(t, err)
}

func TestMemoDeduplicates(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	slow := LookupFunc(func(ctx context.Context, name string) (Ownership, error) {
		calls.Add(1)
		<-release
		if name == "missing" {
			return Ownership{}, &LookupError{Kind: KindNotFound, Name: name}
		}
		return Ownership{Subject: name, Edges: []screening.OwnershipEdge{edge(name, "ZTE Corporation", screening.RelationParent)}}, nil
	})
	m := NewMemo(slow)

	var wg sync.WaitGroup
	for _, n := range []string{"Generic Parts Inc", "GENERIC PARTS INC.", "generic parts"} {
		wg.Add(1)
		go func(n string) {
			defer wg.Done()
			o, err := m.Lookup(context.Background(), n)
			assert.NoError(t, err)
			assert.Equal(t, n, o.Subject)
		}(n)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	_, err := m.Lookup(context.Background(), "Generic Parts Inc")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	_, err = m.Lookup(context.Background(), "missing")
	require.Error(t, err)
	_, err = m.Lookup(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load(), "failures are cached for the run")
	assert.Equal(t, 2, m.Len())
}

func TestMemoDoesNotCacheCancellation(t *testing.T) {
	var calls atomic.Int32
	l := LookupFunc(func(ctx context.Context, name string) (Ownership, error) {
		calls.Add(1)
		if err := ctx.Err(); err != nil {
			return Ownership{}, Classify("x", name, err)
		}
		return Ownership{Subject: name}, nil
	})
	m := NewMemo(l)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Lookup(ctx, "Acme")
	require.Error(t, err)

	_, err = m.Lookup(context.Background(), "Acme")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestWithTimeout(t *testing.T) {
	blocking := LookupFunc(func(ctx context.Context, name string) (Ownership, error) {
		<-ctx.Done()
		return Ownership{}, ctx.Err()
	})
	_, err := WithTimeout(blocking, 10*time.Millisecond).Lookup(context.Background(), "Acme")
	var le *LookupError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, KindTimeout, le.Kind)
}

func TestRateLimited(t *testing.T) {
	ok := LookupFunc(func(ctx context.Context, name string) (Ownership, error) {
		return Ownership{Subject: name}, nil
	})
	// burst 1, refill far in the future: second call cannot be served
	// within the deadline.
	l := RateLimited(ok, rate.NewLimiter(rate.Every(time.Hour), 1))

	_, err := l.Lookup(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Lookup(ctx, "b")
	var le *LookupError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, KindRateLimited, le.Kind)
}

func TestSiblingDecorators(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	slow := SiblingListerFunc(func(ctx context.Context, name string) ([]string, error) {
		calls.Add(1)
		<-release
		if name == "missing" {
			return nil, &LookupError{Kind: KindUnavailable, Name: name}
		}
		return []string{"ZTE Kangxun Telecom"}, nil
	})
	m := NewSiblingMemo(slow)

	var wg sync.WaitGroup
	for _, n := range []string{"Generic Parts Inc", "GENERIC PARTS", "generic parts inc."} {
		wg.Add(1)
		go func(n string) {
			defer wg.Done()
			sibs, err := m.Siblings(context.Background(), n)
			assert.NoError(t, err)
			assert.Equal(t, []string{"ZTE Kangxun Telecom"}, sibs)
		}(n)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, 1, m.Calls())

	_, err := m.Siblings(context.Background(), "missing")
	require.Error(t, err)
	_, err = m.Siblings(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, 2, m.Calls(), "failures are cached for the run")

	blocking := SiblingListerFunc(func(ctx context.Context, name string) ([]string, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	_, err = SiblingsWithTimeout(blocking, 10*time.Millisecond).Siblings(context.Background(), "Acme")
	var le *LookupError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, KindTimeout, le.Kind)

	ok := SiblingListerFunc(func(ctx context.Context, name string) ([]string, error) { return nil, nil })
	limited := RateLimitedSiblings(ok, rate.NewLimiter(rate.Every(time.Hour), 1))
	_, err = limited.Siblings(context.Background(), "a")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = limited.Siblings(ctx, "b")
	require.ErrorAs(t, err, &le)
	assert.Equal(t, KindRateLimited, le.Kind)
}

func TestHTTPLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		switch {
		case r.URL.Path == "/v1/ownership" && name == "Generic Parts Inc":
			pct := 75.0
			_ = json.NewEncoder(w).Encode(ownershipResponse{
				Subject:      name,
				Parents:      []relatedCompany{{Name: "ZTE Corporation", OwnershipPercentage: &pct}},
				Subsidiaries: []relatedCompany{{Name: "GP Logistics"}},
				Affiliates:   []relatedCompany{{Name: ""}},
			})
		case r.URL.Path == "/v1/siblings" && name == "Generic Parts Inc":
			_ = json.NewEncoder(w).Encode(siblingsResponse{Siblings: []string{"ZTE Kangxun Telecom"}})
		case name == "throttled":
			w.WriteHeader(http.StatusTooManyRequests)
		case name == "broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	h, err := NewHTTPLookup(srv.URL+"/", WithProviderName("registry"), WithCeiling(0.9))
	require.NoError(t, err)
	ctx := context.Background()

	o, err := h.Lookup(ctx, "Generic Parts Inc")
	require.NoError(t, err)
	require.Len(t, o.Edges, 2)
	assert.Equal(t, screening.RelationParent, o.Edges[0].Relation)
	assert.Equal(t, "registry", o.Edges[0].EvidenceSource)
	assert.Equal(t, screening.RelationSubsidiary, o.Edges[1].Relation)
	assert.Equal(t, 0.9, o.Ceiling)

	sibs, err := h.Siblings(ctx, "Generic Parts Inc")
	require.NoError(t, err)
	assert.Equal(t, []string{"ZTE Kangxun Telecom"}, sibs)

	sibs, err = h.Siblings(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, sibs)

	kinds := map[string]Kind{"nobody": KindNotFound, "throttled": KindRateLimited, "broken": KindUnavailable}
	for name, want := range kinds {
		_, err := h.Lookup(ctx, name)
		var le *LookupError
		require.ErrorAs(t, err, &le, name)
		assert.Equal(t, want, le.Kind, name)
	}

	_, err = NewHTTPLookup("ftp://example.com")
	require.Error(t, err)
}

func TestHTTPLookupRegisteredSubject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"subject":"Generic Parts Manufacturing Inc","parents":[{"name":"ZTE Corporation"}]}`))
	}))
	defer srv.Close()

	h, err := NewHTTPLookup(srv.URL, WithProviderName("registry"))
	require.NoError(t, err)

	o, err := h.Lookup(context.Background(), "Generic Parts")
	require.NoError(t, err)
	require.Len(t, o.Edges, 1)
	assert.Equal(t, "Generic Parts", o.Edges[0].SubjectName)
	assert.Contains(t, o.Edges[0].EvidenceSource, `registered as "Generic Parts Manufacturing Inc"`)

	got := ResolveOwnershipMatches("Generic Parts", o.Edges, testIndex())
	require.Len(t, got, 1)
	assert.Equal(t, screening.MatchParent, got[0].MatchType)
	assert.Equal(t, "ZTE Corporation", got[0].MatchedName)
	assert.Contains(t, strings.Join(got[0].EvidencePoints, "\n"), "Generic Parts Manufacturing Inc")
}

func TestHTTPLookupCircuitOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	h, err := NewHTTPLookup(srv.URL, WithCircuitBreaker(resiliency.NewCircuitBreaker("ownership", 2, time.Hour)))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := h.Lookup(context.Background(), "x")
		require.Error(t, err)
	}
	_, err = h.Lookup(context.Background(), "x")
	var le *LookupError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, KindCircuitOpen, le.Kind)
}
