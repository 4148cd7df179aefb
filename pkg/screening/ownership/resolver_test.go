package ownership

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/exposure/pkg/screening"
	"github.com/Mindburn-Labs/exposure/pkg/screening/match"
)

func testIndex() *match.Index {
	return match.NewIndex([]screening.RestrictedEntityRecord{
		{ID: "EL-001", CanonicalName: "ZTE Corporation", Citation: "83 FR 12345"},
		{ID: "EL-002", CanonicalName: "Huawei Technologies Co., Ltd.", AlternateNames: []string{"Huawei"}},
		{ID: "EL-003", CanonicalName: "ZTE Kangxun Telecom Co., Ltd."},
	})
}

func edge(subject, related string, rel screening.Relation) screening.OwnershipEdge {
	return screening.OwnershipEdge{SubjectName: subject, RelatedName: related, Relation: rel, EvidenceSource: "registry"}
}

func TestResolveOwnershipMatchesTierConfidences(t *testing.T) {
	idx := testIndex()
	tests := []struct {
		rel  screening.Relation
		want screening.MatchType
		conf float64
	}{
		{screening.RelationParent, screening.MatchParent, 0.95},
		{screening.RelationSubsidiary, screening.MatchSubsidiary, 0.85},
		{screening.RelationAffiliate, screening.MatchAffiliate, 0.75},
	}
	for _, tt := range tests {
		t.Run(string(tt.rel), func(t *testing.T) {
			got := ResolveOwnershipMatches("Generic Parts Inc", []screening.OwnershipEdge{
				edge("Generic Parts Inc", "ZTE Corp.", tt.rel),
			}, idx)
			require.Len(t, got, 1)
			e := got[0]
			assert.Equal(t, tt.want, e.MatchType)
			assert.Equal(t, tt.conf, e.Confidence)
			assert.Equal(t, "EL-001", e.RecordID)
			assert.Equal(t, []string{"Generic Parts Inc", "ZTE Corp.", "ZTE Corporation"}, e.RelationshipPath)
			require.NoError(t, e.Validate("Generic Parts Inc"))
		})
	}
}

func TestResolveOwnershipMatchesExactOnly(t *testing.T) {
	idx := testIndex()
	got := ResolveOwnershipMatches("Generic Parts Inc", []screening.OwnershipEdge{
		edge("Generic Parts Inc", "ZTE Corporaton", screening.RelationParent), // typo
		edge("Generic Parts Inc", "Huawei", screening.RelationParent),         // alternate name only
	}, idx)
	assert.Empty(t, got)
}

func TestResolveOwnershipMatchesFiltersAndDedupes(t *testing.T) {
	idx := testIndex()
	pct := 51.0
	parent := edge("Generic Parts Inc", "ZTE Corporation", screening.RelationParent)
	parent.OwnershipPercentage = &pct

	got := ResolveOwnershipMatches("GENERIC PARTS INC.", []screening.OwnershipEdge{
		parent,
		parent,
		edge("Other Subject Ltd", "ZTE Corporation", screening.RelationParent),
		{SubjectName: "Generic Parts Inc", RelatedName: "ZTE Corporation", Relation: "OWNER"},
		edge("Generic Parts Inc", "ZTE Corporation", screening.RelationAffiliate),
	}, idx)

	require.Len(t, got, 2)
	assert.Equal(t, screening.MatchParent, got[0].MatchType)
	assert.Equal(t, "GENERIC PARTS INC.", got[0].RelationshipPath[0])
	assert.Contains(t, got[0].EvidencePoints[0], "51.0% ownership")
	assert.Contains(t, got[0].EvidencePoints, "ownership source: registry")
	assert.Equal(t, screening.MatchAffiliate, got[1].MatchType)
}

func TestResolveOwnershipMatchesEmptyList(t *testing.T) {
	got := ResolveOwnershipMatches("Generic Parts Inc", []screening.OwnershipEdge{
		edge("Generic Parts Inc", "ZTE Corporation", screening.RelationParent),
	}, match.NewIndex(nil))
	assert.Nil(t, got)
}

func TestResolveSiblings(t *testing.T) {
	idx := testIndex()
	got := ResolveSiblings("Generic Parts Inc", []string{
		"ZTE Kangxun Telecom",
		"zte kangxun telecom co ltd", // same company, different spelling
		"Generic Parts Inc",          // the subject itself
		"Acme Widgets",
	}, idx)

	require.Len(t, got, 1)
	e := got[0]
	assert.Equal(t, screening.MatchInferred, e.MatchType)
	assert.Equal(t, "EL-003", e.RecordID)
	assert.Equal(t, []string{"Generic Parts Inc", "ZTE Kangxun Telecom", "ZTE Kangxun Telecom Co., Ltd."}, e.RelationshipPath)
	assert.GreaterOrEqual(t, e.Confidence, match.Floor)
}
