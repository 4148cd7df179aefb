package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/exposure/pkg/screening"
	"github.com/Mindburn-Labs/exposure/pkg/screening/policy"
)

func newDetector(t *testing.T) *Detector {
	t.Helper()
	p, err := policy.Default()
	require.NoError(t, err)
	d, err := New(p)
	require.NoError(t, err)
	return d
}

func bySource(findings []screening.Finding, source string) []screening.Finding {
	var out []screening.Finding
	for _, f := range findings {
		if f.Source == source {
			out = append(out, f)
		}
	}
	return out
}

func TestDirectListRule(t *testing.T) {
	d := newDetector(t)

	findings := d.Detect(Input{
		Query: "Huawei Tech Co Ltd",
		Entities: []screening.ResolvedEntity{
			{MatchedName: "Huawei Technologies Co., Ltd.", MatchType: screening.MatchDirect, Confidence: 1.0, EvidencePoints: []string{"exact"}},
			{MatchedName: "Huawei Device Co., Ltd.", MatchType: screening.MatchFuzzy, Confidence: 0.8},
			{MatchedName: "Huawei Cloud", MatchType: screening.MatchAlternateName, Confidence: 0.95},
		},
	})

	direct := bySource(findings, "direct_list")
	require.Len(t, direct, 3)
	assert.Equal(t, screening.SeverityCritical, direct[0].Severity)
	assert.Equal(t, screening.SeverityCritical, direct[1].Severity)
	assert.Equal(t, screening.SeverityWarning, direct[2].Severity)
	for _, f := range direct {
		assert.Equal(t, screening.CategoryDirectMatch, f.Category)
	}
}

func TestOwnershipRule(t *testing.T) {
	d := newDetector(t)
	path := func(related string) []string {
		return []string{"Generic Parts Inc", related, "ZTE Corporation"}
	}

	findings := d.Detect(Input{
		Query: "Generic Parts Inc",
		Entities: []screening.ResolvedEntity{
			{MatchedName: "ZTE Corporation", MatchType: screening.MatchParent, Confidence: 0.95, RelationshipPath: path("ZTE Corporation")},
			{MatchedName: "ZTE Corporation", MatchType: screening.MatchSubsidiary, Confidence: 0.85, RelationshipPath: path("ZTE Corp")},
			{MatchedName: "ZTE Corporation", MatchType: screening.MatchAffiliate, Confidence: 0.75, RelationshipPath: path("ZTE Corp.")},
		},
	})

	own := bySource(findings, "ownership")
	require.Len(t, own, 3)
	assert.Equal(t, screening.SeverityCritical, own[0].Severity)
	assert.Contains(t, own[0].Description, "Parent company")
	assert.Equal(t, 0.95, own[0].Confidence)
	assert.Equal(t, screening.SeverityWarning, own[1].Severity)
	assert.Equal(t, screening.SeverityWarning, own[2].Severity)
	assert.Contains(t, own[0].Evidence[0], "Generic Parts Inc -> ZTE Corporation -> ZTE Corporation")
}

func TestJurisdictionRule(t *testing.T) {
	d := newDetector(t)

	findings := d.Detect(Input{Query: "Tehran Industrial Supply", Location: "Tehran, Iran"})
	geo := bySource(findings, "jurisdiction")
	require.Len(t, geo, 1, "one finding per jurisdiction")
	assert.Equal(t, screening.SeverityCritical, geo[0].Severity)
	assert.Equal(t, screening.CategoryGeographic, geo[0].Category)
	assert.Len(t, geo[0].Evidence, 2)

	findings = d.Detect(Input{Query: "Belarus Russia Trading House"})
	geo = bySource(findings, "jurisdiction")
	require.Len(t, geo, 2)
	for _, f := range geo {
		assert.Equal(t, screening.SeverityHigh, f.Severity)
	}

	assert.Empty(t, bySource(d.Detect(Input{Query: "Scuba Gear Inc"}), "jurisdiction"))
}

func TestSectorRule(t *testing.T) {
	d := newDetector(t)

	findings := d.Detect(Input{Query: "Orbital Aerospace Munitions Ltd"})
	sector := bySource(findings, "sector")
	require.Len(t, sector, 2)
	assert.Equal(t, screening.SeverityHigh, sector[0].Severity)
	assert.Equal(t, screening.CategoryRegulatory, sector[0].Category)
	assert.Equal(t, screening.SeverityMedium, sector[1].Severity)
	assert.Equal(t, screening.CategoryNaming, sector[1].Category)
}

func TestSiblingRule(t *testing.T) {
	d := newDetector(t)

	findings := d.Detect(Input{
		Query: "Generic Parts Inc",
		Entities: []screening.ResolvedEntity{{
			MatchedName:      "ZTE Kangxun Telecom Co., Ltd.",
			MatchType:        screening.MatchInferred,
			Confidence:       1,
			RelationshipPath: []string{"Generic Parts Inc", "ZTE Kangxun Telecom", "ZTE Kangxun Telecom Co., Ltd."},
		}},
	})
	sib := bySource(findings, "sibling")
	require.Len(t, sib, 1)
	assert.Equal(t, screening.SeverityHigh, sib[0].Severity)
	assert.Equal(t, screening.CategoryOwnership, sib[0].Category)
	assert.Empty(t, bySource(findings, "ownership"), "sibling findings stay distinct from parent/subsidiary findings")
}

func TestAvailabilityRule(t *testing.T) {
	d := newDetector(t)
	findings := d.Detect(Input{Query: "Acme", Advisories: []string{"Restricted-entity list unavailable"}})
	require.Len(t, findings, 1)
	assert.Equal(t, screening.SeverityInfo, findings[0].Severity)
	assert.Equal(t, screening.CategoryDataAvailability, findings[0].Category)
}

func TestNoFindingsForCleanName(t *testing.T) {
	d := newDetector(t)
	assert.Empty(t, d.Detect(Input{Query: "Acme Office Supplies", Normalized: "acme office supplies"}))
}

func TestDetectOrdering(t *testing.T) {
	d := newDetector(t)
	in := Input{
		Query:    "Pyongyang Semiconductor Works",
		Location: "Moscow",
		Entities: []screening.ResolvedEntity{
			{MatchedName: "Korea Tangun Trading", MatchType: screening.MatchFuzzy, Confidence: 0.75},
		},
		Advisories: []string{"Ownership lookup unavailable"},
	}
	first := d.Detect(in)
	require.NotEmpty(t, first)
	for i := 1; i < len(first); i++ {
		assert.GreaterOrEqual(t, first[i-1].Severity, first[i].Severity)
	}
	assert.Equal(t, first, d.Detect(in))
}

func TestCELRule(t *testing.T) {
	rule, err := NewCELRule(policy.CustomRule{
		ID:          "holding_shell",
		Description: "Holding company with listed ties",
		Expression:  `normalized.contains("holding") && (direct_matches + ownership_matches) > 0`,
		Severity:    screening.SeverityMedium,
		Category:    screening.CategoryNaming,
	})
	require.NoError(t, err)
	assert.Equal(t, "custom:holding_shell", rule.Name)

	fired := rule.Evaluate(Input{
		Normalized: "pacific holding",
		Entities:   []screening.ResolvedEntity{{MatchType: screening.MatchParent}},
	})
	require.Len(t, fired, 1)
	assert.Equal(t, screening.SeverityMedium, fired[0].Severity)
	assert.Equal(t, "custom:holding_shell", fired[0].Source)

	assert.Empty(t, rule.Evaluate(Input{Normalized: "pacific holding"}))
}

func TestCELRuleEvalFailureIsNotAdvisory(t *testing.T) {
	rule, err := NewCELRule(policy.CustomRule{
		ID:         "first_match",
		Expression: `matched_names[0] == "ZTE Corporation"`,
		Severity:   screening.SeverityHigh,
		Category:   screening.CategoryNaming,
	})
	require.NoError(t, err)

	got := rule.Evaluate(Input{Normalized: "acme widgets"})
	require.Len(t, got, 1)
	assert.Equal(t, screening.SeverityInfo, got[0].Severity)
	assert.Equal(t, screening.CategoryNaming, got[0].Category)
	assert.Contains(t, got[0].Description, "could not be evaluated")

	rule, err = NewCELRule(policy.CustomRule{
		ID:         "misfiled",
		Expression: `matched_names[0] == "ZTE Corporation"`,
		Severity:   screening.SeverityInfo,
		Category:   screening.CategoryDataAvailability,
	})
	require.NoError(t, err)
	got = rule.Evaluate(Input{Normalized: "acme widgets"})
	require.Len(t, got, 1)
	assert.NotEqual(t, screening.CategoryDataAvailability, got[0].Category)
}

func TestCELRuleRejects(t *testing.T) {
	_, err := NewCELRule(policy.CustomRule{ID: "bad", Expression: `name +`})
	require.Error(t, err)

	_, err = NewCELRule(policy.CustomRule{ID: "not_bool", Expression: `direct_matches + 1`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boolean")

	_, err = NewCELRule(policy.CustomRule{ID: "unknown_var", Expression: `revenue > 10`})
	require.Error(t, err)
}
