// Package aggregate combines findings into one score, one risk level, a
// ranked recommendation list and a summary. It is a pure function of the
// findings and the policy it was built with.
package aggregate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Mindburn-Labs/exposure/pkg/screening"
	"github.com/Mindburn-Labs/exposure/pkg/screening/policy"
)

// MaxScore caps the risk score.
const MaxScore = 100.0

// Result is the aggregated verdict, without entity name or timestamps.
type Result struct {
	OverallRisk     screening.RiskLevel
	RiskScore       float64
	Recommendations []screening.Recommendation
	Summary         string
}

// Aggregator applies a scoring policy.
type Aggregator struct {
	policy *policy.Policy
}

// New returns an aggregator for p.
func New(p *policy.Policy) *Aggregator {
	return &Aggregator{policy: p}
}

// Aggregate scores findings and derives recommendations and summary.
func (a *Aggregator) Aggregate(findings []screening.Finding) Result {
	score := a.Score(findings)
	level := a.policy.Level(score)
	recs := a.Recommendations(level, findings)
	return Result{
		OverallRisk:     level,
		RiskScore:       score,
		Recommendations: recs,
		Summary:         Summary(level, score, findings, recs),
	}
}

// Score sums the points of every finding and caps the total at MaxScore.
// A Critical finding lifts the score to at least the policy's critical
// floor. Adding findings never lowers the score.
func (a *Aggregator) Score(findings []screening.Finding) float64 {
	score := 0.0
	critical := false
	for _, f := range findings {
		score += a.policy.PointsFor(f.Severity)
		if f.Severity == screening.SeverityCritical {
			critical = true
		}
	}
	if critical {
		score = max(score, a.policy.CriticalFloor)
	}
	return min(score, MaxScore)
}

// Recommendations returns the level templates followed by the addenda of
// every category present, deduplicated by action and ordered by priority.
// When an action appears twice the more urgent variant wins.
func (a *Aggregator) Recommendations(level screening.RiskLevel, findings []screening.Finding) []screening.Recommendation {
	var recs []screening.Recommendation
	recs = append(recs, a.policy.Recommendations[level]...)

	present := make(map[screening.Category]bool)
	for _, f := range findings {
		present[f.Category] = true
	}
	for _, cat := range addendumOrder {
		if present[cat] {
			recs = append(recs, a.policy.Addenda[cat]...)
		}
	}

	out := make([]screening.Recommendation, 0, len(recs))
	pos := make(map[string]int, len(recs))
	for _, r := range recs {
		if i, ok := pos[r.Action]; ok {
			if r.Priority.Rank() < out[i].Priority.Rank() {
				out[i] = r
			}
			continue
		}
		pos[r.Action] = len(out)
		out = append(out, r)
	}
	for i := range out {
		out[i].Steps = append([]string(nil), out[i].Steps...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority.Rank() < out[j].Priority.Rank()
	})
	return out
}

var addendumOrder = []screening.Category{
	screening.CategoryDirectMatch,
	screening.CategoryOwnership,
	screening.CategoryGeographic,
	screening.CategoryNaming,
	screening.CategoryRegulatory,
	screening.CategoryDataAvailability,
}

// Summary renders a one-line verdict from counts only.
func Summary(level screening.RiskLevel, score float64, findings []screening.Finding, recs []screening.Recommendation) string {
	var critical, high, advisories int
	for _, f := range findings {
		switch f.Severity {
		case screening.SeverityCritical:
			critical++
		case screening.SeverityHigh, screening.SeverityWarning:
			high++
		}
		if f.Category == screening.CategoryDataAvailability {
			advisories++
		}
	}
	urgent := 0
	for _, r := range recs {
		if r.Priority == screening.PriorityUrgent {
			urgent++
		}
	}

	var b strings.Builder
	if critical == 0 && high == 0 && level <= screening.RiskLow {
		fmt.Fprintf(&b, "%s (score %.0f): no significant restricted-party exposure identified.", level, score)
	} else {
		fmt.Fprintf(&b, "%s (score %.0f): %s and %s; %s required.",
			level, score,
			plural(critical, "critical finding"),
			plural(high, "high-severity finding"),
			plural(urgent, "urgent action"))
	}
	if advisories > 0 {
		fmt.Fprintf(&b, " %s unavailable; result is not fully verified.", plural(advisories, "data source"))
	}
	return b.String()
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
