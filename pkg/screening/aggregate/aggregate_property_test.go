//go:build property
// +build property

package aggregate_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/exposure/pkg/screening"
	"github.com/Mindburn-Labs/exposure/pkg/screening/aggregate"
	"github.com/Mindburn-Labs/exposure/pkg/screening/policy"
)

func findings(sevs []int) []screening.Finding {
	out := make([]screening.Finding, len(sevs))
	for i, s := range sevs {
		out[i] = screening.Finding{Severity: screening.Severity(s), Category: screening.CategoryNaming, Source: "gen"}
	}
	return out
}

// bucket walks the thresholds from the bottom up.
func bucket(p *policy.Policy, score float64) screening.RiskLevel {
	level := screening.RiskClear
	for _, th := range p.Thresholds {
		if score >= th.Min {
			level = th.Level
		}
	}
	return level
}

func severities() gopter.Gen {
	return gen.SliceOf(gen.IntRange(int(screening.SeverityInfo), int(screening.SeverityCritical)))
}

// Property: 0 <= score <= 100 and the level is the bucket the score falls in.
func TestScoreBounded(t *testing.T) {
	p, err := policy.Default()
	if err != nil {
		t.Fatal(err)
	}
	agg := aggregate.New(p)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("score is bounded and bucketed", prop.ForAll(
		func(sevs []int) bool {
			res := agg.Aggregate(findings(sevs))
			if res.RiskScore < 0 || res.RiskScore > aggregate.MaxScore {
				return false
			}
			return res.OverallRisk == bucket(p, res.RiskScore)
		},
		severities(),
	))

	properties.TestingRun(t)
}

// Property: Score(fs + critical) >= Score(fs)
func TestCriticalNeverLowersScore(t *testing.T) {
	p, err := policy.Default()
	if err != nil {
		t.Fatal(err)
	}
	agg := aggregate.New(p)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("adding a critical finding never lowers the score", prop.ForAll(
		func(sevs []int) bool {
			fs := findings(sevs)
			before := agg.Score(fs)
			after := agg.Score(append(fs, screening.Finding{Severity: screening.SeverityCritical, Category: screening.CategoryDirectMatch}))
			return after >= before && agg.Aggregate(fs).OverallRisk <= p.Level(after)
		},
		severities(),
	))

	properties.TestingRun(t)
}
