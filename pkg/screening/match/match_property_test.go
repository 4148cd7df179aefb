//go:build property
// +build property

package match

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/exposure/pkg/screening/normalize"
)

func nonEmptyAlpha() gopter.Gen {
	return gen.AlphaString().SuchThat(func(s string) bool { return s != "" })
}

// Property: Match(variant(name), record(name)) has confidence 1.0 for any
// casing or padding of name.
func TestExactMatchIgnoresCaseAndLength(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("exact match is 1.0", prop.ForAll(
		func(name string, pad int) bool {
			if normalize.Company(name) == "" {
				return true
			}
			rec := record("EL-P", name)
			padding := strings.Repeat(" ", pad)
			for _, q := range []string{name, strings.ToUpper(name), strings.ToLower(name), padding + name + padding} {
				res, ok := Match(q, rec)
				if !ok || res.Confidence != ExactConfidence {
					return false
				}
			}
			return true
		},
		nonEmptyAlpha(),
		gen.IntRange(0, 8),
	))

	properties.TestingRun(t)
}

// Property: "X Semiconductor" against "X" is a partial match, never above
// the containment weight.
func TestContainmentBelowSelfMatch(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("containment stays below self-match", prop.ForAll(
		func(name string) bool {
			q, n := normalize.Company(name+" Semiconductor"), normalize.Company(name)
			if q == n || n == "" {
				return true
			}
			if c := Containment(q, n); c > ContainmentWeight || c >= ExactConfidence {
				return false
			}
			if res, ok := Match(name+" Semiconductor", record("EL-P", name)); ok {
				return res.Confidence <= ContainmentWeight && res.Confidence < ExactConfidence
			}
			return true
		},
		gen.AlphaString().SuchThat(func(s string) bool { return s != "" && len(s) <= 20 }),
	))

	properties.Property("self-match is exact", prop.ForAll(
		func(name string) bool {
			res, ok := Match(name, record("EL-P", name))
			return normalize.Company(name) == "" || (ok && res.Confidence == ExactConfidence)
		},
		nonEmptyAlpha(),
	))

	properties.TestingRun(t)
}
