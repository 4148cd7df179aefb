// Package detect turns resolved matches and raw-name heuristics into typed
// findings.
//
// Each Rule is independent and side-effect free given its Input and the
// policy tables it was built from. Rules may fire zero, one, or many times.
package detect

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Mindburn-Labs/exposure/pkg/screening"
	"github.com/Mindburn-Labs/exposure/pkg/screening/policy"
)

// CriticalConfidence is the direct-match confidence at which a finding
// becomes Critical instead of Warning.
const CriticalConfidence = 0.9

// Input is everything the rules see for one supplier.
type Input struct {
	Query      string // raw, non-normalized name
	Normalized string
	Location   string
	Entities   []screening.ResolvedEntity
	// Advisories name upstream data sources that could not be consulted.
	Advisories []string
}

// Rule is a named finding generator.
type Rule struct {
	Name        string
	Description string
	Category    screening.Category
	Evaluate    func(Input) []screening.Finding
}

// Detector runs a fixed rule set.
type Detector struct {
	rules []Rule
}

// New builds the built-in rules from the policy tables, followed by any
// custom CEL rules the policy declares.
func New(p *policy.Policy) (*Detector, error) {
	d := &Detector{}
	d.rules = append(d.rules,
		DirectListRule(),
		OwnershipRule(),
		JurisdictionRule(p.Jurisdictions),
		SectorRule(p.Sectors),
		SiblingRule(),
		AvailabilityRule(),
	)
	for _, cr := range p.CustomRules {
		r, err := NewCELRule(cr)
		if err != nil {
			return nil, err
		}
		d.rules = append(d.rules, r)
	}
	return d, nil
}

// Rules returns the rule names in evaluation order.
func (d *Detector) Rules() []string {
	names := make([]string, 0, len(d.rules))
	for _, r := range d.rules {
		names = append(names, r.Name)
	}
	return names
}

// Detect evaluates every rule and returns the findings ordered by severity
// (most severe first), then category, source and description.
func (d *Detector) Detect(in Input) []screening.Finding {
	var findings []screening.Finding
	for _, r := range d.rules {
		findings = append(findings, r.Evaluate(in)...)
	}
	SortFindings(findings)
	return findings
}

// SortFindings orders findings deterministically.
func SortFindings(findings []screening.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.Severity != b.Severity {
			return a.Severity > b.Severity
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.Description < b.Description
	})
}

// DirectListRule flags suppliers that match a listed entity by name.
func DirectListRule() Rule {
	return Rule{
		Name:        "direct_list",
		Description: "Supplier name matches a restricted entity",
		Category:    screening.CategoryDirectMatch,
		Evaluate: func(in Input) []screening.Finding {
			var out []screening.Finding
			for _, e := range in.Entities {
				if !e.MatchType.IsDirect() {
					continue
				}
				sev := screening.SeverityWarning
				if e.Confidence >= CriticalConfidence {
					sev = screening.SeverityCritical
				}
				out = append(out, screening.Finding{
					Severity:    sev,
					Category:    screening.CategoryDirectMatch,
					Description: fmt.Sprintf("Supplier matches restricted entity %q (%s, confidence %.2f)", e.MatchedName, strings.ToLower(string(e.MatchType)), e.Confidence),
					Evidence:    append([]string(nil), e.EvidencePoints...),
					Confidence:  e.Confidence,
					Source:      "direct_list",
				})
			}
			return out
		},
	}
}

// OwnershipRule flags parents, subsidiaries and affiliates on the list.
func OwnershipRule() Rule {
	return Rule{
		Name:        "ownership",
		Description: "Related company is a restricted entity",
		Category:    screening.CategoryOwnership,
		Evaluate: func(in Input) []screening.Finding {
			var out []screening.Finding
			for _, e := range in.Entities {
				if !e.MatchType.IsOwnership() {
					continue
				}
				sev := screening.SeverityWarning
				if e.MatchType == screening.MatchParent {
					sev = screening.SeverityCritical
				}
				related := e.MatchedName
				if len(e.RelationshipPath) >= 2 {
					related = e.RelationshipPath[1]
				}
				evidence := []string{"relationship path: " + strings.Join(e.RelationshipPath, " -> ")}
				evidence = append(evidence, e.EvidencePoints...)
				out = append(out, screening.Finding{
					Severity:    sev,
					Category:    screening.CategoryOwnership,
					Description: fmt.Sprintf("%s %q is restricted entity %q", relationLabel(e.MatchType), related, e.MatchedName),
					Evidence:    evidence,
					Confidence:  e.Confidence,
					Source:      "ownership",
				})
			}
			return out
		},
	}
}

func relationLabel(mt screening.MatchType) string {
	switch mt {
	case screening.MatchParent:
		return "Parent company"
	case screening.MatchSubsidiary:
		return "Subsidiary"
	case screening.MatchAffiliate:
		return "Affiliate"
	}
	return "Related company"
}

// JurisdictionRule flags names and locations that reference a listed
// jurisdiction. Each jurisdiction fires at most once per supplier.
func JurisdictionRule(table []policy.Jurisdiction) Rule {
	return Rule{
		Name:        "jurisdiction",
		Description: "Supplier references an embargoed or export-controlled jurisdiction",
		Category:    screening.CategoryGeographic,
		Evaluate: func(in Input) []screening.Finding {
			var out []screening.Finding
			for _, j := range table {
				var evidence []string
				if term, ok := j.Match(in.Query); ok {
					evidence = append(evidence, fmt.Sprintf("name %q contains %q", in.Query, term))
				}
				if term, ok := j.Match(in.Location); ok {
					evidence = append(evidence, fmt.Sprintf("location %q contains %q", in.Location, term))
				}
				if len(evidence) == 0 {
					continue
				}
				out = append(out, screening.Finding{
					Severity:    j.Severity,
					Category:    screening.CategoryGeographic,
					Description: fmt.Sprintf("Supplier references %s (%s-risk jurisdiction)", j.Name, j.Tier),
					Evidence:    evidence,
					Confidence:  1,
					Source:      "jurisdiction",
				})
			}
			return out
		},
	}
}

// SectorRule flags names that indicate a sensitive sector.
func SectorRule(table []policy.Sector) Rule {
	return Rule{
		Name:        "sector",
		Description: "Supplier name indicates a sensitive sector",
		Category:    screening.CategoryRegulatory,
		Evaluate: func(in Input) []screening.Finding {
			var out []screening.Finding
			for _, s := range table {
				kw, ok := s.Match(in.Query)
				if !ok {
					continue
				}
				out = append(out, screening.Finding{
					Severity:    s.Severity,
					Category:    s.Category,
					Description: fmt.Sprintf("Supplier name indicates the %s sector", s.Name),
					Evidence:    []string{fmt.Sprintf("keyword %q in %q", kw, in.Query)},
					Confidence:  1,
					Source:      "sector",
				})
			}
			return out
		},
	}
}

// SiblingRule flags companies that share a parent with the supplier and are
// themselves listed.
func SiblingRule() Rule {
	return Rule{
		Name:        "sibling",
		Description: "Sibling company is a restricted entity",
		Category:    screening.CategoryOwnership,
		Evaluate: func(in Input) []screening.Finding {
			var out []screening.Finding
			for _, e := range in.Entities {
				if e.MatchType != screening.MatchInferred {
					continue
				}
				sibling := e.MatchedName
				if len(e.RelationshipPath) >= 2 {
					sibling = e.RelationshipPath[1]
				}
				evidence := []string{"relationship path: " + strings.Join(e.RelationshipPath, " -> ")}
				evidence = append(evidence, e.EvidencePoints...)
				out = append(out, screening.Finding{
					Severity:    screening.SeverityHigh,
					Category:    screening.CategoryOwnership,
					Description: fmt.Sprintf("Sibling company %q matches restricted entity %q", sibling, e.MatchedName),
					Evidence:    evidence,
					Confidence:  e.Confidence,
					Source:      "sibling",
				})
			}
			return out
		},
	}
}

// AvailabilityRule turns data-source outages into advisory findings so that
// an unverified result is never reported as a plain clear.
func AvailabilityRule() Rule {
	return Rule{
		Name:        "availability",
		Description: "Upstream data source unavailable",
		Category:    screening.CategoryDataAvailability,
		Evaluate: func(in Input) []screening.Finding {
			out := make([]screening.Finding, 0, len(in.Advisories))
			for _, a := range in.Advisories {
				out = append(out, screening.Finding{
					Severity:    screening.SeverityInfo,
					Category:    screening.CategoryDataAvailability,
					Description: a,
					Confidence:  1,
					Source:      "availability",
				})
			}
			return out
		},
	}
}
