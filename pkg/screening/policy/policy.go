// Package policy loads the versioned scoring policy: severity points, level
// thresholds, jurisdiction and sector tables, recommendation templates and
// custom rules.
//
// Policies are YAML documents validated against an embedded JSON Schema and
// gated on their semantic version, so compliance teams can change tables
// without a code change.
package policy

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/exposure/pkg/screening"
)

//go:embed schema.json
var schemaJSON []byte

//go:embed default_policy.yaml
var defaultPolicyYAML []byte

const schemaURL = "https://exposure.schemas.local/policy.schema.json"

// SupportedVersions is the range of policy versions this build understands.
const SupportedVersions = ">= 1.0.0, < 2.0.0"

// Policy is a parsed, validated scoring policy.
type Policy struct {
	Version       *semver.Version
	Description   string
	Points        map[screening.Severity]float64
	Thresholds    []Threshold // ascending by Min
	CriticalFloor float64

	ListUnavailableConfidence      float64
	OwnershipUnavailableConfidence float64

	Jurisdictions   []Jurisdiction
	Sectors         []Sector
	Recommendations map[screening.RiskLevel][]screening.Recommendation
	Addenda         map[screening.Category][]screening.Recommendation
	CustomRules     []CustomRule
}

// Threshold is the inclusive lower bound of a risk level.
type Threshold struct {
	Level screening.RiskLevel
	Min   float64
}

// Jurisdiction is one row of the jurisdiction risk table.
type Jurisdiction struct {
	Name     string
	Tier     string
	Severity screening.Severity
	Terms    []string
	pattern  *regexp.Regexp
}

// Match returns the first table term found in text as a whole word,
// ignoring case.
func (j Jurisdiction) Match(text string) (string, bool) {
	if j.pattern == nil || text == "" {
		return "", false
	}
	m := j.pattern.FindString(text)
	return m, m != ""
}

// Sector is one row of the sensitive-sector table.
type Sector struct {
	Name     string
	Pattern  string
	Severity screening.Severity
	Category screening.Category
	pattern  *regexp.Regexp
}

// Match returns the keyword of text matched by the sector pattern.
func (s Sector) Match(text string) (string, bool) {
	if s.pattern == nil || text == "" {
		return "", false
	}
	m := s.pattern.FindString(text)
	return m, m != ""
}

// CustomRule is a CEL expression that emits a finding when it evaluates true.
type CustomRule struct {
	ID          string
	Description string
	Expression  string
	Severity    screening.Severity
	Category    screening.Category
}

// document mirrors the YAML layout.
type document struct {
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
	Scoring     struct {
		Points        map[string]float64 `yaml:"points"`
		Thresholds    map[string]float64 `yaml:"thresholds"`
		CriticalFloor float64            `yaml:"critical_floor"`
	} `yaml:"scoring"`
	Confidence struct {
		ListUnavailable      *float64 `yaml:"list_unavailable"`
		OwnershipUnavailable *float64 `yaml:"ownership_unavailable"`
	} `yaml:"confidence"`
	Jurisdictions []struct {
		Name  string   `yaml:"name"`
		Tier  string   `yaml:"tier"`
		Terms []string `yaml:"terms"`
	} `yaml:"jurisdictions"`
	Sectors []struct {
		Name     string `yaml:"name"`
		Pattern  string `yaml:"pattern"`
		Severity string `yaml:"severity"`
		Category string `yaml:"category"`
	} `yaml:"sectors"`
	Recommendations map[string][]screening.Recommendation `yaml:"recommendations"`
	Addenda         map[string][]screening.Recommendation `yaml:"addenda"`
	CustomRules     []struct {
		ID          string `yaml:"id"`
		Description string `yaml:"description"`
		Expression  string `yaml:"expression"`
		Severity    string `yaml:"severity"`
		Category    string `yaml:"category"`
	} `yaml:"custom_rules"`
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("policy schema load failed: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("policy schema compile failed: %w", schemaErr)
		}
	})
	return schema, schemaErr
}

// Default returns the policy embedded in the binary.
func Default() (*Policy, error) {
	p, err := Parse(defaultPolicyYAML)
	if err != nil {
		return nil, fmt.Errorf("default policy: %w", err)
	}
	return p, nil
}

// DefaultYAML returns the embedded default policy document.
func DefaultYAML() []byte {
	return bytes.Clone(defaultPolicyYAML)
}

// Load reads and parses a policy file.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load policy %q: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse policy %q: %w", path, err)
	}
	return p, nil
}

// Parse validates a YAML policy document and compiles it.
func Parse(data []byte) (*Policy, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	return compile(&doc)
}

func validateSchema(data []byte) error {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode policy: %w", err)
	}
	// Round-trip through JSON so the validator sees JSON types only.
	js, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("policy is not JSON-compatible: %w", err)
	}
	var instance any
	if err := json.Unmarshal(js, &instance); err != nil {
		return fmt.Errorf("policy is not JSON-compatible: %w", err)
	}

	s, err := compiledSchema()
	if err != nil {
		return err
	}
	if err := s.Validate(instance); err != nil {
		return fmt.Errorf("policy schema validation failed: %w", err)
	}
	return nil
}

func compile(doc *document) (*Policy, error) {
	version, err := semver.NewVersion(doc.Version)
	if err != nil {
		return nil, fmt.Errorf("policy version %q: %w", doc.Version, err)
	}
	supported, err := semver.NewConstraint(SupportedVersions)
	if err != nil {
		return nil, err
	}
	if !supported.Check(version) {
		return nil, fmt.Errorf("policy version %s is outside supported range %q", version, SupportedVersions)
	}

	p := &Policy{
		Version:                        version,
		Description:                    doc.Description,
		Points:                         make(map[screening.Severity]float64, len(doc.Scoring.Points)),
		CriticalFloor:                  doc.Scoring.CriticalFloor,
		ListUnavailableConfidence:      0.2,
		OwnershipUnavailableConfidence: 0.7,
		Recommendations:                make(map[screening.RiskLevel][]screening.Recommendation),
		Addenda:                        make(map[screening.Category][]screening.Recommendation),
	}
	if v := doc.Confidence.ListUnavailable; v != nil {
		p.ListUnavailableConfidence = *v
	}
	if v := doc.Confidence.OwnershipUnavailable; v != nil {
		p.OwnershipUnavailableConfidence = *v
	}

	for name, pts := range doc.Scoring.Points {
		sev, err := screening.ParseSeverity(name)
		if err != nil {
			return nil, err
		}
		p.Points[sev] = pts
	}

	for name, lower := range doc.Scoring.Thresholds {
		lvl, err := screening.ParseRiskLevel(name)
		if err != nil {
			return nil, err
		}
		p.Thresholds = append(p.Thresholds, Threshold{Level: lvl, Min: lower})
	}
	sort.Slice(p.Thresholds, func(i, j int) bool { return p.Thresholds[i].Level < p.Thresholds[j].Level })
	for i := 1; i < len(p.Thresholds); i++ {
		if p.Thresholds[i].Min <= p.Thresholds[i-1].Min {
			return nil, fmt.Errorf("threshold for %s (%v) must exceed threshold for %s (%v)",
				p.Thresholds[i].Level, p.Thresholds[i].Min, p.Thresholds[i-1].Level, p.Thresholds[i-1].Min)
		}
	}

	for _, j := range doc.Jurisdictions {
		sev := screening.SeverityHigh
		if j.Tier == "critical" {
			sev = screening.SeverityCritical
		}
		quoted := make([]string, 0, len(j.Terms))
		for _, term := range j.Terms {
			quoted = append(quoted, regexp.QuoteMeta(strings.TrimSpace(term)))
		}
		re, err := regexp.Compile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
		if err != nil {
			return nil, fmt.Errorf("jurisdiction %q: %w", j.Name, err)
		}
		p.Jurisdictions = append(p.Jurisdictions, Jurisdiction{
			Name: j.Name, Tier: j.Tier, Severity: sev, Terms: j.Terms, pattern: re,
		})
	}

	for _, s := range doc.Sectors {
		sev, err := screening.ParseSeverity(s.Severity)
		if err != nil {
			return nil, fmt.Errorf("sector %q: %w", s.Name, err)
		}
		re, err := regexp.Compile(`(?i)` + s.Pattern)
		if err != nil {
			return nil, fmt.Errorf("sector %q pattern: %w", s.Name, err)
		}
		p.Sectors = append(p.Sectors, Sector{
			Name: s.Name, Pattern: s.Pattern, Severity: sev, Category: screening.Category(s.Category), pattern: re,
		})
	}

	for name, templates := range doc.Recommendations {
		lvl, err := screening.ParseRiskLevel(name)
		if err != nil {
			return nil, err
		}
		p.Recommendations[lvl] = templates
	}
	for name, templates := range doc.Addenda {
		cat := screening.Category(name)
		if !cat.Valid() {
			return nil, fmt.Errorf("unknown addendum category %q", name)
		}
		p.Addenda[cat] = templates
	}

	seen := make(map[string]bool, len(doc.CustomRules))
	for _, r := range doc.CustomRules {
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate custom rule id %q", r.ID)
		}
		seen[r.ID] = true
		sev, err := screening.ParseSeverity(r.Severity)
		if err != nil {
			return nil, fmt.Errorf("custom rule %q: %w", r.ID, err)
		}
		p.CustomRules = append(p.CustomRules, CustomRule{
			ID: r.ID, Description: r.Description, Expression: r.Expression,
			Severity: sev, Category: screening.Category(r.Category),
		})
	}

	return p, nil
}

// PointsFor returns the score contribution of one finding at severity s.
func (p *Policy) PointsFor(s screening.Severity) float64 {
	return p.Points[s]
}

// Level maps a score to its risk level. Scores below every threshold are Clear.
func (p *Policy) Level(score float64) screening.RiskLevel {
	for i := len(p.Thresholds) - 1; i >= 0; i-- {
		if score >= p.Thresholds[i].Min {
			return p.Thresholds[i].Level
		}
	}
	return screening.RiskClear
}

// VersionString returns the policy version for evidence records.
func (p *Policy) VersionString() string {
	if p == nil || p.Version == nil {
		return ""
	}
	return p.Version.String()
}
