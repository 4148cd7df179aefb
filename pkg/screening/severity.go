package screening

import (
	"fmt"
	"strings"
)

// Severity ranks a Finding. Higher values are more severe.
type Severity int

const (
	SeverityInfo Severity = iota + 1
	SeverityLow
	SeverityMedium
	SeverityWarning
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityInfo:     "INFO",
	SeverityLow:      "LOW",
	SeverityMedium:   "MEDIUM",
	SeverityWarning:  "WARNING",
	SeverityHigh:     "HIGH",
	SeverityCritical: "CRITICAL",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseSeverity parses a case-insensitive severity name.
func ParseSeverity(s string) (Severity, error) {
	want := strings.ToUpper(strings.TrimSpace(s))
	for sev, name := range severityNames {
		if name == want {
			return sev, nil
		}
	}
	return 0, fmt.Errorf("unknown severity %q", s)
}

func (s Severity) MarshalText() ([]byte, error) {
	if _, ok := severityNames[s]; !ok {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	v, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Severities lists every severity from least to most severe.
func Severities() []Severity {
	return []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityWarning, SeverityHigh, SeverityCritical}
}

// Category groups findings by the kind of signal that produced them.
type Category string

const (
	CategoryDirectMatch      Category = "DIRECT_MATCH"
	CategoryOwnership        Category = "OWNERSHIP"
	CategoryGeographic       Category = "GEOGRAPHIC"
	CategoryNaming           Category = "NAMING"
	CategoryRegulatory       Category = "REGULATORY"
	CategoryDataAvailability Category = "DATA_AVAILABILITY"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryDirectMatch, CategoryOwnership, CategoryGeographic, CategoryNaming, CategoryRegulatory, CategoryDataAvailability:
		return true
	}
	return false
}

// RiskLevel is the overall verdict bucket of an assessment.
type RiskLevel int

const (
	RiskClear RiskLevel = iota + 1
	RiskLow
	RiskMedium
	RiskHigh
	RiskCritical
)

var riskLevelNames = map[RiskLevel]string{
	RiskClear:    "CLEAR",
	RiskLow:      "LOW",
	RiskMedium:   "MEDIUM",
	RiskHigh:     "HIGH",
	RiskCritical: "CRITICAL",
}

func (r RiskLevel) String() string {
	if name, ok := riskLevelNames[r]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseRiskLevel parses a case-insensitive level name.
func ParseRiskLevel(s string) (RiskLevel, error) {
	want := strings.ToUpper(strings.TrimSpace(s))
	for lvl, name := range riskLevelNames {
		if name == want {
			return lvl, nil
		}
	}
	return 0, fmt.Errorf("unknown risk level %q", s)
}

func (r RiskLevel) MarshalText() ([]byte, error) {
	if _, ok := riskLevelNames[r]; !ok {
		return nil, fmt.Errorf("invalid risk level %d", int(r))
	}
	return []byte(r.String()), nil
}

func (r *RiskLevel) UnmarshalText(text []byte) error {
	v, err := ParseRiskLevel(string(text))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// RiskLevels lists every level from Clear to Critical.
func RiskLevels() []RiskLevel {
	return []RiskLevel{RiskClear, RiskLow, RiskMedium, RiskHigh, RiskCritical}
}
