// Package screening holds the domain model shared by the restricted-party
// screening pipeline: list records, ownership edges, matches, findings and
// the terminal RiskAssessment.
//
// Every value in this package is created fresh per resolution call and is
// never mutated once returned.
package screening

import (
	"fmt"
	"strings"
	"time"
)

// RestrictedEntityRecord is one entry of a restricted-entity list snapshot.
type RestrictedEntityRecord struct {
	ID             string   `json:"id" yaml:"id"`
	CanonicalName  string   `json:"canonical_name" yaml:"canonical_name"`
	AlternateNames []string `json:"alternate_names,omitempty" yaml:"alternate_names,omitempty"`
	Jurisdiction   string   `json:"jurisdiction,omitempty" yaml:"jurisdiction,omitempty"`
	City           string   `json:"city,omitempty" yaml:"city,omitempty"`
	EffectiveDate  string   `json:"effective_date,omitempty" yaml:"effective_date,omitempty"` // YYYY-MM-DD
	Citation       string   `json:"citation,omitempty" yaml:"citation,omitempty"`
	LicensePolicy  string   `json:"license_policy,omitempty" yaml:"license_policy,omitempty"`
}

// Relation is the tier of an ownership edge.
type Relation string

const (
	RelationParent     Relation = "PARENT"
	RelationSubsidiary Relation = "SUBSIDIARY"
	RelationAffiliate  Relation = "AFFILIATE"
)

// Valid reports whether r is a known relation tier.
func (r Relation) Valid() bool {
	switch r {
	case RelationParent, RelationSubsidiary, RelationAffiliate:
		return true
	}
	return false
}

// OwnershipEdge is a directed subject -> related ownership relationship as
// reported by an ownership lookup collaborator.
type OwnershipEdge struct {
	SubjectName         string   `json:"subject_name" yaml:"subject_name"`
	RelatedName         string   `json:"related_name" yaml:"related_name"`
	Relation            Relation `json:"relation" yaml:"relation"`
	OwnershipPercentage *float64 `json:"ownership_percentage,omitempty" yaml:"ownership_percentage,omitempty"`
	EvidenceSource      string   `json:"evidence_source,omitempty" yaml:"evidence_source,omitempty"`
}

// MatchType classifies how a name was tied to a restricted entity.
type MatchType string

const (
	MatchDirect        MatchType = "DIRECT"
	MatchAlternateName MatchType = "ALTERNATE_NAME"
	MatchFuzzy         MatchType = "FUZZY"
	MatchContainment   MatchType = "CONTAINMENT"
	MatchParent        MatchType = "PARENT"
	MatchSubsidiary    MatchType = "SUBSIDIARY"
	MatchAffiliate     MatchType = "AFFILIATE"
	MatchInferred      MatchType = "INFERRED"
)

// IsDirect reports whether the match came from scoring the queried name itself.
func (m MatchType) IsDirect() bool {
	switch m {
	case MatchDirect, MatchAlternateName, MatchFuzzy, MatchContainment:
		return true
	}
	return false
}

// IsOwnership reports whether the match was propagated over an ownership edge.
func (m MatchType) IsOwnership() bool {
	switch m {
	case MatchParent, MatchSubsidiary, MatchAffiliate:
		return true
	}
	return false
}

// MatchTypeForRelation maps an ownership relation to its match type.
func MatchTypeForRelation(r Relation) MatchType {
	switch r {
	case RelationParent:
		return MatchParent
	case RelationSubsidiary:
		return MatchSubsidiary
	case RelationAffiliate:
		return MatchAffiliate
	}
	return ""
}

// MatchResult is the score of one query against one restricted record.
type MatchResult struct {
	Record     RestrictedEntityRecord `json:"record"`
	MatchType  MatchType              `json:"match_type"`
	Confidence float64                `json:"confidence"`
	Evidence   []string               `json:"evidence"`
}

// ResolvedEntity ties a restricted record to the queried name, either
// directly (empty path) or through an ownership relationship.
type ResolvedEntity struct {
	MatchedName      string    `json:"matched_name"`
	RecordID         string    `json:"record_id"`
	Citation         string    `json:"citation,omitempty"`
	MatchType        MatchType `json:"match_type"`
	Confidence       float64   `json:"confidence"`
	EvidencePoints   []string  `json:"evidence_points"`
	RelationshipPath []string  `json:"relationship_path,omitempty"`
}

// Validate checks the structural invariants of a resolved entity. A failure
// is a programming defect in the producer, not a data problem.
func (e ResolvedEntity) Validate(query string) error {
	if e.Confidence < 0 || e.Confidence > 1 {
		return &InvariantError{Entity: e.MatchedName, Reason: fmt.Sprintf("confidence %v outside [0,1]", e.Confidence)}
	}
	if !e.MatchType.IsOwnership() {
		return nil
	}
	if len(e.RelationshipPath) < 2 {
		return &InvariantError{Entity: e.MatchedName, Reason: "ownership match without relationship path"}
	}
	if e.RelationshipPath[0] != query {
		return &InvariantError{Entity: e.MatchedName, Reason: fmt.Sprintf("relationship path starts with %q, want %q", e.RelationshipPath[0], query)}
	}
	if last := e.RelationshipPath[len(e.RelationshipPath)-1]; last != e.MatchedName {
		return &InvariantError{Entity: e.MatchedName, Reason: fmt.Sprintf("relationship path ends with %q", last)}
	}
	return nil
}

// Finding is one discrete, typed signal contributing to the risk score.
type Finding struct {
	Severity    Severity `json:"severity"`
	Category    Category `json:"category"`
	Description string   `json:"description"`
	Evidence    []string `json:"evidence,omitempty"`
	Confidence  float64  `json:"confidence"`
	Source      string   `json:"source"`
}

// Recommendation is one remediation step attached to an assessment.
type Recommendation struct {
	Action        string   `json:"action" yaml:"action"`
	Priority      Priority `json:"priority" yaml:"priority"`
	Timeline      string   `json:"timeline" yaml:"timeline"`
	Rationale     string   `json:"rationale" yaml:"rationale"`
	LegalCitation string   `json:"legal_citation,omitempty" yaml:"legal_citation,omitempty"`
	Steps         []string `json:"steps,omitempty" yaml:"steps,omitempty"`
}

// Priority orders recommendations; lower rank is more urgent.
type Priority string

const (
	PriorityUrgent   Priority = "urgent"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityStandard Priority = "standard"
)

// Rank returns the sort rank of p. Unknown priorities sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityStandard:
		return 3
	}
	return 4
}

// RiskAssessment is the terminal output of one resolution run.
type RiskAssessment struct {
	EntityName       string           `json:"entity_name"`
	NormalizedName   string           `json:"normalized_name"`
	OverallRisk      RiskLevel        `json:"overall_risk"`
	RiskScore        float64          `json:"risk_score"`
	Confidence       float64          `json:"confidence"`
	RiskFactors      []Finding        `json:"risk_factors"`
	ResolvedEntities []ResolvedEntity `json:"resolved_entities"`
	Recommendations  []Recommendation `json:"recommendations"`
	EvidenceTrail    []string         `json:"evidence_trail"`
	DataAvailability []string         `json:"data_availability,omitempty"`
	Summary          string           `json:"summary"`
	ListVersion      string           `json:"list_version,omitempty"`
	PolicyVersion    string           `json:"policy_version,omitempty"`
	GeneratedAt      time.Time        `json:"generated_at"`
}

// Verified reports whether every upstream data source was available.
func (a *RiskAssessment) Verified() bool {
	return len(a.DataAvailability) == 0
}

// CountSeverity returns the number of risk factors at severity s.
func (a *RiskAssessment) CountSeverity(s Severity) int {
	n := 0
	for _, f := range a.RiskFactors {
		if f.Severity == s {
			n++
		}
	}
	return n
}

// Supplier is one row handed over by supplier ingestion.
type Supplier struct {
	ID           string            `json:"id,omitempty" yaml:"id,omitempty"`
	OriginalName string            `json:"original_name" yaml:"original_name"`
	Location     string            `json:"location,omitempty" yaml:"location,omitempty"`
	AnnualSpend  float64           `json:"annual_spend,omitempty" yaml:"annual_spend,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// Label returns a short human identifier for log lines.
func (s Supplier) Label() string {
	if s.ID != "" {
		return s.ID + " (" + strings.TrimSpace(s.OriginalName) + ")"
	}
	return strings.TrimSpace(s.OriginalName)
}
