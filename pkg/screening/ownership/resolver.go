package ownership

import (
	"fmt"

	"github.com/Mindburn-Labs/exposure/pkg/screening"
	"github.com/Mindburn-Labs/exposure/pkg/screening/match"
	"github.com/Mindburn-Labs/exposure/pkg/screening/normalize"
)

// Fixed confidences per relation tier. They do not depend on how well the
// related name matched.
const (
	ParentConfidence     = 0.95
	SubsidiaryConfidence = 0.85
	AffiliateConfidence  = 0.75
)

// TierConfidence returns the fixed confidence of a relation tier.
func TierConfidence(r screening.Relation) float64 {
	switch r {
	case screening.RelationParent:
		return ParentConfidence
	case screening.RelationSubsidiary:
		return SubsidiaryConfidence
	case screening.RelationAffiliate:
		return AffiliateConfidence
	}
	return 0
}

// ResolveOwnershipMatches ties the edges out of subject to the restricted
// list. Related names must equal a record's canonical name after
// normalization; names reported by the ownership provider are taken as
// canonical already, so fuzzy matching is not applied here. Traversal is
// single-hop.
//
// Edges whose subject does not normalize to subject are ignored, as are
// edges with an unknown relation. The same (relation, related, record)
// triple is emitted once.
func ResolveOwnershipMatches(subject string, edges []screening.OwnershipEdge, idx *match.Index) []screening.ResolvedEntity {
	if idx.Len() == 0 || len(edges) == 0 {
		return nil
	}
	subjKey := normalize.Company(subject)

	var out []screening.ResolvedEntity
	seen := make(map[string]bool)
	for _, e := range edges {
		if !e.Relation.Valid() {
			continue
		}
		if e.SubjectName != "" && normalize.Company(e.SubjectName) != subjKey {
			continue
		}
		for _, rec := range idx.ExactCanonical(e.RelatedName) {
			key := string(e.Relation) + "\x00" + normalize.Company(e.RelatedName) + "\x00" + rec.ID
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, screening.ResolvedEntity{
				MatchedName:      rec.CanonicalName,
				RecordID:         rec.ID,
				Citation:         rec.Citation,
				MatchType:        screening.MatchTypeForRelation(e.Relation),
				Confidence:       TierConfidence(e.Relation),
				EvidencePoints:   edgeEvidence(e, rec),
				RelationshipPath: []string{subject, e.RelatedName, rec.CanonicalName},
			})
		}
	}
	return out
}

func edgeEvidence(e screening.OwnershipEdge, rec screening.RestrictedEntityRecord) []string {
	rel := fmt.Sprintf("%s %q of %q", e.Relation, e.RelatedName, e.SubjectName)
	if e.OwnershipPercentage != nil {
		rel += fmt.Sprintf(" (%.1f%% ownership)", *e.OwnershipPercentage)
	}
	out := []string{rel}
	if e.EvidenceSource != "" {
		out = append(out, "ownership source: "+e.EvidenceSource)
	}
	listed := fmt.Sprintf("%q is listed as record %s", rec.CanonicalName, rec.ID)
	if rec.Citation != "" {
		listed += " (" + rec.Citation + ")"
	}
	return append(out, listed)
}

// ResolveSiblings scores each sibling against the whole list and returns an
// Inferred entity per match above the fuzzy floor. Sibling names come from
// a looser source than ownership edges, so the full matcher applies.
func ResolveSiblings(subject string, siblings []string, idx *match.Index) []screening.ResolvedEntity {
	if idx.Len() == 0 {
		return nil
	}
	subjKey := normalize.Company(subject)

	var out []screening.ResolvedEntity
	seen := make(map[string]bool)
	for _, sib := range siblings {
		key := normalize.Company(sib)
		if key == "" || key == subjKey || seen[key] {
			continue
		}
		seen[key] = true
		for _, m := range idx.ScanNormalized(key) {
			evidence := append([]string{fmt.Sprintf("%q shares a parent with %q", sib, subject)}, m.Evidence...)
			out = append(out, screening.ResolvedEntity{
				MatchedName:      m.Record.CanonicalName,
				RecordID:         m.Record.ID,
				Citation:         m.Record.Citation,
				MatchType:        screening.MatchInferred,
				Confidence:       m.Confidence,
				EvidencePoints:   evidence,
				RelationshipPath: []string{subject, sib, m.Record.CanonicalName},
			})
		}
	}
	return out
}
