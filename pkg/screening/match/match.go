// Package match scores supplier names against restricted-entity records.
//
// Rules run in priority order on normalized forms: exact canonical name,
// exact alternate name, edit-distance similarity, then containment. Only
// results strictly above Floor are returned.
package match

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/Mindburn-Labs/exposure/pkg/screening"
	"github.com/Mindburn-Labs/exposure/pkg/screening/normalize"
)

const (
	// Floor is the minimum confidence a direct match must exceed.
	Floor = 0.7
	// ExactConfidence is assigned to a canonical name match.
	ExactConfidence = 1.0
	// AlternateConfidence is assigned to an alternate name match.
	AlternateConfidence = 0.95
	// ContainmentWeight scales the length ratio of a containment match.
	ContainmentWeight = 0.85
)

// entry is a record with its names normalized once.
type entry struct {
	record     screening.RestrictedEntityRecord
	canonical  string
	alternates []alternate
}

type alternate struct {
	raw string
	key string
}

func newEntry(rec screening.RestrictedEntityRecord) entry {
	e := entry{record: rec, canonical: normalize.Company(rec.CanonicalName)}
	for _, alt := range rec.AlternateNames {
		if key := normalize.Company(alt); key != "" {
			e.alternates = append(e.alternates, alternate{raw: alt, key: key})
		}
	}
	return e
}

// keys returns the canonical key followed by every alternate key.
func (e entry) keys() []string {
	keys := make([]string, 0, 1+len(e.alternates))
	keys = append(keys, e.canonical)
	for _, alt := range e.alternates {
		keys = append(keys, alt.key)
	}
	return keys
}

// Match scores query against a single record.
func Match(query string, rec screening.RestrictedEntityRecord) (screening.MatchResult, bool) {
	return matchNormalized(normalize.Company(query), newEntry(rec))
}

func matchNormalized(q string, e entry) (screening.MatchResult, bool) {
	if q == "" || e.canonical == "" {
		return screening.MatchResult{}, false
	}

	if q == e.canonical {
		return result(e, screening.MatchDirect, ExactConfidence,
			fmt.Sprintf("normalized name %q equals listed name %q", q, e.record.CanonicalName)), true
	}

	for _, alt := range e.alternates {
		if q == alt.key {
			return result(e, screening.MatchAlternateName, AlternateConfidence,
				fmt.Sprintf("normalized name %q equals alternate name %q of %q", q, alt.raw, e.record.CanonicalName)), true
		}
	}

	names := e.keys()

	best, bestName := 0.0, ""
	for _, n := range names {
		if s := Similarity(q, n); s > best {
			best, bestName = s, n
		}
	}
	confidence, matchType := 0.0, screening.MatchType("")
	var evidence string
	if best > Floor {
		confidence, matchType = best, screening.MatchFuzzy
		evidence = fmt.Sprintf("edit-distance similarity %.3f between %q and %q", best, q, bestName)
	}

	for _, n := range names {
		c := Containment(q, n)
		if c > confidence {
			confidence, matchType = c, screening.MatchContainment
			evidence = fmt.Sprintf("containment between %q and %q (length ratio %.3f)", q, n, c/ContainmentWeight)
		}
	}

	if confidence <= Floor {
		return screening.MatchResult{}, false
	}
	return result(e, matchType, confidence, evidence), true
}

func result(e entry, mt screening.MatchType, confidence float64, evidence string) screening.MatchResult {
	return screening.MatchResult{
		Record:     e.record,
		MatchType:  mt,
		Confidence: confidence,
		Evidence:   []string{evidence, recordEvidence(e.record)},
	}
}

func recordEvidence(rec screening.RestrictedEntityRecord) string {
	s := fmt.Sprintf("listed entity %s %q", rec.ID, rec.CanonicalName)
	if rec.Citation != "" {
		s += " (" + rec.Citation + ")"
	}
	if rec.EffectiveDate != "" {
		s += " effective " + rec.EffectiveDate
	}
	return s
}

// Similarity returns 1 - levenshtein(a,b)/max(len(a),len(b)) over runes.
func Similarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 0
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}

// Containment returns min(len(shorter)/len(longer),1)*ContainmentWeight
// when one string contains the other, and 0 otherwise.
func Containment(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if la == 0 || lb == 0 {
		return 0
	}
	shorter, longer := a, b
	ls, ll := la, lb
	if la > lb {
		shorter, longer = b, a
		ls, ll = lb, la
	}
	if !strings.Contains(longer, shorter) {
		return 0
	}
	return min(float64(ls)/float64(ll), 1) * ContainmentWeight
}
