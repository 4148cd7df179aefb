package match

import (
	"sort"

	"github.com/Mindburn-Labs/exposure/pkg/screening"
	"github.com/Mindburn-Labs/exposure/pkg/screening/normalize"
)

// Index is a restricted-entity list with every name normalized once.
// It is read-only after construction and safe for concurrent use.
type Index struct {
	entries     []entry
	byCanonical map[string][]int
}

// NewIndex builds an index over records in the given order.
func NewIndex(records []screening.RestrictedEntityRecord) *Index {
	idx := &Index{
		entries:     make([]entry, 0, len(records)),
		byCanonical: make(map[string][]int, len(records)),
	}
	for _, rec := range records {
		e := newEntry(rec)
		idx.byCanonical[e.canonical] = append(idx.byCanonical[e.canonical], len(idx.entries))
		idx.entries = append(idx.entries, e)
	}
	return idx
}

// Len returns the number of indexed records.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.entries)
}

// Scan scores query against every record and returns all results above
// Floor, highest confidence first. Ties keep list order.
func (idx *Index) Scan(query string) []screening.MatchResult {
	return idx.ScanNormalized(normalize.Company(query))
}

// ScanNormalized is Scan for an already normalized query.
func (idx *Index) ScanNormalized(key string) []screening.MatchResult {
	if idx == nil || key == "" {
		return nil
	}
	var out []screening.MatchResult
	for _, e := range idx.entries {
		if r, ok := matchNormalized(key, e); ok {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

// ExactCanonical returns the records whose normalized canonical name equals
// the normalized form of name. Alternate names are not consulted.
func (idx *Index) ExactCanonical(name string) []screening.RestrictedEntityRecord {
	if idx == nil {
		return nil
	}
	key := normalize.Company(name)
	if key == "" {
		return nil
	}
	positions := idx.byCanonical[key]
	out := make([]screening.RestrictedEntityRecord, 0, len(positions))
	for _, p := range positions {
		out = append(out, idx.entries[p].record)
	}
	return out
}
