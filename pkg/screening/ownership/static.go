package ownership

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/exposure/pkg/screening"
	"github.com/Mindburn-Labs/exposure/pkg/screening/normalize"
)

// StaticLookup serves ownership data from memory. It is keyed by normalized
// subject name and also lists siblings: subjects that share a parent.
type StaticLookup struct {
	name     string
	ceiling  float64
	bySubj   map[string][]screening.OwnershipEdge
	subjects map[string]string // normalized -> display name
}

// NewStaticLookup indexes edges by subject. Edges with an unknown relation
// are rejected.
func NewStaticLookup(name string, ceiling float64, edges []screening.OwnershipEdge) (*StaticLookup, error) {
	s := &StaticLookup{
		name:     name,
		ceiling:  ceiling,
		bySubj:   make(map[string][]screening.OwnershipEdge),
		subjects: make(map[string]string),
	}
	for i, e := range edges {
		if !e.Relation.Valid() {
			return nil, fmt.Errorf("edge %d (%s -> %s): unknown relation %q", i, e.SubjectName, e.RelatedName, e.Relation)
		}
		key := normalize.Company(e.SubjectName)
		if key == "" {
			return nil, fmt.Errorf("edge %d: empty subject name", i)
		}
		s.bySubj[key] = append(s.bySubj[key], e)
		if _, ok := s.subjects[key]; !ok {
			s.subjects[key] = e.SubjectName
		}
	}
	return s, nil
}

// edgeFile is the on-disk layout of a static ownership file.
type edgeFile struct {
	Edges []screening.OwnershipEdge `yaml:"edges" json:"edges"`
}

// LoadStaticLookup reads a YAML or JSON file of the form {edges: [...]}.
func LoadStaticLookup(path string, ceiling float64) (*StaticLookup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ownership file: %w", err)
	}
	var f edgeFile
	// JSON is a subset of YAML.
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse ownership file %s: %w", path, err)
	}
	return NewStaticLookup("file:"+filepath.Base(path), ceiling, f.Edges)
}

func (s *StaticLookup) Lookup(ctx context.Context, name string) (Ownership, error) {
	if err := ctx.Err(); err != nil {
		return Ownership{}, Classify(s.name, name, err)
	}
	edges, ok := s.bySubj[normalize.Company(name)]
	if !ok {
		return Ownership{}, &LookupError{Kind: KindNotFound, Provider: s.name, Name: name, Err: ErrNotFound}
	}
	out := make([]screening.OwnershipEdge, len(edges))
	copy(out, edges)
	return Ownership{Subject: name, Edges: out, Source: s.name, Ceiling: s.ceiling}, nil
}

// Siblings returns every other subject that names one of name's parents as
// its own parent, sorted by name.
func (s *StaticLookup) Siblings(ctx context.Context, name string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, Classify(s.name, name, err)
	}
	self := normalize.Company(name)
	parents := make(map[string]bool)
	for _, e := range s.bySubj[self] {
		if e.Relation == screening.RelationParent {
			parents[normalize.Company(e.RelatedName)] = true
		}
	}
	if len(parents) == 0 {
		return nil, nil
	}

	var out []string
	seen := map[string]bool{self: true}
	for key, edges := range s.bySubj {
		if seen[key] {
			continue
		}
		for _, e := range edges {
			if e.Relation == screening.RelationParent && parents[normalize.Company(e.RelatedName)] {
				seen[key] = true
				out = append(out, s.subjects[key])
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}
