// Package entitylist loads restricted-entity list snapshots.
//
// A snapshot is an immutable, versioned set of records. Sources produce
// snapshots; a Chain tries sources in order and never fails: when nothing
// loads it returns an empty snapshot, which the resolver reports as
// "list unavailable".
package entitylist

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/gowebpki/jcs"

	"github.com/Mindburn-Labs/exposure/pkg/artifacts"
	"github.com/Mindburn-Labs/exposure/pkg/screening"
)

// ErrHashMismatch is returned when a snapshot's records do not match its
// recorded hash.
var ErrHashMismatch = errors.New("entitylist: snapshot hash mismatch")

// Snapshot is one published version of the restricted list.
type Snapshot struct {
	Version     string                             `json:"version" yaml:"version"`
	PublishedAt time.Time                          `json:"published_at" yaml:"published_at"`
	Hash        string                             `json:"hash,omitempty" yaml:"hash,omitempty"`
	Records     []screening.RestrictedEntityRecord `json:"records" yaml:"records"`

	// Set by the loader, not part of the published document.
	Source   string   `json:"-" yaml:"-"`
	Ceiling  float64  `json:"-" yaml:"-"`
	Attempts []string `json:"-" yaml:"-"`
}

// Empty reports whether the snapshot has no records.
func (s *Snapshot) Empty() bool {
	return s == nil || len(s.Records) == 0
}

// Len returns the number of records.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Records)
}

// Validate checks structural rules: a semver version, unique non-empty
// record IDs, non-empty canonical names and YYYY-MM-DD effective dates.
func (s *Snapshot) Validate() error {
	if _, err := semver.NewVersion(s.Version); err != nil {
		return fmt.Errorf("snapshot version %q: %w", s.Version, err)
	}
	seen := make(map[string]bool, len(s.Records))
	for i, r := range s.Records {
		if strings.TrimSpace(r.ID) == "" {
			return fmt.Errorf("record %d: empty id", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("record %d: duplicate id %q", i, r.ID)
		}
		seen[r.ID] = true
		if strings.TrimSpace(r.CanonicalName) == "" {
			return fmt.Errorf("record %s: empty canonical name", r.ID)
		}
		if r.EffectiveDate != "" {
			if _, err := time.Parse(time.DateOnly, r.EffectiveDate); err != nil {
				return fmt.Errorf("record %s: effective date %q: %w", r.ID, r.EffectiveDate, err)
			}
		}
	}
	return nil
}

// RecordsHash returns the content hash of the records in RFC 8785
// canonical JSON. Key order and whitespace in the source do not matter.
func RecordsHash(records []screening.RestrictedEntityRecord) (string, error) {
	if records == nil {
		records = []screening.RestrictedEntityRecord{}
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("marshal records: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize records: %w", err)
	}
	return artifacts.ContentHash(canonical), nil
}

// Seal validates the snapshot and stamps its records hash.
func (s *Snapshot) Seal() error {
	if err := s.Validate(); err != nil {
		return err
	}
	h, err := RecordsHash(s.Records)
	if err != nil {
		return err
	}
	s.Hash = h
	return nil
}

// Verify recomputes the records hash. A snapshot without a hash passes.
func (s *Snapshot) Verify() error {
	if s.Hash == "" {
		return nil
	}
	h, err := RecordsHash(s.Records)
	if err != nil {
		return err
	}
	if h != s.Hash {
		return fmt.Errorf("%w: recorded %s, computed %s", ErrHashMismatch, s.Hash, h)
	}
	return nil
}

// Describe returns a one-line description for evidence trails.
func (s *Snapshot) Describe() string {
	if s.Empty() {
		return "restricted list: none loaded"
	}
	d := fmt.Sprintf("restricted list %s from %s (%d records", s.Version, s.Source, len(s.Records))
	if s.Hash != "" {
		d += ", " + s.Hash
	}
	return d + ")"
}
