// Package evidence packages screening results into content-addressed
// evidence packs and issues signed receipts over them.
package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/Mindburn-Labs/exposure/pkg/artifacts"
	"github.com/Mindburn-Labs/exposure/pkg/entitylist"
	"github.com/Mindburn-Labs/exposure/pkg/screening"
)

// ErrPackTampered is returned when a pack's artifacts do not match its hash.
var ErrPackTampered = errors.New("evidence: pack hash mismatch")

// Artifact names inside a screening pack.
const (
	ArtifactAssessment = "assessment"
	ArtifactList       = "restricted_list"
	ArtifactPolicy     = "policy"
)

// Pack is a sealed package of screening evidence.
type Pack struct {
	ID        string     `json:"id"`
	RunID     string     `json:"run_id,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	Artifacts []Artifact `json:"artifacts"`
	PackHash  string     `json:"pack_hash"`
}

type Artifact struct {
	Name    string          `json:"name"`
	Content json.RawMessage `json:"content"`
	Hash    string          `json:"hash"`
}

// ListDescriptor identifies the restricted-list snapshot an assessment was
// produced against.
type ListDescriptor struct {
	Version  string   `json:"version"`
	Source   string   `json:"source"`
	Hash     string   `json:"hash,omitempty"`
	Records  int      `json:"records"`
	Attempts []string `json:"attempts,omitempty"`
}

func DescribeList(s *entitylist.Snapshot) ListDescriptor {
	return ListDescriptor{Version: s.Version, Source: s.Source, Hash: s.Hash, Records: s.Len(), Attempts: s.Attempts}
}

// Assessment returns the decoded assessment artifact.
func (p *Pack) Assessment() (*screening.RiskAssessment, error) {
	for _, a := range p.Artifacts {
		if a.Name == ArtifactAssessment {
			var out screening.RiskAssessment
			if err := json.Unmarshal(a.Content, &out); err != nil {
				return nil, fmt.Errorf("decode assessment artifact: %w", err)
			}
			return &out, nil
		}
	}
	return nil, fmt.Errorf("pack %s has no assessment artifact", p.ID)
}

// Exporter builds packs and archives them in an artifact store.
type Exporter struct {
	store artifacts.Store
	now   func() time.Time
	newID func() string
}

func NewExporter(store artifacts.Store) *Exporter {
	return &Exporter{
		store: store,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
}

// WithClock overrides the pack timestamp source.
func (e *Exporter) WithClock(clock func() time.Time) *Exporter {
	e.now = clock
	return e
}

// Build seals a pack for one assessment without storing it.
func (e *Exporter) Build(runID string, a *screening.RiskAssessment, list ListDescriptor) (*Pack, error) {
	if a == nil {
		return nil, errors.New("evidence: nil assessment")
	}
	pack := &Pack{
		ID:        e.newID(),
		RunID:     runID,
		Timestamp: e.now().UTC(),
	}
	policy := map[string]string{"version": a.PolicyVersion}
	for _, item := range []struct {
		name string
		v    any
	}{
		{ArtifactAssessment, a},
		{ArtifactList, list},
		{ArtifactPolicy, policy},
	} {
		art, err := newArtifact(item.name, item.v)
		if err != nil {
			return nil, err
		}
		pack.Artifacts = append(pack.Artifacts, art)
	}
	if err := seal(pack); err != nil {
		return nil, err
	}
	return pack, nil
}

// Export builds a pack and stores its canonical JSON. It returns the pack
// and the artifact-store hash it can be loaded by.
func (e *Exporter) Export(ctx context.Context, runID string, a *screening.RiskAssessment, list ListDescriptor) (*Pack, string, error) {
	pack, err := e.Build(runID, a, list)
	if err != nil {
		return nil, "", err
	}
	data, err := canonical(pack)
	if err != nil {
		return nil, "", err
	}
	ref, err := e.store.Store(ctx, data)
	if err != nil {
		return nil, "", fmt.Errorf("store evidence pack: %w", err)
	}
	return pack, ref, nil
}

// Load fetches a stored pack and verifies its hash.
func Load(ctx context.Context, store artifacts.Store, ref string) (*Pack, error) {
	data, err := store.Get(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("load evidence pack: %w", err)
	}
	var pack Pack
	if err := json.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("decode evidence pack: %w", err)
	}
	if err := Verify(&pack); err != nil {
		return nil, err
	}
	return &pack, nil
}

// Verify recomputes every artifact hash and the pack hash.
func Verify(pack *Pack) error {
	for _, a := range pack.Artifacts {
		c, err := jcs.Transform(a.Content)
		if err != nil {
			return fmt.Errorf("canonicalize artifact %s: %w", a.Name, err)
		}
		if artifacts.ContentHash(c) != a.Hash {
			return fmt.Errorf("%w: artifact %s", ErrPackTampered, a.Name)
		}
	}
	h, err := packHash(pack)
	if err != nil {
		return err
	}
	if h != pack.PackHash {
		return fmt.Errorf("%w: recorded %s, computed %s", ErrPackTampered, pack.PackHash, h)
	}
	return nil
}

func newArtifact(name string, v any) (Artifact, error) {
	c, err := canonical(v)
	if err != nil {
		return Artifact{}, fmt.Errorf("evidence export: %s: %w", name, err)
	}
	return Artifact{Name: name, Content: c, Hash: artifacts.ContentHash(c)}, nil
}

func seal(pack *Pack) error {
	sort.Slice(pack.Artifacts, func(i, j int) bool {
		return pack.Artifacts[i].Name < pack.Artifacts[j].Name
	})
	h, err := packHash(pack)
	if err != nil {
		return err
	}
	pack.PackHash = h
	return nil
}

// packHash covers the pack identity and the artifact hashes, not the
// artifact bodies.
func packHash(pack *Pack) (string, error) {
	type artifactRef struct {
		Name string `json:"name"`
		Hash string `json:"hash"`
	}
	payload := struct {
		ID        string        `json:"id"`
		RunID     string        `json:"run_id,omitempty"`
		Timestamp time.Time     `json:"timestamp"`
		Artifacts []artifactRef `json:"artifacts"`
	}{
		ID:        pack.ID,
		RunID:     pack.RunID,
		Timestamp: pack.Timestamp,
		Artifacts: make([]artifactRef, 0, len(pack.Artifacts)),
	}
	for _, a := range pack.Artifacts {
		payload.Artifacts = append(payload.Artifacts, artifactRef{Name: a.Name, Hash: a.Hash})
	}
	c, err := canonical(payload)
	if err != nil {
		return "", err
	}
	return artifacts.ContentHash(c), nil
}

func canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jcs.Transform(raw)
}
