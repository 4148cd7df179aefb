package entitylist

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gowebpki/jcs"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/exposure/pkg/artifacts"
)

// Source produces a list snapshot.
type Source interface {
	Name() string
	Load(ctx context.Context) (*Snapshot, error)
}

// FileSource reads a snapshot document from a YAML or JSON file.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (f *FileSource) Name() string { return "file:" + filepath.Base(f.path) }

func (f *FileSource) Load(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read list %s: %w", f.path, err)
	}
	snap, err := Decode(data, strings.HasSuffix(f.path, ".json"))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", f.path, err)
	}
	snap.Source = f.Name()
	return snap, nil
}

// Decode parses a snapshot document, validates it and checks its hash
// when present.
func Decode(data []byte, isJSON bool) (*Snapshot, error) {
	var snap Snapshot
	var err error
	if isJSON {
		err = json.Unmarshal(data, &snap)
	} else {
		err = yaml.Unmarshal(data, &snap)
	}
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	if err := snap.Verify(); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Encode renders a sealed snapshot as canonical JSON.
func Encode(snap *Snapshot) ([]byte, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return jcs.Transform(raw)
}

// ArtifactSource loads a published snapshot from the artifact store by
// content hash.
type ArtifactSource struct {
	store artifacts.Store
	hash  string
}

func NewArtifactSource(store artifacts.Store, hash string) *ArtifactSource {
	return &ArtifactSource{store: store, hash: hash}
}

func (a *ArtifactSource) Name() string { return "artifact:" + a.hash }

func (a *ArtifactSource) Load(ctx context.Context) (*Snapshot, error) {
	data, err := a.store.Get(ctx, a.hash)
	if err != nil {
		return nil, fmt.Errorf("load list artifact: %w", err)
	}
	snap, err := Decode(data, true)
	if err != nil {
		return nil, fmt.Errorf("list artifact %s: %w", a.hash, err)
	}
	snap.Source = a.Name()
	return snap, nil
}

// Publish seals the snapshot and stores it, returning the artifact hash
// that an ArtifactSource loads it by.
func Publish(ctx context.Context, store artifacts.Store, snap *Snapshot) (string, error) {
	if err := snap.Seal(); err != nil {
		return "", fmt.Errorf("seal snapshot: %w", err)
	}
	data, err := Encode(snap)
	if err != nil {
		return "", err
	}
	return store.Store(ctx, data)
}
