package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"genpool/internal/common/fsutil"
	"genpool/pkg/types"
)

// FileStore keeps instance metadata in one JSON document.
// It satisfies manager.MetadataStore.
type FileStore struct {
	mu   sync.Mutex
	path string
}

type document struct {
	Version   int                    `json:"version"`
	Instances []types.InstanceRecord `json:"instances"`
}

const documentVersion = 1

// NewFileStore returns a store backed by path. A leading '~' is expanded.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty store path")
	}
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	return &FileStore{path: p}, nil
}

// Path returns the resolved file location.
func (s *FileStore) Path() string { return s.path }

// Load returns the stored records. A missing file is an empty table.
// Both the versioned document and a bare array are accepted.
func (s *FileStore) Load() ([]types.InstanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		var recs []types.InstanceRecord
		if err2 := json.Unmarshal(b, &recs); err2 != nil {
			return nil, fmt.Errorf("parse %s: %w", s.path, err)
		}
		return recs, nil
	}
	return doc.Instances, nil
}

// Save replaces the stored table atomically. Records are written sorted by
// creation time so the file diffs cleanly.
func (s *FileStore) Save(recs []types.InstanceRecord) error {
	out := make([]types.InstanceRecord, len(recs))
	copy(out, recs)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	b, err := json.MarshalIndent(document{Version: documentVersion, Instances: out}, "", "  ")
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fsutil.WriteFileAtomic(s.path, append(b, '\n'), 0o644)
}
