package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileStore keeps checkpoints on a shared filesystem:
//
//	<root>/ts_<n>/rank_<r>.yaml     manifest
//	<root>/ts_<n>/rank_<r>.msgpack  payload
type FileStore struct {
	root string
	rank int
}

func NewFileStore(root string, rank int) *FileStore {
	return &FileStore{root: root, rank: rank}
}

func (f *FileStore) Write(_ context.Context, s Snapshot) (string, error) {
	dir := filepath.Join(f.root, stepDir(s.Timestep))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &StoreError{Op: "write", Location: dir, Err: err}
	}

	// The payload goes first so a manifest never points at a missing payload.
	if err := writeAtomic(filepath.Join(dir, payloadName(f.rank)), s.Payload); err != nil {
		return "", &StoreError{Op: "write", Location: dir, Err: err}
	}
	manifest, err := yaml.Marshal(&s)
	if err != nil {
		return "", &StoreError{Op: "write", Location: dir, Err: err}
	}
	if err := writeAtomic(filepath.Join(dir, manifestName(f.rank)), manifest); err != nil {
		return "", &StoreError{Op: "write", Location: dir, Err: err}
	}
	return dir, nil
}

func (f *FileStore) Read(_ context.Context, location string) (Snapshot, error) {
	s, err := f.manifest(location)
	if err != nil {
		return Snapshot{}, &StoreError{Op: "read", Location: location, Err: err}
	}
	s.Payload, err = os.ReadFile(filepath.Join(location, payloadName(f.rank)))
	if err != nil {
		return Snapshot{}, &StoreError{Op: "read", Location: location, Err: err}
	}
	return s, nil
}

// manifest decodes this rank's manifest in dir without its payload.
func (f *FileStore) manifest(dir string) (Snapshot, error) {
	raw, err := os.ReadFile(filepath.Join(dir, manifestName(f.rank)))
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}
	var s Snapshot
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return Snapshot{}, fmt.Errorf("invalid manifest: %w", err)
	}
	return s, nil
}

func (f *FileStore) Latest(_ context.Context) (string, error) {
	entries, err := os.ReadDir(f.root)
	if errors.Is(err, fs.ErrNotExist) {
		return "", &StoreError{Op: "latest", Location: f.root, Err: ErrNotFound}
	}
	if err != nil {
		return "", &StoreError{Op: "latest", Location: f.root, Err: err}
	}

	written := make(map[int]map[int]bool)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, ok := parseStepDir(e.Name())
		if !ok {
			continue
		}
		files, err := os.ReadDir(filepath.Join(f.root, e.Name()))
		if err != nil {
			return "", &StoreError{Op: "latest", Location: f.root, Err: err}
		}
		for _, file := range files {
			if r, ok := parseManifestName(file.Name()); ok {
				if written[n] == nil {
					written[n] = make(map[int]bool)
				}
				written[n][r] = true
			}
		}
	}

	best, err := latestComplete(written, f.rank, func(ts int) (int, error) {
		s, err := f.manifest(filepath.Join(f.root, stepDir(ts)))
		return s.Ranks, err
	})
	if err != nil {
		return "", &StoreError{Op: "latest", Location: f.root, Err: err}
	}
	if best < 0 {
		return "", &StoreError{Op: "latest", Location: f.root, Err: ErrNotFound}
	}
	return filepath.Join(f.root, stepDir(best)), nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
