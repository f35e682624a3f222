// Package persist makes the ledger durable across restarts. A save always
// commits to the local file first, then mirrors to the remote media on a
// best-effort basis; a load walks the media in authority order and falls
// through corrupt or missing backups.
package persist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoSnapshot means a backend is reachable but has never stored anything.
var ErrNoSnapshot = errors.New("no snapshot available")

// Backend is one durable medium for the serialized ledger snapshot.
type Backend interface {
	Name() string
	Save(ctx context.Context, raw []byte) error
	Load(ctx context.Context) ([]byte, error)
}

// FileBackend stores the snapshot as a single JSON file. Writes go to a
// temp file in the same directory and are renamed into place, so a reader
// never observes a partial file.
type FileBackend struct {
	path string
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (f *FileBackend) Name() string { return "file" }

func (f *FileBackend) Save(_ context.Context, raw []byte) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (f *FileBackend) Load(_ context.Context) ([]byte, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrNoSnapshot
	}
	return raw, nil
}
