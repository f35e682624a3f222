package persist

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "market.json")
	b := NewFileBackend(path)
	ctx := context.Background()

	want := []byte(`{"coins":{}}`)
	if err := b.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := b.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("got %q, want %q", got, want)
	}

	// A second save replaces, never appends.
	want = []byte(`{"coins":{"campton":{"price":"2.00"}}}`)
	if err := b.Save(ctx, want); err != nil {
		t.Fatalf("second save: %v", err)
	}
	got, err = b.Load(ctx)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("got %q, want %q", got, want)
	}

	// No temp files may be left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the snapshot file, found %d entries", len(entries))
	}
}

func TestFileBackendMissingAndEmpty(t *testing.T) {
	ctx := context.Background()

	b := NewFileBackend(filepath.Join(t.TempDir(), "missing.json"))
	if _, err := b.Load(ctx); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("missing file err = %v, want ErrNoSnapshot", err)
	}

	path := filepath.Join(t.TempDir(), "empty.json")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	b = NewFileBackend(path)
	if _, err := b.Load(ctx); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("empty file err = %v, want ErrNoSnapshot", err)
	}
}
