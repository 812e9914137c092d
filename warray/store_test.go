package warray

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type fakeFetcher struct {
	fetches atomic.Int32
	body    string
}

func (f *fakeFetcher) Fetch(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	f.fetches.Add(1)
	return io.NopCloser(strings.NewReader(f.body)), int64(len(f.body)), nil
}

func TestEnsureCachedDownloadsOnce(t *testing.T) {
	dir := t.TempDir()
	fetcher := &fakeFetcher{body: "weather-array-bytes"}
	s := NewStore(dir, fetcher)

	path, err := s.EnsureCached(context.Background(), "gep01.npy")
	if err != nil {
		t.Fatalf("EnsureCached: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != fetcher.body {
		t.Fatalf("unexpected cached contents: %q", data)
	}

	// A second call with the file already present must not re-download.
	if _, err := s.EnsureCached(context.Background(), "gep01.npy"); err != nil {
		t.Fatalf("EnsureCached (cached): %v", err)
	}
	if fetcher.fetches.Load() != 1 {
		t.Fatalf("expected exactly 1 fetch, got %d", fetcher.fetches.Load())
	}
}

func TestEnsureCachedLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, &fakeFetcher{body: "data"})

	if _, err := s.EnsureCached(context.Background(), "gep02.npy"); err != nil {
		t.Fatalf("EnsureCached: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestRefreshPurgesStaleCycleFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, &fakeFetcher{})

	for _, name := range []string{"2026073000.gep01.npy", "2026072918.gep02.npy", "readme.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("WriteFile %s: %v", name, err)
		}
	}

	if err := s.Refresh("2026073000"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "2026073000.gep01.npy")); err != nil {
		t.Fatalf("expected current-cycle file to survive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "2026072918.gep02.npy")); !os.IsNotExist(err) {
		t.Fatalf("expected stale-cycle file to be purged, stat err: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "readme.txt")); err != nil {
		t.Fatalf("expected non-array file to be left alone: %v", err)
	}
}

func TestAcquireFlockUncontendedIgnoresShortDeadline(t *testing.T) {
	dir := t.TempDir()
	lf, err := os.OpenFile(filepath.Join(dir, "test.lock"), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer lf.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// Uncontended lock acquires immediately regardless of the short deadline.
	if err := acquireFlock(ctx, lf); err != nil {
		t.Fatalf("acquireFlock on uncontended file: %v", err)
	}
}
