// Package warray manages the on-disk cache of decompressed GEFS weather
// arrays shared across worker processes: ensure_cached semantics with
// inter-process locking, atomic rename, LRU eviction, and cycle-rollover
// purge, grounded on gefs.py and the original's download.py flock dance.
/*
 * Copyright (c) 2026, habsim core contributors. All rights reserved.
 */
package warray

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/habsim/core/ios"
	"github.com/habsim/core/xlog"
)

var log = xlog.Named("warray")

const (
	maxCachedFiles = 25
	// lowFreeBytes triggers an aggressive half-capacity sweep regardless of
	// file count, so a near-full disk doesn't wedge on the next download.
	lowFreeBytes = 2 << 30 // 2 GiB

	// worldelevName is pinned in the cache: never evicted, and checked for
	// the fixed size a correctly-downloaded grid always has.
	worldelevName       = "worldelev.npy"
	worldelevExpectSize = 451008128
)

// isCompressedArchive reports whether name is a .npz cycle file that needs
// its data member extracted to a float64 sibling before windfile.go can
// open it.
func isCompressedArchive(name string) bool {
	return strings.HasSuffix(name, ".npz")
}

// dataSiblingPath is where extractDataArray writes a .npz's decompressed
// "data" array: the full .npz filename with ".data.npy" appended, matching
// the path service.go's windFileFor builds before calling wind.Open.
func dataSiblingPath(npzPath string) string {
	return npzPath + ".data.npy"
}

// touch bumps path's mtime to now, the way gefs.py's cache_path.touch()
// marks an array as recently used so LRU eviction doesn't pick it over
// arrays that were merely downloaded earlier but are read more often.
func touch(path string) {
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		log.Warnf("touch %s: %v", path, err)
	}
}

// isReady reports whether name is fully cached at dest: present (and, for
// worldelev.npy, the expected fixed size), plus its decompressed sibling
// when name is a .npz archive.
func isReady(dest, name string) bool {
	fi, err := os.Stat(dest)
	if err != nil || fi.Size() == 0 {
		return false
	}
	if name == worldelevName && fi.Size() != worldelevExpectSize {
		return false
	}
	if isCompressedArchive(name) {
		sfi, err := os.Stat(dataSiblingPath(dest))
		if err != nil || sfi.Size() == 0 {
			return false
		}
	}
	return true
}

// Fetcher is the subset of blob.Client the store depends on, so tests can
// substitute a fake without spinning up an HTTP server.
type Fetcher interface {
	Fetch(ctx context.Context, name string) (io.ReadCloser, int64, error)
}

// Store is the on-disk, cross-process weather array cache.
type Store struct {
	dir    string
	client Fetcher

	mu        sync.Mutex
	fileLocks map[string]*sync.Mutex // per-name in-process download coordination
}

func NewStore(dir string, client Fetcher) *Store {
	return &Store{dir: dir, client: client, fileLocks: make(map[string]*sync.Mutex)}
}

func (s *Store) lockFor(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.fileLocks[name]
	if !ok {
		l = &sync.Mutex{}
		s.fileLocks[name] = l
	}
	return l
}

// EnsureCached guarantees name is present under Store's directory,
// downloading it if absent, and returns the local path. Concurrent callers
// (in this process, via an in-process mutex; across processes, via an
// advisory flock on a sentinel file) converge on a single download.
func (s *Store) EnsureCached(ctx context.Context, name string) (string, error) {
	dest := filepath.Join(s.dir, name)
	if isReady(dest, name) {
		touch(dest)
		return dest, nil
	}

	inProcLock := s.lockFor(name)
	inProcLock.Lock()
	defer inProcLock.Unlock()

	// Re-check: another in-process goroutine may have finished the
	// download while we waited for the mutex.
	if isReady(dest, name) {
		touch(dest)
		return dest, nil
	}

	lockPath := dest + ".lock"
	lf, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return "", errors.Wrapf(err, "open lockfile %s", lockPath)
	}
	defer lf.Close()

	if err := acquireFlock(ctx, lf); err != nil {
		return "", errors.Wrapf(err, "lock %s", lockPath)
	}
	defer unix.Flock(int(lf.Fd()), unix.LOCK_UN)

	// Re-check once more under the cross-process lock: a sibling process
	// may have completed the download while we waited on flock.
	if isReady(dest, name) {
		touch(dest)
		return dest, nil
	}

	if name == worldelevName {
		if fi, err := os.Stat(dest); err == nil && fi.Size() != worldelevExpectSize {
			log.Warnf("%s is %d bytes, expected %d; re-downloading", dest, fi.Size(), worldelevExpectSize)
			os.Remove(dest)
		}
	}

	if err := s.download(ctx, name, dest); err != nil {
		return "", err
	}
	if isCompressedArchive(name) {
		if err := extractDataArray(dest, dataSiblingPath(dest)); err != nil {
			return "", errors.Wrapf(err, "extract data array from %s", name)
		}
	}
	go s.evictIfNeeded()
	return dest, nil
}

// acquireFlock mirrors gefs.py's pattern: try a non-blocking exclusive
// lock first, and if another process holds it, poll for up to 5 minutes
// before falling back to a blocking acquire.
func acquireFlock(ctx context.Context, f *os.File) error {
	fd := int(f.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err == nil {
		return nil
	}
	deadline := time.Now().Add(5 * time.Minute)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
		if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err == nil {
			return nil
		}
	}
	return unix.Flock(fd, unix.LOCK_EX)
}

func (s *Store) download(ctx context.Context, name, dest string) error {
	r, _, err := s.client.Fetch(ctx, name)
	if err != nil {
		return errors.Wrapf(err, "fetch %s", name)
	}
	defer r.Close()

	tmp := dest + ".tmp-" + uuid.NewString()
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrapf(err, "create %s", tmp)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrapf(err, "write %s", tmp)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "rename %s -> %s", tmp, dest)
	}
	log.Infof("cached %s", name)
	return nil
}

type fileAge struct {
	path    string
	modTime time.Time
}

// evictIfNeeded keeps the cache directory under maxCachedFiles by removing
// the oldest arrays first, walked with godirwalk for fewer syscalls than
// filepath.Walk over a directory that can hold dozens of multi-hundred-MB
// files.
func (s *Store) evictIfNeeded() {
	var files []fileAge
	err := godirwalk.Walk(s.dir, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() || strings.HasSuffix(path, ".lock") || strings.Contains(path, ".tmp-") {
				return nil
			}
			if filepath.Base(path) == worldelevName {
				return nil
			}
			fi, statErr := os.Stat(path)
			if statErr != nil {
				return nil
			}
			files = append(files, fileAge{path: path, modTime: fi.ModTime()})
			return nil
		},
		Unsorted: true,
	})
	if err != nil {
		log.Warnf("evict sweep of %s failed: %v", s.dir, err)
		return
	}
	cap := maxCachedFiles
	if free, err := ios.FreeBytes(s.dir); err == nil && free < lowFreeBytes {
		log.Warnf("%s has only %d bytes free, trimming cache aggressively", s.dir, free)
		cap = maxCachedFiles / 2
	}
	if len(files) <= cap {
		return
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })
	excess := len(files) - cap
	for _, f := range files[:excess] {
		if err := os.Remove(f.path); err != nil {
			log.Warnf("evict %s: %v", f.path, err)
			continue
		}
		log.Infof("evicted %s", f.path)
	}
}

// Refresh purges cached arrays belonging to any cycle other than
// currentCycle, mirroring simulate.py's _cleanup_old_model_files on GEFS
// cycle rollover.
func (s *Store) Refresh(currentCycle string) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), currentCycle) || e.Name() == worldelevName {
			continue
		}
		if !strings.Contains(e.Name(), ".npz") && !strings.Contains(e.Name(), ".npy") {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		if err := os.Remove(path); err != nil {
			log.Warnf("refresh purge %s: %v", path, err)
			continue
		}
		log.Infof("purged stale array %s", path)
	}
	return nil
}
