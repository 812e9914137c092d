// Package lifecycle implements the idle-activity tracker and background
// cleanup loop, grounded on simulate.py's _periodic_cache_trim /
// _idle_memory_cleanup / _force_aggressive_trim.
/*
 * Copyright (c) 2026, habsim core contributors. All rights reserved.
 */
package lifecycle

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/lufia/iostat"

	"github.com/habsim/core/xlog"
)

var log = xlog.Named("lifecycle")

const (
	idleResetTimeout  = 120 * time.Second
	idleCleanCooldown = 120 * time.Second
	emergencyAfter    = 600 * time.Second
	pollNormal        = 20 * time.Second
	pollUnderPressure = 3 * time.Second
)

// Trimmer is implemented by simcache.Cache: the piece of state the
// Manager actively shrinks.
type Trimmer interface {
	TrimToCapacity()
	ProcessCleanupQueue()
	ForceAggressiveTrim()
	Reset()
	Len() int
}

// Manager drives the background idle/cleanup loop for one process.
type Manager struct {
	cache Trimmer

	lastActivity atomic.Int64 // unix nanos
	lastDeepClean atomic.Int64
	trimFailing  atomic.Bool
}

func New(cache Trimmer) *Manager {
	m := &Manager{cache: cache}
	m.Touch()
	return m
}

// Touch records activity, resetting the idle countdown, mirroring every
// request bumping the original's last-activity timestamp.
func (m *Manager) Touch() {
	m.lastActivity.Store(time.Now().UnixNano())
}

func (m *Manager) idleFor() time.Duration {
	return time.Since(time.Unix(0, m.lastActivity.Load()))
}

// Run drives the periodic trim loop until ctx is cancelled, polling every
// 20s normally, tightening to 3s while a trim pass is failing to make
// progress, and forcing an aggressive trim if idle time exceeds
// emergencyAfter.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(pollNormal)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		m.tick(ticker)
	}
}

func (m *Manager) tick(ticker *time.Ticker) {
	idle := m.idleFor()

	m.cache.ProcessCleanupQueue()

	before := m.cache.Len()
	m.cache.TrimToCapacity()
	progressed := m.cache.Len() < before

	if !progressed && before > 0 {
		m.trimFailing.Store(true)
		ticker.Reset(pollUnderPressure)
	} else {
		m.trimFailing.Store(false)
		ticker.Reset(pollNormal)
	}

	if idle > emergencyAfter {
		log.Warnf("idle for %v, forcing aggressive trim", idle)
		m.cache.ForceAggressiveTrim()
		return
	}

	if idle > idleResetTimeout {
		lastDeep := time.Unix(0, m.lastDeepClean.Load())
		if time.Since(lastDeep) > idleCleanCooldown {
			m.deepClean()
		}
	}
}

// deepClean mirrors _idle_memory_cleanup: drain queues, reset caches, run
// several GC passes, and return freed pages to the OS.
func (m *Manager) deepClean() {
	log.Infof("idle deep cleanup starting")
	logDriveStats()
	m.cache.ProcessCleanupQueue()
	m.cache.Reset()
	for i := 0; i < 10; i++ {
		runtime.GC()
	}
	trimOSMemory()
	m.lastDeepClean.Store(time.Now().UnixNano())
	log.Infof("idle deep cleanup complete")
}

// logDriveStats reports per-drive I/O counters once per deep-clean cycle,
// useful context when a cache volume is slow and diagnosing whether the
// cause is memory pressure or the underlying disk. Best-effort: some
// platforms/containers don't expose drive stats, and that's not worth
// failing the cleanup cycle over.
func logDriveStats() {
	drives, err := iostat.ReadDriveStats()
	if err != nil {
		log.Warnf("drive stats unavailable: %v", err)
		return
	}
	for _, d := range drives {
		log.Infof("drive %s: %d reads, %d writes, %d bytes read, %d bytes written",
			d.Name, d.ReadCount, d.WriteCount, d.BytesRead, d.BytesWritten)
	}
}
