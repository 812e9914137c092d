// Package simcache implements the two-mode LRU cache of open Simulators
// (wind file handles), grounded on simulate.py's _simulator_cache /
// _trim_cache_to_normal / _process_cleanup_queue / set_ensemble_mode.
/*
 * Copyright (c) 2026, habsim core contributors. All rights reserved.
 */
package simcache

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/habsim/core/xlog"
)

var log = xlog.Named("simcache")

// Simulator is the cached resource: anything with a validity check and a
// teardown, matching wind.WindFile's shape without simcache depending on
// the wind package directly.
type Simulator interface {
	IsValid() bool
	Cleanup()
}

const (
	cleanupDelay = 2 * time.Second

	// maxEnsembleModeDuration bounds how long a continuous run of
	// set_ensemble_mode activations can keep the cache ensemble-sized,
	// regardless of how many times the window gets extended.
	maxEnsembleModeDuration = 300 * time.Second
)

type entry struct {
	sim        Simulator
	accessedAt time.Time
	inUse      int // reference count; >0 blocks eviction
}

// Cache holds open Simulators keyed by model id (e.g. "2026073000_gep01"),
// sized MAX_SIMULATOR_CACHE_NORMAL normally and MAX_SIMULATOR_CACHE_ENSEMBLE
// while ensemble mode is active.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry

	normalCap, ensembleCap int

	ensembleUntil     time.Time
	ensembleStartedAt time.Time

	cleanupQueue []pendingCleanup

	metricSize      prometheus.Gauge
	metricEvictions prometheus.Counter
}

type pendingCleanup struct {
	sim Simulator
	at  time.Time
}

func New(normalCap, ensembleCap int, reg prometheus.Registerer) *Cache {
	c := &Cache{
		entries:   make(map[string]*entry),
		normalCap: normalCap, ensembleCap: ensembleCap,
		metricSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "habsim_simcache_size", Help: "simulators currently cached",
		}),
		metricEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "habsim_simcache_evictions_total", Help: "simulators evicted",
		}),
	}
	if reg != nil {
		reg.MustRegister(c.metricSize, c.metricEvictions)
	}
	return c
}

// Get returns the cached simulator for key if present and valid, marking
// it in-use so it survives any concurrent eviction pass. Release must be
// called when done.
func (c *Cache) Get(key string) (Simulator, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !e.sim.IsValid() {
		if ok {
			delete(c.entries, key)
		}
		return nil, false
	}
	e.accessedAt = time.Now()
	e.inUse++
	return e.sim, true
}

// Release drops the in-use mark Get placed. Call exactly once per Get.
func (c *Cache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && e.inUse > 0 {
		e.inUse--
	}
}

// Put inserts a freshly-built simulator under key and trims the cache to
// its current capacity.
func (c *Cache) Put(key string, sim Simulator) {
	c.mu.Lock()
	c.entries[key] = &entry{sim: sim, accessedAt: time.Now()}
	c.metricSize.Set(float64(len(c.entries)))
	c.mu.Unlock()
	c.TrimToCapacity()
}

// SetEnsembleMode extends ensemble-sized caching for duration, mirroring
// set_ensemble_mode(duration_seconds). A continuous run of activations
// (one starting before the previous one lapses) can never push the
// cache's ensemble sizing past maxEnsembleModeDuration from when the run
// began, no matter how many times it gets extended.
func (c *Cache) SetEnsembleMode(duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if now.After(c.ensembleUntil) {
		c.ensembleStartedAt = now
	}
	until := now.Add(duration)
	if cap := c.ensembleStartedAt.Add(maxEnsembleModeDuration); until.After(cap) {
		until = cap
	}
	if until.After(c.ensembleUntil) {
		c.ensembleUntil = until
	}
}

func (c *Cache) isEnsembleMode() bool { return time.Now().Before(c.ensembleUntil) }

func (c *Cache) capacity() int {
	if c.isEnsembleMode() {
		return c.ensembleCap
	}
	return c.normalCap
}

// TrimToCapacity evicts the oldest non-in-use entries until the cache is
// at or under its current capacity, moving evicted simulators onto a
// delayed-release queue rather than tearing them down immediately so any
// consumer racing with eviction still holds a valid reference for
// cleanupDelay.
func (c *Cache) TrimToCapacity() {
	c.mu.Lock()
	cap := c.capacity()
	if len(c.entries) <= cap {
		c.mu.Unlock()
		return
	}

	type keyed struct {
		key string
		e   *entry
	}
	ordered := make([]keyed, 0, len(c.entries))
	for k, e := range c.entries {
		if e.inUse > 0 {
			continue
		}
		ordered = append(ordered, keyed{k, e})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].e.accessedAt.Before(ordered[j].e.accessedAt) })

	excess := len(c.entries) - cap
	now := time.Now()
	for i := 0; i < excess && i < len(ordered); i++ {
		k := ordered[i].key
		c.cleanupQueue = append(c.cleanupQueue, pendingCleanup{sim: c.entries[k].sim, at: now.Add(cleanupDelay)})
		delete(c.entries, k)
		c.metricEvictions.Inc()
	}
	c.metricSize.Set(float64(len(c.entries)))
	c.mu.Unlock()
}

// ProcessCleanupQueue tears down any queued simulator whose delay has
// elapsed. Call periodically from the lifecycle manager.
func (c *Cache) ProcessCleanupQueue() {
	c.mu.Lock()
	now := time.Now()
	var remaining []pendingCleanup
	var ready []Simulator
	for _, p := range c.cleanupQueue {
		if now.Before(p.at) {
			remaining = append(remaining, p)
			continue
		}
		ready = append(ready, p.sim)
	}
	c.cleanupQueue = remaining
	c.mu.Unlock()

	for _, s := range ready {
		s.Cleanup()
	}
	if len(ready) > 0 {
		log.Infof("cleaned up %d queued simulators", len(ready))
	}
}

// ForceAggressiveTrim keeps only the single most-recently-used simulator,
// mirroring _force_aggressive_trim under sustained memory pressure.
func (c *Cache) ForceAggressiveTrim() {
	c.mu.Lock()
	savedEnsemble, savedNormal := c.ensembleCap, c.normalCap
	c.ensembleCap, c.normalCap = 1, 1
	c.mu.Unlock()
	c.TrimToCapacity()
	c.mu.Lock()
	c.ensembleCap, c.normalCap = savedEnsemble, savedNormal
	c.mu.Unlock()
}

// Reset drops every cached simulator onto the cleanup queue, mirroring
// reset() on GEFS cycle rollover.
func (c *Cache) Reset() {
	c.mu.Lock()
	now := time.Now()
	for k, e := range c.entries {
		c.cleanupQueue = append(c.cleanupQueue, pendingCleanup{sim: e.sim, at: now.Add(cleanupDelay)})
		delete(c.entries, k)
	}
	c.metricSize.Set(0)
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
