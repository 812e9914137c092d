// Package service wires the Blob Client, Weather Array Store, Wind Field,
// Elevation Field, Simulator Cache, Prediction Result Cache, Ensemble
// Scheduler, and Progress Registry together behind the
// five external interfaces named by the CORE: simulate, ensemble_run,
// progress_poll, elevation_lookup, and wind_query. It does not parse HTTP
// requests or frame SSE responses; that is an external collaborator's job.
/*
 * Copyright (c) 2026, habsim core contributors. All rights reserved.
 */
package service

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/habsim/core/blob"
	"github.com/habsim/core/cluster"
	"github.com/habsim/core/elev"
	"github.com/habsim/core/ensemble"
	"github.com/habsim/core/flight"
	"github.com/habsim/core/integrator"
	"github.com/habsim/core/predcache"
	"github.com/habsim/core/progress"
	"github.com/habsim/core/simcache"
	"github.com/habsim/core/warray"
	"github.com/habsim/core/wind"
	"github.com/habsim/core/xlog"
)

var log = xlog.Named("service")

// Service is the single point of entry the CORE exposes to its HTTP/CLI
// collaborators.
type Service struct {
	Blob       *blob.Client
	Arrays     *warray.Store
	Elevation  *elev.Field
	SimCache   *simcache.Cache
	PredCache  *predcache.Cache
	Scheduler  *ensemble.Scheduler
	Progress   *progress.Registry

	gridFor func(member string) wind.Grid
}

// New assembles a Service from already-constructed components plus a
// function that resolves the on-disk grid layout for a given ensemble
// member (metadata a real deployment loads from the array's own header or
// a sidecar manifest).
func New(
	b *blob.Client, arrays *warray.Store, elevation *elev.Field,
	simCache *simcache.Cache, predCache *predcache.Cache,
	scheduler *ensemble.Scheduler, prog *progress.Registry,
	gridFor func(member string) wind.Grid,
) *Service {
	return &Service{
		Blob: b, Arrays: arrays, Elevation: elevation,
		SimCache: simCache, PredCache: predCache,
		Scheduler: scheduler, Progress: prog, gridFor: gridFor,
	}
}

type windSimulator struct{ *wind.WindFile }

func (w windSimulator) IsValid() bool { return w.WindFile.IsValid() }
func (w windSimulator) Cleanup()      { w.WindFile.Cleanup() }

// windFileFor returns the cached WindFile for member, opening and caching
// it on a miss, matching simulate.py's _get_simulator. Either way the
// cache entry is marked in use; the caller releases it with
// SimCache.Release.
func (s *Service) windFileFor(ctx context.Context, cycle, member string) (*wind.WindFile, error) {
	key := cycle + "_" + member
	if cached, ok := s.SimCache.Get(key); ok {
		return cached.(windSimulator).WindFile, nil
	}

	name := fmt.Sprintf("%s_%s.npz", cycle, member)
	path, err := s.Arrays.EnsureCached(ctx, name)
	if err != nil {
		return nil, errors.Wrapf(err, "ensure cached %s", name)
	}
	dataPath := filepath.Join(filepath.Dir(path), filepath.Base(path)+".data.npy")
	wf, err := wind.Open(dataPath, s.gridFor(member), wind.Memmap)
	if err != nil {
		return nil, err
	}
	s.SimCache.Put(key, windSimulator{wf})
	// Take the same in-use mark a cache hit takes, so the caller's Release
	// pairs with a Get.
	s.SimCache.Get(key)
	return wf, nil
}

// WindQuery implements the wind_query(lat, lon, pressure, time)
// collaborator interface.
func (s *Service) WindQuery(ctx context.Context, cycle, member string, lat, lon, pressureHpa float64, at time.Time) (u, v float64, err error) {
	wf, err := s.windFileFor(ctx, cycle, member)
	if err != nil {
		return 0, 0, err
	}
	defer s.SimCache.Release(cycle + "_" + member)
	return wf.Get(at, pressureHpa, lat, lon)
}

// ElevationLookup implements elevation_lookup(lat, lon).
func (s *Service) ElevationLookup(lat, lon float64) (float64, error) {
	return s.Elevation.Lookup(lat, lon)
}

// Simulate implements simulate(params): a single flight run, with
// prediction-cache memoization by requestKey.
func (s *Service) Simulate(ctx context.Context, requestKey, cycle, member string, params flight.Params) (*cluster.Trajectory, error) {
	if raw, ok := s.PredCache.Get(requestKey); ok {
		log.Infof("prediction cache hit for %s (%d bytes)", requestKey, len(raw))
		return &cluster.Trajectory{Records: predcache.DecodeRecords(raw)}, nil
	}

	traj, err := flight.Run(ctx, params, s.windFuncFor(ctx, cycle, member), s.ElevationLookup)
	if err != nil {
		return nil, err
	}
	s.PredCache.Put(requestKey, member, *traj)
	return traj, nil
}

func (s *Service) windFuncFor(ctx context.Context, cycle, member string) integrator.WindFunc {
	return func(st integrator.State) (u, v, cosLat float64, err error) {
		wf, err := s.windFileFor(ctx, cycle, member)
		if err != nil {
			return 0, 0, 0, err
		}
		defer s.SimCache.Release(cycle + "_" + member)
		hpa := wf.AltToHpa(st.AltM)
		u, v, err = wf.Get(st.Time, hpa, st.Lat, st.Lon)
		cosLat = wf.CosLat(st.Lat)
		return
	}
}

// EnsembleRun implements ensemble_run(params).
func (s *Service) EnsembleRun(ctx context.Context, requestKey, cycle string, members []string, base flight.Params, n int) (*cluster.EnsembleJob, error) {
	runner := func(ctx context.Context, p flight.Params) (*cluster.Trajectory, error) {
		member := members[0]
		if len(members) > 1 {
			member = members[requestKeyIndex(requestKey, len(members))]
		}
		return flight.Run(ctx, p, s.windFuncFor(ctx, cycle, member), s.ElevationLookup)
	}
	return s.Scheduler.Run(ctx, requestKey, base, n, s.SimCache, runner)
}

func requestKeyIndex(key string, mod int) int {
	if mod <= 0 {
		return 0
	}
	sum := 0
	for _, r := range key {
		sum += int(r)
	}
	return sum % mod
}

// ProgressPoll implements progress_poll(id).
func (s *Service) ProgressPoll(id string) (progress.Snapshot, bool) {
	return s.Progress.Poll(id)
}

// ProgressStream implements the streaming counterpart used by the
// HTTP collaborator's SSE endpoint.
func (s *Service) ProgressStream(ctx context.Context, id string) <-chan progress.Snapshot {
	return s.Progress.Stream(ctx, id)
}

// CacheStatus reports a diagnostics snapshot, supplementing the spec with
// the original's cache-status surface (simulator cache occupancy,
// prediction cache occupancy).
type CacheStatus struct {
	SimulatorsCached int
	PredictionsCached int
}

func (s *Service) CacheStatus() CacheStatus {
	return CacheStatus{
		SimulatorsCached:  s.SimCache.Len(),
		PredictionsCached: s.PredCache.Len(),
	}
}
