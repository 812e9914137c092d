// Package ensemble implements the bounded-concurrency ensemble and
// Monte-Carlo scheduler, grounded on app.py's spaceshot handler:
// ThreadPoolExecutor(max_workers=32), unified progress tracking, and the
// ENSEMBLE_WEIGHT-scaled extension of ensemble-sized caching.
/*
 * Copyright (c) 2026, habsim core contributors. All rights reserved.
 */
package ensemble

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/habsim/core/cluster"
	"github.com/habsim/core/flight"
	"github.com/habsim/core/progress"
	"github.com/habsim/core/xlog"
)

var log = xlog.Named("ensemble")

const ensembleWeight = 2.0 // app.py's ENSEMBLE_WEIGHT: ensemble mode lasts weight * per-member estimate

// CacheModeSetter is the subset of simcache.Cache the scheduler needs to
// extend ensemble-sized caching before dispatch.
type CacheModeSetter interface {
	SetEnsembleMode(duration time.Duration)
}

// Runner executes one flight.Params and returns its trajectory, letting
// callers inject a predcache-aware or plain flight.Run implementation.
type Runner func(ctx context.Context, p flight.Params) (*cluster.Trajectory, error)

type Scheduler struct {
	sem      *semaphore.Weighted
	progress *progress.Registry

	durationHist prometheus.Histogram
}

func New(maxWorkers int, reg *progress.Registry, promReg prometheus.Registerer) *Scheduler {
	s := &Scheduler{
		sem:      semaphore.NewWeighted(int64(maxWorkers)),
		progress: reg,
		durationHist: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "habsim_ensemble_member_duration_seconds",
			Help:    "wall-clock duration of a single ensemble member run",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if promReg != nil {
		promReg.MustRegister(s.durationHist)
	}
	return s
}

// Run dispatches one ensemble job: n perturbed members plus the control,
// extending ensemble-sized caching for the estimated run duration before
// dispatch (set_ensemble_mode called synchronously, matching app.py).
func (s *Scheduler) Run(ctx context.Context, requestKey string, base flight.Params, n int, cache CacheModeSetter, run Runner) (*cluster.EnsembleJob, error) {
	estimate := estimateDuration(base, n)
	cache.SetEnsembleMode(time.Duration(float64(estimate) * ensembleWeight))

	job := &cluster.EnsembleJob{ID: uuid.NewString(), Total: n + 1, StartedAt: time.Now()}
	if s.progress != nil {
		s.progress.Register(job.ID, job.Total)
	}

	members := GeneratePerturbations(requestKey, n, base)
	params := make([]flight.Params, 0, n+1)
	params = append(params, base)
	for _, m := range members {
		params = append(params, m.Apply(base))
	}

	results, err := s.dispatch(ctx, job.ID, params, run)
	job.Results = results
	return job, err
}

// RunMonteCarloOnly mirrors the legacy /sim/montecarlo path: it dispatches
// the same way but does NOT extend ensemble mode, per app.py's explicit
// comment that the legacy endpoint is exempt from that side effect.
func (s *Scheduler) RunMonteCarloOnly(ctx context.Context, requestKey string, base flight.Params, n int, run Runner) (*cluster.EnsembleJob, error) {
	job := &cluster.EnsembleJob{ID: uuid.NewString(), Total: n, StartedAt: time.Now()}
	if s.progress != nil {
		s.progress.Register(job.ID, job.Total)
	}
	members := GeneratePerturbations(requestKey, n, base)
	params := make([]flight.Params, 0, n)
	for _, m := range members {
		params = append(params, m.Apply(base))
	}
	results, err := s.dispatch(ctx, job.ID, params, run)
	job.Results = results
	return job, err
}

func (s *Scheduler) dispatch(ctx context.Context, jobID string, params []flight.Params, run Runner) ([]cluster.Result[cluster.Trajectory], error) {
	results := make([]cluster.Result[cluster.Trajectory], len(params))
	g, gctx := errgroup.WithContext(ctx)

	for i, p := range params {
		i, p := i, p
		if err := s.sem.Acquire(gctx, 1); err != nil {
			return results, err
		}
		g.Go(func() error {
			defer s.sem.Release(1)
			start := time.Now()
			traj, err := run(gctx, p)
			s.durationHist.Observe(time.Since(start).Seconds())
			ok := err == nil
			if s.progress != nil {
				s.progress.MarkDone(jobID, ok)
			}
			if err != nil {
				log.Warnf("ensemble member %d failed: %v", i, err)
				results[i] = cluster.Failed[cluster.Trajectory](err)
				return nil // one member's failure does not abort the ensemble
			}
			if traj.Terminated == cluster.TerminatedWeatherUnavailable {
				results[i] = cluster.WeatherUnavailable[cluster.Trajectory](
					fmt.Errorf("member %d: weather data unavailable", i))
				return nil
			}
			results[i] = cluster.Ok(*traj)
			return nil
		})
	}

	err := g.Wait()
	return results, err
}

// estimateDuration is a coarse heuristic for how long dispatching n+1
// members will take, used only to size the ensemble-mode window; it is
// deliberately simple rather than a real cost model.
func estimateDuration(base flight.Params, n int) time.Duration {
	perMember := base.MaxSimTime / 1000 // crude: proportional to sim horizon
	if perMember < time.Second {
		perMember = time.Second
	}
	return perMember * time.Duration(n+1)
}
