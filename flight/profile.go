// Package flight composes the three-phase balloon flight profile (ascent,
// float/coast, descent) out of Integrator steps, grounded on simulate.py's
// singlezpb.
/*
 * Copyright (c) 2026, habsim core contributors. All rights reserved.
 */
package flight

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/habsim/core/cluster"
	"github.com/habsim/core/integrator"
	"github.com/habsim/core/xlog"
)

var log = xlog.Named("flight")

// ErrWeatherFileNotAvailable is returned when a phase needs weather data
// for a time/place this process has no array for.
type ErrWeatherFileNotAvailable struct{ At time.Time }

func (e *ErrWeatherFileNotAvailable) Error() string {
	return "weather file not available for " + e.At.Format(time.RFC3339)
}

// Params are the launch parameters for one flight, mirroring spaceshot's
// per-member perturbed fields.
type Params struct {
	Launch        integrator.State
	EquilAltM     float64
	EquilTimeH    float64
	AscentRateMS  float64
	DescentRateMS float64
	FloatCoeff    float64 // fraction of EquilAltM actually reached before descent begins

	MaxSimTime time.Duration
	StepS      float64
}

// ElevationLookup resolves ground elevation, abstracting over the
// Elevation Field so flight has no direct storage dependency.
type ElevationLookup func(lat, lon float64) (float64, error)

// Run drives the full ascent -> float -> descent profile, returning the
// accumulated trajectory and why it stopped.
func Run(ctx context.Context, p Params, wind integrator.WindFunc, elevation ElevationLookup) (*cluster.Trajectory, error) {
	traj := &cluster.Trajectory{}
	s := p.Launch

	// Look up ground elevation at the launch site once, in an errgroup
	// goroutine that is waited on before the first integration step. That
	// single value is the ground level for every phase's ground-intercept
	// check; it is not looked up again as the position changes.
	var groundM float64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		e, err := elevation(p.Launch.Lat, p.Launch.Lon)
		if err != nil {
			return err
		}
		groundM = e
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	_ = gctx

	overallDeadline := p.Launch.Time.Add(p.MaxSimTime)
	ascentTarget := p.EquilAltM * p.FloatCoeff

	var (
		terminated cluster.TerminationReason
		hitGround  bool
		err        error
	)

	s, traj.Records, hitGround, err = runPhase(ctx, s, overallDeadline, p.StepS, wind, groundM, traj.Records,
		func(st integrator.State) float64 { return p.AscentRateMS },
		func(st integrator.State) bool { return st.AltM >= ascentTarget },
	)
	if err != nil {
		if isWeatherUnavailable(err) {
			traj.Terminated = cluster.TerminatedWeatherUnavailable
			return traj, nil
		}
		return traj, err
	}
	if hitGround {
		traj.Terminated = cluster.TerminatedGroundImpact
		return traj, nil
	}
	if !s.Time.Before(overallDeadline) {
		traj.Terminated = cluster.TerminatedMaxTime
		return traj, nil
	}

	floatEnd := s.Time.Add(time.Duration(p.EquilTimeH * float64(time.Hour)))
	var more []cluster.Record
	s, more, hitGround, err = runPhase(ctx, s, minTime(floatEnd, overallDeadline), p.StepS, wind, groundM, nil,
		func(st integrator.State) float64 { return 0 },
		func(st integrator.State) bool { return false },
	)
	traj.Records = append(traj.Records, more...)
	if err != nil {
		if isWeatherUnavailable(err) {
			traj.Terminated = cluster.TerminatedWeatherUnavailable
			return traj, nil
		}
		return traj, err
	}
	if hitGround {
		traj.Terminated = cluster.TerminatedGroundImpact
		return traj, nil
	}
	if !s.Time.Before(overallDeadline) {
		traj.Terminated = cluster.TerminatedMaxTime
		return traj, nil
	}

	s, more, hitGround, err = runPhase(ctx, s, overallDeadline, p.StepS, wind, groundM, nil,
		func(st integrator.State) float64 { return -p.DescentRateMS },
		func(st integrator.State) bool { return false },
	)
	traj.Records = append(traj.Records, more...)
	if err != nil {
		if isWeatherUnavailable(err) {
			traj.Terminated = cluster.TerminatedWeatherUnavailable
			return traj, nil
		}
		return traj, err
	}

	if hitGround {
		terminated = cluster.TerminatedGroundImpact
	} else {
		terminated = cluster.TerminatedMaxTime
	}
	traj.Terminated = terminated
	log.Infof("flight complete: %d records, terminated=%d", len(traj.Records), traj.Terminated)
	return traj, nil
}

func isWeatherUnavailable(err error) bool {
	var target *ErrWeatherFileNotAvailable
	return errors.As(err, &target)
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

// runPhase advances s step by step until deadline, ground impact, or
// reachedTarget reports true, whichever comes first.
func runPhase(
	ctx context.Context,
	start integrator.State,
	deadline time.Time,
	stepS float64,
	wind integrator.WindFunc,
	groundM float64,
	into []cluster.Record,
	ascent integrator.AscentFunc,
	reachedTarget func(integrator.State) bool,
) (_ integrator.State, _ []cluster.Record, hitGround bool, _ error) {
	s := start
	records := into
	if reachedTarget(s) {
		return s, records, false, nil
	}
	for s.Time.Before(deadline) {
		select {
		case <-ctx.Done():
			return s, records, false, ctx.Err()
		default:
		}

		dt := stepS
		if remaining := deadline.Sub(s.Time).Seconds(); remaining < dt {
			dt = remaining
		}
		dt = integrator.ShortenToGround(s, groundM, dt)

		next, err := integrator.Step(s, dt, wind, ascent)
		if err != nil {
			return s, records, false, &ErrWeatherFileNotAvailable{At: s.Time}
		}

		u, v, _, werr := wind(next)
		if werr != nil {
			return s, records, false, &ErrWeatherFileNotAvailable{At: next.Time}
		}
		rec := cluster.Record{
			Time: next.Time, Lat: next.Lat, Lon: next.Lon, AltM: next.AltM,
			AscentMS: next.AscentMS, GroundElevM: groundM,
			WindU: u, WindV: v,
		}
		records = append(records, rec)

		s = next
		if s.AltM <= groundM {
			return s, records, true, nil
		}
		if reachedTarget(s) {
			return s, records, false, nil
		}
	}
	return s, records, false, nil
}
