// Package cluster provides the shared domain types passed between every
// habsim core package: weather metadata, balloon state, trajectories,
// ensemble jobs, and the sum-type Result used in place of exceptions.
/*
 * Copyright (c) 2026, habsim core contributors. All rights reserved.
 */
package cluster

import "time"

// WeatherCycle identifies one GEFS model run, e.g. "2026073000".
type WeatherCycle struct {
	ID        string    // "YYYYMMDDHH"
	IssuedAt  time.Time
	Resolution string // model grid spacing label, e.g. "0p25"
}

// WeatherArray describes one decompressed wind/temperature array file
// backing a Wind Field, as tracked by the Weather Array Store.
type WeatherArray struct {
	Name     string // e.g. "2026073000_gep01.npz"
	Path     string // on-disk path to the memory-mappable sibling
	Cycle    WeatherCycle
	Member   string // ensemble member id, e.g. "gep01", or "" for control
	SizeB    int64
	CachedAt time.Time
}

// Record is one immutable sample on a simulated flight path. Unlike the
// original's dynamically-attributed row, every field here is explicit.
type Record struct {
	Time     time.Time
	Lat      float64
	Lon      float64
	AltM     float64
	AscentMS float64

	WindU, WindV float64 // m/s, east/north wind components at this sample
	AirU, AirV   float64 // m/s, balloon velocity through the air mass

	GroundElevM float64
}

// BalloonState is the mutable simulation state carried across integrator
// steps; History accumulates the Records produced so far.
type BalloonState struct {
	History []Record
}

func (b *BalloonState) Last() Record { return b.History[len(b.History)-1] }
func (b *BalloonState) Append(r Record) { b.History = append(b.History, r) }

func (b *BalloonState) Time() time.Time { return b.Last().Time }
func (b *BalloonState) Lat() float64    { return b.Last().Lat }
func (b *BalloonState) Lon() float64    { return b.Last().Lon }
func (b *BalloonState) Alt() float64    { return b.Last().AltM }

// Trajectory is a completed (or partial, on early termination) flight path.
type Trajectory struct {
	Records     []Record
	Terminated  TerminationReason
	ModelMember string
}

type TerminationReason int

const (
	TerminatedMaxTime TerminationReason = iota
	TerminatedGroundImpact
	TerminatedOutOfBounds
	TerminatedWeatherUnavailable
	TerminatedError
)

// EnsembleMode records whether the process is currently running at
// ensemble-scale cache sizing and until when, mirroring set_ensemble_mode.
type EnsembleMode struct {
	Active    bool
	ExpiresAt time.Time
}

// EnsembleJob tracks one dispatched ensemble/Monte-Carlo run's overall
// progress, consumed by the Progress Registry.
type EnsembleJob struct {
	ID        string
	Total     int
	Completed int
	Failed    int
	StartedAt time.Time
	Results   []Result[Trajectory]
}

// PredictionCacheEntry is one memoized simulate() result.
type PredictionCacheEntry struct {
	Key        string
	Trajectory Trajectory
	CachedAt   time.Time
}

// Status is the outcome discriminant of Result, replacing the original's
// exception-based control flow (spec §7).
type Status int

const (
	StatusOk Status = iota
	StatusOutOfRange
	StatusWeatherUnavailable
	StatusFailed
)

// Result is a sum type: exactly one of Value (when Status==StatusOk) or
// Err (otherwise) is meaningful. Generic over the success payload so both
// Trajectory-valued and scalar operations can share it.
type Result[T any] struct {
	Status Status
	Value  T
	Err    error
}

func Ok[T any](v T) Result[T] { return Result[T]{Status: StatusOk, Value: v} }

func OutOfRange[T any](err error) Result[T] {
	return Result[T]{Status: StatusOutOfRange, Err: err}
}

func WeatherUnavailable[T any](err error) Result[T] {
	return Result[T]{Status: StatusWeatherUnavailable, Err: err}
}

func Failed[T any](err error) Result[T] {
	return Result[T]{Status: StatusFailed, Err: err}
}

func (r Result[T]) IsOk() bool { return r.Status == StatusOk }
