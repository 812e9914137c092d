// Package integrator implements the RK2 (explicit midpoint) numerical
// stepper driving every balloon phase, grounded on habsim/classes.py's
// Simulator.step/simulate.
/*
 * Copyright (c) 2026, habsim core contributors. All rights reserved.
 */
package integrator

import (
	"math"
	"time"
)

const (
	earthRadiusM  = 6.371e6
	minStepS      = 0.1
	altHpaRegimeM = 11000.0
)

// altToHpa converts altitude (m) to pressure (hPa) with the same
// two-regime barometric formula as the Wind Field's AltToHpa.
func altToHpa(altM float64) float64 {
	if altM <= altHpaRegimeM {
		return 1013.25 * math.Pow(1-2.25577e-5*altM, 5.25588)
	}
	return 226.321 * math.Exp(-(altM-altHpaRegimeM)/6341.62)
}

// HpaToAlt is the inverse of altToHpa.
func HpaToAlt(hpa float64) float64 {
	if hpa >= altToHpa(altHpaRegimeM) {
		return (1 - math.Pow(hpa/1013.25, 1/5.25588)) / 2.25577e-5
	}
	return altHpaRegimeM - 6341.62*math.Log(hpa/226.321)
}

// State is the minimal kinematic state the integrator advances: position,
// altitude, and the instant's vertical rate.
type State struct {
	Time     time.Time
	Lat, Lon float64 // degrees
	AltM     float64
	AscentMS float64
}

// WindFunc returns the (u, v) wind components (m/s, east/north) and the
// local cos(lat) at a given state, abstracting over the Wind Field so the
// integrator has no direct dependency on array storage.
type WindFunc func(s State) (u, v, cosLat float64, err error)

// AscentFunc returns the vertical rate (m/s) to apply at a given state,
// letting callers express ascent, float, or descent phases uniformly.
type AscentFunc func(s State) float64

// Step advances s by dt seconds using the explicit midpoint method: the
// derivative is sampled at s (k1), s is advanced by dt/2 using k1 to form
// a midpoint state, the derivative is resampled there (k2), and s is
// advanced by the full dt using k2.
func Step(s State, dt float64, wind WindFunc, ascent AscentFunc) (State, error) {
	k1, err := derivative(s, wind, ascent)
	if err != nil {
		return s, err
	}

	mid := advance(s, k1, dt/2)
	k2, err := derivative(mid, wind, ascent)
	if err != nil {
		return s, err
	}

	next := advance(s, k2, dt)
	return next, nil
}

type velocity struct {
	dLatDt, dLonDt, dAltDt float64
}

func derivative(s State, wind WindFunc, ascent AscentFunc) (velocity, error) {
	u, v, cosLat, err := wind(s)
	if err != nil {
		return velocity{}, err
	}
	dLat, dLon := linToAngularVelocities(u, v, cosLat)
	return velocity{
		dLatDt: dLat,
		dLonDt: dLon,
		dAltDt: ascent(s),
	}, nil
}

// linToAngularVelocities converts linear east/north wind (m/s) into
// angular lat/lon rates (deg/s) over the spherical Earth.
func linToAngularVelocities(u, v, cosLat float64) (dLatDt, dLonDt float64) {
	radToDeg := 180 / math.Pi
	dLatDt = (v / earthRadiusM) * radToDeg
	if cosLat == 0 {
		return dLatDt, 0
	}
	dLonDt = (u / (earthRadiusM * cosLat)) * radToDeg
	return
}

func advance(s State, k velocity, dt float64) State {
	return State{
		Time:     s.Time.Add(time.Duration(dt * float64(time.Second))),
		Lat:      s.Lat + k.dLatDt*dt,
		Lon:      s.Lon + k.dLonDt*dt,
		AltM:     s.AltM + k.dAltDt*dt,
		AscentMS: k.dAltDt,
	}
}

// ShortenToGround clamps dt so the step does not overshoot ground
// intercept, mirroring the original's time_to_ground early-termination
// check, assuming a roughly-linear descent rate over the step.
func ShortenToGround(s State, groundM, dt float64) float64 {
	if s.AscentMS >= 0 || s.AltM <= groundM {
		return dt
	}
	timeToGround := (s.AltM - groundM) / -s.AscentMS
	if timeToGround < dt {
		return math.Max(timeToGround, minStepS)
	}
	return dt
}
