package flight

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/habsim/core/cluster"
	"github.com/habsim/core/integrator"
)

func calmWind(s integrator.State) (u, v, cosLat float64, err error) {
	return 2, 0, 1, nil
}

func flatGround(lat, lon float64) (float64, error) { return 0, nil }

func TestRunTerminatesOnGroundImpact(t *testing.T) {
	p := Params{
		Launch:        integrator.State{Time: time.Unix(0, 0), Lat: 40, Lon: -100, AltM: 100},
		EquilAltM:     100, // float target at launch altitude: ascent phase is a no-op
		EquilTimeH:    0,
		AscentRateMS:  0,
		DescentRateMS: 10,
		FloatCoeff:    1,
		MaxSimTime:    time.Hour,
		StepS:         1,
	}
	traj, err := Run(context.Background(), p, calmWind, flatGround)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if traj.Terminated != cluster.TerminatedGroundImpact {
		t.Fatalf("expected ground impact termination, got %v", traj.Terminated)
	}
	if len(traj.Records) == 0 {
		t.Fatalf("expected at least one record")
	}
	last := traj.Records[len(traj.Records)-1]
	if last.AltM > 1 {
		t.Fatalf("expected descent to reach near ground level, got altitude %v", last.AltM)
	}
}

func noWind(s integrator.State) (u, v, cosLat float64, err error) {
	return 0, 0, 0, errors.New("weather file not cached")
}

func TestRunTerminatesOnWeatherUnavailable(t *testing.T) {
	p := Params{
		Launch:        integrator.State{Time: time.Unix(0, 0), Lat: 40, Lon: -100, AltM: 0},
		EquilAltM:     20000,
		EquilTimeH:    1,
		AscentRateMS:  5,
		DescentRateMS: 5,
		FloatCoeff:    1,
		MaxSimTime:    time.Hour,
		StepS:         60,
	}
	traj, err := Run(context.Background(), p, noWind, flatGround)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if traj.Terminated != cluster.TerminatedWeatherUnavailable {
		t.Fatalf("expected weather-unavailable termination, got %v", traj.Terminated)
	}
}

func TestRunTerminatesOnMaxTime(t *testing.T) {
	p := Params{
		Launch:        integrator.State{Time: time.Unix(0, 0), Lat: 40, Lon: -100, AltM: 0},
		EquilAltM:     30000,
		EquilTimeH:    1000, // float phase far longer than MaxSimTime
		AscentRateMS:  5,
		DescentRateMS: 5,
		FloatCoeff:    1,
		MaxSimTime:    time.Hour,
		StepS:         60,
	}
	traj, err := Run(context.Background(), p, calmWind, flatGround)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if traj.Terminated != cluster.TerminatedMaxTime {
		t.Fatalf("expected max-time termination, got %v", traj.Terminated)
	}
}
