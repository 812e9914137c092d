package ensemble

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/habsim/core/cluster"
	"github.com/habsim/core/flight"
	"github.com/habsim/core/integrator"
)

type fakeCacheModeSetter struct {
	lastDuration time.Duration
	calls        int
}

func (f *fakeCacheModeSetter) SetEnsembleMode(d time.Duration) {
	f.lastDuration = d
	f.calls++
}

func baseParams() flight.Params {
	return flight.Params{
		Launch:     integrator.State{Time: time.Unix(0, 0), Lat: 40, Lon: -100, AltM: 0},
		EquilAltM:  1000,
		MaxSimTime: time.Hour,
		StepS:      60,
	}
}

// runnerFor returns a Runner that classifies members by index: member
// failIdx fails, member weatherIdx reports weather-unavailable, everything
// else succeeds.
func runnerFor(failIdx, weatherIdx int) (Runner, *int) {
	calls := 0
	return func(ctx context.Context, p flight.Params) (*cluster.Trajectory, error) {
		calls++
		switch {
		case p.Launch.Lat == float64(failIdx):
			return nil, errors.New("boom")
		case p.Launch.Lat == float64(weatherIdx):
			return &cluster.Trajectory{Terminated: cluster.TerminatedWeatherUnavailable}, nil
		default:
			return &cluster.Trajectory{Terminated: cluster.TerminatedMaxTime}, nil
		}
	}, &calls
}

// identifiableParams builds n distinct Params whose Launch.Lat encodes the
// member index, so a fake Runner can classify by index without needing the
// real perturbation machinery to preserve ordering.
func identifiableParams(n int) []flight.Params {
	out := make([]flight.Params, n)
	for i := range out {
		p := baseParams()
		p.Launch.Lat = float64(i)
		out[i] = p
	}
	return out
}

func TestDispatchClassifiesResults(t *testing.T) {
	s := New(4, nil, nil)
	run, calls := runnerFor(0, 1)

	results, err := s.dispatch(context.Background(), "job-1", identifiableParams(3), run)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *calls != 3 {
		t.Fatalf("expected 3 runner invocations, got %d", *calls)
	}
	if results[0].Status != cluster.StatusFailed {
		t.Fatalf("expected member 0 failed, got status %v", results[0].Status)
	}
	if results[0].Err == nil {
		t.Fatalf("expected non-nil error on failed result")
	}
	if results[1].Status != cluster.StatusWeatherUnavailable {
		t.Fatalf("expected member 1 weather-unavailable, got status %v", results[1].Status)
	}
	if results[2].Status != cluster.StatusOk {
		t.Fatalf("expected member 2 ok, got status %v", results[2].Status)
	}
	if !results[2].IsOk() {
		t.Fatalf("expected IsOk true for successful member")
	}
}

func TestDispatchOneFailureDoesNotAbortOthers(t *testing.T) {
	s := New(4, nil, nil)
	run, _ := runnerFor(0, -1)

	results, err := s.dispatch(context.Background(), "job-2", identifiableParams(5), run)
	if err != nil {
		t.Fatalf("unexpected error from dispatch: %v", err)
	}
	okCount := 0
	for i, r := range results {
		if i == 0 {
			continue
		}
		if r.Status != cluster.StatusOk {
			t.Fatalf("expected member %d ok, got status %v", i, r.Status)
		}
		okCount++
	}
	if okCount != 4 {
		t.Fatalf("expected 4 surviving ok members, got %d", okCount)
	}
}

func TestRunExtendsEnsembleModeBeforeDispatch(t *testing.T) {
	s := New(4, nil, nil)
	cache := &fakeCacheModeSetter{}
	run, _ := runnerFor(-1, -1)

	job, err := s.Run(context.Background(), "req-key", baseParams(), 2, cache, run)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cache.calls != 1 {
		t.Fatalf("expected SetEnsembleMode called exactly once, got %d", cache.calls)
	}
	if cache.lastDuration <= 0 {
		t.Fatalf("expected positive ensemble-mode duration, got %v", cache.lastDuration)
	}
	if job.Total != 3 {
		t.Fatalf("expected total = n+1 = 3, got %d", job.Total)
	}
	if len(job.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(job.Results))
	}
	for i, r := range job.Results {
		if !r.IsOk() {
			t.Fatalf("expected member %d ok, got status %v", i, r.Status)
		}
	}
}

func TestRunMonteCarloOnlyDoesNotExtendEnsembleMode(t *testing.T) {
	s := New(4, nil, nil)
	run, _ := runnerFor(-1, -1)

	job, err := s.RunMonteCarloOnly(context.Background(), "req-key", baseParams(), 3, run)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Total != 3 {
		t.Fatalf("expected total = n = 3 (no control added), got %d", job.Total)
	}
	if len(job.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(job.Results))
	}
}
