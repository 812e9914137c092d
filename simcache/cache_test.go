package simcache

import (
	"testing"
	"time"
)

type fakeSim struct {
	valid      bool
	cleanedUp  bool
}

func (f *fakeSim) IsValid() bool { return f.valid }
func (f *fakeSim) Cleanup()      { f.cleanedUp = true }

func TestNormalCapacityEviction(t *testing.T) {
	c := New(2, 5, nil)
	a, b, d := &fakeSim{valid: true}, &fakeSim{valid: true}, &fakeSim{valid: true}
	c.Put("a", a)
	c.Put("b", b)
	c.Put("d", d)

	if c.Len() != 2 {
		t.Fatalf("expected cache trimmed to normal capacity 2, got %d", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected oldest entry 'a' to have been evicted")
	}
}

func TestEnsembleModeRaisesCapacity(t *testing.T) {
	c := New(2, 5, nil)
	c.SetEnsembleMode(time.Minute)
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		c.Put(k, &fakeSim{valid: true})
	}
	if c.Len() != 5 {
		t.Fatalf("expected ensemble capacity 5 while ensemble mode active, got %d", c.Len())
	}
}

func TestInUseEntrySurvivesTrim(t *testing.T) {
	c := New(1, 1, nil)
	a := &fakeSim{valid: true}
	c.Put("a", a)
	held, ok := c.Get("a")
	if !ok {
		t.Fatalf("expected to find 'a'")
	}
	defer c.Release("a")

	// Over capacity, but 'a' is in-use: the trim must evict 'b' (the only
	// eligible entry) rather than tear down the simulator a caller holds.
	c.Put("b", &fakeSim{valid: true})

	if held == nil || a.cleanedUp {
		t.Fatalf("in-use simulator must not be torn down while a caller still holds it")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("expected in-use entry 'a' to remain cached")
	}
	c.Release("a")
}

func TestCleanupQueueDelaysTeardown(t *testing.T) {
	c := New(1, 1, nil)
	a := &fakeSim{valid: true}
	c.Put("a", a)
	c.Put("b", &fakeSim{valid: true}) // evicts a onto the cleanup queue

	c.ProcessCleanupQueue()
	if a.cleanedUp {
		t.Fatalf("cleanup queue should not tear down before cleanupDelay elapses")
	}

	time.Sleep(cleanupDelay + 50*time.Millisecond)
	c.ProcessCleanupQueue()
	if !a.cleanedUp {
		t.Fatalf("expected simulator to be cleaned up after cleanupDelay elapsed")
	}
}

func TestInvalidEntryEvictedOnGet(t *testing.T) {
	c := New(5, 5, nil)
	c.Put("a", &fakeSim{valid: false})
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected invalid simulator to be treated as a cache miss")
	}
}

func TestEnsembleModeClampsToMaxContinuousDuration(t *testing.T) {
	c := New(2, 5, nil)
	c.SetEnsembleMode(10 * time.Minute)
	if !c.ensembleUntil.After(c.ensembleStartedAt.Add(maxEnsembleModeDuration - time.Second)) {
		t.Fatalf("expected first activation to be clamped near maxEnsembleModeDuration")
	}
	if c.ensembleUntil.After(c.ensembleStartedAt.Add(maxEnsembleModeDuration)) {
		t.Fatalf("ensembleUntil %v exceeds the %v continuous cap from %v", c.ensembleUntil, maxEnsembleModeDuration, c.ensembleStartedAt)
	}

	startedAt := c.ensembleStartedAt
	// Back-to-back extensions while still active must not push the window
	// past startedAt+maxEnsembleModeDuration.
	c.SetEnsembleMode(10 * time.Minute)
	if c.ensembleStartedAt != startedAt {
		t.Fatalf("expected ensembleStartedAt to stay fixed across extensions while already active")
	}
	if c.ensembleUntil.After(startedAt.Add(maxEnsembleModeDuration)) {
		t.Fatalf("repeated extension pushed ensembleUntil past the continuous cap")
	}
}
