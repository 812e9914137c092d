package predcache

import (
	"testing"
	"time"

	"github.com/habsim/core/cluster"
)

func sampleTrajectory() cluster.Trajectory {
	return cluster.Trajectory{
		Records: []cluster.Record{
			{Lat: 40.1, Lon: -100.2, AltM: 15000, AscentMS: 4.5, WindU: 1.2, WindV: -0.4},
			{Lat: 40.2, Lon: -100.1, AltM: 15200, AscentMS: 4.4, WindU: 1.1, WindV: -0.3},
		},
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	c, err := New(200, time.Hour)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	traj := sampleTrajectory()
	c.Put("key-1", "gep01", traj)

	raw, ok := c.Get("key-1")
	if !ok {
		t.Fatalf("expected cache hit for key-1")
	}
	wantLen := 48 * len(traj.Records)
	if len(raw) != wantLen {
		t.Fatalf("expected decoded length %d, got %d", wantLen, len(raw))
	}
}

func TestGetMissingKey(t *testing.T) {
	c, err := New(200, time.Hour)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := c.Get("nope"); ok {
		t.Fatalf("expected miss for absent key")
	}
}

func TestTTLExpiry(t *testing.T) {
	c, err := New(200, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Put("key-1", "gep01", sampleTrajectory())
	time.Sleep(40 * time.Millisecond)
	if _, ok := c.Get("key-1"); ok {
		t.Fatalf("expected entry to have expired")
	}
}

func TestLenTracksEntries(t *testing.T) {
	c, err := New(200, time.Hour)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 5; i++ {
		c.Put(string(rune('a'+i)), "gep01", sampleTrajectory())
	}
	if c.Len() != 5 {
		t.Fatalf("expected 5 entries, got %d", c.Len())
	}
}
