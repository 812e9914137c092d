package progress

import (
	"context"
	"testing"
	"time"
)

func TestRegisterAndPoll(t *testing.T) {
	r := New(time.Second)
	r.Register("job-1", 3)

	snap, ok := r.Poll("job-1")
	if !ok {
		t.Fatalf("expected job-1 to be registered")
	}
	if snap.Total != 3 || snap.Done {
		t.Fatalf("unexpected initial snapshot: %+v", snap)
	}
}

func TestMarkDoneCompletesJob(t *testing.T) {
	r := New(time.Second)
	r.Register("job-1", 2)
	r.MarkDone("job-1", true)

	snap, _ := r.Poll("job-1")
	if snap.Done {
		t.Fatalf("job should not be done after 1 of 2 members reported")
	}

	r.MarkDone("job-1", false)
	snap, _ = r.Poll("job-1")
	if !snap.Done {
		t.Fatalf("expected job to be done after all members reported")
	}
	if snap.Completed != 1 || snap.Failed != 1 {
		t.Fatalf("unexpected completed/failed counts: %+v", snap)
	}
}

func TestPollUnknownJob(t *testing.T) {
	r := New(time.Second)
	if _, ok := r.Poll("nope"); ok {
		t.Fatalf("expected miss for unregistered job")
	}
}

func TestCompletedJobForgottenAfterRetention(t *testing.T) {
	r := New(20 * time.Millisecond)
	r.Register("job-1", 1)
	r.MarkDone("job-1", true)

	time.Sleep(60 * time.Millisecond)
	if _, ok := r.Poll("job-1"); ok {
		t.Fatalf("expected job to be forgotten after retention elapsed")
	}
}

func TestStreamClosesOnCompletion(t *testing.T) {
	r := New(time.Second)
	r.Register("job-1", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ch := r.Stream(ctx, "job-1")

	go func() {
		time.Sleep(10 * time.Millisecond)
		r.MarkDone("job-1", true)
	}()

	var last Snapshot
	for snap := range ch {
		last = snap
	}
	if !last.Done {
		t.Fatalf("expected final streamed snapshot to be Done")
	}
}

func TestStreamEndsOnContextCancellation(t *testing.T) {
	r := New(time.Second)
	r.Register("job-1", 5)

	ctx, cancel := context.WithCancel(context.Background())
	ch := r.Stream(ctx, "job-1")
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			// may receive one last snapshot before the channel closes; drain it.
			<-ch
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected stream to end promptly after context cancellation")
	}
}
