package cronrunner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunnerRunsAndRecovers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := New(nil, ctx)

	var ran int32
	if _, err := r.Add("panics", "@every 1s", func(context.Context) { panic("boom") }); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if _, err := r.Add("counts", "@every 1s", func(context.Context) { atomic.AddInt32(&ran, 1) }); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	r.Start()

	deadline := time.After(5 * time.Second)
	for atomic.LoadInt32(&ran) == 0 {
		select {
		case <-deadline:
			r.Stop()
			t.Fatalf("job did not run")
		case <-time.After(50 * time.Millisecond):
		}
	}
	r.Stop()
}

func TestRunnerRejectsBadSpec(t *testing.T) {
	r := New(nil, context.Background())
	if _, err := r.Add("bad", "not a spec", func(context.Context) {}); err == nil {
		t.Fatalf("Add() expected error")
	}
}
