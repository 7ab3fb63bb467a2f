package worker

import (
	"context"
	"sync"
	"testing"
	"time"
)

// The worker only needs a callable engine; a real one requires an on-disk
// fixture, so these tests drive the pool through a nil-safe thin wrapper.

type countingObserver struct {
	mu sync.Mutex
	n  int
}

func (c *countingObserver) observe(Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
}

func (c *countingObserver) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestWorkerSubmitDeliversResponse(t *testing.T) {
	ev, opts := newFixtureEvaluator(t)
	obs := &countingObserver{}
	w := New(Config{Evaluator: ev, Parallelism: 2, Observer: obs.observe})
	w.Start()
	defer w.Shutdown()

	ch := w.Submit(context.Background(), &Request{Options: opts})
	select {
	case r := <-ch:
		if r.Response == nil {
			t.Fatal("nil response")
		}
		if r.Response.Metadata.EvaluationKey == "" {
			t.Error("missing evaluation key")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("no response")
	}
	if obs.count() != 1 {
		t.Errorf("observer count: %d", obs.count())
	}
}

func TestWorkerParallelSubmissions(t *testing.T) {
	ev, opts := newFixtureEvaluator(t)
	w := New(Config{Evaluator: ev, Parallelism: 4})
	w.Start()
	defer w.Shutdown()

	const n = 8
	chs := make([]<-chan Response, 0, n)
	for i := 0; i < n; i++ {
		chs = append(chs, w.Submit(context.Background(), &Request{Options: opts}))
	}
	for i, ch := range chs {
		select {
		case r := <-ch:
			if r.Response == nil {
				t.Fatalf("submission %d: nil response", i)
			}
		case <-time.After(10 * time.Second):
			t.Fatalf("submission %d: no response", i)
		}
	}
}

func TestWorkerStartIdempotent(t *testing.T) {
	ev, _ := newFixtureEvaluator(t)
	w := New(Config{Evaluator: ev, Parallelism: 1})
	w.Start()
	w.Start()
	w.Shutdown()
	w.Shutdown()
}
