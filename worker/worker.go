// Package worker runs evaluations concurrently with bounded parallelism,
// decoupling request intake from the grading engine.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/gavel-judge/gavel/evaluator"
)

const maxWaiting = 512

// Request is one submission to grade.
type Request struct {
	Options evaluator.Options
}

// Response carries the finished evaluation and its wall time.
type Response struct {
	Response *evaluator.Response
	Elapsed  time.Duration
}

// Config defines worker configuration.
type Config struct {
	Evaluator   *evaluator.Evaluator
	Parallelism int
	// Observer is called for every finished evaluation.
	Observer func(Response)
}

// Worker grades submissions with bounded parallelism.
type Worker interface {
	Start()
	Submit(context.Context, *Request) <-chan Response
	Shutdown()
}

type worker struct {
	ev          *evaluator.Evaluator
	parallelism int
	observer    func(Response)

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
	workCh    chan workRequest
	done      chan struct{}
}

type workRequest struct {
	*Request
	context.Context
	resultCh chan<- Response
}

// New creates a stopped worker; call Start before submitting.
func New(conf Config) Worker {
	parallelism := conf.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	return &worker{
		ev:          conf.Evaluator,
		parallelism: parallelism,
		observer:    conf.Observer,
	}
}

// Start starts worker loops with the configured parallelism.
func (w *worker) Start() {
	w.startOnce.Do(func() {
		w.workCh = make(chan workRequest, maxWaiting)
		w.done = make(chan struct{})
		w.wg.Add(w.parallelism)
		for i := 0; i < w.parallelism; i++ {
			go w.loop()
		}
	})
}

// Submit queues a single request. The returned channel receives exactly
// one response.
func (w *worker) Submit(ctx context.Context, req *Request) <-chan Response {
	ch := make(chan Response, 1)
	w.workCh <- workRequest{
		Request:  req,
		Context:  ctx,
		resultCh: ch,
	}
	return ch
}

// Shutdown waits for in-flight evaluations to finish.
func (w *worker) Shutdown() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.wg.Wait()
	})
}

func (w *worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case req, ok := <-w.workCh:
			if !ok {
				return
			}
			w.evaluate(req)
		case <-w.done:
			// drain everything already queued before stopping
			for {
				select {
				case req, ok := <-w.workCh:
					if !ok {
						return
					}
					w.evaluate(req)
				default:
					return
				}
			}
		}
	}
}

func (w *worker) evaluate(req workRequest) {
	start := time.Now()
	resp := w.ev.Evaluate(req.Context, req.Options)
	r := Response{Response: resp, Elapsed: time.Since(start)}
	if w.observer != nil {
		w.observer(r)
	}
	req.resultCh <- r
}
