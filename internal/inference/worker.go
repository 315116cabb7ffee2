package inference

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrShuttingDown is returned by Submit for jobs that will never run
// because the worker is draining.
var ErrShuttingDown = errors.New("inference: shutting down")

// Completer is the single call the worker needs from the client.
type Completer interface {
	Complete(ctx context.Context, system, user string, images []ImagePayload) (string, error)
}

type jobResult struct {
	text string
	err  error
}

type job struct {
	system string
	user   string
	images []ImagePayload
	result chan jobResult
}

// Worker gathers decision-service calls into micro-batches. Submitted jobs
// queue up; the loop waits batchDelay after the first arrival so co-timed
// channel rounds share one wakeup, then fires the gathered batch upstream
// concurrently.
type Worker struct {
	completer  Completer
	queue      chan *job
	batchSize  int
	batchDelay time.Duration
	done       chan struct{}
}

func NewWorker(c Completer, queueSize, batchSize int, batchDelay time.Duration) *Worker {
	if queueSize <= 0 {
		queueSize = 32
	}
	if batchSize <= 0 {
		batchSize = 4
	}
	return &Worker{
		completer:  c,
		queue:      make(chan *job, queueSize),
		batchSize:  batchSize,
		batchDelay: batchDelay,
		done:       make(chan struct{}),
	}
}

// Submit enqueues one completion and blocks until its result. It fails with
// ErrShuttingDown once the worker has stopped, and with the context error if
// the caller gives up first.
func (w *Worker) Submit(ctx context.Context, system, user string, images []ImagePayload) (string, error) {
	j := &job{system: system, user: user, images: images, result: make(chan jobResult, 1)}
	select {
	case <-w.done:
		return "", ErrShuttingDown
	case <-ctx.Done():
		return "", ctx.Err()
	case w.queue <- j:
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-j.result:
		return res.text, res.err
	case <-w.done:
		// The loop is gone and nothing will pick this job up. Take a result
		// that raced in before the stop; there is none otherwise.
		select {
		case res := <-j.result:
			return res.text, res.err
		default:
			return "", ErrShuttingDown
		}
	}
}

// gather pulls up to batchSize jobs, waiting batchDelay after the first one.
func (w *Worker) gather(ctx context.Context, first *job) []*job {
	batch := []*job{first}
	if w.batchDelay <= 0 {
		for len(batch) < w.batchSize {
			select {
			case j := <-w.queue:
				batch = append(batch, j)
			default:
				return batch
			}
		}
		return batch
	}
	timer := time.NewTimer(w.batchDelay)
	defer timer.Stop()
	for len(batch) < w.batchSize {
		select {
		case <-ctx.Done():
			return batch
		case j := <-w.queue:
			batch = append(batch, j)
		case <-timer.C:
			return batch
		}
	}
	return batch
}

// Run drives the worker until ctx is cancelled, then fails the backlog with
// ErrShuttingDown.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		case first := <-w.queue:
			batch := w.gather(ctx, first)
			if len(batch) > 1 {
				slog.Debug("processing inference micro-batch", "size", len(batch))
			}
			var wg sync.WaitGroup
			for _, j := range batch {
				if ctx.Err() != nil {
					j.result <- jobResult{err: ErrShuttingDown}
					continue
				}
				wg.Add(1)
				go func() {
					defer wg.Done()
					text, err := w.completer.Complete(ctx, j.system, j.user, j.images)
					j.result <- jobResult{text: text, err: err}
				}()
			}
			wg.Wait()
		}
	}
}

func (w *Worker) drain() {
	for {
		select {
		case j := <-w.queue:
			j.result <- jobResult{err: ErrShuttingDown}
		default:
			return
		}
	}
}
