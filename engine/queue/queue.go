// Package queue serializes collection runs: at most one runs per process,
// later distinct keys wait in FIFO order and duplicates are coalesced.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is the state of a queued key.
type Status int

const (
	Ready Status = iota
	Running
)

func (s Status) String() string {
	if s == Running {
		return "running"
	}
	return "ready"
}

// Outcome tells the caller what Submit did.
type Outcome int

const (
	Started Outcome = iota
	Queued
	Coalesced
)

func (o Outcome) String() string {
	switch o {
	case Started:
		return "started"
	case Queued:
		return "queued"
	default:
		return "coalesced"
	}
}

// RunFunc performs one collection run for key.
type RunFunc func(ctx context.Context, key string) error

// Gauge receives the number of ready entries after every change.
type Gauge interface {
	Set(n int64)
}

// Options configures a Queue.
type Options struct {
	Logger     *zap.SugaredLogger
	ReadyGauge Gauge
}

// Queue runs one key at a time.
type Queue struct {
	ctx  context.Context
	run  RunFunc
	opts Options

	mu      sync.Mutex
	idle    *sync.Cond
	entries map[string]Status
	ready   []string
	running string
	busy    bool
}

// New creates a Queue whose runs receive ctx.
func New(ctx context.Context, run RunFunc, opts Options) *Queue {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	q := &Queue{
		ctx:     ctx,
		run:     run,
		opts:    opts,
		entries: make(map[string]Status),
	}
	q.idle = sync.NewCond(&q.mu)
	return q
}

// Submit starts key when nothing is running, queues it behind the running
// key otherwise, and ignores it when it is already running or ready.
func (q *Queue) Submit(key string) Outcome {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.entries[key]; ok {
		q.opts.Logger.Infow("submission coalesced", "key", key, "status", q.entries[key])
		return Coalesced
	}
	if !q.busy {
		q.entries[key] = Running
		q.running, q.busy = key, true
		go q.drain(key)
		q.opts.Logger.Infow("run started", "key", key)
		return Started
	}
	q.entries[key] = Ready
	q.ready = append(q.ready, key)
	q.setGauge()
	q.opts.Logger.Infow("run queued", "key", key, "behind", q.running, "position", len(q.ready))
	return Queued
}

// drain runs key, then keeps promoting the oldest ready entry until none is left.
func (q *Queue) drain(key string) {
	for {
		q.runOne(key)

		q.mu.Lock()
		delete(q.entries, key)
		if len(q.ready) == 0 {
			q.running, q.busy = "", false
			q.idle.Broadcast()
			q.mu.Unlock()
			return
		}
		key = q.ready[0]
		q.ready = q.ready[1:]
		q.entries[key] = Running
		q.running = key
		q.setGauge()
		q.mu.Unlock()
		q.opts.Logger.Infow("run promoted", "key", key)
	}
}

func (q *Queue) runOne(key string) {
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return q.run(q.ctx, key)
	}()
	if err != nil {
		q.opts.Logger.Errorw("run failed", "key", key, "duration", time.Since(start), "err", err)
		return
	}
	q.opts.Logger.Infow("run finished", "key", key, "duration", time.Since(start))
}

func (q *Queue) setGauge() {
	if q.opts.ReadyGauge != nil {
		q.opts.ReadyGauge.Set(int64(len(q.ready)))
	}
}

// Wait blocks until no run is active and nothing is ready.
func (q *Queue) Wait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.busy {
		q.idle.Wait()
	}
}

// Snapshot is a point-in-time view of the queue.
type Snapshot struct {
	Running string   `json:"running,omitempty"`
	Ready   []string `json:"ready"`
}

// Snapshot returns the running key and the ready keys in promotion order.
func (q *Queue) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	ready := make([]string, len(q.ready))
	copy(ready, q.ready)
	return Snapshot{Running: q.running, Ready: ready}
}

// Status returns the status of key and whether it is known.
func (q *Queue) Status(key string) (Status, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.entries[key]
	return s, ok
}
