package render

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/angusjf/elm-pages/internal/render"

// WatchFunc installs extra watch patterns reported by a render. It must not
// return until the patterns are being observed.
type WatchFunc func(ctx context.Context, patterns []string) error

// PoolOptions configures a Pool.
type PoolOptions struct {
	// Size is the number of workers. Values below one are treated as one.
	Size int

	// Engine renders requests. Every worker shares it, so it must be safe
	// for concurrent use.
	Engine Engine

	// OnWatch receives watch patterns posted by workers.
	OnWatch WatchFunc

	// Metrics records pool activity. Nil disables metrics.
	Metrics *Metrics

	// Logger receives pool logs.
	Logger zerolog.Logger
}

// Pool schedules render requests onto a fixed set of workers.
type Pool struct {
	workers []*Worker
	onWatch WatchFunc
	metrics *Metrics
	log     zerolog.Logger
	tracer  trace.Tracer

	mu      sync.Mutex
	queue   *list.List // of *waiter
	started bool
	closed  bool

	stop chan struct{}
	wg   conc.WaitGroup
}

type waiter struct {
	ch     chan *Worker
	queued bool
}

// NewPool creates a pool whose workers are not yet running. Requests
// dispatched before Start wait in the queue.
func NewPool(opts PoolOptions) *Pool {
	size := max(1, opts.Size)
	p := &Pool{
		workers: make([]*Worker, size),
		onWatch: opts.OnWatch,
		metrics: opts.Metrics,
		log:     opts.Logger,
		tracer:  otel.Tracer(tracerName),
		queue:   list.New(),
		stop:    make(chan struct{}),
	}
	for i := range p.workers {
		p.workers[i] = newWorker(i, opts.Engine)
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Start brings every worker online and hands queued requests to them.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	for _, w := range p.workers {
		p.wg.Go(func() { w.loop(p.stop) })
		w.ready = true
	}
	p.drainLocked()
	p.log.Debug().Int("workers", len(p.workers)).Msg("render pool started")
}

// Close stops the workers and fails queued requests with ErrPoolClosed.
// Renders in progress finish first.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for e := p.queue.Front(); e != nil; e = e.Next() {
		wt := e.Value.(*waiter)
		wt.queued = false
		close(wt.ch)
	}
	p.queue.Init()
	p.observeQueueLocked()
	close(p.stop)
	p.mu.Unlock()

	p.wg.Wait()
}

// Dispatch renders pathname on the next available worker. Once a worker has
// been assigned the render runs to completion even if ctx ends.
func (p *Pool) Dispatch(ctx context.Context, pathname string) (Result, error) {
	ctx, span := p.tracer.Start(ctx, "render.Dispatch",
		trace.WithAttributes(attribute.String("elm_pages.pathname", pathname)))
	defer span.End()

	start := time.Now()
	w, err := p.acquire(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	defer p.release(w)
	span.SetAttributes(attribute.Int("elm_pages.worker", w.id))

	taskCtx := context.WithoutCancel(ctx)
	result, err := w.run(taskCtx, Request{Mode: Mode, Pathname: pathname}, func(patterns []string) error {
		if p.onWatch == nil {
			return nil
		}
		return p.onWatch(taskCtx, patterns)
	})

	p.metrics.observeRender(result.Kind, err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.log.Debug().Err(err).Str("pathname", pathname).Int("worker", w.id).Msg("render failed")
		return Result{}, err
	}
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// acquire returns an idle worker, marking it busy, or waits for one.
func (p *Pool) acquire(ctx context.Context) (*Worker, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	for _, w := range p.workers {
		if w.ready {
			w.ready = false
			p.observeBusyLocked()
			p.mu.Unlock()
			return w, nil
		}
	}
	wt := &waiter{ch: make(chan *Worker, 1), queued: true}
	elem := p.queue.PushBack(wt)
	p.observeQueueLocked()
	p.mu.Unlock()

	select {
	case w, ok := <-wt.ch:
		if !ok {
			return nil, ErrPoolClosed
		}
		return w, nil
	case <-ctx.Done():
		p.mu.Lock()
		if wt.queued {
			wt.queued = false
			p.queue.Remove(elem)
			p.observeQueueLocked()
			p.mu.Unlock()
			return nil, ctx.Err()
		}
		p.mu.Unlock()
		// A worker was handed over concurrently.
		if w, ok := <-wt.ch; ok {
			p.release(w)
		}
		return nil, ctx.Err()
	}
}

// release detaches the finished render from w, marks it idle, and hands
// idle workers to queued requests.
func (p *Pool) release(w *Worker) {
	w.detach()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	w.ready = true
	p.drainLocked()
}

// drainLocked pairs every idle worker with the oldest queued request.
func (p *Pool) drainLocked() {
	for _, w := range p.workers {
		if !w.ready {
			continue
		}
		front := p.queue.Front()
		if front == nil {
			break
		}
		wt := p.queue.Remove(front).(*waiter)
		wt.queued = false
		w.ready = false
		wt.ch <- w
	}
	p.observeQueueLocked()
	p.observeBusyLocked()
}

// Stats reports idle and queued counts.
func (p *Pool) Stats() (idle, queued int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		if w.ready {
			idle++
		}
	}
	return idle, p.queue.Len()
}

func (p *Pool) observeQueueLocked() {
	p.metrics.setQueued(p.queue.Len())
}

func (p *Pool) observeBusyLocked() {
	busy := 0
	for _, w := range p.workers {
		if !w.ready {
			busy++
		}
	}
	p.metrics.setBusy(busy)
}
