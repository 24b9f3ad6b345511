package render

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sourcegraph/conc/panics"
)

// Worker is one render context. It runs at most one render at a time.
type Worker struct {
	id     int
	engine Engine

	// ready is guarded by the owning Pool's mutex.
	ready bool

	tasks  chan task
	exited chan struct{}

	mu   sync.Mutex
	sink *sink
}

type task struct {
	ctx context.Context
	req Request
}

// event is delivered from the worker goroutine to the dispatching request.
type event struct {
	msg  Message
	exit bool
	err  error
}

// sink is the message subscription of the render currently assigned to a
// worker.
type sink struct {
	events   chan event
	detached chan struct{}
}

func newWorker(id int, engine Engine) *Worker {
	return &Worker{
		id:     id,
		engine: engine,
		tasks:  make(chan task),
		exited: make(chan struct{}),
	}
}

type workerIDKey struct{}

func withWorkerID(ctx context.Context, id int) context.Context {
	return context.WithValue(ctx, workerIDKey{}, id)
}

// WorkerID returns the id of the worker rendering with ctx.
func WorkerID(ctx context.Context) (int, bool) {
	id, ok := ctx.Value(workerIDKey{}).(int)
	return id, ok
}

// loop renders tasks until stop is closed.
func (w *Worker) loop(stop <-chan struct{}) {
	defer close(w.exited)
	for {
		select {
		case <-stop:
			return
		case t := <-w.tasks:
			err := w.render(t)
			w.deliver(event{exit: true, err: err})
		}
	}
}

func (w *Worker) render(t task) (err error) {
	var pc panics.Catcher
	pc.Try(func() {
		err = w.engine.Render(withWorkerID(t.ctx, w.id), t.req, func(m Message) {
			w.deliver(event{msg: m})
		})
	})
	if r := pc.Recovered(); r != nil {
		return r.AsError()
	}
	return err
}

// deliver passes ev to the attached render, if any. Events for a detached
// render are dropped.
func (w *Worker) deliver(ev event) {
	w.mu.Lock()
	s := w.sink
	w.mu.Unlock()
	if s == nil {
		return
	}
	select {
	case s.events <- ev:
	case <-s.detached:
	}
}

func (w *Worker) attach() *sink {
	s := &sink{events: make(chan event), detached: make(chan struct{})}
	w.mu.Lock()
	w.sink = s
	w.mu.Unlock()
	return s
}

// detach removes the current subscription so late messages from a finished
// render reach nobody.
func (w *Worker) detach() {
	w.mu.Lock()
	s := w.sink
	w.sink = nil
	w.mu.Unlock()
	if s != nil {
		close(s.detached)
	}
}

// run sends req to the worker goroutine and waits until the render has
// finished. It settles on the first done or error message; watch messages
// before that are passed to onWatch in order.
func (w *Worker) run(ctx context.Context, req Request, onWatch func([]string) error) (Result, error) {
	s := w.attach()

	select {
	case w.tasks <- task{ctx: ctx, req: req}:
	case <-w.exited:
		return Result{}, ErrPoolClosed
	}

	var (
		result  Result
		failure error
		settled bool
	)
	for {
		select {
		case ev := <-s.events:
			if ev.exit {
				if !settled {
					if ev.err == nil {
						ev.err = errNoResult
					}
					failure = transportError(ev.err)
				}
				return result, failure
			}
			if settled {
				continue
			}
			switch ev.msg.Tag {
			case TagDone:
				settled = true
				if err := json.Unmarshal(ev.msg.Data, &result); err != nil {
					failure = transportError(fmt.Errorf("decode render result: %w", err))
				} else if err := result.Validate(); err != nil {
					failure = transportError(err)
				}
			case TagError:
				settled = true
				failure = &TaskError{Payload: ev.msg.Data}
			case TagWatch:
				var patterns []string
				if err := json.Unmarshal(ev.msg.Data, &patterns); err != nil {
					settled = true
					failure = transportError(fmt.Errorf("decode watch patterns: %w", err))
					continue
				}
				if onWatch != nil {
					if err := onWatch(patterns); err != nil {
						settled = true
						failure = transportError(err)
					}
				}
			default:
				settled = true
				failure = transportError(fmt.Errorf("unexpected worker message %q", ev.msg.Tag))
			}
		case <-w.exited:
			return Result{}, ErrPoolClosed
		}
	}
}
