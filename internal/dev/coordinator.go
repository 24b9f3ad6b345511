package dev

import (
	"context"
	stderrors "errors"
	"path"
	"strings"

	"github.com/rs/zerolog"

	"github.com/angusjf/elm-pages/internal/config"
	"github.com/angusjf/elm-pages/internal/routes"
)

// Subscription is the watcher as seen by the coordinator.
type Subscription interface {
	Events() <-chan Event
	Add(patterns ...string) error
	Reset(patterns ...string) error
}

// Notifier delivers reload tokens to browsers.
type Notifier interface {
	Broadcast(token string) int
}

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	Watcher  Subscription
	Pipeline *Pipeline
	Notifier Notifier

	// Patterns reloads the manifest and returns the new subscription.
	Patterns func() ([]string, error)

	// InitialCompile runs a full cycle, with code generation, when Run
	// starts.
	InitialCompile bool

	Logger zerolog.Logger
}

var errCoordinatorStopped = stderrors.New("watch coordinator stopped")

type watchRequest struct {
	patterns []string
	reply    chan error
}

// cycle is one compile cycle request.
type cycle struct {
	codegen bool
	notify  bool
}

// Coordinator turns file changes into compile cycles and reload
// notifications. All of its state is owned by the Run goroutine.
type Coordinator struct {
	watcher  Subscription
	pipeline *Pipeline
	notifier Notifier
	patterns func() ([]string, error)
	initial  bool
	log      zerolog.Logger

	requests  chan watchRequest
	cycleDone chan struct{}
	stopped   chan struct{}

	running        bool
	pending        bool
	pendingCodegen bool
}

// NewCoordinator creates a coordinator.
func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	return &Coordinator{
		watcher:   opts.Watcher,
		pipeline:  opts.Pipeline,
		notifier:  opts.Notifier,
		patterns:  opts.Patterns,
		initial:   opts.InitialCompile,
		log:       opts.Logger,
		requests:  make(chan watchRequest),
		cycleDone: make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// Run processes events until ctx ends or the watcher's event channel closes.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.stopped)

	if c.initial {
		c.start(ctx, cycle{codegen: true})
	}

	events := c.watcher.Events()
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.handle(ctx, ev)

		case req := <-c.requests:
			req.reply <- c.watcher.Add(req.patterns...)

		case <-c.cycleDone:
			c.running = false
			if c.pending {
				next := cycle{codegen: c.pendingCodegen, notify: true}
				c.pending = false
				c.pendingCodegen = false
				c.start(ctx, next)
			}
		}
	}
}

// Watch adds patterns to the subscription. It returns once they are
// installed.
func (c *Coordinator) Watch(ctx context.Context, patterns []string) error {
	req := watchRequest{patterns: patterns, reply: make(chan error, 1)}
	select {
	case c.requests <- req:
	case <-c.stopped:
		return errCoordinatorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) handle(ctx context.Context, ev Event) {
	c.log.Debug().Str("op", string(ev.Op)).Str("path", ev.Path).Msg("File changed")

	switch {
	case ev.Path == config.ManifestFileName:
		c.reloadManifest()

	case strings.EqualFold(path.Ext(ev.Path), ".css"):
		c.notifier.Broadcast(TokenStylesheet)

	case path.Ext(ev.Path) == ".elm":
		codegen := (ev.Op == OpAdd || ev.Op == OpUnlink) && routes.IsPageModule(ev.Path)
		if c.running {
			c.pending = true
			c.pendingCodegen = c.pendingCodegen || codegen
			return
		}
		c.start(ctx, cycle{codegen: codegen, notify: true})

	default:
		c.notifier.Broadcast(TokenContent)
	}
}

func (c *Coordinator) reloadManifest() {
	if c.patterns == nil {
		return
	}
	patterns, err := c.patterns()
	if err != nil {
		c.log.Error().Err(err).Msg("Could not reload elm.json")
		return
	}
	if err := c.watcher.Reset(patterns...); err != nil {
		c.log.Error().Err(err).Msg("Could not watch source directories")
	}
}

func (c *Coordinator) start(ctx context.Context, cy cycle) {
	c.running = true
	if !cy.notify {
		go c.restart(ctx, cy.codegen)
		return
	}

	pair, ok := c.pipeline.Begin()
	if !ok {
		// A cycle started elsewhere; follow it and retry afterwards.
		c.pending = true
		c.pendingCodegen = c.pendingCodegen || cy.codegen
		go func() {
			_ = c.pipeline.Current().Wait(ctx)
			c.done(ctx)
		}()
		return
	}

	go func() {
		defer c.done(ctx)

		launch := true
		if cy.codegen {
			if err := c.pipeline.Generate(ctx); err != nil {
				c.log.Error().Err(err).Msg("Code generation failed")
				c.pipeline.Reject(pair, err)
				launch = false
			} else {
				c.notifier.Broadcast(TokenBundle)
			}
		}
		if launch {
			c.pipeline.Launch(ctx, pair)
		}
		c.notifier.Broadcast(TokenContent)
		c.report(ctx, pair)
	}()
}

// restart runs a cycle nobody is notified about, such as the initial
// compile.
func (c *Coordinator) restart(ctx context.Context, codegen bool) {
	defer c.done(ctx)
	pair, ok := c.pipeline.Restart(ctx, codegen)
	if !ok {
		pair = c.pipeline.Current()
	}
	c.report(ctx, pair)
}

func (c *Coordinator) report(ctx context.Context, pair BuildPair) {
	if err := pair.Wait(ctx); err != nil && ctx.Err() == nil {
		c.log.Error().Msgf("Compilation failed\n%s", describeCompileError(err))
	}
}

func (c *Coordinator) done(ctx context.Context) {
	select {
	case c.cycleDone <- struct{}{}:
	case <-ctx.Done():
	}
}
