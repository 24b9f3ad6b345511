package dev

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/angusjf/elm-pages/internal/errors"
)

const tracerName = "github.com/angusjf/elm-pages/internal/dev"

// Handle is the outcome of one build. It settles exactly once.
type Handle struct {
	once sync.Once
	done chan struct{}
	err  error

	// onSettle runs before done is closed.
	onSettle func()
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

func (h *Handle) settle(err error) {
	h.once.Do(func() {
		h.err = err
		if h.onSettle != nil {
			h.onSettle()
		}
		close(h.done)
	})
}

// Done is closed when the build has settled.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Settled reports whether the build has finished.
func (h *Handle) Settled() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the build settles or ctx ends, and returns the build's
// error.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BuildPair is one compile cycle: the browser bundle and the server
// application, built concurrently.
type BuildPair struct {
	Client *Handle
	Server *Handle
}

func newBuildPair() BuildPair {
	return BuildPair{Client: newHandle(), Server: newHandle()}
}

// Wait waits for both builds and returns the server error if any, else the
// client error.
func (p BuildPair) Wait(ctx context.Context) error {
	serverErr := p.Server.Wait(ctx)
	clientErr := p.Client.Wait(ctx)
	if serverErr != nil {
		return serverErr
	}
	return clientErr
}

// Builder compiles one target.
type Builder interface {
	Build(ctx context.Context, target Target) BuildResult
}

// Generator writes the generated sources the application is compiled from.
type Generator interface {
	Generate(ctx context.Context, basePath string) error
}

// CompileError is a failed build or code generation. Payload is JSON and is
// what an HTTP client receives.
type CompileError struct {
	Target  Target
	Payload json.RawMessage
	Cause   error
}

func (e *CompileError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s build failed: %v", e.Target, e.Cause)
	}
	return fmt.Sprintf("%s build failed", e.Target)
}

func (e *CompileError) Unwrap() error {
	return e.Cause
}

// PipelineOptions configures a Pipeline.
type PipelineOptions struct {
	Builder   Builder
	Generator Generator
	BasePath  string
	Metrics   *Metrics
	Logger    zerolog.Logger
}

// Pipeline runs compile cycles one at a time and publishes the current
// BuildPair for requests to wait on.
type Pipeline struct {
	builder   Builder
	generator Generator
	basePath  string
	metrics   *Metrics
	log       zerolog.Logger

	mu        sync.RWMutex
	current   BuildPair
	compiling atomic.Bool
}

// NewPipeline creates a pipeline. Until the first cycle settles, Current
// returns a pair that settles with that cycle's outcome.
func NewPipeline(opts PipelineOptions) *Pipeline {
	return &Pipeline{
		builder:   opts.Builder,
		generator: opts.Generator,
		basePath:  opts.BasePath,
		metrics:   opts.Metrics,
		log:       opts.Logger,
		current:   newBuildPair(),
	}
}

// Current returns the most recently installed BuildPair.
func (p *Pipeline) Current() BuildPair {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Compiling reports whether a cycle is in progress.
func (p *Pipeline) Compiling() bool {
	return p.compiling.Load()
}

// Begin starts a cycle: it installs a fresh pending BuildPair and returns it.
// It returns false if a cycle is already in progress. The cycle ends when
// both handles of the returned pair settle, through Launch or Reject.
func (p *Pipeline) Begin() (BuildPair, bool) {
	if !p.compiling.CompareAndSwap(false, true) {
		return BuildPair{}, false
	}

	// The flag clears before the second handle is observed as settled.
	var remaining atomic.Int32
	remaining.Store(2)
	settled := func() {
		if remaining.Add(-1) == 0 {
			p.compiling.Store(false)
		}
	}
	pair := newBuildPair()
	pair.Client.onSettle = settled
	pair.Server.onSettle = settled

	p.mu.Lock()
	prev := p.current
	p.current = pair
	p.mu.Unlock()

	// Requests still waiting on a pair that never ran follow this cycle.
	if !prev.Client.Settled() || !prev.Server.Settled() {
		go forward(prev, pair)
	}
	return pair, true
}

func forward(from, to BuildPair) {
	<-to.Client.Done()
	from.Client.settle(to.Client.err)
	<-to.Server.Done()
	from.Server.settle(to.Server.err)
}

// Generate runs code generation.
func (p *Pipeline) Generate(ctx context.Context) error {
	if p.generator == nil {
		return nil
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.Generate")
	defer span.End()

	if err := p.generator.Generate(ctx, p.basePath); err != nil {
		span.SetStatus(codes.Error, err.Error())
		payload, _ := json.Marshal(map[string]any{
			"type":   "compile-errors",
			"errors": []string{err.Error()},
		})
		return &CompileError{
			Target:  TargetCodegen,
			Payload: payload,
			Cause:   errors.New("E120").Wrap(err),
		}
	}
	return nil
}

// Reject settles both handles of pair with err without building.
func (p *Pipeline) Reject(pair BuildPair, err error) {
	pair.Client.settle(err)
	pair.Server.settle(err)
	p.metrics.observeCycle(err)
}

// Launch starts both builds. Each handle settles when its build finishes.
func (p *Pipeline) Launch(ctx context.Context, pair BuildPair) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.Launch")
	start := time.Now()

	var wg conc.WaitGroup
	wg.Go(func() { p.build(ctx, TargetClient, pair.Client) })
	wg.Go(func() { p.build(ctx, TargetServer, pair.Server) })

	go func() {
		defer span.End()
		wg.Wait()
		err := pair.Wait(context.Background())
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Int64("elm_pages.compile_ms", time.Since(start).Milliseconds()))
		p.metrics.observeCycle(err)
		if err == nil {
			p.log.Info().Msgf("Compiled in %s", time.Since(start).Round(time.Millisecond))
		}
	}()
}

func (p *Pipeline) build(ctx context.Context, target Target, h *Handle) {
	var (
		pc     panics.Catcher
		result BuildResult
	)
	pc.Try(func() { result = p.builder.Build(ctx, target) })
	if r := pc.Recovered(); r != nil {
		payload, _ := json.Marshal(r.String())
		h.settle(&CompileError{Target: target, Payload: payload, Cause: r.AsError()})
		return
	}
	h.settle(result.Error)
}

// Restart runs a whole cycle: Begin, optional code generation, Launch. It
// returns the cycle's pair, or false if a cycle was already running.
func (p *Pipeline) Restart(ctx context.Context, regenerate bool) (BuildPair, bool) {
	pair, ok := p.Begin()
	if !ok {
		return BuildPair{}, false
	}
	if regenerate {
		if err := p.Generate(ctx); err != nil {
			p.log.Error().Err(err).Msg("Code generation failed")
			p.Reject(pair, err)
			return pair, true
		}
	}
	p.Launch(ctx, pair)
	return pair, true
}
