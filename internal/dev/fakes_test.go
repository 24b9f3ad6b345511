package dev

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/angusjf/elm-pages/internal/render"
)

// fakeBuilder records builds. When gate is set, builds block until it is
// closed.
type fakeBuilder struct {
	mu      sync.Mutex
	counts  map[Target]int
	fail    map[Target]json.RawMessage
	panics  bool
	gate    chan struct{}
	started chan Target
}

func newFakeBuilder() *fakeBuilder {
	return &fakeBuilder{
		counts:  make(map[Target]int),
		fail:    make(map[Target]json.RawMessage),
		started: make(chan Target, 64),
	}
}

func (b *fakeBuilder) Build(ctx context.Context, target Target) BuildResult {
	b.mu.Lock()
	b.counts[target]++
	payload, failing := b.fail[target]
	gate := b.gate
	panics := b.panics
	b.mu.Unlock()

	b.started <- target
	if gate != nil {
		<-gate
	}
	if panics {
		panic("compiler crashed")
	}
	if failing {
		return BuildResult{Error: &CompileError{Target: target, Payload: payload}}
	}
	return BuildResult{Success: true}
}

func (b *fakeBuilder) count(target Target) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts[target]
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (g *fakeGenerator) Generate(ctx context.Context, basePath string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.err
}

func (g *fakeGenerator) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeSubscription struct {
	events chan Event

	mu     sync.Mutex
	added  [][]string
	resets [][]string
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{events: make(chan Event)}
}

func (s *fakeSubscription) Events() <-chan Event { return s.events }

func (s *fakeSubscription) Add(patterns ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.added = append(s.added, patterns)
	return nil
}

func (s *fakeSubscription) Reset(patterns ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets = append(s.resets, patterns)
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	tokens []string
	ch     chan string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{ch: make(chan string, 64)}
}

func (n *recordingNotifier) Broadcast(token string) int {
	n.mu.Lock()
	n.tokens = append(n.tokens, token)
	n.mu.Unlock()
	n.ch <- token
	return 1
}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.tokens...)
}

func (n *recordingNotifier) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-n.ch:
		if got != want {
			t.Fatalf("broadcast %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for %q broadcast", want)
	}
}

type dispatchFunc func(ctx context.Context, pathname string) (render.Result, error)

func (f dispatchFunc) Dispatch(ctx context.Context, pathname string) (render.Result, error) {
	return f(ctx, pathname)
}

type reviewFunc func(ctx context.Context) ([]byte, error)

func (f reviewFunc) Review(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

// eventually polls cond until it holds or the timeout expires.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
