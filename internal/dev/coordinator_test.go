package dev

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type coordinatorHarness struct {
	builder   *fakeBuilder
	generator *fakeGenerator
	watcher   *fakeSubscription
	notifier  *recordingNotifier
	pipeline  *Pipeline
	coord     *Coordinator
	patterns  []string
}

func startCoordinator(t *testing.T, initial bool) *coordinatorHarness {
	t.Helper()
	h := &coordinatorHarness{
		builder:   newFakeBuilder(),
		generator: &fakeGenerator{},
		watcher:   newFakeSubscription(),
		notifier:  newRecordingNotifier(),
		patterns:  []string{"elm.json", "src", "lib"},
	}
	h.pipeline = newTestPipeline(h.builder, h.generator)
	h.coord = NewCoordinator(CoordinatorOptions{
		Watcher:        h.watcher,
		Pipeline:       h.pipeline,
		Notifier:       h.notifier,
		Patterns:       func() ([]string, error) { return h.patterns, nil },
		InitialCompile: initial,
		Logger:         zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.coord.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *coordinatorHarness) send(t *testing.T, ev Event) {
	t.Helper()
	select {
	case h.watcher.events <- ev:
	case <-time.After(2 * time.Second):
		t.Fatalf("coordinator did not accept %v", ev)
	}
}

// sync returns once every event sent before it has been handled.
func (h *coordinatorHarness) sync(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.coord.Watch(ctx, nil); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
}

func TestCoordinator_StylesheetBroadcastsWithoutRebuild(t *testing.T) {
	h := startCoordinator(t, false)

	h.send(t, Event{Op: OpChange, Path: "public/style.css"})
	h.notifier.expect(t, TokenStylesheet)
	h.sync(t)

	if n := h.builder.count(TargetClient) + h.builder.count(TargetServer); n != 0 {
		t.Errorf("builds = %d, want 0", n)
	}
}

func TestCoordinator_PageModuleAddedRegeneratesAndRebuilds(t *testing.T) {
	h := startCoordinator(t, false)

	h.send(t, Event{Op: OpAdd, Path: "src/Page/Blog.elm"})
	h.notifier.expect(t, TokenBundle)
	h.notifier.expect(t, TokenContent)

	if err := h.pipeline.Current().Wait(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if h.generator.count() != 1 {
		t.Errorf("generator calls = %d, want 1", h.generator.count())
	}
	if h.builder.count(TargetClient) != 1 || h.builder.count(TargetServer) != 1 {
		t.Errorf("builds = client %d server %d, want 1 each",
			h.builder.count(TargetClient), h.builder.count(TargetServer))
	}
}

func TestCoordinator_SourceChangeSkipsCodegen(t *testing.T) {
	h := startCoordinator(t, false)

	h.send(t, Event{Op: OpChange, Path: "src/Page/Blog.elm"})
	h.notifier.expect(t, TokenContent)
	h.pipeline.Current().Wait(context.Background())

	if h.generator.count() != 0 {
		t.Errorf("generator calls = %d, want 0 for a content change", h.generator.count())
	}
	if h.builder.count(TargetServer) != 1 {
		t.Errorf("server builds = %d, want 1", h.builder.count(TargetServer))
	}
}

func TestCoordinator_CoalescesChangesDuringCompile(t *testing.T) {
	h := startCoordinator(t, false)
	gate := make(chan struct{})
	h.builder.mu.Lock()
	h.builder.gate = gate
	h.builder.mu.Unlock()

	h.send(t, Event{Op: OpChange, Path: "src/Main.elm"})
	<-h.builder.started
	<-h.builder.started

	for i := 0; i < 5; i++ {
		h.send(t, Event{Op: OpChange, Path: "src/Main.elm"})
	}
	h.sync(t)

	if n := h.builder.count(TargetServer); n != 1 {
		t.Fatalf("server builds during compile = %d, want 1", n)
	}

	close(gate)
	eventually(t, "trailing cycle", func() bool { return h.builder.count(TargetServer) == 2 })
	eventually(t, "pipeline idle", func() bool { return !h.pipeline.Compiling() })

	time.Sleep(50 * time.Millisecond)
	h.sync(t)
	if n := h.builder.count(TargetServer); n != 2 {
		t.Errorf("server builds = %d, want exactly 2", n)
	}
	if n := h.builder.count(TargetClient); n != 2 {
		t.Errorf("client builds = %d, want exactly 2", n)
	}
}

func TestCoordinator_CoalescedPageAddStillRegenerates(t *testing.T) {
	h := startCoordinator(t, false)
	gate := make(chan struct{})
	h.builder.mu.Lock()
	h.builder.gate = gate
	h.builder.mu.Unlock()

	h.send(t, Event{Op: OpChange, Path: "src/Main.elm"})
	<-h.builder.started
	h.send(t, Event{Op: OpAdd, Path: "src/Page/About.elm"})
	h.send(t, Event{Op: OpChange, Path: "src/Main.elm"})
	h.sync(t)

	close(gate)
	eventually(t, "trailing cycle", func() bool { return h.generator.count() == 1 })
	eventually(t, "trailing builds", func() bool { return h.builder.count(TargetServer) == 2 })
}

func TestCoordinator_ManifestChangeResetsSubscription(t *testing.T) {
	h := startCoordinator(t, false)

	h.send(t, Event{Op: OpChange, Path: "elm.json"})
	h.sync(t)

	h.watcher.mu.Lock()
	resets := h.watcher.resets
	h.watcher.mu.Unlock()
	if len(resets) != 1 || !reflect.DeepEqual(resets[0], h.patterns) {
		t.Fatalf("resets = %v, want [%v]", resets, h.patterns)
	}
	if n := h.builder.count(TargetServer); n != 0 {
		t.Errorf("server builds = %d, want 0", n)
	}
}

func TestCoordinator_OtherFileBroadcastsContent(t *testing.T) {
	h := startCoordinator(t, false)

	h.send(t, Event{Op: OpChange, Path: "port-data-source.js"})
	h.notifier.expect(t, TokenContent)
	h.sync(t)

	if n := h.builder.count(TargetServer); n != 0 {
		t.Errorf("server builds = %d, want 0", n)
	}
}

func TestCoordinator_WatchInstallsPatterns(t *testing.T) {
	h := startCoordinator(t, false)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.coord.Watch(ctx, []string{"content/**/*.md"}); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	h.watcher.mu.Lock()
	defer h.watcher.mu.Unlock()
	if len(h.watcher.added) != 1 || !reflect.DeepEqual(h.watcher.added[0], []string{"content/**/*.md"}) {
		t.Fatalf("added = %v", h.watcher.added)
	}
}

func TestCoordinator_InitialCompile(t *testing.T) {
	h := startCoordinator(t, true)

	eventually(t, "initial cycle", func() bool {
		return h.builder.count(TargetServer) == 1 && !h.pipeline.Compiling()
	})
	if h.generator.count() != 1 {
		t.Errorf("generator calls = %d, want 1", h.generator.count())
	}
	h.sync(t)
	if tokens := h.notifier.all(); len(tokens) != 0 {
		t.Errorf("initial compile broadcast %v, want nothing", tokens)
	}
}

func TestCoordinator_WatchAfterStop(t *testing.T) {
	pipeline := newTestPipeline(newFakeBuilder(), nil)
	coord := NewCoordinator(CoordinatorOptions{
		Watcher:  newFakeSubscription(),
		Pipeline: pipeline,
		Notifier: newRecordingNotifier(),
		Logger:   zerolog.Nop(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	coord.Run(ctx)

	if err := coord.Watch(context.Background(), []string{"x"}); err == nil {
		t.Fatal("Watch() after Run returned = nil, want error")
	}
}

func TestCoordinator_PageDirectoryMovedInRegenerates(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "elm.json"), "{}")
	writeFile(t, filepath.Join(dir, "src", "Page", "Index.elm"), "module Page.Index exposing (..)")
	writeFile(t, filepath.Join(dir, "drafts", "Docs", "Intro.elm"), "module Page.Docs.Intro exposing (..)")

	w := startWatcher(t, dir, "elm.json", "src")
	builder := newFakeBuilder()
	generator := &fakeGenerator{}
	notifier := newRecordingNotifier()
	pipeline := newTestPipeline(builder, generator)
	coord := NewCoordinator(CoordinatorOptions{
		Watcher:  w,
		Pipeline: pipeline,
		Notifier: notifier,
		Logger:   zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		coord.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	if err := os.Rename(filepath.Join(dir, "drafts", "Docs"), filepath.Join(dir, "src", "Page", "Docs")); err != nil {
		t.Fatal(err)
	}

	eventually(t, "codegen for the moved page", func() bool { return generator.count() == 1 })
	if err := pipeline.Current().Wait(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if builder.count(TargetServer) != 1 {
		t.Errorf("server builds = %d, want 1", builder.count(TargetServer))
	}
	eventually(t, "elm.js broadcast", func() bool {
		for _, token := range notifier.all() {
			if token == TokenBundle {
				return true
			}
		}
		return false
	})
}
