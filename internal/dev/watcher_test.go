package dev

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/angusjf/elm-pages/internal/config"
)

func TestWatchPattern_Match(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"elm.json", "elm.json", true},
		{"elm.json", "lib/elm.json", false},
		{"src", "src/Main.elm", true},
		{"src", "src/Page/Blog/Slug_.elm", true},
		{"src", "srcs/Main.elm", false},
		{"public/*.css", "public/style.css", true},
		{"public/*.css", "public/nested/style.css", false},
		{"public/*.css", "public/style.js", false},
		{"content/**/*.md", "content/post.md", true},
		{"content/**/*.md", "content/2024/01/post.md", true},
		{"content/**/*.md", "content/2024/post.txt", false},
		{"./port-data-source.js", "port-data-source.js", true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.path, func(t *testing.T) {
			if got := parseWatchPattern(tt.pattern).match(tt.path); got != tt.want {
				t.Errorf("match(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestWatchPattern_Recursive(t *testing.T) {
	tests := []struct {
		pattern string
		base    string
		want    bool
	}{
		{"src", "src", true},
		{"public/*.css", "public", false},
		{"content/**/*.md", "content", true},
		{"data/*/index.json", "data", true},
	}

	for _, tt := range tests {
		p := parseWatchPattern(tt.pattern)
		if p.base() != tt.base {
			t.Errorf("%q base = %q, want %q", tt.pattern, p.base(), tt.base)
		}
		if p.recursive() != tt.want {
			t.Errorf("%q recursive = %v, want %v", tt.pattern, p.recursive(), tt.want)
		}
	}
}

func TestCollectWatchPatterns(t *testing.T) {
	m := &config.Manifest{SourceDirectories: []string{"src", "./src", ".elm-pages", "lib/"}}

	got := CollectWatchPatterns(m, "content/*.md", "src")
	want := []string{"elm.json", "src", "lib", "public/*.css", "port-data-source.js", "content/*.md"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("CollectWatchPatterns() = %v, want %v", got, want)
	}
}

func TestWatcher_ShouldIgnore(t *testing.T) {
	w := &Watcher{ignore: DefaultIgnore}

	tests := []struct {
		path string
		want bool
	}{
		{"src/Main.elm", false},
		{"elm-stuff/0.19.1/i.dat", true},
		{"node_modules/elm/bin/elm", true},
		{".elm-pages/Main.elm", true},
		{"src/.Main.elm.swp", true},
		{"src/Main.elm~", true},
		{"public/style.css", false},
	}

	for _, tt := range tests {
		if got := w.shouldIgnore(tt.path); got != tt.want {
			t.Errorf("shouldIgnore(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func startWatcher(t *testing.T, dir string, patterns ...string) *Watcher {
	t.Helper()
	w, err := NewWatcher(WatcherConfig{Root: dir, Patterns: patterns, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w
}

// waitForEvent reads events until want arrives.
func waitForEvent(t *testing.T, events <-chan Event, want Event) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev == want {
				return
			}
		case <-timeout:
			t.Fatalf("timeout waiting for %+v", want)
		}
	}
}

func TestWatcher_ReportsChange(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "elm.json"), "{}")
	writeFile(t, filepath.Join(dir, "src", "Main.elm"), "module Main exposing (..)")

	w := startWatcher(t, dir, "elm.json", "src")

	writeFile(t, filepath.Join(dir, "src", "Main.elm"), "module Main exposing (main)")
	waitForEvent(t, w.Events(), Event{Op: OpChange, Path: "src/Main.elm"})
}

func TestWatcher_ReportsAddAndUnlink(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src", "Page", "Index.elm"), "module Page.Index exposing (..)")

	w := startWatcher(t, dir, "src")

	blog := filepath.Join(dir, "src", "Page", "Blog.elm")
	writeFile(t, blog, "module Page.Blog exposing (..)")
	waitForEvent(t, w.Events(), Event{Op: OpAdd, Path: "src/Page/Blog.elm"})

	if err := os.Remove(blog); err != nil {
		t.Fatal(err)
	}
	waitForEvent(t, w.Events(), Event{Op: OpUnlink, Path: "src/Page/Blog.elm"})
}

func TestWatcher_WatchesNewDirectories(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src", "Main.elm"), "module Main exposing (..)")

	w := startWatcher(t, dir, "src")

	nested := filepath.Join(dir, "src", "Page", "Blog")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	waitForEvent(t, w.Events(), Event{Op: OpAddDir, Path: "src/Page"})

	// Give the watcher time to subscribe to the new directories.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(nested, "Slug_.elm"), "module Page.Blog.Slug_ exposing (..)")
	waitForEvent(t, w.Events(), Event{Op: OpAdd, Path: "src/Page/Blog/Slug_.elm"})
}

func TestWatcher_IgnoresUnsubscribedPaths(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "elm.json"), "{}")

	w := startWatcher(t, dir, "elm.json")

	writeFile(t, filepath.Join(dir, "README.md"), "# readme")
	writeFile(t, filepath.Join(dir, "elm.json"), `{"type":"application"}`)

	waitForEvent(t, w.Events(), Event{Op: OpChange, Path: "elm.json"})
	if w.Matches("README.md") {
		t.Error("README.md matches an elm.json-only subscription")
	}
}

func TestWatcher_GlobSubscriptionForMissingDirectory(t *testing.T) {
	dir := t.TempDir()

	w := startWatcher(t, dir, "public/*.css")

	if err := os.MkdirAll(filepath.Join(dir, "public"), 0755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "public", "style.css"), "body {}")
	waitForEvent(t, w.Events(), Event{Op: OpAdd, Path: "public/style.css"})
}

func TestWatcher_AddAndReset(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "elm.json"), "{}")

	w, err := NewWatcher(WatcherConfig{Root: dir, Patterns: []string{"elm.json"}, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	defer w.fs.Close()

	if err := w.Add("content/**/*.md", "elm.json"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if got, want := w.Patterns(), []string{"elm.json", "content/**/*.md"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Patterns() = %v, want %v", got, want)
	}
	if !w.Matches("content/2024/post.md") {
		t.Error("added glob does not match")
	}

	if err := w.Reset("elm.json", "lib"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if got, want := w.Patterns(), []string{"elm.json", "lib"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Patterns() after Reset = %v, want %v", got, want)
	}
	if w.Matches("content/2024/post.md") {
		t.Error("Reset kept the old subscription")
	}
}

func TestWatcher_DirectoryMovedIn(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "elm.json"), "{}")
	writeFile(t, filepath.Join(dir, "src", "Page", "Index.elm"), "module Page.Index exposing (..)")
	writeFile(t, filepath.Join(dir, "drafts", "Docs", "Intro.elm"), "module Page.Docs.Intro exposing (..)")

	w := startWatcher(t, dir, "elm.json", "src")

	if err := os.Rename(filepath.Join(dir, "drafts", "Docs"), filepath.Join(dir, "src", "Page", "Docs")); err != nil {
		t.Fatal(err)
	}
	waitForEvent(t, w.Events(), Event{Op: OpAddDir, Path: "src/Page/Docs"})
	waitForEvent(t, w.Events(), Event{Op: OpAdd, Path: "src/Page/Docs/Intro.elm"})
}

func TestWatcher_DirectoryMovedOut(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src", "Page", "Docs", "Intro.elm"), "module Page.Docs.Intro exposing (..)")
	if err := os.MkdirAll(filepath.Join(dir, "drafts"), 0755); err != nil {
		t.Fatal(err)
	}

	w := startWatcher(t, dir, "src")

	if err := os.Rename(filepath.Join(dir, "src", "Page", "Docs"), filepath.Join(dir, "drafts", "Docs")); err != nil {
		t.Fatal(err)
	}
	waitForEvent(t, w.Events(), Event{Op: OpUnlink, Path: "src/Page/Docs/Intro.elm"})
	waitForEvent(t, w.Events(), Event{Op: OpUnlinkDir, Path: "src/Page/Docs"})
}

func TestWatcher_RecreatedNestedDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src", "Page", "Blog", "Deep", "Post.elm"), "module Page.Blog.Deep.Post exposing (..)")
	if err := os.MkdirAll(filepath.Join(dir, "drafts"), 0755); err != nil {
		t.Fatal(err)
	}

	w := startWatcher(t, dir, "src")

	if err := os.Rename(filepath.Join(dir, "src", "Page", "Blog"), filepath.Join(dir, "drafts", "Blog")); err != nil {
		t.Fatal(err)
	}
	waitForEvent(t, w.Events(), Event{Op: OpUnlinkDir, Path: "src/Page/Blog"})

	deep := filepath.Join(dir, "src", "Page", "Blog", "Deep")
	if err := os.MkdirAll(deep, 0755); err != nil {
		t.Fatal(err)
	}
	waitForEvent(t, w.Events(), Event{Op: OpAddDir, Path: "src/Page/Blog"})

	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(deep, "Next.elm"), "module Page.Blog.Deep.Next exposing (..)")
	waitForEvent(t, w.Events(), Event{Op: OpAdd, Path: "src/Page/Blog/Deep/Next.elm"})
}

func TestWatcher_TranslateDirectoryRemoval(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src", "Page", "Docs", "B.elm"), "")
	writeFile(t, filepath.Join(dir, "src", "Page", "Docs", "A.elm"), "")
	writeFile(t, filepath.Join(dir, "src", "Page", "Docs", "Nested", "C.elm"), "")

	w, err := NewWatcher(WatcherConfig{Root: dir, Patterns: []string{"src"}, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	defer w.fs.Close()

	docs := filepath.Join(dir, "src", "Page", "Docs")
	got := w.translate(fsnotify.Event{Name: docs, Op: fsnotify.Rename})
	want := []Event{
		{Op: OpUnlink, Path: "src/Page/Docs/A.elm"},
		{Op: OpUnlink, Path: "src/Page/Docs/B.elm"},
		{Op: OpUnlink, Path: "src/Page/Docs/Nested/C.elm"},
		{Op: OpUnlinkDir, Path: "src/Page/Docs"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("translate() = %v, want %v", got, want)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for watched := range w.watched {
		if watched == docs || strings.HasPrefix(watched, docs+string(filepath.Separator)) {
			t.Errorf("%s is still marked watched", watched)
		}
	}
}
