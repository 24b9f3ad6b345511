package dev

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/angusjf/elm-pages/internal/errors"
)

// Op is the kind of a file system event.
type Op string

const (
	OpAdd       Op = "add"
	OpChange    Op = "change"
	OpUnlink    Op = "unlink"
	OpAddDir    Op = "addDir"
	OpUnlinkDir Op = "unlinkDir"
)

// Event is a change to a watched path. Path is relative to the project root
// and uses forward slashes.
type Event struct {
	Op   Op
	Path string
}

// WatcherConfig configures the file watcher.
type WatcherConfig struct {
	// Root is the project directory. Patterns are relative to it.
	Root string

	// Patterns are the initial subscriptions.
	Patterns []string

	// Ignore patterns to skip (globs).
	Ignore []string

	Logger zerolog.Logger
}

// DefaultIgnore contains default patterns to ignore.
var DefaultIgnore = []string{
	".git",
	"node_modules",
	"elm-stuff",
	".elm-pages",
	"*.swp",
	"*~",
	".DS_Store",
}

// Watcher reports changes to paths matching its subscriptions. Existing files
// are not reported when they are first watched.
type Watcher struct {
	root   string
	ignore []string
	log    zerolog.Logger
	fs     *fsnotify.Watcher
	events chan Event

	mu       sync.Mutex
	patterns []watchPattern
	watched  map[string]struct{}
	known    map[string]bool
}

// NewWatcher creates a watcher and subscribes to config.Patterns.
func NewWatcher(config WatcherConfig) (*Watcher, error) {
	if len(config.Ignore) == 0 {
		config.Ignore = DefaultIgnore
	}
	root, err := filepath.Abs(config.Root)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.New("E160").Wrap(err)
	}

	w := &Watcher{
		root:    root,
		ignore:  config.Ignore,
		log:     config.Logger,
		fs:      fsw,
		events:  make(chan Event, 256),
		watched: make(map[string]struct{}),
		known:   make(map[string]bool),
	}
	if err := w.Add(config.Patterns...); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Events returns the event channel. It is closed when Run returns.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Add subscribes to more patterns. Already watched patterns are ignored.
func (w *Watcher) Add(patterns ...string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, raw := range patterns {
		p := parseWatchPattern(raw)
		if p.raw == "" || w.hasPatternLocked(p.raw) {
			continue
		}
		w.patterns = append(w.patterns, p)
		if err := w.watchPatternLocked(p); err != nil {
			return err
		}
	}
	return nil
}

// Reset replaces every subscription with patterns.
func (w *Watcher) Reset(patterns ...string) error {
	w.mu.Lock()
	for dir := range w.watched {
		_ = w.fs.Remove(dir)
	}
	w.patterns = nil
	w.watched = make(map[string]struct{})
	w.known = make(map[string]bool)
	w.mu.Unlock()

	return w.Add(patterns...)
}

// Patterns returns the current subscriptions.
func (w *Watcher) Patterns() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.patterns))
	for i, p := range w.patterns {
		out[i] = p.raw
	}
	return out
}

func (w *Watcher) hasPatternLocked(raw string) bool {
	for _, p := range w.patterns {
		if p.raw == raw {
			return true
		}
	}
	return false
}

// watchPatternLocked watches the directories a pattern's matches live in.
// A base that does not exist yet is covered by watching its nearest existing
// ancestor; the directory is picked up when it is created.
func (w *Watcher) watchPatternLocked(p watchPattern) error {
	base := filepath.Join(w.root, filepath.FromSlash(p.base()))
	info, err := os.Stat(base)
	switch {
	case err != nil:
		return w.watchDirLocked(w.existingAncestor(base), false)
	case !info.IsDir():
		w.known[w.rel(base)] = false
		return w.watchDirLocked(filepath.Dir(base), false)
	default:
		return w.watchDirLocked(base, p.recursive())
	}
}

func (w *Watcher) existingAncestor(dir string) string {
	for dir != w.root && strings.HasPrefix(dir, w.root) {
		dir = filepath.Dir(dir)
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return w.root
}

func (w *Watcher) watchDirLocked(dir string, recursive bool) error {
	if !recursive {
		return w.addLocked(dir)
	}
	return filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if p != dir && w.shouldIgnore(w.rel(p)) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		w.known[w.rel(p)] = info.IsDir()
		if info.IsDir() {
			return w.addLocked(p)
		}
		return nil
	})
}

func (w *Watcher) addLocked(dir string) error {
	if _, ok := w.watched[dir]; ok {
		return nil
	}
	if err := w.fs.Add(dir); err != nil {
		return errors.New("E160").WithPath(w.rel(dir)).Wrap(err)
	}
	w.watched[dir] = struct{}{}
	if entries, err := os.ReadDir(dir); err == nil {
		for _, e := range entries {
			w.known[w.rel(filepath.Join(dir, e.Name()))] = e.IsDir()
		}
	}
	return nil
}

func (w *Watcher) rel(p string) string {
	r, err := filepath.Rel(w.root, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	if r == "." {
		return ""
	}
	return filepath.ToSlash(r)
}

// Run translates file system notifications into Events until ctx ends.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)
	defer w.fs.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			for _, out := range w.translate(ev) {
				select {
				case w.events <- out:
				case <-ctx.Done():
					return nil
				}
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("File watcher error")
		}
	}
}

func (w *Watcher) translate(ev fsnotify.Event) []Event {
	rel := w.rel(ev.Name)
	if rel == "" || w.shouldIgnore(rel) {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case ev.Op.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			_, seen := w.known[rel]
			w.known[rel] = false
			if seen {
				return w.emitLocked(OpChange, rel)
			}
			return w.emitLocked(OpAdd, rel)
		}
		w.known[rel] = true
		if w.coversLocked(rel) {
			recursive := w.recursiveLocked(rel)
			if err := w.watchDirLocked(ev.Name, recursive); err != nil {
				w.log.Warn().Err(err).Str("path", rel).Msg("Could not watch new directory")
			}
		}
		// A directory moved into place arrives with its files already inside.
		out := w.emitLocked(OpAddDir, rel)
		for _, file := range w.filesUnder(ev.Name) {
			w.known[file] = false
			out = append(out, w.emitLocked(OpAdd, file)...)
		}
		return out

	case ev.Op.Has(fsnotify.Write):
		if isDir, ok := w.known[rel]; ok && isDir {
			return nil
		}
		w.known[rel] = false
		return w.emitLocked(OpChange, rel)

	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		isDir, ok := w.known[rel]
		if !ok {
			return nil
		}
		delete(w.known, rel)
		if !isDir {
			return w.emitLocked(OpUnlink, rel)
		}

		w.unwatchLocked(ev.Name)
		var children []string
		prefix := rel + "/"
		for k, childDir := range w.known {
			if !strings.HasPrefix(k, prefix) {
				continue
			}
			delete(w.known, k)
			if !childDir {
				children = append(children, k)
			}
		}
		sort.Strings(children)

		var out []Event
		for _, file := range children {
			out = append(out, w.emitLocked(OpUnlink, file)...)
		}
		return append(out, w.emitLocked(OpUnlinkDir, rel)...)
	}
	return nil
}

// filesUnder lists the project-relative files below dir, skipping ignored
// paths.
func (w *Watcher) filesUnder(dir string) []string {
	var files []string
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || p == dir {
			return nil
		}
		rel := w.rel(p)
		if w.shouldIgnore(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			files = append(files, rel)
		}
		return nil
	})
	return files
}

// unwatchLocked drops dir and every watched directory below it. The
// notification watches are removed off the event goroutine, which may still
// owe fsnotify a read.
func (w *Watcher) unwatchLocked(dir string) {
	prefix := dir + string(filepath.Separator)
	var dirs []string
	for watched := range w.watched {
		if watched == dir || strings.HasPrefix(watched, prefix) {
			dirs = append(dirs, watched)
			delete(w.watched, watched)
		}
	}
	go func() {
		for _, d := range dirs {
			_ = w.fs.Remove(d)
		}
	}()
}

func (w *Watcher) emitLocked(op Op, rel string) []Event {
	if !w.matchesLocked(rel, op == OpAddDir || op == OpUnlinkDir) {
		return nil
	}
	return []Event{{Op: op, Path: rel}}
}

// Matches reports whether a project-relative path is subscribed.
func (w *Watcher) Matches(rel string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.matchesLocked(rel, false)
}

func (w *Watcher) matchesLocked(rel string, dir bool) bool {
	for _, p := range w.patterns {
		if p.match(rel) {
			return true
		}
		if dir && p.recursive() && within(rel, p.base()) {
			return true
		}
	}
	return false
}

func within(rel, base string) bool {
	return base == "" || rel == base || strings.HasPrefix(rel, base+"/")
}

func (w *Watcher) coversLocked(dir string) bool {
	for _, p := range w.patterns {
		if p.covers(dir) {
			return true
		}
	}
	return false
}

func (w *Watcher) recursiveLocked(dir string) bool {
	for _, p := range w.patterns {
		if p.covers(dir) && p.recursive() {
			return true
		}
	}
	return false
}

// shouldIgnore checks if a project-relative path should be ignored.
func (w *Watcher) shouldIgnore(rel string) bool {
	name := path.Base(rel)

	for _, pattern := range w.ignore {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}

		// Direct match
		if name == pattern {
			return true
		}

		hasPathSep := strings.Contains(pattern, "/") || strings.Contains(pattern, "\\")
		hasGlob := strings.ContainsAny(pattern, "*?[")

		if hasGlob {
			if hasPathSep {
				if matched, _ := path.Match(filepath.ToSlash(pattern), rel); matched {
					return true
				}
			} else {
				if matched, _ := path.Match(pattern, name); matched {
					return true
				}
			}
			continue
		}

		if hasPathSep {
			if pathMatchesSegments(rel, filepath.ToSlash(pattern)) {
				return true
			}
			continue
		}

		if pathHasSegment(rel, pattern) {
			return true
		}
	}

	return false
}

func pathHasSegment(p, segment string) bool {
	if segment == "" {
		return false
	}
	for _, part := range splitPathSegments(p) {
		if part == segment {
			return true
		}
	}
	return false
}

func pathMatchesSegments(p, pattern string) bool {
	pathParts := splitPathSegments(p)
	patternParts := splitPathSegments(pattern)
	if len(patternParts) == 0 || len(patternParts) > len(pathParts) {
		return false
	}

	for i := 0; i <= len(pathParts)-len(patternParts); i++ {
		match := true
		for j := range patternParts {
			if pathParts[i+j] != patternParts[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}

	return false
}

func splitPathSegments(p string) []string {
	if p == "" {
		return nil
	}
	parts := strings.Split(p, "/")
	result := parts[:0]
	for _, part := range parts {
		if part != "" && part != "." {
			result = append(result, part)
		}
	}
	return result
}
