package dev

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/angusjf/elm-pages/internal/config"
)

// CollectWatchPatterns returns the normalized, de-duplicated watch patterns
// for the project.
func CollectWatchPatterns(m *config.Manifest, extra ...string) []string {
	patterns := append(m.WatchPatterns(), extra...)

	unique := make([]string, 0, len(patterns))
	seen := make(map[string]struct{}, len(patterns))
	for _, p := range patterns {
		clean := normalizePattern(p)
		if clean == "" {
			continue
		}
		if _, ok := seen[clean]; ok {
			continue
		}
		seen[clean] = struct{}{}
		unique = append(unique, clean)
	}
	return unique
}

func normalizePattern(p string) string {
	p = strings.TrimSpace(filepath.ToSlash(p))
	if p == "" {
		return ""
	}
	p = path.Clean(p)
	if p == "." {
		return ""
	}
	return strings.TrimPrefix(p, "./")
}

// watchPattern is one subscription. A literal pattern matches the path itself
// and, when it names a directory, everything beneath it. A glob pattern is
// matched segment by segment, with ** matching any number of segments.
type watchPattern struct {
	raw      string
	segments []string
	glob     bool
}

func parseWatchPattern(p string) watchPattern {
	p = normalizePattern(p)
	return watchPattern{
		raw:      p,
		segments: splitPathSegments(p),
		glob:     strings.ContainsAny(p, "*?["),
	}
}

// base returns the leading directory segments that contain no glob.
func (p watchPattern) base() string {
	if !p.glob {
		return p.raw
	}
	var lit []string
	for _, seg := range p.segments {
		if strings.ContainsAny(seg, "*?[") {
			break
		}
		lit = append(lit, seg)
	}
	return strings.Join(lit, "/")
}

// recursive reports whether matches can appear more than one level below
// base.
func (p watchPattern) recursive() bool {
	if !p.glob {
		return true
	}
	rest := len(p.segments) - len(splitPathSegments(p.base()))
	return rest > 1 || strings.Contains(p.raw, "**")
}

func (p watchPattern) match(rel string) bool {
	rel = normalizePattern(rel)
	if !p.glob {
		return rel == p.raw || strings.HasPrefix(rel, p.raw+"/")
	}
	return matchSegments(p.segments, splitPathSegments(rel))
}

// covers reports whether dir may contain paths the pattern matches.
func (p watchPattern) covers(dir string) bool {
	dir = normalizePattern(dir)
	if dir == "" {
		return true
	}
	base := p.base()
	if base == "" || dir == base || strings.HasPrefix(dir, base+"/") {
		return p.recursive() || dir == base
	}
	return strings.HasPrefix(base, dir+"/")
}

func matchSegments(pattern, parts []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			for i := 0; i <= len(parts); i++ {
				if matchSegments(pattern[1:], parts[i:]) {
					return true
				}
			}
			return false
		}
		if len(parts) == 0 {
			return false
		}
		if ok, _ := path.Match(pattern[0], parts[0]); !ok {
			return false
		}
		pattern, parts = pattern[1:], parts[1:]
	}
	return len(parts) == 0
}
