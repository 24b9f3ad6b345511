// Package routes derives URL routes from page module names.
//
// Every module under src/Page is one route. Module name sections map to URL
// segments by their trailing underscores:
//
//	Blog          static segment "blog"
//	Slug_         dynamic segment ":slug"
//	Section__     optional segment "[:section]"
//	SPLAT_        required splat (one or more segments)
//	SPLAT__       optional splat (zero or more segments)
//	Index         no segment (only meaningful as the last section)
//
// So src/Page/Blog/Slug_.elm serves /blog/:slug.
package routes

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// SegmentKind classifies one module name section.
type SegmentKind string

const (
	Static        SegmentKind = "static"
	Dynamic       SegmentKind = "dynamic"
	Optional      SegmentKind = "optional"
	RequiredSplat SegmentKind = "required-splat"
	OptionalSplat SegmentKind = "optional-splat"
)

// Segment is one parsed section of a route module name.
type Segment struct {
	Kind SegmentKind `json:"kind"`
	Name string      `json:"name"`
}

// Param is one field of a route's params record.
type Param struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Route is a page module and the URL pattern it serves.
type Route struct {
	// Module is the module name split on dots, without the "Page" prefix.
	Module   []string  `json:"module"`
	Segments []Segment `json:"segments"`
}

var (
	sectionPattern = regexp.MustCompile(`([A-Z][A-Za-z0-9]*)(_?_?)$`)
	pageModulePath = regexp.MustCompile(`^src/Page/.*\.elm$`)
	camelBoundary  = regexp.MustCompile(`([a-z])([A-Z])`)
)

// Parse parses a page module name such as ["Blog", "Slug_"].
func Parse(module []string) (Route, error) {
	if len(module) == 0 {
		return Route{}, fmt.Errorf("empty route module name")
	}
	segments := make([]Segment, 0, len(module))
	for _, section := range module {
		seg, ok, err := parseSection(section)
		if err != nil {
			return Route{}, fmt.Errorf("route module %s: %w", strings.Join(module, "."), err)
		}
		if ok {
			segments = append(segments, seg)
		}
	}
	return Route{Module: append([]string(nil), module...), Segments: segments}, nil
}

func parseSection(section string) (Segment, bool, error) {
	m := sectionPattern.FindStringSubmatch(section)
	if m == nil || m[0] != section {
		return Segment{}, false, fmt.Errorf("invalid module name section %q", section)
	}
	name, suffix := m[1], m[2]
	splat := name == "SPLAT"

	switch suffix {
	case "":
		if name == "Index" {
			return Segment{}, false, nil
		}
		return Segment{Kind: Static, Name: name}, true, nil
	case "_":
		if splat {
			return Segment{Kind: RequiredSplat, Name: FieldName(name)}, true, nil
		}
		return Segment{Kind: Dynamic, Name: FieldName(name)}, true, nil
	default:
		if splat {
			return Segment{Kind: OptionalSplat, Name: FieldName(name)}, true, nil
		}
		return Segment{Kind: Optional, Name: FieldName(name)}, true, nil
	}
}

// Variant returns the route's constructor name, e.g. "Blog__Slug_".
func (r Route) Variant() string {
	return strings.Join(r.Module, "__")
}

// ModuleName returns the full Elm module name, e.g. "Page.Blog.Slug_".
func (r Route) ModuleName() string {
	return "Page." + strings.Join(r.Module, ".")
}

// Params returns the route's params record fields.
func (r Route) Params() []Param {
	var params []Param
	for _, seg := range r.Segments {
		switch seg.Kind {
		case Dynamic:
			params = append(params, Param{Name: seg.Name, Type: "String"})
		case Optional:
			params = append(params, Param{Name: seg.Name, Type: "Maybe String"})
		case RequiredSplat:
			params = append(params, Param{Name: "splat", Type: "( String, List String )"})
		case OptionalSplat:
			params = append(params, Param{Name: "splat", Type: "List String"})
		}
	}
	return params
}

// PathPattern returns the URL pattern, e.g. "/blog/:slug".
func (r Route) PathPattern() string {
	parts := make([]string, 0, len(r.Segments))
	for _, seg := range r.Segments {
		switch seg.Kind {
		case Static:
			parts = append(parts, CamelToKebab(seg.Name))
		case Dynamic:
			parts = append(parts, ":"+seg.Name)
		case Optional:
			parts = append(parts, "[:"+seg.Name+"]")
		case RequiredSplat:
			parts = append(parts, "*")
		case OptionalSplat:
			parts = append(parts, "[*]")
		}
	}
	return "/" + strings.Join(parts, "/")
}

// FieldName returns the params record field for a section name.
func FieldName(name string) string {
	if name == "SPLAT" {
		return "splat"
	}
	if name == "" {
		return name
	}
	return strings.ToLower(name[:1]) + name[1:]
}

// CamelToKebab converts "BlogPost" to "blog-post".
func CamelToKebab(s string) string {
	return strings.ToLower(camelBoundary.ReplaceAllString(s, "$1-$2"))
}

// IsPageModule reports whether a project-relative path is a page module.
// Adding or removing one changes the set of routes.
func IsPageModule(relPath string) bool {
	return pageModulePath.MatchString(filepath.ToSlash(relPath))
}

// ModuleFromPath returns the route module name for a path relative to the
// page directory, e.g. "Blog/Slug_.elm" gives ["Blog", "Slug_"].
func ModuleFromPath(rel string) ([]string, bool) {
	rel = filepath.ToSlash(rel)
	if !strings.HasSuffix(rel, ".elm") {
		return nil, false
	}
	return strings.Split(strings.TrimSuffix(rel, ".elm"), "/"), true
}

// Sort orders routes by module name.
func Sort(rs []Route) {
	sort.Slice(rs, func(i, j int) bool {
		return strings.Join(rs[i].Module, ".") < strings.Join(rs[j].Module, ".")
	})
}
