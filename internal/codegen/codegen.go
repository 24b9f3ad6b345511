// Package codegen writes the route manifest the compiled application is
// generated from.
//
// The generator scans src/Page for route modules and writes
// .elm-pages/routes.json. Output is deterministic, and the file is only
// rewritten when its content changes so that unrelated saves do not churn
// the compiler's inputs.
package codegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/angusjf/elm-pages/internal/config"
	"github.com/angusjf/elm-pages/internal/routes"
)

const tracerName = "github.com/angusjf/elm-pages/internal/codegen"

// ManifestFile is where the route manifest is written, relative to the
// project root.
var ManifestFile = filepath.Join(config.GeneratedSourceDir, "routes.json")

// Manifest is the generated route manifest.
type Manifest struct {
	BasePath string  `json:"basePath"`
	Routes   []Entry `json:"routes"`
}

// Entry describes one route.
type Entry struct {
	Module   string           `json:"module"`
	Variant  string           `json:"variant"`
	Pattern  string           `json:"pattern"`
	Segments []routes.Segment `json:"segments"`
	Params   []routes.Param   `json:"params"`
}

// Options configures a Generator.
type Options struct {
	// ProjectDir is the project root. Paths are resolved against it.
	ProjectDir string

	// Fs is the filesystem to read and write. Defaults to the OS filesystem.
	Fs afero.Fs

	// Logger receives generation logs.
	Logger zerolog.Logger
}

// Generator is the default code generator.
type Generator struct {
	fs  afero.Fs
	dir string
	log zerolog.Logger
}

// New creates a Generator.
func New(opts Options) *Generator {
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Generator{fs: fs, dir: opts.ProjectDir, log: opts.Logger}
}

// Generate rebuilds the route manifest for basePath.
func (g *Generator) Generate(ctx context.Context, basePath string) error {
	_, err := g.Run(ctx, basePath)
	return err
}

// Run rebuilds the route manifest and reports whether the file changed.
func (g *Generator) Run(ctx context.Context, basePath string) (bool, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "codegen.Generate")
	defer span.End()

	rs, err := g.Scan()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}
	span.SetAttributes(attribute.Int("codegen.routes", len(rs)))

	content, err := Render(basePath, rs)
	if err != nil {
		return false, err
	}

	target := filepath.Join(g.dir, ManifestFile)
	current, err := afero.ReadFile(g.fs, target)
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("read %s: %w", ManifestFile, err)
	}
	if bytes.Equal(current, content) {
		return false, nil
	}

	if err := g.fs.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return false, fmt.Errorf("create %s: %w", filepath.Dir(ManifestFile), err)
	}
	if err := afero.WriteFile(g.fs, target, content, 0644); err != nil {
		return false, fmt.Errorf("write %s: %w", ManifestFile, err)
	}
	g.log.Debug().Int("routes", len(rs)).Msg("regenerated " + ManifestFile)
	return true, nil
}

// Scan returns the project's routes in module order.
func (g *Generator) Scan() ([]routes.Route, error) {
	pageDir := filepath.Join(g.dir, config.PageModuleDir)
	if ok, err := afero.DirExists(g.fs, pageDir); err != nil || !ok {
		return nil, nil
	}

	var rs []routes.Route
	err := afero.Walk(g.fs, pageDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".elm") {
			return nil
		}
		rel, err := filepath.Rel(pageDir, path)
		if err != nil {
			return err
		}
		module, ok := routes.ModuleFromPath(rel)
		if !ok {
			return nil
		}
		r, err := routes.Parse(module)
		if err != nil {
			return fmt.Errorf("%s: %w", filepath.Join(config.PageModuleDir, rel), err)
		}
		rs = append(rs, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	routes.Sort(rs)
	return rs, nil
}

// Render produces the manifest bytes for a set of routes.
func Render(basePath string, rs []routes.Route) ([]byte, error) {
	m := Manifest{BasePath: basePath, Routes: make([]Entry, 0, len(rs))}
	for _, r := range rs {
		params := r.Params()
		if params == nil {
			params = []routes.Param{}
		}
		m.Routes = append(m.Routes, Entry{
			Module:   r.ModuleName(),
			Variant:  r.Variant(),
			Pattern:  r.PathPattern(),
			Segments: r.Segments,
			Params:   params,
		})
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
