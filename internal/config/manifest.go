package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/angusjf/elm-pages/internal/errors"
)

const (
	// ManifestFileName is the Elm project manifest.
	ManifestFileName = "elm.json"

	// GeneratedSourceDir holds generated Elm modules. It is a source
	// directory but never watched.
	GeneratedSourceDir = ".elm-pages"
)

// Project-relative paths used by the dev server.
var (
	PortDataSourceFile = "port-data-source.js"
	StylesheetGlob     = filepath.Join("public", "*.css")
	PageModuleDir      = filepath.Join("src", "Page")
	GeneratedFilesDir  = filepath.Join("elm-stuff", "elm-pages", "generated-files")
	ServerBundlePath   = filepath.Join("elm-stuff", "elm-pages", "elm.js")
	ClientBundlePath   = filepath.Join("elm-stuff", "elm-pages", "client", "elm.js")
	ResponseCacheDir   = filepath.Join(".elm-pages", "http-response-cache")
	CacheDir           = filepath.Join(".elm-pages", "cache")
	CertDir            = filepath.Join(".elm-pages", "cert")
	ClientEntryModule  = filepath.Join(".elm-pages", "Main.elm")
	ServerEntryModule  = filepath.Join(".elm-pages", "TemplateModulesBeta.elm")
)

// Manifest is the subset of elm.json the dev server reads.
type Manifest struct {
	Type              string   `json:"type"`
	SourceDirectories []string `json:"source-directories"`

	path string
}

// LoadManifest reads elm.json from dir.
func LoadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("E110").
				WithPath(path).
				WithSuggestion("Run the dev server from the directory containing elm.json")
		}
		return nil, errors.New("E111").WithPath(path).Wrap(err)
	}

	m := &Manifest{path: path}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, errors.New("E111").
			WithPath(path).
			WithDetail("Failed to parse elm.json: " + err.Error()).
			WithSuggestion("Check that elm.json is valid JSON")
	}
	if len(m.SourceDirectories) == 0 {
		return nil, errors.New("E111").
			WithPath(path).
			WithDetail(`elm.json has no "source-directories"`)
	}
	return m, nil
}

// Path returns the file the manifest was loaded from.
func (m *Manifest) Path() string {
	return m.path
}

// WatchDirs returns the source directories to watch, excluding the
// generated-code directory.
func (m *Manifest) WatchDirs() []string {
	dirs := make([]string, 0, len(m.SourceDirectories))
	for _, dir := range m.SourceDirectories {
		clean := filepath.Clean(dir)
		if clean == GeneratedSourceDir || strings.HasPrefix(clean, GeneratedSourceDir+string(filepath.Separator)) {
			continue
		}
		dirs = append(dirs, clean)
	}
	return dirs
}

// WatchPatterns returns the base watch subscription: the manifest itself,
// every watched source directory, stylesheets and the interop script.
func (m *Manifest) WatchPatterns() []string {
	patterns := []string{ManifestFileName}
	patterns = append(patterns, m.WatchDirs()...)
	patterns = append(patterns, StylesheetGlob, PortDataSourceFile)
	return patterns
}
