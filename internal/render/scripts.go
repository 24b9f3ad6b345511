package render

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	esbuild "github.com/evanw/esbuild/pkg/api"
)

//go:embed render_worker.js
var workerShim string

const portDataSourcePlaceholder = "__PORT_DATA_SOURCE__"

// emptyPortDataSource stands in for a missing port-data-source.js.
const emptyPortDataSource = "__elm_pages_empty_ports__"

// Scripts are the sources a render VM evaluates, in order.
type Scripts struct {
	// App is the compiled server application.
	App string

	// Shim connects the application's ports to the worker protocol.
	Shim string
}

// ScriptLoader reads and bundles render scripts, reusing the previous
// result until one of the inputs changes on disk.
type ScriptLoader struct {
	appPath   string
	portsPath string

	mu     sync.Mutex
	key    string
	cached *Scripts
}

// NewScriptLoader loads the compiled application from appPath and bundles
// portsPath (which may not exist) into the shim.
func NewScriptLoader(appPath, portsPath string) *ScriptLoader {
	return &ScriptLoader{appPath: appPath, portsPath: portsPath}
}

// Load returns the current scripts.
func (l *ScriptLoader) Load() (*Scripts, error) {
	key, err := l.fingerprint()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cached != nil && l.key == key {
		return l.cached, nil
	}

	app, err := os.ReadFile(l.appPath)
	if err != nil {
		return nil, fmt.Errorf("reading compiled application: %w", err)
	}
	shim, err := BundleShim(l.portsPath)
	if err != nil {
		return nil, err
	}

	l.cached = &Scripts{App: string(app), Shim: shim}
	l.key = key
	return l.cached, nil
}

func (l *ScriptLoader) fingerprint() (string, error) {
	app, err := os.Stat(l.appPath)
	if err != nil {
		return "", fmt.Errorf("compiled application not found: %w", err)
	}
	key := fmt.Sprintf("%d:%d", app.ModTime().UnixNano(), app.Size())
	if ports, err := os.Stat(l.portsPath); err == nil {
		key += fmt.Sprintf("|%d:%d", ports.ModTime().UnixNano(), ports.Size())
	}
	return key, nil
}

// BundleShim bundles the worker shim with the interop script at portsPath
// into a single self-contained script. A missing interop script bundles an
// empty module in its place.
func BundleShim(portsPath string) (string, error) {
	importPath := emptyPortDataSource
	resolveDir := filepath.Dir(portsPath)
	if _, err := os.Stat(portsPath); err == nil {
		importPath = "./" + filepath.ToSlash(filepath.Base(portsPath))
	}

	opts := esbuild.BuildOptions{
		Stdin: &esbuild.StdinOptions{
			Contents:   strings.Replace(workerShim, portDataSourcePlaceholder, importPath, 1),
			ResolveDir: resolveDir,
			Sourcefile: "render-worker.js",
			Loader:     esbuild.LoaderJS,
		},
		Bundle:   true,
		Format:   esbuild.FormatIIFE,
		Write:    false,
		Platform: esbuild.PlatformNeutral,
		Target:   esbuild.ES2020,
		Plugins:  []esbuild.Plugin{emptyModulePlugin},
	}

	result := esbuild.Build(opts)
	if len(result.Errors) > 0 {
		var msgs []string
		for _, e := range result.Errors {
			msgs = append(msgs, e.Text)
		}
		return "", fmt.Errorf("bundling render worker: %s", strings.Join(msgs, "; "))
	}
	if len(result.OutputFiles) == 0 {
		return "", fmt.Errorf("bundling render worker produced no output")
	}
	return string(result.OutputFiles[0].Contents), nil
}

// emptyModulePlugin resolves the placeholder import used when the project
// has no interop script.
var emptyModulePlugin = esbuild.Plugin{
	Name: "elm-pages-empty-ports",
	Setup: func(build esbuild.PluginBuild) {
		build.OnResolve(esbuild.OnResolveOptions{Filter: "^" + emptyPortDataSource + "$"},
			func(args esbuild.OnResolveArgs) (esbuild.OnResolveResult, error) {
				return esbuild.OnResolveResult{Path: emptyPortDataSource, Namespace: "empty"}, nil
			})
		build.OnLoad(esbuild.OnLoadOptions{Filter: ".*", Namespace: "empty"},
			func(args esbuild.OnLoadArgs) (esbuild.OnLoadResult, error) {
				contents := "export {};"
				return esbuild.OnLoadResult{Contents: &contents, Loader: esbuild.LoaderJS}, nil
			})
	},
}
