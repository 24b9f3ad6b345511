package dev

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/angusjf/elm-pages/internal/config"
	"github.com/angusjf/elm-pages/internal/errors"
)

// Target is a build product.
type Target string

const (
	TargetClient  Target = "client"
	TargetServer  Target = "server"
	TargetCodegen Target = "codegen"
)

// CompilerConfig configures the Elm compiler.
type CompilerConfig struct {
	// ProjectPath is the root directory of the project.
	ProjectPath string

	// Elm is the compiler executable.
	Elm string

	// Debug builds the browser bundle with the Elm debugger.
	Debug bool

	// Env are additional environment variables.
	Env []string
}

// BuildResult contains the result of a build.
type BuildResult struct {
	// Success indicates if the build succeeded.
	Success bool

	// Duration is how long the build took.
	Duration time.Duration

	// Output is the compiler output.
	Output string

	// Error is the build error, if any. It is a *CompileError.
	Error error
}

// Compiler runs `elm make` for each target.
type Compiler struct {
	config CompilerConfig
}

// NewCompiler creates a new Elm compiler.
func NewCompiler(config CompilerConfig) *Compiler {
	if config.Elm == "" {
		config.Elm = "elm"
	}
	return &Compiler{config: config}
}

// entry returns the entry module and output file for target.
func (c *Compiler) entry(target Target) (string, string) {
	if target == TargetServer {
		return config.ServerEntryModule, config.ServerBundlePath
	}
	return config.ClientEntryModule, config.ClientBundlePath
}

// Args returns the compiler arguments for target.
func (c *Compiler) Args(target Target) []string {
	entry, output := c.entry(target)
	args := []string{"make", entry, "--output", output, "--report=json"}
	if target == TargetClient && c.config.Debug {
		args = append(args, "--debug")
	}
	return args
}

// Build compiles target.
func (c *Compiler) Build(ctx context.Context, target Target) BuildResult {
	start := time.Now()

	_, output := c.entry(target)
	if err := os.MkdirAll(filepath.Join(c.config.ProjectPath, filepath.Dir(output)), 0755); err != nil {
		return BuildResult{
			Duration: time.Since(start),
			Error:    compileFailure(target, err.Error(), errors.New("E130").Wrap(err)),
		}
	}

	cmd := exec.CommandContext(ctx, c.config.Elm, c.Args(target)...)
	cmd.Dir = c.config.ProjectPath
	cmd.Env = append(os.Environ(), c.config.Env...)
	configureProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	duration := time.Since(start)

	out := stderr.String()
	if out == "" {
		out = stdout.String()
	}

	if err != nil {
		return BuildResult{
			Duration: duration,
			Output:   out,
			Error:    compileFailure(target, out, errors.New("E130").WithDetail(string(target)+" build").Wrap(err)),
		}
	}

	return BuildResult{
		Success:  true,
		Duration: duration,
		Output:   out,
	}
}

// compileFailure builds a CompileError whose payload is the compiler's JSON
// report, or the output as a JSON string when it is not JSON.
func compileFailure(target Target, output string, cause error) *CompileError {
	payload := json.RawMessage(output)
	if !json.Valid(payload) {
		payload, _ = json.Marshal(output)
	}
	return &CompileError{Target: target, Payload: payload, Cause: cause}
}

// Linter runs elm-review. Concurrent reviews share a single run.
type Linter struct {
	projectPath string
	exe         string
	group       singleflight.Group
}

// NewLinter creates a linter.
func NewLinter(projectPath, exe string) *Linter {
	if exe == "" {
		exe = "elm-review"
	}
	return &Linter{projectPath: projectPath, exe: exe}
}

// Review returns elm-review's JSON report. Review findings make elm-review
// exit non-zero; that is still a successful review.
func (l *Linter) Review(ctx context.Context) ([]byte, error) {
	v, err, _ := l.group.Do("review", func() (any, error) {
		cmd := exec.CommandContext(ctx, l.exe, "--report=json")
		cmd.Dir = l.projectPath
		configureProcessGroup(cmd)

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		runErr := cmd.Run()
		if out := bytes.TrimSpace(stdout.Bytes()); len(out) > 0 {
			return out, nil
		}
		if runErr != nil {
			return nil, errors.New("E131").WithDetail(stderr.String()).Wrap(runErr)
		}
		return nil, errors.New("E131").WithDetail("elm-review produced no report")
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// EnsureExecutables checks that elm and elm-review are on PATH.
func EnsureExecutables(elm, elmReview string) error {
	if _, err := exec.LookPath(elm); err != nil {
		return errors.New("E100").
			Wrap(err).
			WithSuggestion("Install Elm (https://guide.elm-lang.org/install/elm.html) or set --elm / ELM_PAGES_ELM")
	}
	if _, err := exec.LookPath(elmReview); err != nil {
		return errors.New("E101").
			Wrap(err).
			WithSuggestion("Install it with `npm install --save-dev elm-review`, then run through npx or add node_modules/.bin to PATH")
	}
	return nil
}
