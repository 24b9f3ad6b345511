package dev

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/angusjf/elm-pages/internal/config"
	"github.com/angusjf/elm-pages/internal/errors"
	"github.com/angusjf/elm-pages/internal/render"
)

// Dispatcher renders a page.
type Dispatcher interface {
	Dispatch(ctx context.Context, pathname string) (render.Result, error)
}

// Reviewer produces a linter report for the project.
type Reviewer interface {
	Review(ctx context.Context) ([]byte, error)
}

// RouterOptions configures the dev server's HTTP handler.
type RouterOptions struct {
	ProjectDir  string
	Base        string
	Pipeline    *Pipeline
	Dispatcher  Dispatcher
	Broadcaster *Broadcaster
	Reviewer    Reviewer
	CORSOrigins []string

	// Gatherer serves /_elm-pages/metrics when set.
	Gatherer prometheus.Gatherer
	Metrics  *Metrics

	Logger zerolog.Logger
}

type router struct {
	projectDir  string
	base        string
	pipeline    *Pipeline
	dispatcher  Dispatcher
	broadcaster *Broadcaster
	reviewer    Reviewer
	metrics     *Metrics
	log         zerolog.Logger
}

// NewRouter returns the dev server's HTTP handler.
func NewRouter(opts RouterOptions) http.Handler {
	s := &router{
		projectDir:  opts.ProjectDir,
		base:        config.NormalizeBase(opts.Base),
		pipeline:    opts.Pipeline,
		dispatcher:  opts.Dispatcher,
		broadcaster: opts.Broadcaster,
		reviewer:    opts.Reviewer,
		metrics:     opts.Metrics,
		log:         opts.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.timing)
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.CORSOrigins,
			AllowedMethods:   []string{"GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
	r.Use(s.stripBase)

	r.Get("/stream", s.broadcaster.ServeSSE)
	r.Get("/_elm-pages/reload", s.broadcaster.ServeWebSocket)
	if opts.Gatherer != nil {
		r.Get("/_elm-pages/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}).ServeHTTP)
	}

	compressor := middleware.NewCompressor(5, "text/html", "application/json", "application/javascript", "text/javascript")
	compressor.SetEncoder("br", func(w io.Writer, level int) io.Writer {
		return brotli.NewWriterLevel(w, level)
	})

	r.Group(func(r chi.Router) {
		r.Use(compressor.Handler)
		r.Use(s.observe)
		r.Get("/elm.js", s.serveBundle)
		r.HandleFunc("/*", s.navigate)
	})

	return r
}

var (
	fastStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	slowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// formatDuration colors a request duration: green under 10ms, yellow under
// 50ms, red otherwise.
func formatDuration(d time.Duration) string {
	text := fmt.Sprintf("%dms", d.Milliseconds())
	if !errors.ColorsEnabled() {
		return text
	}
	switch {
	case d < 10*time.Millisecond:
		return fastStyle.Render(text)
	case d < 50*time.Millisecond:
		return okStyle.Render(text)
	default:
		return slowStyle.Render(text)
	}
}

func (s *router) timing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/stream" || r.URL.Path == "/_elm-pages/reload" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info().Msgf("Ran in %s %s", formatDuration(time.Since(start)), r.URL.RequestURI())
	})
}

// stripBase removes the base path from request paths that carry it.
func (s *router) stripBase(next http.Handler) http.Handler {
	if s.base == "/" {
		return next
	}
	prefix := strings.TrimSuffix(s.base, "/")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p := r.URL.Path; p == prefix || strings.HasPrefix(p, prefix+"/") {
			r2 := r.Clone(r.Context())
			r2.URL.Path = "/" + strings.TrimPrefix(strings.TrimPrefix(p, prefix), "/")
			r2.URL.RawPath = ""
			next.ServeHTTP(w, r2)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *router) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "navigation"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() == "/elm.js" {
			route = "bundle"
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.observeRequest(route, status, time.Since(start))
	})
}

// serveBundle holds /elm.js until both builds of the current cycle settle.
func (s *router) serveBundle(w http.ResponseWriter, r *http.Request) {
	pair := s.pipeline.Current()
	if err := pair.Wait(r.Context()); err != nil {
		if r.Context().Err() != nil {
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorPayload(err))
		return
	}

	data, err := os.ReadFile(filepath.Join(s.projectDir, config.ClientBundlePath))
	if err != nil {
		s.log.Error().Err(err).Msg("Could not read the compiled client bundle")
		writeJSON(w, http.StatusInternalServerError, errorPayload(err))
		return
	}
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// isDataRequest reports whether the request is for page data rather than a
// document.
func isDataRequest(r *http.Request) bool {
	return strings.Contains(r.URL.Path, "content.json")
}

func (s *router) navigate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.pipeline.Current().Server.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.compileFailure(w, r, err)
		return
	}

	result, err := s.dispatcher.Dispatch(ctx, r.URL.Path)
	if err != nil {
		if stderrors.Is(err, context.Canceled) && ctx.Err() != nil {
			return
		}
		s.log.Error().Msgf("%s\n%s", errors.New("E140").WithPath(r.URL.Path).FormatCompact(), describeCompileError(err))
		if isDataRequest(r) {
			writeJSON(w, http.StatusInternalServerError, errorPayload(err))
			return
		}
		writeHTML(w, http.StatusInternalServerError, errorHTML("Render failed", err))
		return
	}

	s.writeResult(w, r, result)
}

func (s *router) writeResult(w http.ResponseWriter, r *http.Request, result render.Result) {
	status := http.StatusOK
	if result.Is404 {
		status = http.StatusNotFound
	}

	switch result.Kind {
	case render.KindJSON:
		writeJSON(w, status, []byte(result.ContentJSON))
	case render.KindHTML:
		writeHTML(w, status, []byte(injectLiveReload(result.HTMLString)))
	case render.KindAPIResponse:
		w.Header().Set("Content-Type", contentTypeFor(r.URL.Path))
		w.WriteHeader(result.StatusCode)
		io.WriteString(w, result.Body)
	default:
		writeHTML(w, http.StatusInternalServerError, errorHTML("Render failed", fmt.Errorf("unknown render result kind %q", result.Kind)))
	}
}

// contentTypeFor infers a MIME type from the request path's extension.
// Unknown and binary types are served as HTML.
func contentTypeFor(pathname string) string {
	ct := mime.TypeByExtension(path.Ext(pathname))
	if ct == "" || strings.HasPrefix(ct, "application/octet-stream") {
		return "text/html"
	}
	return ct
}

// compileFailure answers a navigation whose server build failed. When the
// failure comes from a route module breaking the generated module's contract
// the linter runs first and its report is logged; data requests get that
// report instead of the compiler's JSON.
func (s *router) compileFailure(w http.ResponseWriter, r *http.Request, err error) {
	var report []byte
	var ce *CompileError
	if stderrors.As(err, &ce) && ce.Target != TargetCodegen && s.isImplicitContractError(ce.Payload) {
		if found, ok := s.review(r.Context()); ok {
			report = found
			s.log.Error().Msgf("elm-review found problems\n%s", errors.FormatReport(report))
		}
	}

	if !isDataRequest(r) {
		writeHTML(w, http.StatusInternalServerError, errorHTML("Compilation failed", err))
		return
	}
	if report != nil {
		writeJSON(w, http.StatusInternalServerError, report)
		return
	}
	writeJSON(w, http.StatusInternalServerError, errorPayload(err))
}

// isImplicitContractError reports whether a compiler report blames the
// generated route dispatch module. Payloads that are not a compiler report
// are treated as unrelated.
func (s *router) isImplicitContractError(payload []byte) bool {
	normalized := strings.ReplaceAll(string(payload), "\t", "    ")
	var report struct {
		Errors []struct {
			Name string `json:"name"`
		} `json:"errors"`
	}
	if err := json.Unmarshal([]byte(normalized), &report); err != nil {
		s.log.Debug().Err(err).Msg("Compiler output is not a JSON report")
		return false
	}
	for _, e := range report.Errors {
		if e.Name == "TemplateModulesBeta" {
			return true
		}
	}
	return false
}

// review runs the linter and returns its report if it found anything.
func (s *router) review(ctx context.Context) ([]byte, bool) {
	if s.reviewer == nil {
		return nil, false
	}
	report, err := s.reviewer.Review(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("elm-review failed")
		return nil, false
	}
	var parsed struct {
		Errors []json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(report, &parsed); err != nil {
		s.log.Warn().Err(err).Msg("elm-review report is not valid JSON")
		return nil, false
	}
	if len(parsed.Errors) == 0 {
		return nil, false
	}
	return report, true
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func writeHTML(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(body)
}
