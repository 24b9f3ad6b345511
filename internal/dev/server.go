package dev

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/angusjf/elm-pages/internal/codegen"
	"github.com/angusjf/elm-pages/internal/config"
	"github.com/angusjf/elm-pages/internal/errors"
	"github.com/angusjf/elm-pages/internal/render"
)

// ServerOptions configures the development server.
type ServerOptions struct {
	// ProjectDir is the Elm project root.
	ProjectDir string

	// Config is the dev server configuration.
	Config *config.Dev

	Logger zerolog.Logger

	// Registry collects metrics. A new registry is created when nil.
	Registry *prometheus.Registry

	// Builder, Generator, Engine and Reviewer replace the default external
	// collaborators when set.
	Builder   Builder
	Generator Generator
	Engine    render.Engine
	Reviewer  Reviewer
}

// Server is the development server.
type Server struct {
	config      *config.Dev
	dir         string
	logger      zerolog.Logger
	manifest    *config.Manifest
	watcher     *Watcher
	pipeline    *Pipeline
	coordinator *Coordinator
	pool        *render.Pool
	broadcaster *Broadcaster
	handler     http.Handler
	httpServer  *http.Server
}

// NewServer creates a new development server. It reads elm.json and creates
// the project's working directories.
func NewServer(options ServerOptions) (*Server, error) {
	cfg := options.Config
	if cfg == nil {
		cfg = config.Default()
	}
	dir, err := filepath.Abs(options.ProjectDir)
	if err != nil {
		return nil, err
	}

	manifest, err := config.LoadManifest(dir)
	if err != nil {
		return nil, err
	}
	for _, d := range []string{config.ResponseCacheDir, config.CacheDir, config.GeneratedFilesDir} {
		if err := os.MkdirAll(filepath.Join(dir, d), 0755); err != nil {
			return nil, errors.New("E152").WithPath(d).Wrap(err)
		}
	}

	reg := options.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
	}
	metrics := NewMetrics(reg)

	builder := options.Builder
	if builder == nil {
		builder = NewCompiler(CompilerConfig{
			ProjectPath: dir,
			Elm:         cfg.Elm,
			Debug:       cfg.Debug,
		})
	}
	generator := options.Generator
	if generator == nil {
		generator = codegen.New(codegen.Options{
			ProjectDir: dir,
			Logger:     options.Logger.With().Str("component", "codegen").Logger(),
		})
	}
	engine := options.Engine
	if engine == nil {
		scripts := render.NewScriptLoader(
			filepath.Join(dir, config.ServerBundlePath),
			filepath.Join(dir, config.PortDataSourceFile),
		)
		engine = render.NewQuickJSEngine(scripts, cfg.MemoryLimitMB)
	}
	var reviewer Reviewer = NewLinter(dir, cfg.ElmReview)
	if options.Reviewer != nil {
		reviewer = options.Reviewer
	}

	watcher, err := NewWatcher(WatcherConfig{
		Root:     dir,
		Patterns: CollectWatchPatterns(manifest),
		Logger:   options.Logger.With().Str("component", "watcher").Logger(),
	})
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:      cfg,
		dir:         dir,
		logger:      options.Logger,
		manifest:    manifest,
		watcher:     watcher,
		broadcaster: NewBroadcaster(options.Logger, metrics),
	}

	s.pipeline = NewPipeline(PipelineOptions{
		Builder:   builder,
		Generator: generator,
		BasePath:  cfg.Base,
		Metrics:   metrics,
		Logger:    options.Logger,
	})
	s.coordinator = NewCoordinator(CoordinatorOptions{
		Watcher:        watcher,
		Pipeline:       s.pipeline,
		Notifier:       s.broadcaster,
		Patterns:       s.reloadManifest,
		InitialCompile: true,
		Logger:         options.Logger,
	})
	s.pool = render.NewPool(render.PoolOptions{
		Size:    cfg.WorkerCount(),
		Engine:  engine,
		OnWatch: s.coordinator.Watch,
		Metrics: render.NewMetrics(reg),
		Logger:  options.Logger.With().Str("component", "render").Logger(),
	})

	var gatherer prometheus.Gatherer
	if cfg.Metrics {
		gatherer = reg
	}
	s.handler = NewRouter(RouterOptions{
		ProjectDir:  dir,
		Base:        cfg.Base,
		Pipeline:    s.pipeline,
		Dispatcher:  s.pool,
		Broadcaster: s.broadcaster,
		Reviewer:    reviewer,
		CORSOrigins: cfg.CORSOrigins,
		Gatherer:    gatherer,
		Metrics:     metrics,
		Logger:      options.Logger,
	})
	return s, nil
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) reloadManifest() ([]string, error) {
	manifest, err := config.LoadManifest(s.dir)
	if err != nil {
		return nil, err
	}
	s.manifest = manifest
	s.log("Reloaded %s", config.ManifestFileName)
	return CollectWatchPatterns(manifest), nil
}

// Start runs the development server until ctx ends or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	var tlsConfig *tls.Config
	if s.config.HTTPS {
		cert, err := LoadCertificate(s.dir)
		if err != nil {
			return err
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}

	s.httpServer = &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.handler,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.watcher.Run(ctx) })
	g.Go(func() error { return s.coordinator.Run(ctx) })

	// Render workers load the server application, so they come online once
	// the initial compile has settled.
	g.Go(func() error {
		if err := s.pipeline.Current().Wait(ctx); err != nil && ctx.Err() == nil {
			s.logError("Initial compile failed, fix the errors above and save to retry")
		}
		if ctx.Err() == nil {
			s.pool.Start()
		}
		return nil
	})

	g.Go(func() error {
		s.log("Server running at %s", s.config.URL())
		var err error
		if tlsConfig != nil {
			err = s.httpServer.ListenAndServeTLS("", "")
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			return errors.New("E151").WithDetail(s.config.Addr()).Wrap(err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		s.Stop()
		return nil
	})

	return g.Wait()
}

// Stop stops the development server.
func (s *Server) Stop() {
	s.broadcaster.Close()
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(ctx)
	}
	s.pool.Close()
}

func (s *Server) log(format string, args ...any) {
	s.logger.Info().Msgf(format, args...)
}

func (s *Server) logError(format string, args ...any) {
	s.logger.Error().Msgf(format, args...)
}
