package main

import (
	"context"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/angusjf/elm-pages/internal/config"
	"github.com/angusjf/elm-pages/internal/dev"
)

func devCmd() *cobra.Command {
	var (
		dir         string
		configFile  string
		openBrowser bool
	)
	v := viper.New()
	config.SetDefaults(v)

	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Start the development server",
		Long: `Start the development server with live reload.

The dev server watches the source directories from elm.json,
recompiles on change and refreshes connected browsers.

Settings are read, in increasing priority, from built-in defaults,
elm-pages.dev.yaml (or .toml/.json) in the project directory,
ELM_PAGES_* environment variables and command-line flags.

Examples:
  elm-pages dev
  elm-pages dev --port=8080
  elm-pages dev --base=/docs --https`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				v.SetConfigFile(configFile)
			}
			cfg, err := config.Load(v, dir)
			if err != nil {
				return err
			}
			return runDev(cmd.Context(), dir, cfg, openBrowser)
		},
	}

	flags := cmd.Flags()
	flags.IntP("port", "p", config.DefaultPort, "Port to run on")
	flags.StringP("host", "H", config.DefaultHost, "Host to bind to")
	flags.String("base", "/", "Base path the site is served under")
	flags.Bool("https", false, "Serve over HTTPS with a self-signed certificate")
	flags.Bool("debug", false, "Build the browser bundle with the Elm debugger and log verbosely")
	flags.Int("workers", 0, "Render workers (default: half the CPU cores)")
	flags.StringVarP(&dir, "dir", "C", ".", "Project directory")
	flags.StringVar(&configFile, "config", "", "Settings file (default: elm-pages.dev.* in the project directory)")
	flags.BoolVarP(&openBrowser, "open", "o", false, "Open browser on start")

	for _, name := range []string{"port", "host", "base", "https", "debug", "workers"} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}

	return cmd
}

func runDev(ctx context.Context, dir string, cfg *config.Dev, openBrowser bool) error {
	logger := newLogger(cfg.Debug)

	if err := dev.EnsureExecutables(cfg.Elm, cfg.ElmReview); err != nil {
		return err
	}

	server, err := dev.NewServer(dev.ServerOptions{
		ProjectDir: dir,
		Config:     cfg,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if openBrowser {
		go openURL(cfg.URL())
	}

	success(os.Stdout, "elm-pages dev server on %s", cfg.URL())
	err = server.Start(ctx)
	logger.Info().Msg("Shut down")
	return err
}

// openURL opens a URL in the default browser.
func openURL(url string) {
	var cmd *exec.Cmd

	switch {
	case commandExists("xdg-open"):
		cmd = exec.Command("xdg-open", url)
	case commandExists("open"):
		cmd = exec.Command("open", url)
	case commandExists("start"):
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		return
	}

	cmd.Start()
}

// commandExists checks if a command exists in PATH.
func commandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
