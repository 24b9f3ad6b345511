package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/angusjf/elm-pages/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "elm-pages",
		Short: "Development server for elm-pages sites",
		Long: `elm-pages compiles and serves an elm-pages site during development.

The dev server watches your Elm sources, rebuilds the browser and
server applications together, renders pages on demand and reloads
connected browsers when something changes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		devCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		errors.PrintError(err)
		os.Exit(1)
	}
}

// newLogger returns the console logger used by every command.
func newLogger(debug bool) zerolog.Logger {
	noColor := os.Getenv("NO_COLOR") != ""
	errors.SetColors(!noColor)

	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
		NoColor:    noColor,
	}).Level(level).With().Timestamp().Logger()
}

var successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))

// success prints a success message.
func success(w io.Writer, format string, args ...any) {
	mark := "✓"
	if errors.ColorsEnabled() {
		mark = successStyle.Render(mark)
	}
	fmt.Fprintf(w, "%s %s\n", mark, fmt.Sprintf(format, args...))
}
