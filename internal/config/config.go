package config

import (
	"fmt"
	"net"
	"runtime"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/angusjf/elm-pages/internal/errors"
)

const (
	// ConfigFileName is the base name of the optional dev settings file.
	ConfigFileName = "elm-pages.dev"

	// EnvPrefix prefixes environment overrides (ELM_PAGES_PORT, ...).
	EnvPrefix = "ELM_PAGES"

	// DefaultPort is the default development server port.
	DefaultPort = 1234

	// DefaultHost is the default development server host.
	DefaultHost = "localhost"
)

// Dev holds the dev server settings.
type Dev struct {
	// Port is the HTTP(S) listen port.
	Port int `mapstructure:"port"`

	// Host is the listen host.
	Host string `mapstructure:"host"`

	// Base is the URL prefix the site is served under.
	Base string `mapstructure:"base"`

	// HTTPS serves with a self-signed localhost certificate.
	HTTPS bool `mapstructure:"https"`

	// Debug compiles the browser bundle with the Elm debugger.
	Debug bool `mapstructure:"debug"`

	// Workers is the render worker count. Zero picks one from the CPU count.
	Workers int `mapstructure:"workers"`

	// MemoryLimitMB caps each render VM. Zero means unlimited.
	MemoryLimitMB int `mapstructure:"memory_limit_mb"`

	// Elm is the Elm compiler executable.
	Elm string `mapstructure:"elm"`

	// ElmReview is the elm-review executable.
	ElmReview string `mapstructure:"elm_review"`

	// CORSOrigins enables CORS for the listed origins when non-empty.
	CORSOrigins []string `mapstructure:"cors_origins"`

	// Metrics exposes Prometheus metrics on the dev server.
	Metrics bool `mapstructure:"metrics"`
}

// Default returns the built-in settings.
func Default() *Dev {
	return &Dev{
		Port:          DefaultPort,
		Host:          DefaultHost,
		Base:          "/",
		Workers:       0,
		MemoryLimitMB: 256,
		Elm:           "elm",
		ElmReview:     "elm-review",
		Metrics:       true,
	}
}

// SetDefaults registers the built-in settings with v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("port", d.Port)
	v.SetDefault("host", d.Host)
	v.SetDefault("base", d.Base)
	v.SetDefault("https", d.HTTPS)
	v.SetDefault("debug", d.Debug)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("memory_limit_mb", d.MemoryLimitMB)
	v.SetDefault("elm", d.Elm)
	v.SetDefault("elm_review", d.ElmReview)
	v.SetDefault("cors_origins", []string{})
	v.SetDefault("metrics", d.Metrics)
}

// Load resolves the dev settings for the project in dir. A missing settings
// file is not an error.
func Load(v *viper.Viper, dir string) (*Dev, error) {
	if v.ConfigFileUsed() == "" {
		v.SetConfigName(ConfigFileName)
		v.AddConfigPath(dir)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.New("E112").
				WithDetail("Failed to read dev settings: " + err.Error()).
				WithSuggestion("Check " + ConfigFileName + ".yaml (or .toml/.json) for syntax errors")
		}
	}

	dev := Default()
	if err := v.Unmarshal(dev); err != nil {
		return nil, errors.New("E112").Wrap(err)
	}
	dev.Base = NormalizeBase(dev.Base)

	if err := dev.Validate(); err != nil {
		return nil, err
	}
	return dev, nil
}

// Validate checks the settings for values the server cannot use.
func (d *Dev) Validate() error {
	if d.Port < 0 || d.Port > 65535 {
		return errors.New("E112").WithDetail("port must be between 0 and 65535, got " + strconv.Itoa(d.Port))
	}
	if d.Workers < 0 {
		return errors.New("E112").WithDetail("workers must not be negative")
	}
	if d.MemoryLimitMB < 0 {
		return errors.New("E112").WithDetail("memory_limit_mb must not be negative")
	}
	if d.Elm == "" || d.ElmReview == "" {
		return errors.New("E112").WithDetail("elm and elm_review executables must be set")
	}
	return nil
}

// WorkerCount returns the render pool size: the configured value, or half the
// available cores (at least one).
func (d *Dev) WorkerCount() int {
	if d.Workers > 0 {
		return d.Workers
	}
	return max(1, runtime.NumCPU()/2)
}

// Addr returns the listen address.
func (d *Dev) Addr() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// URL returns the URL the site is reachable at.
func (d *Dev) URL() string {
	scheme := "http"
	if d.HTTPS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s%s", scheme, d.Addr(), d.Base)
}

// NormalizeBase turns a user supplied base path into "/" or "/prefix/".
func NormalizeBase(base string) string {
	base = strings.Trim(strings.TrimSpace(base), "/")
	if base == "" {
		return "/"
	}
	return "/" + base + "/"
}
