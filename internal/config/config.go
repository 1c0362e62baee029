// Package config loads novel2epub settings from defaults, an optional YAML
// file, NOVEL2EPUB_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/yuanying/novel2epub/internal/converter"
	"github.com/yuanying/novel2epub/internal/fetch"
)

// EnvPrefix prefixes every environment override, e.g. NOVEL2EPUB_FETCH_RETRIES.
const EnvPrefix = "NOVEL2EPUB"

// Keys understood by the loader.
const (
	KeyOutputDir      = "output_dir"
	KeyLogLevel       = "log.level"
	KeyLogFormat      = "log.format"
	KeyFetchRetries   = "fetch.retries"
	KeyFetchBackoff   = "fetch.backoff"
	KeyFetchTimeout   = "fetch.timeout"
	KeyFetchRateLimit = "fetch.rate_limit"
	KeyFetchUserAgent = "fetch.user_agent"
	KeyImageWorkers   = "images.workers"
	KeyImageMaxWidth  = "images.max_width"
	KeyImageDisabled  = "images.disabled"
)

// Config holds all settings. It mirrors the layout of novel2epub.yaml.
type Config struct {
	OutputDir string      `mapstructure:"output_dir"`
	Log       LogConfig   `mapstructure:"log"`
	Fetch     FetchConfig `mapstructure:"fetch"`
	Images    ImageConfig `mapstructure:"images"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type FetchConfig struct {
	Retries   int           `mapstructure:"retries"`
	Backoff   time.Duration `mapstructure:"backoff"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
	UserAgent string        `mapstructure:"user_agent"`
}

type ImageConfig struct {
	Workers  int  `mapstructure:"workers"`
	MaxWidth int  `mapstructure:"max_width"`
	Disabled bool `mapstructure:"disabled"`
}

// FieldError reports an invalid setting.
type FieldError struct {
	Key    string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Key, e.Reason)
}

// New returns a viper instance with defaults and environment overrides
// configured. Callers may bind flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyOutputDir, ".")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyFetchRetries, fetch.DefaultRetries)
	v.SetDefault(KeyFetchBackoff, fetch.DefaultInitialBackoff)
	v.SetDefault(KeyFetchTimeout, fetch.DefaultTimeout)
	v.SetDefault(KeyFetchRateLimit, 0.0)
	v.SetDefault(KeyFetchUserAgent, fetch.DefaultUserAgent)
	v.SetDefault(KeyImageWorkers, converter.DefaultWorkers)
	v.SetDefault(KeyImageMaxWidth, 0)
	v.SetDefault(KeyImageDisabled, false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration file into v and decodes the merged result.
// An explicit configFile must exist. Without one, novel2epub.yaml is looked
// up in the working directory and in $HOME/.config/novel2epub, and a missing
// file is not an error.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("novel2epub")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "novel2epub"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks ranges and enumerations. The first problem found is
// returned as a *FieldError.
func (c *Config) Validate() error {
	switch {
	case c.Fetch.Retries < 1:
		return &FieldError{Key: KeyFetchRetries, Reason: "must be at least 1"}
	case c.Fetch.Backoff <= 0:
		return &FieldError{Key: KeyFetchBackoff, Reason: "must be positive"}
	case c.Fetch.Timeout <= 0:
		return &FieldError{Key: KeyFetchTimeout, Reason: "must be positive"}
	case c.Fetch.RateLimit < 0:
		return &FieldError{Key: KeyFetchRateLimit, Reason: "cannot be negative"}
	case c.Images.Workers < 1:
		return &FieldError{Key: KeyImageWorkers, Reason: "must be at least 1"}
	case c.Images.MaxWidth < 0:
		return &FieldError{Key: KeyImageMaxWidth, Reason: "cannot be negative"}
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return &FieldError{Key: KeyLogLevel, Reason: err.Error()}
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return &FieldError{Key: KeyLogFormat, Reason: fmt.Sprintf("%q is not text or json", c.Log.Format)}
	}
	return nil
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// FetchOptions converts the fetch settings for fetch.New.
func (c *Config) FetchOptions(logger *slog.Logger) fetch.Options {
	return fetch.Options{
		Retries:        c.Fetch.Retries,
		InitialBackoff: c.Fetch.Backoff,
		Timeout:        c.Fetch.Timeout,
		UserAgent:      c.Fetch.UserAgent,
		RateLimit:      c.Fetch.RateLimit,
		Logger:         logger,
	}
}

// AssemblerOptions converts the image settings for converter.NewAssembler.
// Packages are stamped with the wall clock.
func (c *Config) AssemblerOptions(f converter.ImageFetcher, logger *slog.Logger) converter.Options {
	return converter.Options{
		Fetcher:       f,
		Workers:       c.Images.Workers,
		MaxImageWidth: c.Images.MaxWidth,
		SkipImages:    c.Images.Disabled,
		Logger:        logger,
		Now:           time.Now,
	}
}
