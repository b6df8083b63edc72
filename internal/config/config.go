// Package config loads client settings from, in increasing precedence:
// built-in defaults, a YAML file, a .env file and THEATRESYNC_*
// environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/theatresync/internal/auth"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "THEATRESYNC_"

type Config struct {
	Authority AuthorityConfig `yaml:"authority"`
	Command   CommandConfig   `yaml:"command"`
	Push      PushConfig      `yaml:"push"`
	Engine    EngineConfig    `yaml:"engine"`
	Journal   JournalConfig   `yaml:"journal"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

type AuthorityConfig struct {
	URL       string `yaml:"url"`
	Token     string `yaml:"token"`
	TokenFile string `yaml:"token_file"`
}

type CommandConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

type PushConfig struct {
	// URL defaults to the authority URL with a ws scheme and /api/push.
	URL            string        `yaml:"url"`
	BackoffInitial time.Duration `yaml:"backoff_initial"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
}

type EngineConfig struct {
	DensityGrace time.Duration `yaml:"density_grace"`
}

type JournalConfig struct {
	Path string `yaml:"path"`
}

type MetricsConfig struct {
	// Listen is the address of the /metrics endpoint; empty disables it.
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Command: CommandConfig{Timeout: 10 * time.Second},
		Push: PushConfig{
			BackoffInitial: 500 * time.Millisecond,
			BackoffMax:     30 * time.Second,
		},
		Engine:  EngineConfig{DensityGrace: 500 * time.Millisecond},
		Journal: JournalConfig{Path: DefaultJournalPath()},
		Log:     LogConfig{Level: "info"},
	}
}

// DefaultJournalPath is $XDG_DATA_HOME/theatresync/journal.db.
func DefaultJournalPath() string {
	xdg.Reload()

	dataHome := xdg.DataHome
	if dataHome == "" {
		home := xdg.Home
		if home == "" {
			var err error
			home, err = os.UserHomeDir()
			if err != nil {
				return filepath.Join(os.TempDir(), "theatresync", "journal.db")
			}
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "theatresync", "journal.db")
}

// Load reads configPath (optional, "" to skip) and envFile (skipped if
// absent) over the defaults, then applies environment overrides.
func Load(configPath, envFile string) (Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, fmt.Errorf("parse config %s: %w", configPath, err)
		}
	}

	dotenv := map[string]string{}
	if envFile != "" {
		m, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			dotenv = m
		case errors.Is(err, fs.ErrNotExist):
		default:
			return cfg, fmt.Errorf("read %s: %w", envFile, err)
		}
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok && v != "" {
			return v, true
		}
		v, ok := dotenv[EnvPrefix+key]
		return v, ok && v != ""
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return cfg, err
	}

	if cfg.Push.URL == "" && cfg.Authority.URL != "" {
		cfg.Push.URL = pushURL(cfg.Authority.URL)
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"AUTHORITY_URL":  &c.Authority.URL,
		"TOKEN":          &c.Authority.Token,
		"TOKEN_FILE":     &c.Authority.TokenFile,
		"PUSH_URL":       &c.Push.URL,
		"JOURNAL":        &c.Journal.Path,
		"METRICS_LISTEN": &c.Metrics.Listen,
		"LOG_LEVEL":      &c.Log.Level,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"COMMAND_TIMEOUT": &c.Command.Timeout,
		"BACKOFF_INITIAL": &c.Push.BackoffInitial,
		"BACKOFF_MAX":     &c.Push.BackoffMax,
		"DENSITY_GRACE":   &c.Engine.DensityGrace,
	}
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = d
	}
	return nil
}

// Validate checks the settings are usable.
func (c Config) Validate() error {
	var errs []error
	if c.Command.Timeout <= 0 {
		errs = append(errs, errors.New("command.timeout must be positive"))
	}
	if c.Push.BackoffInitial <= 0 || c.Push.BackoffMax < c.Push.BackoffInitial {
		errs = append(errs, errors.New("push backoff must satisfy 0 < backoff_initial <= backoff_max"))
	}
	if c.Engine.DensityGrace < 0 {
		errs = append(errs, errors.New("engine.density_grace must not be negative"))
	}
	if c.Journal.Path == "" {
		errs = append(errs, errors.New("journal.path is required"))
	}
	if c.Authority.Token != "" && c.Authority.TokenFile != "" {
		errs = append(errs, errors.New("set only one of authority.token and authority.token_file"))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// LogLevel parses Log.Level.
func (c Config) LogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

// RequireAuthority reports an error when no authority URL is configured.
// Only commands that talk to the authority need one.
func (c Config) RequireAuthority() error {
	if c.Authority.URL == "" {
		return fmt.Errorf("authority.url is not set (or %sAUTHORITY_URL)", EnvPrefix)
	}
	return nil
}

// TokenSource returns the configured bearer credential, cached and
// refreshed near expiry. nil when none is configured.
func (c Config) TokenSource() auth.Source {
	switch {
	case c.Authority.TokenFile != "":
		return auth.NewCached(auth.File(c.Authority.TokenFile), auth.DefaultSkew)
	case c.Authority.Token != "":
		return auth.NewCached(auth.Static(c.Authority.Token), auth.DefaultSkew)
	}
	return nil
}

// pushURL derives the push endpoint from the authority URL.
func pushURL(authority string) string {
	u, err := url.Parse(strings.TrimRight(authority, "/"))
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/api/push"
	return u.String()
}
