// Package config loads goobtool settings from a YAML file, the environment
// and command-line flags, in that order of increasing precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/maloquacious/goobtool/internal/logger"
	"github.com/maloquacious/goobtool/internal/mode"
	"github.com/maloquacious/goobtool/internal/store"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted by ApplyEnv.
const (
	EnvServerMode  = "GOOB_SERVER_MODE"
	EnvDatabaseURL = "DATABASE_URL"
	EnvDataDir     = "GOOB_DATA_DIR"
	EnvFeatures    = "GOOB_FEATURES"
)

// Config is the complete application configuration.
type Config struct {
	// ServerMode selects the relational backend. DatabaseURL is then required.
	ServerMode  bool   `yaml:"server_mode"`
	DatabaseURL string `yaml:"database_url"`

	// DataDir holds the embedded database file in client mode.
	DataDir string `yaml:"data_dir"`

	// Features enables optional, capability-dependent migrations.
	Features []string `yaml:"features"`

	Pool    PoolConfig    `yaml:"pool"`
	Migrate MigrateConfig `yaml:"migrate"`
	Log     LogConfig     `yaml:"log"`
}

// PoolConfig bounds the relational connection pool.
type PoolConfig struct {
	MaxConns       int           `yaml:"max_conns"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	QueryTimeout   time.Duration `yaml:"query_timeout"` // 0 disables the default statement deadline
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// MigrateConfig controls the migration orchestrator.
type MigrateConfig struct {
	// HealthAttempts is how many health checks may time out before the run is fatal.
	HealthAttempts int           `yaml:"health_attempts"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
}

// LogConfig selects the logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // plain, text or json
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		DataDir: store.GetStorePath(),
		Pool: PoolConfig{
			MaxConns:       10,
			AcquireTimeout: 5 * time.Second,
			QueryTimeout:   30 * time.Second,
			ConnectTimeout: 10 * time.Second,
		},
		Migrate: MigrateConfig{
			HealthAttempts: 3,
			RetryDelay:     2 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "plain"},
	}
}

// Load returns the defaults overlaid with the YAML file at path.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, store.Configurationf("read config file: %v", err)
	}
	if err := cfg.decode(data); err != nil {
		return cfg, fmt.Errorf("%w: config file %s: %w", store.ErrConfiguration, path, err)
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overlays values from the environment. lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvServerMode); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return store.Configurationf("%s=%q is not a boolean", EnvServerMode, v)
		}
		c.ServerMode = b
	}
	if v, ok := lookup(EnvDatabaseURL); ok {
		c.DatabaseURL = v
	}
	if v, ok := lookup(EnvDataDir); ok && v != "" {
		c.DataDir = v
	}
	if v, ok := lookup(EnvFeatures); ok {
		c.Features = splitList(v)
	}
	return nil
}

// RegisterFlags defines the configuration flags on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "path to a YAML configuration file")
	fs.Bool("server-mode", false, "use the relational backend (requires --database-url)")
	fs.String("database-url", "", "PostgreSQL connection string for server mode")
	fs.String("data-dir", d.DataDir, "directory for the embedded database in client mode")
	fs.StringSlice("features", nil, "optional migration features to enable (e.g. embeddings)")
	fs.Int("pool-max-conns", d.Pool.MaxConns, "maximum relational connections")
	fs.Duration("pool-acquire-timeout", d.Pool.AcquireTimeout, "maximum wait for a pooled connection")
	fs.Duration("query-timeout", d.Pool.QueryTimeout, "default statement timeout")
	fs.String("log-level", d.Log.Level, "log level: debug, info, warn, error")
	fs.String("log-format", d.Log.Format, "log format: plain, text, json")
}

// ApplyFlags overlays the flags that were set explicitly on the command line.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	var err error
	set := func(name string, apply func() error) {
		if err == nil && fs.Changed(name) {
			err = apply()
		}
	}

	set("server-mode", func() (e error) { c.ServerMode, e = fs.GetBool("server-mode"); return })
	set("database-url", func() (e error) { c.DatabaseURL, e = fs.GetString("database-url"); return })
	set("data-dir", func() (e error) { c.DataDir, e = fs.GetString("data-dir"); return })
	set("features", func() (e error) { c.Features, e = fs.GetStringSlice("features"); return })
	set("pool-max-conns", func() (e error) { c.Pool.MaxConns, e = fs.GetInt("pool-max-conns"); return })
	set("pool-acquire-timeout", func() (e error) { c.Pool.AcquireTimeout, e = fs.GetDuration("pool-acquire-timeout"); return })
	set("query-timeout", func() (e error) { c.Pool.QueryTimeout, e = fs.GetDuration("query-timeout"); return })
	set("log-level", func() (e error) { c.Log.Level, e = fs.GetString("log-level"); return })
	set("log-format", func() (e error) { c.Log.Format, e = fs.GetString("log-format"); return })

	if err != nil {
		return store.Configurationf("flags: %v", err)
	}
	return nil
}

// FromFlags loads the file named by --config, then the environment, then flags.
func FromFlags(fs *pflag.FlagSet, lookup func(string) (string, bool)) (Config, error) {
	path, _ := fs.GetString("config")
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return cfg, err
	}
	if err := cfg.ApplyFlags(fs); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate checks value ranges. Mode consistency is left to mode.Resolve.
func (c Config) Validate() error {
	switch {
	case c.Pool.MaxConns <= 0:
		return store.Configurationf("pool.max_conns must be positive")
	case c.Pool.AcquireTimeout <= 0:
		return store.Configurationf("pool.acquire_timeout must be positive")
	case c.Pool.QueryTimeout < 0:
		return store.Configurationf("pool.query_timeout must not be negative (0 disables it)")
	case c.Migrate.HealthAttempts <= 0:
		return store.Configurationf("migrate.health_attempts must be positive")
	case c.DataDir == "" && !c.ServerMode:
		return store.Configurationf("data_dir must be set in client mode")
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return store.Configurationf("log.level: %v", err)
	}
	switch c.Log.Format {
	case "plain", "text", "json":
	default:
		return store.Configurationf("log.format %q is not one of plain, text, json", c.Log.Format)
	}
	return nil
}

// Logger builds the configured logger writing to w.
func (c Config) Logger(w io.Writer) logger.Logger {
	level, _ := logger.ParseLevel(c.Log.Level)
	return logger.New(w, c.Log.Format, level)
}

// ModeSettings returns the inputs for mode.Resolve.
func (c Config) ModeSettings() mode.Settings {
	return mode.Settings{ServerMode: c.ServerMode, DatabaseURL: c.DatabaseURL}
}

func splitList(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
