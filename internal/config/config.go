package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration values.
type Config struct {
	// Backend
	ServerURL string
	WatchURL  string // Optional websocket event stream

	// Run tuning
	BatchSize          int
	PollInterval       time.Duration
	PollTimeout        time.Duration
	SubmitTimeout      time.Duration
	Cooldown           time.Duration
	PauseCheckInterval time.Duration
	SlowAfter          time.Duration
	SubmitRate         float64 // Batches per second, 0 = unlimited

	// Item defaults
	Source      string
	Redaction   bool
	MaxFileSize int64

	// Logging
	LogFile  string
	LogLevel slog.Level

	// Metrics
	MetricsAddr string

	// Audit store (SurrealDB)
	AuditEnabled       bool
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string
}

// fileConfig mirrors Config for the optional YAML file. Nil fields keep their default.
type fileConfig struct {
	ServerURL          *string        `yaml:"server_url"`
	WatchURL           *string        `yaml:"watch_url"`
	BatchSize          *int           `yaml:"batch_size"`
	PollInterval       *time.Duration `yaml:"poll_interval"`
	PollTimeout        *time.Duration `yaml:"poll_timeout"`
	SubmitTimeout      *time.Duration `yaml:"submit_timeout"`
	Cooldown           *time.Duration `yaml:"cooldown"`
	PauseCheckInterval *time.Duration `yaml:"pause_check_interval"`
	SlowAfter          *time.Duration `yaml:"slow_after"`
	SubmitRate         *float64       `yaml:"submit_rate"`
	Source             *string        `yaml:"source"`
	Redaction          *bool          `yaml:"redaction"`
	MaxFileSize        *int64         `yaml:"max_file_size"`
	LogFile            *string        `yaml:"log_file"`
	LogLevel           *string        `yaml:"log_level"`
	MetricsAddr        *string        `yaml:"metrics_addr"`
	Audit              *struct {
		Enabled   *bool   `yaml:"enabled"`
		URL       *string `yaml:"url"`
		Namespace *string `yaml:"namespace"`
		Database  *string `yaml:"database"`
		User      *string `yaml:"user"`
		Pass      *string `yaml:"pass"`
		AuthLevel *string `yaml:"auth_level"`
	} `yaml:"audit"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		ServerURL: "http://localhost:5001",

		BatchSize:          10,
		PollInterval:       time.Second,
		PollTimeout:        10 * time.Second,
		SubmitTimeout:      2 * time.Minute,
		Cooldown:           5 * time.Second,
		PauseCheckInterval: 200 * time.Millisecond,
		SlowAfter:          10 * time.Minute,

		Source:      "user",
		MaxFileSize: 50 << 20,

		LogFile:  filepath.Join(os.TempDir(), "ingestor.log"),
		LogLevel: slog.LevelInfo,

		SurrealDBURL:       "ws://localhost:8000/rpc",
		SurrealDBNamespace: "ingestor",
		SurrealDBDatabase:  "audit",
		SurrealDBUser:      "root",
		SurrealDBPass:      "root",
		SurrealDBAuthLevel: "root",
	}
}

// Load reads the optional YAML file, then applies environment variables on top.
// The file is INGESTOR_CONFIG if set, else $XDG_CONFIG_HOME/ingestor/config.yaml when present.
func Load() (Config, error) {
	cfg := Defaults()

	path, explicit := configPath()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			if explicit || !errors.Is(err, fs.ErrNotExist) {
				return cfg, err
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate checks values that would make a run impossible.
func (c Config) Validate() error {
	var result *multierror.Error
	if c.BatchSize <= 0 {
		result = multierror.Append(result, fmt.Errorf("batch_size must be positive, got %d", c.BatchSize))
	}
	if c.PollInterval <= 0 {
		result = multierror.Append(result, fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval))
	}
	if c.Cooldown < 0 {
		result = multierror.Append(result, fmt.Errorf("cooldown must not be negative, got %s", c.Cooldown))
	}
	if c.SubmitRate < 0 {
		result = multierror.Append(result, fmt.Errorf("submit_rate must not be negative, got %g", c.SubmitRate))
	}
	if c.ServerURL == "" {
		result = multierror.Append(result, errors.New("server_url is required"))
	}
	return result.ErrorOrNil()
}

func configPath() (path string, explicit bool) {
	if p := os.Getenv("INGESTOR_CONFIG"); p != "" {
		return p, true
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", false
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "ingestor", "config.yaml"), false
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	set(&c.ServerURL, fc.ServerURL)
	set(&c.WatchURL, fc.WatchURL)
	set(&c.BatchSize, fc.BatchSize)
	set(&c.PollInterval, fc.PollInterval)
	set(&c.PollTimeout, fc.PollTimeout)
	set(&c.SubmitTimeout, fc.SubmitTimeout)
	set(&c.Cooldown, fc.Cooldown)
	set(&c.PauseCheckInterval, fc.PauseCheckInterval)
	set(&c.SlowAfter, fc.SlowAfter)
	set(&c.SubmitRate, fc.SubmitRate)
	set(&c.Source, fc.Source)
	set(&c.Redaction, fc.Redaction)
	set(&c.MaxFileSize, fc.MaxFileSize)
	set(&c.LogFile, fc.LogFile)
	set(&c.MetricsAddr, fc.MetricsAddr)
	if fc.LogLevel != nil {
		c.LogLevel = parseLogLevel(*fc.LogLevel)
	}
	if a := fc.Audit; a != nil {
		set(&c.AuditEnabled, a.Enabled)
		set(&c.SurrealDBURL, a.URL)
		set(&c.SurrealDBNamespace, a.Namespace)
		set(&c.SurrealDBDatabase, a.Database)
		set(&c.SurrealDBUser, a.User)
		set(&c.SurrealDBPass, a.Pass)
		set(&c.SurrealDBAuthLevel, a.AuthLevel)
	}
	return nil
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func (c *Config) applyEnv() error {
	var result *multierror.Error
	collect := func(err error) {
		if err != nil {
			result = multierror.Append(result, err)
		}
	}

	c.ServerURL = getEnv("INGESTOR_SERVER_URL", c.ServerURL)
	c.WatchURL = getEnv("INGESTOR_WATCH_URL", c.WatchURL)
	c.Source = getEnv("INGESTOR_SOURCE", c.Source)
	c.LogFile = getEnv("INGESTOR_LOG_FILE", c.LogFile)
	c.MetricsAddr = getEnv("INGESTOR_METRICS_ADDR", c.MetricsAddr)
	if v := os.Getenv("INGESTOR_LOG_LEVEL"); v != "" {
		c.LogLevel = parseLogLevel(v)
	}

	collect(envInt("INGESTOR_BATCH_SIZE", &c.BatchSize))
	collect(envInt64("INGESTOR_MAX_FILE_SIZE", &c.MaxFileSize))
	collect(envDuration("INGESTOR_POLL_INTERVAL", &c.PollInterval))
	collect(envDuration("INGESTOR_POLL_TIMEOUT", &c.PollTimeout))
	collect(envDuration("INGESTOR_SUBMIT_TIMEOUT", &c.SubmitTimeout))
	collect(envDuration("INGESTOR_COOLDOWN", &c.Cooldown))
	collect(envDuration("INGESTOR_PAUSE_CHECK_INTERVAL", &c.PauseCheckInterval))
	collect(envDuration("INGESTOR_SLOW_AFTER", &c.SlowAfter))
	collect(envFloat("INGESTOR_SUBMIT_RATE", &c.SubmitRate))
	collect(envBool("INGESTOR_REDACTION", &c.Redaction))

	// SurrealDB audit store
	collect(envBool("INGESTOR_AUDIT", &c.AuditEnabled))
	c.SurrealDBURL = getEnv("SURREALDB_URL", c.SurrealDBURL)
	c.SurrealDBNamespace = getEnv("SURREALDB_NAMESPACE", c.SurrealDBNamespace)
	c.SurrealDBDatabase = getEnv("SURREALDB_DATABASE", c.SurrealDBDatabase)
	c.SurrealDBUser = getEnv("SURREALDB_USER", c.SurrealDBUser)
	c.SurrealDBPass = getEnv("SURREALDB_PASS", c.SurrealDBPass)
	c.SurrealDBAuthLevel = getEnv("SURREALDB_AUTH_LEVEL", c.SurrealDBAuthLevel)

	return result.ErrorOrNil()
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", key, v)
	}
	*dst = n
	return nil
}

func envInt64(key string, dst *int64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", key, v)
	}
	*dst = n
	return nil
}

func envFloat(key string, dst *float64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: invalid number %q", key, v)
	}
	*dst = f
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q", key, v)
	}
	*dst = d
	return nil
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: invalid boolean %q", key, v)
	}
	*dst = b
	return nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
