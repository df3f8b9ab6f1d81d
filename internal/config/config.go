package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/loykin/sidekeeper/internal/env"
	"github.com/loykin/sidekeeper/internal/health"
	"github.com/loykin/sidekeeper/internal/logger"
	"github.com/loykin/sidekeeper/internal/metrics"
	"github.com/loykin/sidekeeper/internal/process"
)

var ErrNoWorkerCommand = errors.New("worker.command is required")

// Config represents the top-level TOML structure.
type Config struct {
	Env      []string `mapstructure:"env"`
	EnvFiles []string `mapstructure:"env_files"`
	UseOSEnv bool     `mapstructure:"use_os_env"`

	Worker    WorkerConfig      `mapstructure:"worker"`
	Health    HealthConfig      `mapstructure:"health"`
	Log       logger.Config     `mapstructure:"log"`
	WorkerLog logger.FileConfig `mapstructure:"worker_log"`
	Server    ServerConfig      `mapstructure:"server"`
	Metrics   MetricsConfig     `mapstructure:"metrics"`
	History   HistoryConfig     `mapstructure:"history"`
	Tray      TrayConfig        `mapstructure:"tray"`
}

type WorkerConfig struct {
	Name      string        `mapstructure:"name"`
	Command   string        `mapstructure:"command"`
	Args      []string      `mapstructure:"args"`
	WorkDir   string        `mapstructure:"workdir"`
	Env       []string      `mapstructure:"env"`
	PIDFile   string        `mapstructure:"pidfile"`
	StopGrace time.Duration `mapstructure:"stop_grace"`
}

type HealthConfig struct {
	URL      string        `mapstructure:"url"`
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type ServerConfig struct {
	Listen string `mapstructure:"listen"` // empty disables the status API
}

type MetricsConfig struct {
	Enabled   bool                   `mapstructure:"enabled"`
	Resources metrics.ResourceConfig `mapstructure:"resources"`
}

type HistoryConfig struct {
	DSN string `mapstructure:"dsn"` // empty disables history export
}

type TrayConfig struct {
	Title string `mapstructure:"title"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("use_os_env", true)
	v.SetDefault("worker.name", "worker")
	v.SetDefault("health.url", health.DefaultURL)
	v.SetDefault("health.interval", health.DefaultInterval)
	v.SetDefault("health.timeout", health.DefaultTimeout)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", true)
	v.SetDefault("worker_log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("worker_log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("worker_log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("server.listen", "127.0.0.1:4002")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.resources.interval", 5*time.Second)
	v.SetDefault("tray.title", "Bridge to Fig")
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("SIDEKEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var c Config
	if err := newViper().Unmarshal(&c); err != nil {
		panic(err) // defaults are static
	}
	return &c
}

// Load reads a TOML file. Unset keys keep their defaults and SIDEKEEPER_*
// environment variables override file values (e.g. SIDEKEEPER_HEALTH_URL).
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	// relative env files resolve against the config directory
	base := filepath.Dir(path)
	for i, p := range c.EnvFiles {
		if !filepath.IsAbs(p) {
			c.EnvFiles[i] = filepath.Join(base, p)
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks constraints that decoding alone cannot express.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Worker.Command) == "" {
		return ErrNoWorkerCommand
	}
	if c.Health.Interval <= 0 || c.Health.Timeout <= 0 {
		return fmt.Errorf("health interval and timeout must be positive")
	}
	if c.Health.Timeout >= c.Health.Interval {
		return fmt.Errorf("%w: timeout %s, interval %s", health.ErrTimeoutNotShorter, c.Health.Timeout, c.Health.Interval)
	}
	if c.Worker.StopGrace < 0 {
		return fmt.Errorf("worker.stop_grace must not be negative")
	}
	return nil
}

// GlobalEnv returns env_files contents (in order) overlaid with the top-level
// env list. The OS environment is not included.
func (c *Config) GlobalEnv() ([]string, error) {
	m := make(env.Var)
	for _, p := range c.EnvFiles {
		pairs, err := godotenv.Read(filepath.Clean(p))
		if err != nil {
			return nil, fmt.Errorf("load env file %s: %w", p, err)
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for k, v := range env.ParsePairs(c.Env) {
		m[k] = v
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// WorkerSpec builds the spawn spec for the worker, with its environment
// composed from the OS (when use_os_env), global env and worker env.
func (c *Config) WorkerSpec() (process.Spec, error) {
	globals, err := c.GlobalEnv()
	if err != nil {
		return process.Spec{}, err
	}
	e := env.New()
	if c.UseOSEnv {
		e.FromOS()
	} else {
		e.FromPairs(nil)
	}
	for k, v := range env.ParsePairs(globals) {
		e.Set(k, v)
	}
	return process.Spec{
		Name:      c.Worker.Name,
		Command:   c.Worker.Command,
		Args:      c.Worker.Args,
		WorkDir:   c.Worker.WorkDir,
		Env:       e.Merge(c.Worker.Env),
		PIDFile:   c.Worker.PIDFile,
		StopGrace: c.Worker.StopGrace,
		Log:       c.WorkerLog,
	}, nil
}
