package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/genkeep/internal/logger"
	"github.com/loykin/genkeep/internal/notify"
	"github.com/loykin/genkeep/internal/watchdog"
)

// EnvPrefix prefixes environment overrides, e.g. GENKEEP_SERVER_LISTEN.
const EnvPrefix = "GENKEEP"

// Config represents the top-level TOML structure.
type Config struct {
	Store    StoreConfig    `mapstructure:"store"`
	Runner   RunnerConfig   `mapstructure:"runner"`
	Watchdog WatchdogConfig `mapstructure:"watchdog"`
	Lease    LeaseConfig    `mapstructure:"lease"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Power    PowerConfig    `mapstructure:"power"`
	Server   ServerConfig   `mapstructure:"server"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	History  HistoryConfig  `mapstructure:"history"`
	Log      logger.Config  `mapstructure:"log"`
}

type StoreConfig struct {
	// DSN selects the backend: memory://, sqlite:///path, postgres://..., file:///path.json
	DSN       string `mapstructure:"dsn"`
	Namespace string `mapstructure:"namespace"`
}

type RunnerConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	NotificationID    int           `mapstructure:"notification_id"`
	Channel           string        `mapstructure:"channel"`
}

type WatchdogConfig struct {
	Name        string        `mapstructure:"name"`
	Interval    time.Duration `mapstructure:"interval"`
	MinInterval time.Duration `mapstructure:"min_interval"`
	// StaleAfter defaults to three heartbeat intervals.
	StaleAfter time.Duration `mapstructure:"stale_after"`
	Policy     string        `mapstructure:"policy"`
	Probe      string        `mapstructure:"probe"`
	// ResumeOnStart runs one check at boot when the task is expected.
	ResumeOnStart bool `mapstructure:"resume_on_start"`
}

type LeaseConfig struct {
	// Backend is systemd, memory or none.
	Backend string `mapstructure:"backend"`
	Who     string `mapstructure:"who"`
}

type NotifyConfig struct {
	Systemd bool `mapstructure:"systemd"`
	Log     bool `mapstructure:"log"`
}

type PowerConfig struct {
	// Backend is dbus or none.
	Backend string `mapstructure:"backend"`
	AppID   string `mapstructure:"app_id"`
}

type ServerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Listen serves /metrics on its own address; empty mounts it on the API server.
	Listen string `mapstructure:"listen"`
}

type HistoryConfig struct {
	DSNs []string `mapstructure:"dsns"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Store: StoreConfig{DSN: "sqlite://genkeep.db", Namespace: "genkeep"},
		Runner: RunnerConfig{
			HeartbeatInterval: 30 * time.Second,
			NotificationID:    notify.DefaultID,
			Channel:           notify.DefaultChannel,
		},
		Watchdog: WatchdogConfig{
			Name:          watchdog.DefaultName,
			Interval:      watchdog.DefaultInterval,
			MinInterval:   watchdog.DefaultMinPeriod,
			Policy:        string(watchdog.PolicyKeep),
			Probe:         string(watchdog.ProbeRunner),
			ResumeOnStart: true,
		},
		Lease:   LeaseConfig{Backend: "systemd", Who: "genkeep"},
		Notify:  NotifyConfig{Systemd: true, Log: true},
		Power:   PowerConfig{Backend: "dbus", AppID: "genkeep"},
		Server:  ServerConfig{Enabled: true, Listen: "127.0.0.1:8655", BasePath: "/api"},
		Metrics: MetricsConfig{Enabled: false},
		Log:     logger.DefaultConfig(),
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.namespace", d.Store.Namespace)
	v.SetDefault("runner.heartbeat_interval", d.Runner.HeartbeatInterval)
	v.SetDefault("runner.notification_id", d.Runner.NotificationID)
	v.SetDefault("runner.channel", d.Runner.Channel)
	v.SetDefault("watchdog.name", d.Watchdog.Name)
	v.SetDefault("watchdog.interval", d.Watchdog.Interval)
	v.SetDefault("watchdog.min_interval", d.Watchdog.MinInterval)
	v.SetDefault("watchdog.stale_after", time.Duration(0))
	v.SetDefault("watchdog.policy", d.Watchdog.Policy)
	v.SetDefault("watchdog.probe", d.Watchdog.Probe)
	v.SetDefault("watchdog.resume_on_start", d.Watchdog.ResumeOnStart)
	v.SetDefault("lease.backend", d.Lease.Backend)
	v.SetDefault("lease.who", d.Lease.Who)
	v.SetDefault("notify.systemd", d.Notify.Systemd)
	v.SetDefault("notify.log", d.Notify.Log)
	v.SetDefault("power.backend", d.Power.Backend)
	v.SetDefault("power.app_id", d.Power.AppID)
	v.SetDefault("server.enabled", d.Server.Enabled)
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.base_path", d.Server.BasePath)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.listen", d.Metrics.Listen)
	v.SetDefault("history.dsns", []string{})
	v.SetDefault("log.slog.level", string(d.Log.Slog.Level))
	v.SetDefault("log.slog.format", string(d.Log.Slog.Format))
	v.SetDefault("log.slog.color", d.Log.Slog.Color)
	v.SetDefault("log.slog.timestamps", d.Log.Slog.TimeStamps)
	v.SetDefault("log.slog.source", d.Log.Slog.Source)
	v.SetDefault("log.file.path", "")
	v.SetDefault("log.file.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.file.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.file.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.file.compress", false)
}

// Load reads a TOML file on top of the defaults. An empty path loads the
// defaults alone. GENKEEP_* environment variables override both.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	if c.Watchdog.StaleAfter <= 0 {
		c.Watchdog.StaleAfter = watchdog.StaleAfterFor(c.Runner.HeartbeatInterval)
	}
	c.Server.BasePath = strings.TrimRight(c.Server.BasePath, "/")
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		c.Server.BasePath = "/" + c.Server.BasePath
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Store.DSN) == "" {
		errs = append(errs, errors.New("store.dsn is required"))
	}
	if c.Runner.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("runner.heartbeat_interval must be > 0"))
	}
	if c.Watchdog.Interval <= 0 {
		errs = append(errs, errors.New("watchdog.interval must be > 0"))
	}
	if c.Watchdog.MinInterval <= 0 {
		errs = append(errs, errors.New("watchdog.min_interval must be > 0"))
	}
	if _, err := watchdog.ParsePolicy(c.Watchdog.Policy); err != nil {
		errs = append(errs, fmt.Errorf("watchdog.policy: %w", err))
	}
	switch watchdog.ProbeKind(c.Watchdog.Probe) {
	case "", watchdog.ProbeRunner, watchdog.ProbeHeartbeat, watchdog.ProbeAny:
	default:
		errs = append(errs, fmt.Errorf("watchdog.probe: unknown kind %q", c.Watchdog.Probe))
	}
	switch c.Lease.Backend {
	case "systemd", "memory", "none":
	default:
		errs = append(errs, fmt.Errorf("lease.backend: unknown backend %q", c.Lease.Backend))
	}
	switch c.Power.Backend {
	case "dbus", "none":
	default:
		errs = append(errs, fmt.Errorf("power.backend: unknown backend %q", c.Power.Backend))
	}
	switch logger.Level(strings.ToLower(string(c.Log.Slog.Level))) {
	case logger.LevelDebug, logger.LevelInfo, logger.LevelWarn, logger.LevelError:
	default:
		errs = append(errs, fmt.Errorf("log.slog.level: unknown level %q", c.Log.Slog.Level))
	}
	if c.Server.Enabled && c.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen is required when the server is enabled"))
	}
	return errors.Join(errs...)
}
