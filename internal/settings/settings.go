// Package settings loads non-secret tuning from a YAML file. Every key can be
// overridden by an OD_ environment variable (store.backend -> OD_STORE_BACKEND).
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/orderdesk/orderdesk-cli/internal/cooldown"
	"github.com/orderdesk/orderdesk-cli/internal/realtime"
	"github.com/orderdesk/orderdesk-cli/internal/store"
)

// EnvPrefix prefixes environment overrides.
const EnvPrefix = "OD"

// StoreSettings selects the persistence backend.
type StoreSettings struct {
	Backend     string `mapstructure:"backend" yaml:"backend"`
	Dir         string `mapstructure:"dir" yaml:"dir"`
	RedisURL    string `mapstructure:"redis_url" yaml:"redis_url"`
	RedisPrefix string `mapstructure:"redis_prefix" yaml:"redis_prefix"`
	SQLitePath  string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
}

// CooldownSettings tunes the notification throttle.
type CooldownSettings struct {
	Minutes        int           `mapstructure:"minutes" yaml:"minutes"`
	RetentionHours int           `mapstructure:"retention_hours" yaml:"retention_hours"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

// RealtimeSettings tunes the realtime connection.
type RealtimeSettings struct {
	Topic             string        `mapstructure:"topic" yaml:"topic"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
}

// SnapshotSettings picks where initial unread state comes from.
// Source is "http", "postgres" or "none".
type SnapshotSettings struct {
	Source     string `mapstructure:"source" yaml:"source"`
	OrdersURL  string `mapstructure:"orders_url" yaml:"orders_url"`
	TicketsURL string `mapstructure:"tickets_url" yaml:"tickets_url"`
}

// NotifySettings configures outgoing e-mail.
type NotifySettings struct {
	AppURL string `mapstructure:"app_url" yaml:"app_url"`
}

// Settings is the whole settings file.
type Settings struct {
	Store    StoreSettings    `mapstructure:"store" yaml:"store"`
	Cooldown CooldownSettings `mapstructure:"cooldown" yaml:"cooldown"`
	Realtime RealtimeSettings `mapstructure:"realtime" yaml:"realtime"`
	Snapshot SnapshotSettings `mapstructure:"snapshot" yaml:"snapshot"`
	Notify   NotifySettings   `mapstructure:"notify" yaml:"notify"`
}

var defaults = map[string]any{
	"store.backend":               store.BackendFile,
	"store.dir":                   "",
	"store.redis_url":             "",
	"store.redis_prefix":          store.DefaultRedisPrefix,
	"store.sqlite_path":           "",
	"cooldown.minutes":            cooldown.CooldownMinutes,
	"cooldown.retention_hours":    cooldown.StaleRetentionHours,
	"cooldown.sweep_interval":     "1m",
	"realtime.topic":              "realtime:public",
	"realtime.heartbeat_interval": realtime.DefaultHeartbeatInterval.String(),
	"realtime.read_timeout":       realtime.DefaultReadTimeout.String(),
	"snapshot.source":             "http",
	"snapshot.orders_url":         "",
	"snapshot.tickets_url":        "",
	"notify.app_url":              "",
}

// DefaultPath returns ~/.config/orderdesk-cli/settings.yaml.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", "settings.yaml")
	}
	return filepath.Join(dir, "orderdesk-cli", "settings.yaml")
}

// Load reads path, applying defaults and environment overrides. A missing
// file is not an error. An empty path uses DefaultPath.
func Load(path string) (*Settings, error) {
	if path == "" {
		path = DefaultPath()
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("reading settings %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("parsing settings %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings %s: %w", path, err)
	}
	return &s, nil
}

// Validate rejects values the trackers cannot run with.
func (s *Settings) Validate() error {
	switch s.Store.Backend {
	case store.BackendFile, store.BackendRedis, store.BackendSQLite, store.BackendMemory:
	default:
		return fmt.Errorf("store.backend %q: %w", s.Store.Backend, store.ErrUnknownBackend)
	}
	if s.Store.Backend == store.BackendRedis && s.Store.RedisURL == "" {
		return errors.New("store.redis_url is required for the redis backend")
	}
	if s.Cooldown.Minutes <= 0 {
		return fmt.Errorf("cooldown.minutes must be positive, got %d", s.Cooldown.Minutes)
	}
	if s.Cooldown.RetentionHours <= 0 {
		return fmt.Errorf("cooldown.retention_hours must be positive, got %d", s.Cooldown.RetentionHours)
	}
	switch s.Snapshot.Source {
	case "http", "postgres", "none":
	default:
		return fmt.Errorf("snapshot.source %q must be http, postgres or none", s.Snapshot.Source)
	}
	return nil
}

// StoreOptions converts the store section for store.Open. The sqlite backend
// defaults to state.db in the default state directory.
func (s *Settings) StoreOptions() store.Options {
	sqlitePath := s.Store.SQLitePath
	if s.Store.Backend == store.BackendSQLite && sqlitePath == "" {
		if dir, err := store.DefaultDir(); err == nil {
			sqlitePath = filepath.Join(dir, "state.db")
		}
	}
	return store.Options{
		Backend:     s.Store.Backend,
		Dir:         s.Store.Dir,
		RedisURL:    s.Store.RedisURL,
		RedisPrefix: s.Store.RedisPrefix,
		SQLitePath:  sqlitePath,
	}
}

// CooldownWindow is the configured cooldown as a duration.
func (s *Settings) CooldownWindow() time.Duration {
	return time.Duration(s.Cooldown.Minutes) * time.Minute
}

// RetentionWindow is the configured stale retention as a duration.
func (s *Settings) RetentionWindow() time.Duration {
	return time.Duration(s.Cooldown.RetentionHours) * time.Hour
}
