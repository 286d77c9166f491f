// Package config loads persistd settings from PERSIST_* environment
// variables.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/wilhg/persist/pkg/errmodel"
	"github.com/wilhg/persist/pkg/replay"
)

// Lock backends accepted by PERSIST_LOCK.
const (
	LockNone     = "none"
	LockLocal    = "local"
	LockPostgres = "postgres"
	LockRedis    = "redis"
)

var lockBackends = []string{LockNone, LockLocal, LockPostgres, LockRedis}

// DefaultDatabaseURL is a SQLite file in the working directory.
const DefaultDatabaseURL = "sqlite:file:persist.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"

// Config holds every setting of the persistd binary.
type Config struct {
	DatabaseURL string `env:"PERSIST_DATABASE_URL" envDefault:"sqlite:file:persist.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"`
	Addr        string `env:"PERSIST_ADDR"         envDefault:":8080"`

	// WriterID is stamped on every written envelope. Keep it stable per node;
	// empty is the shared default writer.
	WriterID string `env:"PERSIST_WRITER_ID"`

	SnapshotEvery          int64  `env:"PERSIST_SNAPSHOT_EVERY"            envDefault:"0"`
	KeepSnapshots          int    `env:"PERSIST_KEEP_SNAPSHOTS"            envDefault:"0"`
	DeleteEventsToSnapshot bool   `env:"PERSIST_DELETE_EVENTS_TO_SNAPSHOT" envDefault:"false"`
	ReplayFilter           string `env:"PERSIST_REPLAY_FILTER"             envDefault:"off"`

	LockBackend  string        `env:"PERSIST_LOCK"           envDefault:"none"`
	RedisAddr    string        `env:"PERSIST_REDIS_ADDR"     envDefault:"localhost:6379"`
	RedisLockTTL time.Duration `env:"PERSIST_REDIS_LOCK_TTL" envDefault:"30s"`

	LogLevel         string  `env:"PERSIST_LOG_LEVEL"          envDefault:"info"`
	LogFormat        string  `env:"PERSIST_LOG_FORMAT"         envDefault:"text"`
	TraceStdout      bool    `env:"PERSIST_TRACE_STDOUT"       envDefault:"false"`
	TraceSampleRatio float64 `env:"PERSIST_TRACE_SAMPLE_RATIO" envDefault:"1"`
}

// Load reads the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadFrom reads environ instead of the process environment.
func LoadFrom(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the enumerated settings.
func (c Config) Validate() error {
	if _, err := c.ReplayMode(); err != nil {
		return err
	}
	if !slices.Contains(lockBackends, c.LockBackend) {
		return invalid("unknown lock backend", "lock", c.LockBackend)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if f := strings.ToLower(c.LogFormat); f != "text" && f != "json" {
		return invalid("unknown log format", "log_format", c.LogFormat)
	}
	if c.SnapshotEvery < 0 {
		return invalid("snapshot interval must not be negative", "snapshot_every", c.SnapshotEvery)
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return invalid("trace sample ratio must be within [0, 1]", "trace_sample_ratio", c.TraceSampleRatio)
	}
	return nil
}

func (c Config) ReplayMode() (replay.Mode, error) { return replay.ParseMode(c.ReplayFilter) }

func (c Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, invalid("unknown log level", "log_level", c.LogLevel)
	}
	return lvl, nil
}

// Logger builds the slog logger described by LogLevel and LogFormat.
func (c Config) Logger(w io.Writer) *slog.Logger {
	lvl, _ := c.Level()
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func invalid(msg, key string, value any) error {
	return errmodel.Configuration(errmodel.CodeInvalidConfig, msg, map[string]any{key: value})
}
