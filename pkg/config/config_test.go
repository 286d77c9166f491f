package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/wilhg/persist/pkg/errmodel"
	"github.com/wilhg/persist/pkg/replay"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DatabaseURL != DefaultDatabaseURL || cfg.Addr != ":8080" || cfg.LockBackend != LockNone {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.RedisLockTTL != 30*time.Second || cfg.SnapshotEvery != 0 || cfg.TraceStdout || cfg.TraceSampleRatio != 1 {
		t.Fatalf("cfg=%+v", cfg)
	}
	if m, _ := cfg.ReplayMode(); m != replay.ModeOff {
		t.Fatalf("mode=%v", m)
	}
}

func TestOverrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"PERSIST_DATABASE_URL":              "postgres://u:p@db:5432/persist",
		"PERSIST_WRITER_ID":                 "node-a",
		"PERSIST_SNAPSHOT_EVERY":            "50",
		"PERSIST_DELETE_EVENTS_TO_SNAPSHOT": "true",
		"PERSIST_REPLAY_FILTER":             "repair_by_discard_old",
		"PERSIST_LOCK":                      "redis",
		"PERSIST_REDIS_LOCK_TTL":            "5s",
		"PERSIST_LOG_LEVEL":                 "debug",
		"PERSIST_LOG_FORMAT":                "json",
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.WriterID != "node-a" || cfg.SnapshotEvery != 50 || !cfg.DeleteEventsToSnapshot || cfg.RedisLockTTL != 5*time.Second {
		t.Fatalf("cfg=%+v", cfg)
	}
	if m, _ := cfg.ReplayMode(); m != replay.ModeRepairByDiscardOld {
		t.Fatalf("mode=%v", m)
	}
	if lvl, _ := cfg.Level(); lvl != slog.LevelDebug {
		t.Fatalf("level=%v", lvl)
	}
}

func TestInvalidValues(t *testing.T) {
	tests := map[string]map[string]string{
		"replay": {"PERSIST_REPLAY_FILTER": "sometimes"},
		"lock":   {"PERSIST_LOCK": "zookeeper"},
		"level":  {"PERSIST_LOG_LEVEL": "chatty"},
		"format": {"PERSIST_LOG_FORMAT": "xml"},
		"snap":   {"PERSIST_SNAPSHOT_EVERY": "-1"},
		"ratio":  {"PERSIST_TRACE_SAMPLE_RATIO": "1.5"},
	}
	for name, environ := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFrom(environ)
			if err == nil {
				t.Fatal("expected error")
			}
			if errmodel.From(err).Code != errmodel.CodeInvalidConfig {
				t.Fatalf("err=%v", err)
			}
		})
	}
	if _, err := LoadFrom(map[string]string{"PERSIST_SNAPSHOT_EVERY": "many"}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{LogLevel: "warn", LogFormat: "json"}
	log := cfg.Logger(&buf)
	log.Info("hidden")
	log.Warn("shown", slog.String("k", "v"))
	out := strings.TrimSpace(buf.String())
	if strings.Contains(out, "hidden") {
		t.Fatal("info logged at warn level")
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(out), &rec); err != nil || rec["k"] != "v" {
		t.Fatalf("record=%q err=%v", out, err)
	}
}
