package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"cpen442miner/internal/config"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want slog.Level
	}{
		{"debug", Config{Level: "debug"}, slog.LevelDebug},
		{"info", Config{Level: "info"}, slog.LevelInfo},
		{"warn", Config{Level: "warn"}, slog.LevelWarn},
		{"warning alias", Config{Level: "warning"}, slog.LevelWarn},
		{"error", Config{Level: "error"}, slog.LevelError},
		{"unknown defaults info", Config{Level: "bogus"}, slog.LevelInfo},
		{"verbose overrides", Config{Level: "error", Verbose: true}, slog.LevelDebug},
		{"quiet overrides", Config{Level: "debug", Quiet: true}, slog.LevelError},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := parseLevel(c.cfg); got != c.want {
				t.Fatalf("parseLevel(%+v) = %v, want %v", c.cfg, got, c.want)
			}
		})
	}
}

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "info", Format: "text", Output: &buf})
	l.Info("hello", "k", "v")

	if !strings.Contains(buf.String(), "hello") {
		t.Fatalf("expected log output to contain message, got %q", buf.String())
	}
}

func TestNewFromMinerConfig(t *testing.T) {
	cfg := &config.MinerConfig{}
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "json"

	l := NewFromMinerConfig(cfg)
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestGetSetDefault(t *testing.T) {
	globalLogger.Store(nil)
	l := Get()
	if l == nil {
		t.Fatal("expected Get() to lazily initialize a default logger")
	}
}

func TestColorHandlerRendersAttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	h := newColorHandler(&buf, slog.LevelInfo)
	l := slog.New(h).With("worker", 3).WithGroup("net")
	l.Info("claimed", "path", "/claim_coin")

	out := buf.String()
	for _, want := range []string{"claimed", "worker=3", "net.path=/claim_coin"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got %q", want, out)
		}
	}
}

func TestColorHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(newColorHandler(&buf, slog.LevelWarn))
	l.Info("quiet")
	l.Warn("loud")

	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Errorf("info record should have been suppressed, got %q", out)
	}
	if !strings.Contains(out, "loud") {
		t.Errorf("warn record should have been written, got %q", out)
	}
}

func TestFromContextFallsBackToGlobal(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("expected the global logger when no logger is attached")
	}

	var buf bytes.Buffer
	attached := New(Config{Level: "info", Format: "text", Output: &buf})
	ctx := WithContext(context.Background(), attached)
	if FromContext(ctx) != attached {
		t.Fatal("expected the attached logger to be returned")
	}
}
