package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/1broseidon/deskportal/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_TextRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(config.LoggingConfig{Level: "warn", Format: "text"}, &buf)
	l.Info("hidden")
	l.Warn("shown", "portal", "a1")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info record leaked at warn level: %q", out)
	}
	if !strings.Contains(out, "msg=shown") || !strings.Contains(out, "portal=a1") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
	l.With("component", "embed").Info("launched", "pid", 42)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if rec["component"] != "embed" || rec["pid"] != float64(42) {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestNew_FileReceivesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deskportal.log")
	var buf bytes.Buffer
	l := New(config.LoggingConfig{Level: "debug", Format: "text", File: path, MaxSizeMB: 1, MaxFiles: 1}, &buf)
	l.Debug("attach retry", "attempt", 2)
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"attach retry"`) {
		t.Fatalf("file missing record: %q", data)
	}
	if !strings.Contains(buf.String(), "attach retry") {
		t.Fatalf("console missing record: %q", buf.String())
	}
}

func TestWithComponent(t *testing.T) {
	prev := L()
	t.Cleanup(func() {
		mu.Lock()
		current = prev
		mu.Unlock()
		slog.SetDefault(prev)
	})

	var buf bytes.Buffer
	mu.Lock()
	current = New(config.LoggingConfig{Level: "info", Format: "text"}, &buf).Logger
	mu.Unlock()

	WithComponent("layout").Info("saved")
	if !strings.Contains(buf.String(), "component=layout") {
		t.Fatalf("missing component attr: %q", buf.String())
	}
}
