package obslog

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewJSONConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "debug", Format: "json", Console: true}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Debug("engine_spawned", zap.Int("pid", 42))
	_ = logger.Sync()

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if entry["msg"] != "engine_spawned" || entry["level"] != "debug" || entry["pid"] != float64(42) {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "warning", Format: "legacy", Console: true}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	_ = logger.Sync()
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") || !strings.Contains(out, " | WARN | ") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestNewWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "blundr.log")
	logger, err := New(Options{Format: "console", File: path}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("to_file")
	_ = logger.Sync()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(b), "to_file") {
		t.Fatalf("log file missing entry: %q", b)
	}
}

func TestOptionsFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("LOG_FORMAT", " JSON ")
	t.Setenv("LOG_TO_CONSOLE", "false")
	t.Setenv("LOG_TO_FILE", "true")
	t.Setenv("LOG_FILE", "")
	opts := OptionsFromEnv()
	if opts.Level != "error" || opts.Format != "json" || opts.Console {
		t.Fatalf("unexpected options %+v", opts)
	}
	if opts.File != filepath.Join("logs", "blundrbot.log") {
		t.Fatalf("file = %q", opts.File)
	}
	if parseLevel(opts.Level) != zapcore.ErrorLevel {
		t.Fatalf("level not parsed")
	}
}

func TestSetNilInstallsNop(t *testing.T) {
	Set(nil)
	if L() == nil {
		t.Fatalf("L returned nil")
	}
}
