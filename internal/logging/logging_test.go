package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
	}
	for _, c := range cases {
		got, err := ParseLevel(c.in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("ParseLevel(%q): got=%v want=%v", c.in, got, c.want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestSetupJSONHandler(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup(Options{Level: "debug", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	logger.Debug("vectorized media", "count", 12)

	out := buf.String()
	if !strings.Contains(out, `"msg":"vectorized media"`) {
		t.Fatalf("missing message: %s", out)
	}
	if !strings.Contains(out, `"count":12`) {
		t.Fatalf("missing attribute: %s", out)
	}
}

func TestSetupFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup(Options{Level: "warn", Format: "text", Output: &buf})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	logger.Info("quiet")
	logger.Warn("loud")

	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Fatalf("info record leaked through warn level: %s", out)
	}
	if !strings.Contains(out, "loud") {
		t.Fatalf("warn record missing: %s", out)
	}
}

func TestSetupRejectsUnknownFormat(t *testing.T) {
	if _, err := Setup(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestForComponentTagsRecords(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup(Options{Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	ForComponent(logger, "ingest").Info("page fetched")

	if !strings.Contains(buf.String(), `"component":"ingest"`) {
		t.Fatalf("missing component attribute: %s", buf.String())
	}
}

func TestNewFileLoggerWritesToDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "ingest.log")
	logger, closeFn, err := NewFileLogger(path, "ingest", slog.LevelInfo)
	if err != nil {
		t.Fatalf("new file logger: %v", err)
	}
	logger.Info("media batch stored", "batch", "abc")
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "media batch stored") {
		t.Fatalf("record missing from file: %s", data)
	}
}
