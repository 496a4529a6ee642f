package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"trace":   TRACE,
		"debug":   DEBUG,
		"info":    INFO,
		"warning": WARN,
		"error":   ERROR,
		"fatal":   FATAL,
		"bogus":   DEBUG,
	}
	for name, want := range tests {
		if got := ParseLevel(name); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestLoggerRecordFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewStructuredLogger("kernel", &LoggerConfig{Level: DEBUG, Console: &buf})
	if err != nil {
		t.Fatal(err)
	}

	logger.Info("task scheduled", map[string]interface{}{"priority": 5})

	line := buf.String()
	if !strings.Contains(line, "[info]") {
		t.Errorf("expected level tag in %q", line)
	}
	if !strings.Contains(line, "kernel: task scheduled") {
		t.Errorf("expected component and message in %q", line)
	}
	if !strings.Contains(line, "priority=5") {
		t.Errorf("expected field in %q", line)
	}
	// Bracketed timestamp prefix.
	if !strings.HasPrefix(line, "[") {
		t.Errorf("expected bracketed timestamp prefix in %q", line)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewStructuredLogger("test", &LoggerConfig{Level: WARN, Console: &buf})
	if err != nil {
		t.Fatal(err)
	}

	logger.Debug("hidden")
	logger.Info("hidden too")
	logger.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("expected sub-level records filtered, got %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("expected warn record, got %q", out)
	}
}

func TestLoggerWithField(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewStructuredLogger("test", &LoggerConfig{Level: DEBUG, Console: &buf})
	if err != nil {
		t.Fatal(err)
	}

	child := logger.WithField("kernel", "micro_0")
	child.Info("hello")

	if !strings.Contains(buf.String(), "kernel=micro_0") {
		t.Errorf("expected context field in %q", buf.String())
	}
}

func TestRotation(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "test.log")

	rotator, err := NewLogRotator(&RotationConfig{Filename: file, MaxSize: 1, MaxBackups: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer rotator.Close()

	record := bytes.Repeat([]byte("x"), 64*1024)
	for i := 0; i < 40; i++ {
		if _, err := rotator.Write(record); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}

	backups := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "test.log.") {
			backups++
		}
	}
	if backups == 0 {
		t.Error("expected rotated backups")
	}
	if backups > 2 {
		t.Errorf("expected at most 2 backups, got %d", backups)
	}
}

func TestDiscardLoggerDropsEverything(t *testing.T) {
	logger := Discard("test")
	logger.Error("nothing to see")
	logger.Infof("formatted %d", 1)
}
