package cli

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestColoredHandler_Plain(t *testing.T) {
	var buf bytes.Buffer
	h := NewColoredHandler(&buf, slog.LevelInfo)
	if h.colored {
		t.Fatal("a bytes.Buffer must not be treated as a terminal")
	}

	logger := slog.New(h).With("session", "abc")
	logger.Debug("hidden")
	logger.Info("Tool called", "tool", "read_file")
	logger.Warn("Access denied", "error", errors.New("outside root"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug record was written at info level:\n%s", out)
	}
	if strings.Contains(out, "\033[") {
		t.Errorf("plain output contains ANSI codes:\n%s", out)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[0], "INFO  Tool called session=abc tool=read_file") {
		t.Errorf("info line = %q", lines[0])
	}
	if !strings.Contains(lines[1], "WARN  Access denied session=abc error=outside root") {
		t.Errorf("warn line = %q", lines[1])
	}
}

func TestColoredHandler_Colored(t *testing.T) {
	var buf bytes.Buffer
	h := NewColoredHandler(&buf, slog.LevelDebug)
	h.colored = true

	slog.New(h).Error("boom", "error", "disk full")
	out := buf.String()
	if !strings.Contains(out, colorRed+"ERROR") {
		t.Errorf("level not colored: %q", out)
	}
	if !strings.Contains(out, colorRed+"disk full"+colorReset) {
		t.Errorf("error value not colored: %q", out)
	}
}

func TestLevelInfo(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  string
		color string
	}{
		{slog.LevelDebug, "DEBUG", colorBlue},
		{slog.LevelInfo, "INFO", colorGreen},
		{slog.LevelWarn, "WARN", colorYellow},
		{slog.LevelError, "ERROR", colorRed},
		{slog.LevelError + 4, "ERROR", colorRed},
	}
	for _, tt := range tests {
		got, color := levelInfo(tt.level)
		if got != tt.want || color != tt.color {
			t.Errorf("levelInfo(%v) = %s, %q", tt.level, got, color)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestMultiHandler(t *testing.T) {
	var debugBuf, warnBuf bytes.Buffer
	m := &multiHandler{handlers: []slog.Handler{
		NewColoredHandler(&debugBuf, slog.LevelDebug),
		slog.NewTextHandler(&warnBuf, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}}

	if !m.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Enabled(debug) = false with a debug handler present")
	}

	logger := slog.New(m).With("component", "test")
	logger.Debug("detail")
	logger.Warn("careful")

	if !strings.Contains(debugBuf.String(), "detail") || !strings.Contains(debugBuf.String(), "careful") {
		t.Errorf("debug handler output = %q", debugBuf.String())
	}
	if strings.Contains(warnBuf.String(), "detail") || !strings.Contains(warnBuf.String(), "component=test") {
		t.Errorf("warn handler output = %q", warnBuf.String())
	}
}

func TestSetupLogging_File(t *testing.T) {
	orig := slog.Default()
	defer slog.SetDefault(orig)

	path := filepath.Join(t.TempDir(), "hostgate.log")
	var console bytes.Buffer
	closeLog, err := setupLogging(&console, slog.LevelInfo, path, true)
	if err != nil {
		t.Fatal(err)
	}
	slog.Info("to both", "n", 1)
	closeLog()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `msg="to both"`) {
		t.Errorf("log file = %q", data)
	}
	if !strings.Contains(console.String(), "to both n=1") {
		t.Errorf("console = %q", console.String())
	}

	if _, err := setupLogging(&console, slog.LevelInfo, filepath.Join(t.TempDir(), "no", "such", "file.log"), false); err == nil {
		t.Error("setupLogging() should fail for an unwritable log file")
	}
}
