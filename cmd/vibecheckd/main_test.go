package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMultiHandler_FansOutByLevel(t *testing.T) {
	var debug, warn bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewJSONHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&warn, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}}
	logger := slog.New(h).With("component", "test").WithGroup("req")

	logger.Info("hello", "id", 1)
	logger.Warn("careful")

	if got := strings.Count(debug.String(), "\n"); got != 2 {
		t.Errorf("debug handler got %d records; want 2", got)
	}
	if strings.Contains(warn.String(), "hello") || !strings.Contains(warn.String(), "careful") {
		t.Errorf("warn handler output = %q", warn.String())
	}
	if !strings.Contains(debug.String(), `"component":"test"`) {
		t.Errorf("attrs not propagated: %q", debug.String())
	}
	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Enabled(debug) = false; want true")
	}
}

func TestWritePIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), pidFileName)
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		t.Error("pid file is empty")
	}
}

func TestSetupLogging(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "logs"), 0o755); err != nil {
		t.Fatal(err)
	}
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	f, err := setupLogging(dir, slog.LevelInfo)
	if err != nil {
		t.Fatalf("setupLogging() error = %v", err)
	}
	slog.Info("written to file")
	f.Close()

	data, err := os.ReadFile(filepath.Join(dir, "logs", "vibecheckd.log"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("log file = %q", data)
	}
}
