package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"grabber/internal/logging"
	"grabber/internal/services"
)

func TestNewWritesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grabber-run.log")

	logger, err := logging.New(logging.Options{Level: "info", Format: "console", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("daemon started", logging.Int64(logging.FieldLoadItemID, 7))

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "daemon started") || !strings.Contains(string(content), "load_item_id=7") {
		t.Fatalf("unexpected log content %q", content)
	}
}

func TestConsoleLoggerSourceDependsOnLevel(t *testing.T) {
	tests := []struct {
		level      string
		wantSource bool
	}{
		{"info", false},
		{"debug", true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logPath := filepath.Join(t.TempDir(), "console.log")
			logger, err := logging.New(logging.Options{Format: "console", Level: tt.level, OutputPaths: []string{logPath}})
			if err != nil {
				t.Fatalf("New returned error: %v", err)
			}
			logger.Info("hello")

			content, err := os.ReadFile(logPath)
			if err != nil {
				t.Fatalf("read log file: %v", err)
			}
			if got := strings.Contains(string(content), ".go:"); got != tt.wantSource {
				t.Fatalf("source present = %v, want %v in %q", got, tt.wantSource, content)
			}
		})
	}
}

func TestConsoleLoggerPrefixesComponent(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Format: "console", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.NewComponentLogger(logger, "downloads").Info("file completed", logging.String("file", "Dune 2021.mp4"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	if !strings.Contains(line, "INFO downloads: file completed") {
		t.Fatalf("expected component prefix, got %q", line)
	}
	if !strings.Contains(line, `file="Dune 2021.mp4"`) {
		t.Fatalf("expected quoted value with spaces, got %q", line)
	}
	if strings.Contains(line, "component=") {
		t.Fatalf("component should not be repeated as a field, got %q", line)
	}
}

func TestJSONLoggerUsesShortKeys(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Warn("json message", logging.String("k", "v"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &entry); err != nil {
		t.Fatalf("decode json line: %v", err)
	}
	if entry["level"] != "warn" || entry["msg"] != "json message" || entry["k"] != "v" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", entry)
	}
}

func TestJSONLineDecodesAsLogEvent(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("transfer started",
		logging.String(logging.FieldComponent, "downloads"),
		logging.Int64(logging.FieldLoadItemID, 7),
		logging.Int64(logging.FieldMovieID, 0),
	)

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(content), logging.FieldMovieID) {
		t.Fatalf("zero movie id should be dropped: %s", content)
	}
	var evt logging.LogEvent
	if err := json.Unmarshal(bytes.TrimSpace(content), &evt); err != nil {
		t.Fatalf("decode json line: %v", err)
	}
	if evt.Level != "info" || evt.Message != "transfer started" || evt.Component != "downloads" || evt.LoadItemID != 7 {
		t.Fatalf("unexpected event %+v", evt)
	}
	if evt.Timestamp.IsZero() || evt.Timestamp.Location() != time.UTC {
		t.Fatalf("timestamp = %v, want UTC", evt.Timestamp)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWithContextAddsFields(t *testing.T) {
	ctx := services.WithLoadItemID(context.Background(), 123)
	ctx = services.WithRequestID(ctx, "req-xyz")

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logging.WithContext(ctx, logger).Info("contextual log")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry[logging.FieldLoadItemID] != float64(123) {
		t.Fatalf("load_item_id = %v", entry[logging.FieldLoadItemID])
	}
	if entry[logging.FieldCorrelationID] != "req-xyz" {
		t.Fatalf("correlation_id = %v", entry[logging.FieldCorrelationID])
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logging.WarnWithContext(logger, "retry scheduled", "retry_scheduled", logging.String(logging.FieldImpact, "file will be attempted again"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry[logging.FieldEventType] != "retry_scheduled" {
		t.Fatalf("event_type = %v", entry[logging.FieldEventType])
	}
	if entry[logging.FieldErrorHint] == nil {
		t.Fatal("expected default error_hint")
	}
	if entry[logging.FieldImpact] != "file will be attempted again" {
		t.Fatalf("explicit impact should win, got %v", entry[logging.FieldImpact])
	}
}

func TestPruneLogs(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "grabber-old.log")
	fresh := filepath.Join(dir, "grabber-new.log")
	current := filepath.Join(dir, "grabber-current.log")
	other := filepath.Join(dir, "notes.txt")
	for _, path := range []string{old, fresh, current, other} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	stale := time.Now().AddDate(0, 0, -10)
	for _, path := range []string{old, current, other} {
		if err := os.Chtimes(path, stale, stale); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	removed := logging.PruneLogs(logging.NewNop(), dir, "grabber-*.log", 5, current)
	if removed != 1 {
		t.Fatalf("expected one file pruned, got %d", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatal("expected stale log removed")
	}
	for _, path := range []string{fresh, current, other} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s to remain: %v", path, err)
		}
	}
}
