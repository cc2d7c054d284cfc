package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestSetup_ReturnsJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf, slog.LevelInfo)

	if l == nil {
		t.Fatal("expected non-nil logger")
	}

	l.Info("test message", slog.String("key", "value"))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON log output, got error: %v\nraw output: %s", err, buf.String())
	}

	if entry["msg"] != "test message" {
		t.Errorf("msg = %q, want %q", entry["msg"], "test message")
	}
	if entry["key"] != "value" {
		t.Errorf("key = %q, want %q", entry["key"], "value")
	}
	if _, ok := entry["time"]; !ok {
		t.Error("expected 'time' field in JSON log output")
	}
}

func TestSetup_IncludesLevelField(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf, slog.LevelInfo)

	l.Warn("warning test")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	if entry["level"] != "WARN" {
		t.Errorf("level = %q, want %q", entry["level"], "WARN")
	}
}

// TestSetup_FiltersBelowLevel は指定レベル未満のログが出力されないことを検証する。
func TestSetup_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf, slog.LevelWarn)

	l.Info("hidden")
	l.Debug("hidden too")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below WARN, got %s", buf.String())
	}

	l.Error("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("expected ERROR entry, got %s", buf.String())
	}
}

func TestSetup_NilLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf, nil)

	l.Debug("hidden")
	l.Info("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Errorf("debug entry should be filtered, got %s", buf.String())
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("expected info entry, got %s", buf.String())
	}
}

func TestSetup_SyncAttributes(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf, slog.LevelInfo)

	l.Info("provider sync completed",
		slog.String("user_id", "u-123"),
		slog.String("provider", "whoop"),
		slog.Int("workouts_imported", 3),
		slog.Int64("duration_ms", 250),
	)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	if entry["user_id"] != "u-123" {
		t.Errorf("user_id = %q, want %q", entry["user_id"], "u-123")
	}
	if entry["provider"] != "whoop" {
		t.Errorf("provider = %q, want %q", entry["provider"], "whoop")
	}
	if entry["workouts_imported"] != float64(3) {
		t.Errorf("workouts_imported = %v, want %v", entry["workouts_imported"], 3)
	}
	if entry["duration_ms"] != float64(250) {
		t.Errorf("duration_ms = %v, want %v", entry["duration_ms"], 250)
	}
}

func TestSetupDefault_SetsGlobalLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	SetupDefault(&buf, slog.LevelInfo)

	slog.Default().Info("global test", slog.String("test_key", "test_val"))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v\nraw: %s", err, buf.String())
	}

	if entry["msg"] != "global test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "global test")
	}
	if entry["test_key"] != "test_val" {
		t.Errorf("test_key = %q, want %q", entry["test_key"], "test_val")
	}
}
