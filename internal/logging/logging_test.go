package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Format: HumanFormat, Level: WarnLevel, Output: &buf})

	logger.Debug("debug message", nil)
	logger.Info("info message", nil)
	logger.Warn("warn message", nil)
	logger.Error("error message", nil)

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("expected debug/info to be filtered, got:\n%s", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("expected warn/error to be logged, got:\n%s", out)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Format: JSONFormat, Level: DebugLevel, Output: &buf})

	logger.Info("traced entry point", Fields{"entryPoint": "handleLogin", "pathways": 3})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry["level"] != "info" {
		t.Errorf("expected level info, got %v", entry["level"])
	}
	if entry["message"] != "traced entry point" {
		t.Errorf("unexpected message: %v", entry["message"])
	}
	fields, ok := entry["fields"].(map[string]interface{})
	if !ok {
		t.Fatal("expected fields object")
	}
	if fields["entryPoint"] != "handleLogin" {
		t.Errorf("unexpected field value: %v", fields["entryPoint"])
	}
}

func TestHumanFormatFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Format: HumanFormat, Level: InfoLevel, Output: &buf})

	logger.Info("resolved edges", Fields{"count": 12})

	out := buf.String()
	if !strings.Contains(out, "resolved edges") {
		t.Errorf("expected message in output, got %q", out)
	}
	if !strings.Contains(out, "count=12") {
		t.Errorf("expected field in output, got %q", out)
	}
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Format: JSONFormat, Level: InfoLevel, Output: &buf})
	child := logger.WithFields(Fields{"component": "resolver"})

	child.Info("pass complete", Fields{"resolved": 4})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	fields := entry["fields"].(map[string]interface{})
	if fields["component"] != "resolver" {
		t.Errorf("expected base field to be attached, got %v", fields)
	}
	if fields["resolved"] != float64(4) {
		t.Errorf("expected call field to be attached, got %v", fields)
	}
}

func TestNopLoggerIsSilent(t *testing.T) {
	logger := NewNop()
	// Must not panic or write anywhere observable.
	logger.Error("should vanish", Fields{"k": "v"})
}
