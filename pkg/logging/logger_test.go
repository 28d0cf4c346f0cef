package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"DEBUG", DebugLevel},
		{"debug", DebugLevel},
		{" info ", InfoLevel},
		{"WARNING", WarnLevel},
		{"warn", WarnLevel},
		{"error", ErrorLevel},
		{"", InfoLevel},
		{"verbose", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("line is not JSON: %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestJSONLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, WarnLevel)

	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error")

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(lines))
	}
	if lines[0]["level"] != "WARN" || lines[1]["level"] != "ERROR" {
		t.Errorf("Unexpected levels: %v, %v", lines[0]["level"], lines[1]["level"])
	}
}

func TestJSONLogger_WithSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	parent := NewJSONLogger(&buf, InfoLevel)
	child := parent.With(Component("session"), GraphKey("g1"))

	parent.SetLevel(ErrorLevel)
	child.Info("dropped")
	child.Error("kept", UserID("u1"))

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("Expected 1 line, got %d", len(lines))
	}
	fields, ok := lines[0]["fields"].(map[string]any)
	if !ok {
		t.Fatalf("Expected fields object, got %v", lines[0]["fields"])
	}
	for key, want := range map[string]string{"component": "session", "graph_key": "g1", "user_id": "u1"} {
		if fields[key] != want {
			t.Errorf("Expected %s=%s, got %v", key, want, fields[key])
		}
	}
	if child.GetLevel() != ErrorLevel {
		t.Errorf("Expected child level ERROR, got %v", child.GetLevel())
	}
}

func TestJSONLogger_ChildDoesNotLeakFields(t *testing.T) {
	var buf bytes.Buffer
	parent := NewJSONLogger(&buf, InfoLevel)
	_ = parent.With(PeerID("p1"))

	parent.Info("plain")

	lines := decodeLines(t, &buf)
	if _, ok := lines[0]["fields"]; ok {
		t.Errorf("Expected no fields on parent entry, got %v", lines[0]["fields"])
	}
}

func TestJSONLogger_ConcurrentWritesStayLineAtomic(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, InfoLevel)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l := logger.With(Int("worker", i))
			for j := 0; j < 25; j++ {
				l.Info("tick", Count(j))
			}
		}(i)
	}
	wg.Wait()

	if got := len(decodeLines(t, &buf)); got != 500 {
		t.Errorf("Expected 500 lines, got %d", got)
	}
}

func TestErrorField(t *testing.T) {
	if f := Error(nil); f.Value != nil {
		t.Errorf("Error(nil) value = %v, want nil", f.Value)
	}
	if f := Error(errors.New("boom")); f.Value != "boom" {
		t.Errorf("Error() value = %v, want boom", f.Value)
	}
	if f := Latency(1500 * time.Millisecond); f.Value != "1.5s" {
		t.Errorf("Latency() value = %v, want 1.5s", f.Value)
	}
}

func TestTimer(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, DebugLevel)

	StartTimer(logger, "load graph", GraphKey("g1")).End()
	StartTimer(logger, "load graph", GraphKey("g2")).EndError(errors.New("not found"))

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(lines))
	}
	if lines[1]["level"] != "WARN" {
		t.Errorf("Expected failed timer at WARN, got %v", lines[1]["level"])
	}
	fields := lines[1]["fields"].(map[string]any)
	if fields["error"] != "not found" {
		t.Errorf("Expected error field, got %v", fields["error"])
	}
	if _, ok := fields["latency"]; !ok {
		t.Error("Expected latency field")
	}
}

func TestOrNop(t *testing.T) {
	if _, ok := OrNop(nil).(NopLogger); !ok {
		t.Error("Expected NopLogger for nil")
	}
	l := NewJSONLogger(&bytes.Buffer{}, InfoLevel)
	if OrNop(l) != Logger(l) {
		t.Error("Expected the same logger back")
	}
}
