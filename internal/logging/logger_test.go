package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
		want   string
	}{
		{
			name:   "default config",
			config: nil,
			want:   "text",
		},
		{
			name: "json format",
			config: &Config{
				Level:  LevelInfo,
				Format: "json",
				Output: &bytes.Buffer{},
			},
			want: "json",
		},
		{
			name: "text format",
			config: &Config{
				Level:  LevelDebug,
				Format: "text",
				Output: &bytes.Buffer{},
			},
			want: "text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Fatal("NewLogger() returned nil")
			}
			if got := logger.core.format; got != tt.want {
				t.Errorf("NewLogger() format = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoggerWithQueueContext(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{
		Level:   LevelDebug,
		Format:  "text",
		Output:  &buf,
		Sync:    true,
		NoColor: true,
	}

	logger := NewLogger(config)

	queueLogger := logger.WithQueue(42)
	queueLogger.Info("socket opened")

	output := buf.String()
	if !strings.Contains(output, "queue_id=42") {
		t.Errorf("Expected queue_id=42 in output, got: %s", output)
	}

	// Derived loggers accumulate context without mutating the parent.
	buf.Reset()
	flowLogger := queueLogger.WithFlow(5000, 7001)
	flowLogger.Info("SYN received")

	output = buf.String()
	if !strings.Contains(output, "queue_id=42") {
		t.Errorf("Expected queue_id=42 in flow logger output, got: %s", output)
	}
	if !strings.Contains(output, "local_port=5000") {
		t.Errorf("Expected local_port=5000 in output, got: %s", output)
	}
	if !strings.Contains(output, "remote_port=7001") {
		t.Errorf("Expected remote_port=7001 in output, got: %s", output)
	}

	buf.Reset()
	queueLogger.Info("unrelated event")
	output = buf.String()
	if strings.Contains(output, "local_port") {
		t.Errorf("Parent logger must not pick up child's fields, got: %s", output)
	}
}

func TestLoggerWithFlowContext(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{
		Level:   LevelDebug,
		Format:  "text",
		Output:  &buf,
		Sync:    true,
		NoColor: true,
	}

	logger := NewLogger(config)
	flowLogger := logger.WithFlow(6000, 80)
	flowLogger.Debug("retransmitting segment")

	output := buf.String()
	if !strings.Contains(output, "local_port=6000") {
		t.Errorf("Expected local_port=6000 in output, got: %s", output)
	}
	if !strings.Contains(output, "remote_port=80") {
		t.Errorf("Expected remote_port=80 in output, got: %s", output)
	}
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{
		Level:   LevelDebug,
		Format:  "text",
		Output:  &buf,
		Sync:    true,
		NoColor: true,
	}

	logger := NewLogger(config)
	testErr := errors.New("connection reset")
	errorLogger := logger.WithError(testErr)
	errorLogger.Error("flow aborted")

	output := buf.String()
	if !strings.Contains(output, "connection reset") {
		t.Errorf("Expected 'connection reset' in output, got: %s", output)
	}
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{
		Level:   LevelDebug,
		Format:  "text",
		Output:  &buf,
		Sync:    true,
		NoColor: true,
	}

	SetDefault(NewLogger(config))

	// Test debug message (should appear since we set LevelDebug)
	Debug("debug message", "key", "value")
	output := buf.String()
	if !strings.Contains(output, "debug message") {
		t.Errorf("Expected debug message, got: %s", output)
	}
	if !strings.Contains(output, "key=value") {
		t.Errorf("Expected key=value, got: %s", output)
	}

	// Test info message
	buf.Reset()
	Info("info message")
	output = buf.String()
	if !strings.Contains(output, "info message") {
		t.Errorf("Expected info message, got: %s", output)
	}

	// Test warn message
	buf.Reset()
	Warn("warning message")
	output = buf.String()
	if !strings.Contains(output, "warning message") {
		t.Errorf("Expected warning message, got: %s", output)
	}

	// Test error message
	buf.Reset()
	Error("error message")
	output = buf.String()
	if !strings.Contains(output, "error message") {
		t.Errorf("Expected error message, got: %s", output)
	}
}

func TestJSONFormatEmitsParsableFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{
		Level:  LevelInfo,
		Format: "json",
		Output: &buf,
	})

	logger.WithQueue(7).Info("bound", "port", 9000)

	output := buf.String()
	if !strings.Contains(output, `"queue_id":7`) {
		t.Errorf("Expected queue_id:7 in JSON output, got: %s", output)
	}
	if !strings.Contains(output, `"port":9000`) {
		t.Errorf("Expected port:9000 in JSON output, got: %s", output)
	}
}
