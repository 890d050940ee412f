package util

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

// saveLoggerState saves the current logger state for restoration
func saveLoggerState() (io.Writer, logrus.Level, logrus.Formatter) {
	return Logger.Out, Logger.Level, Logger.Formatter
}

// restoreLoggerState restores the logger to its previous state
func restoreLoggerState(out io.Writer, level logrus.Level, formatter logrus.Formatter) {
	Logger.SetOutput(out)
	Logger.SetLevel(level)
	Logger.SetFormatter(formatter)
}

func TestSetLogLevel(t *testing.T) {
	out, level, formatter := saveLoggerState()
	defer restoreLoggerState(out, level, formatter)

	tests := []struct {
		level   string
		wantErr bool
	}{
		{"debug", false},
		{"info", false},
		{"warn", false},
		{"error", false},
		{"invalid", true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			err := SetLogLevel(tt.level)
			if (err != nil) != tt.wantErr {
				t.Errorf("SetLogLevel(%q) error = %v, wantErr %v", tt.level, err, tt.wantErr)
			}
		})
	}
}

func TestSetLogOutput(t *testing.T) {
	out, level, formatter := saveLoggerState()
	defer restoreLoggerState(out, level, formatter)

	var buf bytes.Buffer
	SetLogOutput(&buf)

	Info("test message")

	if buf.Len() == 0 {
		t.Error("Expected output to be written to buffer")
	}
}

func TestWithTaskAndShard(t *testing.T) {
	out, level, formatter := saveLoggerState()
	defer restoreLoggerState(out, level, formatter)

	var buf bytes.Buffer
	SetLogOutput(&buf)

	WithTask(42).Info("registered")
	if !strings.Contains(buf.String(), "task=42") {
		t.Errorf("output %q missing task field", buf.String())
	}

	buf.Reset()
	WithShard(3).Info("filling")
	if !strings.Contains(buf.String(), "shard=3") {
		t.Errorf("output %q missing shard field", buf.String())
	}
}

func TestSetErrorFile(t *testing.T) {
	out, level, formatter := saveLoggerState()
	defer func() {
		restoreLoggerState(out, level, formatter)
		Logger.ReplaceHooks(make(logrus.LevelHooks))
	}()

	var buf bytes.Buffer
	SetLogOutput(&buf)

	path := filepath.Join(t.TempDir(), "error.log")
	if err := SetErrorFile(path); err != nil {
		t.Fatalf("SetErrorFile() error = %v", err)
	}

	Info("info only")
	Error("something broke")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading error file: %v", err)
	}
	if !strings.Contains(string(data), "something broke") {
		t.Errorf("error file %q missing error entry", string(data))
	}
	if strings.Contains(string(data), "info only") {
		t.Error("error file should not contain info-level entries")
	}
}
