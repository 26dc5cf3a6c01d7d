package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newBufferedLogger(t *testing.T, dev bool) (*Logger, *bytes.Buffer, string) {
	t.Helper()
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "test.log")
	logger, err := NewLoggerWithOptions(Options{
		FilePath:    path,
		Console:     &console,
		Development: dev,
	})
	if err != nil {
		t.Fatalf("NewLoggerWithOptions() error = %v", err)
	}
	return logger, &console, path
}

func TestNewLogger_WritesJSONFile(t *testing.T) {
	logger, _, path := newBufferedLogger(t, false)

	logger.Info("run started", zap.String("slot_id", "abc"), zap.Int("steps", 3))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, data)
	}
	if entry[FieldMessage] != "run started" {
		t.Errorf("message = %v, want %q", entry[FieldMessage], "run started")
	}
	if entry["slot_id"] != "abc" {
		t.Errorf("slot_id = %v, want abc", entry["slot_id"])
	}
	if entry[FieldLevel] != "info" {
		t.Errorf("level = %v, want info", entry[FieldLevel])
	}
}

func TestNewLogger_DevelopmentLevel(t *testing.T) {
	devLogger, devConsole, _ := newBufferedLogger(t, true)
	devLogger.Debug("visible")
	if !strings.Contains(devConsole.String(), "visible") {
		t.Error("development logger should emit debug entries")
	}

	prodLogger, prodConsole, _ := newBufferedLogger(t, false)
	prodLogger.Debug("hidden")
	if strings.Contains(prodConsole.String(), "hidden") {
		t.Error("production logger should drop debug entries")
	}
}

func TestLogger_ExplicitLevel(t *testing.T) {
	var console bytes.Buffer
	level := zapcore.ErrorLevel
	logger, err := NewLoggerWithOptions(Options{Console: &console, Level: &level})
	if err != nil {
		t.Fatalf("NewLoggerWithOptions() error = %v", err)
	}
	logger.Warn("dropped")
	logger.Error("kept")
	if strings.Contains(console.String(), "dropped") || !strings.Contains(console.String(), "kept") {
		t.Errorf("unexpected console output: %s", console.String())
	}
}

func TestLogger_RedactsSensitiveFields(t *testing.T) {
	logger, console, _ := newBufferedLogger(t, false)

	logger.Info("backend configured",
		zap.String("REPLICATE_API_TOKEN", "r8_supersecretvalue0123456789"),
		zap.String("detail", "upstream said: Bearer abcdefghijklmnopqrstuvwxyz"),
		zap.Error(errors.New("request with sk-abcdefghijklmnopqrstuvwxyz failed")),
	)

	out := console.String()
	for _, leaked := range []string{"r8_supersecret", "abcdefghijklmnopqrstuvwxyz"} {
		if strings.Contains(out, leaked) {
			t.Errorf("log output leaked %q: %s", leaked, out)
		}
	}
	if !strings.Contains(out, RedactedPlaceholder) {
		t.Errorf("log output should contain %s: %s", RedactedPlaceholder, out)
	}
}

func TestLogger_WithAndNamed(t *testing.T) {
	logger, console, _ := newBufferedLogger(t, false)

	child := logger.Named("selector").With(zap.String("backend", "LOCAL_SD"))
	child.Infof("attempt %d", 2)

	out := console.String()
	if !strings.Contains(out, `"source":"selector"`) {
		t.Errorf("named logger should set source: %s", out)
	}
	if !strings.Contains(out, `"backend":"LOCAL_SD"`) || !strings.Contains(out, "attempt 2") {
		t.Errorf("child logger lost fields: %s", out)
	}
}

func TestNewLogger_BadPath(t *testing.T) {
	_, err := NewLogger(false, filepath.Join(t.TempDir(), "missing", "dir", "app.log"))
	if err == nil {
		t.Fatal("NewLogger() with unwritable path should fail")
	}
}

func TestNewNop(t *testing.T) {
	logger := NewNop()
	logger.Info("ignored")
	if err := logger.Sync(); err != nil {
		t.Errorf("Sync() on nop logger = %v", err)
	}
}

func TestParseLogLevelString(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{" WARNING ", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLogLevelString(tt.in, zapcore.InfoLevel); got != tt.want {
			t.Errorf("ParseLogLevelString(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	t.Setenv("TEST_LOG_LEVEL", "debug")
	if got := ParseLogLevel("TEST_LOG_LEVEL", zapcore.InfoLevel); got != zapcore.DebugLevel {
		t.Errorf("ParseLogLevel() = %v, want debug", got)
	}
}

func TestIsSensitiveField(t *testing.T) {
	tests := map[string]bool{
		"openai_api_key": true,
		"Authorization":  true,
		"webui_api_key":  true,
		"prompt":         false,
		"job_id":         false,
	}
	for name, want := range tests {
		if got := IsSensitiveField(name); got != want {
			t.Errorf("IsSensitiveField(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestRedactSensitiveData_KeepsModelVersion(t *testing.T) {
	version := "27b93a2413e7f36cd83da926f3656280b2931564ff050bf9575f1fdf9bcd7478"
	if got := RedactSensitiveData("version " + version); !strings.Contains(got, version) {
		t.Errorf("model version hashes should not be redacted: %s", got)
	}
	if got := RedactSensitiveData("Token r8_0123456789abcdefghijklmn"); strings.Contains(got, "r8_0123") {
		t.Errorf("replicate token leaked: %s", got)
	}
}
