package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupLoggerHonoursLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_FORMAT", "")

	var buf bytes.Buffer
	logger := SetupLogger(&buf, "test")
	logger.Info("quiet")
	logger.Warn("loud")

	out := buf.String()
	if strings.Contains(out, "quiet") || !strings.Contains(out, "loud") {
		t.Errorf("unexpected output %q", out)
	}
	if !strings.Contains(out, "component=test") {
		t.Errorf("component missing from %q", out)
	}
}

func TestSetupLoggerUnknownLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "chatty")

	var buf bytes.Buffer
	SetupLogger(&buf, "test")
	if !strings.Contains(buf.String(), "Unknown log level") {
		t.Errorf("expected a warning, got %q", buf.String())
	}
}

func TestLoadEnvFileAndConfig(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("PORT=9191\nDATA_BACKEND=memory\n"), 0644); err != nil {
		t.Fatal(err)
	}
	// godotenv never overrides variables that are already set.
	t.Setenv("PORT", "")
	os.Unsetenv("PORT")
	t.Setenv("DATA_BACKEND", "")
	os.Unsetenv("DATA_BACKEND")
	t.Setenv("LOG_LEVEL", "info")

	LoadEnvFile(envFile)
	LoadEnvFile(filepath.Join(dir, "missing.env"))

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Port != "9191" {
		t.Errorf("Port = %v, want 9191", cfg.Port)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	t.Setenv("PORT", "not-a-port")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected validation error")
	}
}
