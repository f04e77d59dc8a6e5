package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.SendTimeout != 5*time.Second {
		t.Errorf("SendTimeout = %v, want 5s", cfg.SendTimeout)
	}
	if cfg.StopGrace != 2*time.Second {
		t.Errorf("StopGrace = %v, want 2s", cfg.StopGrace)
	}
	if cfg.ExitMarker != DefaultExitMarker {
		t.Errorf("ExitMarker = %q, want default", cfg.ExitMarker)
	}
	if cfg.SessionRoot != os.TempDir() {
		t.Errorf("SessionRoot = %q, want %q", cfg.SessionRoot, os.TempDir())
	}
	if cfg.DBPath() == "" {
		t.Error("DBPath() is empty")
	}
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
data_dir: /tmp/ptywrap-test
session_root: /tmp/sessions
send_timeout: 10s
stop_grace: 500ms
exit_marker: ""
log_level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.DataDir != "/tmp/ptywrap-test" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.SessionRoot != "/tmp/sessions" {
		t.Errorf("SessionRoot = %q", cfg.SessionRoot)
	}
	if cfg.SendTimeout != 10*time.Second {
		t.Errorf("SendTimeout = %v, want 10s", cfg.SendTimeout)
	}
	if cfg.StopGrace != 500*time.Millisecond {
		t.Errorf("StopGrace = %v, want 500ms", cfg.StopGrace)
	}
	if cfg.ExitMarker != "" {
		t.Errorf("ExitMarker = %q, want empty (explicitly disabled)", cfg.ExitMarker)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("SlogLevel() = %v, want debug", cfg.SlogLevel())
	}
}

func TestLoadFileInvalidDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("send_timeout: soon\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("LoadFile() succeeded with invalid duration, want error")
	}
}

func TestLoadFileNegativeDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("stop_grace: -1s\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("LoadFile() succeeded with negative duration, want error")
	}
}
