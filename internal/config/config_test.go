package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Run from an empty directory so no stray ws.yaml is picked up.
	t.Chdir(t.TempDir())

	app, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if app.DBPath != "worksync.db" {
		t.Errorf("DBPath = %q", app.DBPath)
	}
	if app.SyncConcurrency != 3 {
		t.Errorf("SyncConcurrency = %d, want 3", app.SyncConcurrency)
	}
	if app.SyncTimeout != 10*time.Minute {
		t.Errorf("SyncTimeout = %v, want 10m", app.SyncTimeout)
	}
	if app.Log.File != "" {
		t.Errorf("Log.File = %q, want empty", app.Log.File)
	}
	if app.ConfigFileUsed() != "" {
		t.Errorf("ConfigFileUsed = %q, want empty", app.ConfigFileUsed())
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ws.yaml")
	content := `
db:
  path: /var/lib/worksync/sync.db
sync:
  concurrency: 8
  timeout: 30m
log:
  file: /var/log/worksync/ws.log
  max-size-mb: 10
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	app, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if app.DBPath != "/var/lib/worksync/sync.db" {
		t.Errorf("DBPath = %q", app.DBPath)
	}
	if app.SyncConcurrency != 8 {
		t.Errorf("SyncConcurrency = %d, want 8", app.SyncConcurrency)
	}
	if app.SyncTimeout != 30*time.Minute {
		t.Errorf("SyncTimeout = %v, want 30m", app.SyncTimeout)
	}
	if app.Log.File != "/var/log/worksync/ws.log" {
		t.Errorf("Log.File = %q", app.Log.File)
	}
	if app.Log.MaxSizeMB != 10 {
		t.Errorf("Log.MaxSizeMB = %d, want 10", app.Log.MaxSizeMB)
	}
	// Unset keys keep their defaults.
	if app.Log.MaxBackups != 3 {
		t.Errorf("Log.MaxBackups = %d, want 3", app.Log.MaxBackups)
	}
	if app.ConfigFileUsed() != path {
		t.Errorf("ConfigFileUsed = %q, want %q", app.ConfigFileUsed(), path)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ws.yaml")
	if err := os.WriteFile(path, []byte("sync:\n  concurrency: 2\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("WS_SYNC_CONCURRENCY", "5")
	t.Setenv("WS_DB_PATH", "/tmp/override.db")

	app, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if app.SyncConcurrency != 5 {
		t.Errorf("SyncConcurrency = %d, want env override 5", app.SyncConcurrency)
	}
	if app.DBPath != "/tmp/override.db" {
		t.Errorf("DBPath = %q, want env override", app.DBPath)
	}
}

func TestLoadRejectsBadConcurrency(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("WS_SYNC_CONCURRENCY", "0")

	if _, err := Load(""); err == nil {
		t.Fatal("expected error for concurrency 0")
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLogWriterFallsBackWithoutFile(t *testing.T) {
	app := &App{}
	if got := app.LogWriter(os.Stderr); got != os.Stderr {
		t.Errorf("expected fallback writer, got %T", got)
	}

	app.Log = LogSettings{File: filepath.Join(t.TempDir(), "ws.log"), MaxSizeMB: 1}
	if got := app.LogWriter(os.Stderr); got == os.Stderr {
		t.Error("expected rotating logger when a file is configured")
	}
}
