package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := &Config{DefaultProfile: "work", ResolveTimeoutMS: 500, SweepFloorMS: 10}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if loaded.ResolveTimeout() != 500*time.Millisecond {
		t.Errorf("ResolveTimeout() = %v, want 500ms", loaded.ResolveTimeout())
	}
	if loaded.SweepFloor() != 10*time.Millisecond {
		t.Errorf("SweepFloor() = %v, want 10ms", loaded.SweepFloor())
	}
}

func TestDefaults(t *testing.T) {
	var cfg *Config
	if cfg.ResolveTimeout() != 2*time.Second {
		t.Errorf("nil ResolveTimeout() = %v, want 2s", cfg.ResolveTimeout())
	}
	if cfg.SweepFloor() != 50*time.Millisecond {
		t.Errorf("nil SweepFloor() = %v, want 50ms", cfg.SweepFloor())
	}

	zero := &Config{}
	if zero.ResolveTimeout() != 2*time.Second {
		t.Errorf("zero ResolveTimeout() = %v, want 2s", zero.ResolveTimeout())
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{DefaultProfile: "main"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
