package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SCOREMATRIX_CONFIG_DIR", t.TempDir())
	t.Setenv("USER", "curator")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.User.ID != "curator" {
		t.Fatalf("expected user from $USER, got %q", c.User.ID)
	}
	if c.Log.Level != "warn" || c.Output.Format != "json" || c.Store.Dir != "" {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SCOREMATRIX_CONFIG_DIR", dir)
	toml := "[store]\ndir = \"/data/matrix\"\n\n[user]\nid = \"alice\"\n\n[output]\nformat = \"yaml\"\n"
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(toml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Store.Dir != "/data/matrix" || c.User.ID != "alice" || c.Output.Format != "yaml" {
		t.Fatalf("unexpected file config: %+v", c)
	}

	t.Setenv("SCOREMATRIX_USER_ID", "bob")
	t.Setenv("SCOREMATRIX_LOG_LEVEL", "debug")
	c, err = Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.User.ID != "bob" || c.Log.Level != "debug" {
		t.Fatalf("expected env overrides, got %+v", c)
	}
}

func TestLoad_RejectsUnknownFormat(t *testing.T) {
	t.Setenv("SCOREMATRIX_CONFIG_DIR", t.TempDir())
	t.Setenv("SCOREMATRIX_OUTPUT_FORMAT", "edn")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown output format")
	}
}

func TestSave_RoundTrip(t *testing.T) {
	t.Setenv("SCOREMATRIX_CONFIG_DIR", filepath.Join(t.TempDir(), "nested"))
	in := Config{
		Store:  StoreConfig{Dir: "/m"},
		User:   UserConfig{ID: "carol"},
		Log:    LogConfig{Level: "info"},
		Output: OutputConfig{Format: "json", Pretty: true},
	}
	if err := Save(in); err != nil {
		t.Fatalf("save: %v", err)
	}
	out, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if out.User.ID != "carol" || out.Store.Dir != "/m" || !out.Output.Pretty {
		t.Fatalf("unexpected round trip: %+v", out)
	}
}
