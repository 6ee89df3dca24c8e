package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.PollInterval() != 60*time.Second {
		t.Errorf("expected 60s poll interval, got %v", cfg.PollInterval())
	}
	min, max := cfg.Backoff()
	if min != 5*time.Second || max != 320*time.Second {
		t.Errorf("expected 5s..320s backoff, got %v..%v", min, max)
	}
	if cfg.Timelines.ShowMessages {
		t.Error("messages should be hidden by default")
	}
	if cfg.HasAccount() {
		t.Error("default config should not have an account")
	}
}

func TestLoadMissingFileUsesDefaultsAndEnv(t *testing.T) {
	t.Setenv("PINGPONG_INSTANCE", "https://example.social")
	t.Setenv("PINGPONG_HANDLE", "@alice")
	t.Setenv("PINGPONG_TOKEN", "secret")

	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if cfg.Account.Instance != "https://example.social" {
		t.Errorf("instance = %q", cfg.Account.Instance)
	}
	if cfg.Account.Handle != "alice" {
		t.Errorf("handle = %q, want leading @ stripped", cfg.Account.Handle)
	}
	if !cfg.HasAccount() {
		t.Error("expected account from environment")
	}
}

func TestSaveAndLoad(t *testing.T) {
	t.Setenv("PINGPONG_INSTANCE", "")
	t.Setenv("PINGPONG_HANDLE", "")
	t.Setenv("PINGPONG_TOKEN", "")

	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := DefaultConfig()
	cfg.Account.Handle = "bob"
	cfg.Search.LastTerms = "golang rust|zig"
	cfg.Timelines.PollSeconds = 90

	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected 0600 permissions, got %v", info.Mode().Perm())
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if loaded.Account.Handle != "bob" {
		t.Errorf("handle = %q", loaded.Account.Handle)
	}
	if loaded.Search.LastTerms != "golang rust|zig" {
		t.Errorf("last terms = %q", loaded.Search.LastTerms)
	}
	if loaded.PollInterval() != 90*time.Second {
		t.Errorf("poll interval = %v", loaded.PollInterval())
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"search":{"last_terms":"go"}}`), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if cfg.Search.LastTerms != "go" {
		t.Errorf("last terms = %q", cfg.Search.LastTerms)
	}
	if cfg.Timelines.MaxBackoffSecs != 320 {
		t.Errorf("expected default backoff to survive, got %d", cfg.Timelines.MaxBackoffSecs)
	}
}

func TestLoadCorruptFileFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte("{not json"), 0600)

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if cfg.PollInterval() != 60*time.Second {
		t.Errorf("expected defaults, got %v", cfg.PollInterval())
	}
}

func TestLoadKeysFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.sh")
	keys := "# account\nexport PINGPONG_HANDLE=carol\nPINGPONG_TOKEN=\"tok-123\"\nOTHER=ignored\n"
	if err := os.WriteFile(path, []byte(keys), 0600); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	if err := cfg.LoadKeysFromFile(path); err != nil {
		t.Fatalf("LoadKeysFromFile failed: %v", err)
	}
	if cfg.Account.Handle != "carol" {
		t.Errorf("handle = %q", cfg.Account.Handle)
	}
	if cfg.Account.Token != "tok-123" {
		t.Errorf("token = %q", cfg.Account.Token)
	}
	if cfg.Account.Instance != "https://mastodon.social" {
		t.Errorf("instance changed to %q", cfg.Account.Instance)
	}

	if err := cfg.LoadKeysFromFile(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing keys file")
	}
}

func TestDataDirOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PINGPONG_HOME", dir)

	if ConfigPath() != filepath.Join(dir, "config.json") {
		t.Errorf("config path = %q", ConfigPath())
	}
	cfg := DefaultConfig()
	if cfg.DBPath() != filepath.Join(dir, "pingpong.db") {
		t.Errorf("db path = %q", cfg.DBPath())
	}
	cfg.Storage.Path = "/tmp/other.db"
	if cfg.DBPath() != "/tmp/other.db" {
		t.Errorf("explicit db path ignored: %q", cfg.DBPath())
	}
}
