package watching

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadWatchConfigurationYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fswatch.yaml")
	contents := "backend: inotify\nignorePaths:\n  - /tmp/ignored\nignoreGlobs:\n  - \\.tmp$\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadWatchConfiguration(path)
	if err != nil {
		t.Fatal("LoadWatchConfiguration failed:", err)
	}
	if cfg.Backend != BackendInotify {
		t.Error("backend mismatch:", cfg.Backend)
	}
	if len(cfg.IgnorePaths) != 1 || cfg.IgnorePaths[0] != "/tmp/ignored" {
		t.Error("ignorePaths mismatch:", cfg.IgnorePaths)
	}
	if len(cfg.IgnoreGlobs) != 1 {
		t.Error("ignoreGlobs mismatch:", cfg.IgnoreGlobs)
	}
}

func TestLoadWatchConfigurationTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fswatch.toml")
	contents := "backend = \"brute-force\"\nignorePaths = [\"/tmp/ignored\"]\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadWatchConfiguration(path)
	if err != nil {
		t.Fatal("LoadWatchConfiguration failed:", err)
	}
	if cfg.Backend != BackendBruteForce {
		t.Error("backend mismatch:", cfg.Backend)
	}
}

func TestLoadWatchConfigurationMissingFile(t *testing.T) {
	_, err := LoadWatchConfiguration(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected an error loading a nonexistent configuration file")
	}
}

func TestWatchConfigurationOptionsNil(t *testing.T) {
	var cfg *WatchConfiguration
	opts := cfg.Options()
	if opts.Backend != "" || opts.IgnorePaths != nil || opts.IgnoreGlobs != nil {
		t.Error("a nil configuration should produce the zero Options value")
	}
}
