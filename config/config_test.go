package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

const validYAML = `
backends:
  archive:
    type: s3
    options:
      bucket: my-archive
      region: eu-central-1
  scratch:
    type: memory
stores:
  uploads:
    backend: archive
    root_path: uploads/incoming
  tmp:
    backend: scratch
`

func TestLoad(t *testing.T) {
	path := writeFile(t, "config.yaml", validYAML)
	var cfg Config
	if err := Load(path, &cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backends["archive"].Type != "s3" {
		t.Errorf("type = %q", cfg.Backends["archive"].Type)
	}
	if cfg.Backends["archive"].Options["bucket"] != "my-archive" {
		t.Errorf("options = %v", cfg.Backends["archive"].Options)
	}
	if cfg.Stores["uploads"].RootPath != "uploads/incoming" {
		t.Errorf("root_path = %q", cfg.Stores["uploads"].RootPath)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TEST_BUCKET", "expanded-bucket")
	path := writeFile(t, "config.yaml", `
backends:
  b:
    type: s3
    options:
      bucket: ${TEST_BUCKET}
`)
	var cfg Config
	if err := Load(path, &cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backends["b"].Options["bucket"] != "expanded-bucket" {
		t.Errorf("bucket = %v", cfg.Backends["b"].Options["bucket"])
	}
}

func TestLoadRejectsUnknownBackendRef(t *testing.T) {
	path := writeFile(t, "config.yaml", `
backends:
  b:
    type: memory
stores:
  s:
    backend: nonexistent
`)
	var cfg Config
	err := Load(path, &cfg)
	if err == nil || !strings.Contains(err.Error(), "unknown backend") {
		t.Errorf("err = %v, want unknown-backend failure", err)
	}
}

func TestLoadRejectsMissingType(t *testing.T) {
	path := writeFile(t, "config.yaml", `
backends:
  b:
    options:
      root: /tmp/x
`)
	var cfg Config
	if err := Load(path, &cfg); err == nil {
		t.Error("backend without type should fail validation")
	}
}

func TestLoadMissingFile(t *testing.T) {
	var cfg Config
	if err := Load(filepath.Join(t.TempDir(), "absent.yaml"), &cfg); err == nil {
		t.Error("missing file should fail")
	}
}

func TestLoadWithEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("DOTENV_ROOT=/srv/files\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(`
backends:
  b:
    type: local
    options:
      root: ${DOTENV_ROOT}
`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	var cfg Config
	if err := LoadWithEnvFile(cfgPath, envPath, &cfg); err != nil {
		t.Fatalf("LoadWithEnvFile: %v", err)
	}
	if cfg.Backends["b"].Options["root"] != "/srv/files" {
		t.Errorf("root = %v", cfg.Backends["b"].Options["root"])
	}
}

func TestLoadWithEnvFileMissingEnv(t *testing.T) {
	path := writeFile(t, "config.yaml", validYAML)
	var cfg Config
	if err := LoadWithEnvFile(path, filepath.Join(t.TempDir(), "no.env"), &cfg); err != nil {
		t.Errorf("missing env file should not fail: %v", err)
	}
}
