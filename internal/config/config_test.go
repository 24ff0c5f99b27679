// Copyright (c) 2025 PivGate Team
// PivGate - hardware token SSH access manager
// This source code is licensed under the MIT license found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadConfig(nil, "")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Language != "en" {
		t.Errorf("language = %q", cfg.Language)
	}
	if cfg.Database.Type != "sqlite" {
		t.Errorf("database type = %q", cfg.Database.Type)
	}
	if cfg.ConnectTimeout != 10 {
		t.Errorf("connect timeout = %d", cfg.ConnectTimeout)
	}
	if cfg.Tools.Ykman != "ykman" || cfg.Tools.SSHKeygen != "ssh-keygen" {
		t.Errorf("tools = %+v", cfg.Tools)
	}
	if cfg.AppDir == "" || cfg.PKCS11Provider == "" {
		t.Errorf("empty app dir or provider: %+v", cfg)
	}
}

func TestConfigFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pivgate.yaml")
	content := []byte("language: de\ndatabase:\n  type: postgres\n  dsn: postgres://pivgate@localhost/pivgate\nconnect_timeout: 3\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(nil, path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Language != "de" {
		t.Errorf("language = %q", cfg.Language)
	}
	if cfg.Database.Type != "postgres" || cfg.Database.Dsn != "postgres://pivgate@localhost/pivgate" {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.ConnectTimeout != 3 {
		t.Errorf("connect timeout = %d", cfg.ConnectTimeout)
	}
	// Untouched keys keep their defaults.
	if cfg.Tools.Ykman != "ykman" {
		t.Errorf("tools.ykman = %q", cfg.Tools.Ykman)
	}
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("PIVGATE_LANGUAGE", "de")
	t.Setenv("PIVGATE_DATABASE_TYPE", "mysql")

	cfg, err := LoadConfig(nil, "")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Language != "de" {
		t.Errorf("language = %q", cfg.Language)
	}
	if cfg.Database.Type != "mysql" {
		t.Errorf("database type = %q", cfg.Database.Type)
	}
}

func TestMalformedConfigFileFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pivgate.yaml")
	if err := os.WriteFile(path, []byte(":\nnot yaml at all ["), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(nil, path); err == nil {
		t.Fatal("malformed config accepted")
	}
}

func TestDefaultProviderPathPerOS(t *testing.T) {
	orig := runtimeGOOS
	defer func() { runtimeGOOS = orig }()

	runtimeGOOS = "darwin"
	if got := DefaultProviderPath(); got != "/opt/homebrew/lib/libykcs11.dylib" {
		t.Errorf("darwin provider = %q", got)
	}
	runtimeGOOS = "linux"
	if got := DefaultProviderPath(); filepath.Ext(got) != ".so" {
		t.Errorf("linux provider = %q", got)
	}
	runtimeGOOS = "windows"
	if got := DefaultProviderPath(); filepath.Ext(got) != ".dll" {
		t.Errorf("windows provider = %q", got)
	}
}
