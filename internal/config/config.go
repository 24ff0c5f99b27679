// Copyright (c) 2025 PivGate Team
// PivGate - hardware token SSH access manager
// This source code is licensed under the MIT license found in the LICENSE file.

// package config loads the PivGate configuration from (in rising
// precedence) built-in defaults, a pivgate.yaml config file, PIVGATE_*
// environment variables and command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	// AppDir is the application state directory holding the server
	// registry, the token selection and the exported key cache.
	AppDir   string `mapstructure:"app_dir" yaml:"app_dir"`
	Language string `mapstructure:"language" yaml:"language"`
	Database struct {
		Type string `mapstructure:"type" yaml:"type"`
		Dsn  string `mapstructure:"dsn" yaml:"dsn"`
	} `mapstructure:"database" yaml:"database"`
	// ConnectTimeout bounds remote session setup, in seconds.
	ConnectTimeout int `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	Tools          struct {
		Ykman     string `mapstructure:"ykman" yaml:"ykman"`
		SSHKeygen string `mapstructure:"ssh_keygen" yaml:"ssh_keygen"`
	} `mapstructure:"tools" yaml:"tools"`
	// PKCS11Provider is the library path handed to ssh for token-backed
	// authentication.
	PKCS11Provider string `mapstructure:"pkcs11_provider" yaml:"pkcs11_provider"`
	// WatchInterval is the device presence polling interval in seconds,
	// used by long-running surfaces. Gating never relies on it.
	WatchInterval int `mapstructure:"watch_interval" yaml:"watch_interval"`
}

// runtimeGOOS is swapped out in tests to exercise the per-OS defaults.
var runtimeGOOS = runtime.GOOS

// DefaultAppDir returns the per-user application state directory.
func DefaultAppDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pivgate"
	}
	return filepath.Join(home, ".pivgate")
}

// DefaultProviderPath returns the usual PKCS#11 provider location for the
// current platform.
func DefaultProviderPath() string {
	switch runtimeGOOS {
	case "darwin":
		return "/opt/homebrew/lib/libykcs11.dylib"
	case "windows":
		return `C:\Program Files\Yubico\Yubico PIV Tool\bin\libykcs11.dll`
	default:
		return "/usr/lib/x86_64-linux-gnu/libykcs11.so"
	}
}

// Defaults returns the built-in configuration defaults.
func Defaults() map[string]any {
	return map[string]any{
		"app_dir":          DefaultAppDir(),
		"language":         "en",
		"database.type":    "sqlite",
		"database.dsn":     filepath.Join(DefaultAppDir(), "pivgate.db"),
		"connect_timeout":  10,
		"tools.ykman":      "ykman",
		"tools.ssh_keygen": "ssh-keygen",
		"pkcs11_provider":  DefaultProviderPath(),
		"watch_interval":   2,
	}
}

// getConfigPath returns the full path for the configuration file.
func getConfigPath(system bool) (string, error) {
	var configDir string
	var err error

	if system {
		switch runtimeGOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "PivGate")
		default:
			configDir = "/etc/pivgate"
		}
	} else {
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "pivgate")
	}

	return filepath.Join(configDir, "pivgate.yaml"), nil
}

// LoadConfig resolves the configuration for a command invocation. An
// explicit config file path (from --config) has the highest file
// precedence; otherwise the user and system config directories and the
// current directory are searched for pivgate.yaml.
func LoadConfig(cmd *cobra.Command, explicitFile string) (Config, error) {
	var c Config
	v := viper.New()

	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}

	v.SetConfigName("pivgate")
	v.SetConfigType("yaml")

	if explicitFile != "" {
		v.SetConfigFile(explicitFile)
	}
	if userConfigPath, err := getConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(userConfigPath))
	}
	if systemConfigPath, err := getConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemConfigPath))
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; a malformed one is not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return c, err
		}
	}

	v.AutomaticEnv()
	v.AllowEmptyEnv(true)
	v.SetEnvPrefix("pivgate")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if cmd != nil {
		// Flags use dashes; config keys use dots and underscores. Bind the
		// known pairs explicitly. Unchanged flags never shadow the defaults.
		bindings := map[string]string{
			"app_dir":       "app-dir",
			"database.type": "db-type",
			"database.dsn":  "db-dsn",
			"language":      "lang",
		}
		for key, flagName := range bindings {
			if f := cmd.Flags().Lookup(flagName); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return c, err
				}
			}
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	return c, nil
}

// WriteConfigFile persists the configuration as YAML to the standard
// location for the given scope.
func WriteConfigFile(c *Config, system bool) error {
	path, err := getConfigPath(system)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", configDir, err)
	}

	// 0600: the file may carry a non-default DSN with credentials.
	return os.WriteFile(path, data, 0o600)
}
