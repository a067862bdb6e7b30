// Package internal holds helpers shared by the mulyachat subcommands.
package internal

import (
	"os"
	"path/filepath"

	"github.com/mulyachat/mulyachat/pkg/config"
)

var version = "0.2.0"

// GetVersion returns the client version string.
func GetVersion() string {
	return version
}

// ConfigPath returns the config file location, honoring
// MULYACHAT_CONFIG_PATH.
func ConfigPath() string {
	if p := os.Getenv("MULYACHAT_CONFIG_PATH"); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".mulyachat", "config.json")
}

// LoadConfig loads the client configuration from the default location.
func LoadConfig() (*config.Config, error) {
	return config.LoadConfig(ConfigPath())
}
