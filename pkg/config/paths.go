package config

import (
	"os"
	"path/filepath"
)

// EnvConfigPath names the variable overriding the config file location.
const EnvConfigPath = "OBSERVASTACK_CONFIG"

const (
	defaultConfigDirName = "observastack"
	defaultConfigFile    = "config.yaml"
)

func DefaultConfigPath() string {
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}
	base, err := os.UserConfigDir()
	if err == nil {
		return filepath.Join(base, defaultConfigDirName, defaultConfigFile)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+defaultConfigDirName, defaultConfigFile)
}
