package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - DRIVEMIRROR_CONFIG_PATH: config file location (default: ~/.config/drivemirror.toml)
//   - DRIVEMIRROR_HOME: base directory for mirror data (default: ~/.local/share/drivemirror)
func GetDefaults() (map[string]string, error) {
	configPath, err := envOrHome("DRIVEMIRROR_CONFIG_PATH", ".config", "drivemirror.toml")
	if err != nil {
		return nil, err
	}
	baseDir, err := envOrHome("DRIVEMIRROR_HOME", ".local", "share", "drivemirror")
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// envOrHome returns $name when set, else the path elems under the home directory.
func envOrHome(name string, elems ...string) (string, error) {
	if path := os.Getenv(name); path != "" {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append([]string{homeDir}, elems...)...), nil
}
