package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/ameistad/shipyard/internal/constants"
)

// EnsureDir creates the directory and any necessary parents.
func EnsureDir(dirPath string) error {
	return os.MkdirAll(dirPath, constants.ModeDirPrivate)
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[2:]), nil
}

// DataDir holds the database, throttle state, revision pointers, backups and
// run logs. SHIPYARD_DATA_DIR overrides the default.
func DataDir() (string, error) {
	if envPath, ok := os.LookupEnv(constants.EnvVarDataDir); ok && envPath != "" {
		return expandHome(envPath)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "shipyard"), nil
}

// ConfigDir returns the directory searched for shipyard.yaml and .env when the
// working directory has none.
func ConfigDir() (string, error) {
	if envPath, ok := os.LookupEnv(constants.EnvVarConfigDir); ok && envPath != "" {
		return expandHome(envPath)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "shipyard"), nil
}
