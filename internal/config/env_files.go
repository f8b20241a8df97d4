package config

import (
	"path/filepath"

	"github.com/ameistad/shipyard/internal/constants"
	"github.com/joho/godotenv"
)

// LoadEnvFiles loads .env from the working directory and the config dir into
// the process environment. Variables already set are never overridden and
// missing files are ignored.
func LoadEnvFiles() {
	_ = godotenv.Load(constants.ConfigEnvFileName)

	if configDir, err := ConfigDir(); err == nil {
		_ = godotenv.Load(filepath.Join(configDir, constants.ConfigEnvFileName))
	}
}
