package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ameistad/shipyard/internal/constants"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/v2"
)

func getConfigParser(configFile string) (koanf.Parser, error) {
	var parser koanf.Parser
	ext := filepath.Ext(configFile)
	switch ext {
	case ".json":
		parser = json.Parser()
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".toml":
		parser = toml.Parser()
	default:
		return nil, fmt.Errorf("unsupported config file type: %s", ext)
	}
	return parser, nil
}

func configFileNames() []string {
	names := make([]string, 0, len(constants.SupportedConfigExtensions))
	for _, ext := range constants.SupportedConfigExtensions {
		names = append(names, constants.ConfigFileBaseName+ext)
	}
	return names
}

// FindConfigFile resolves a config file from path, which may be a file or a
// directory containing shipyard.{yaml,yml,json,toml}.
func FindConfigFile(path string) (string, error) {
	if path == "" {
		path = "."
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	stat, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("path does not exist: %s", absPath)
	}

	if !stat.IsDir() {
		ext := filepath.Ext(absPath)
		if !slices.Contains(constants.SupportedConfigExtensions, ext) {
			return "", fmt.Errorf("file %s is not a valid config file (must be %s)", absPath, strings.Join(constants.SupportedConfigExtensions, ", "))
		}
		return absPath, nil
	}

	for _, name := range configFileNames() {
		candidate := filepath.Join(absPath, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("no config file found in %s (looking for: %s)", absPath, strings.Join(configFileNames(), ", "))
}

// locateConfigFile applies the search order: explicit path, working
// directory, then ConfigDir. An empty result with nil error means no file.
func locateConfigFile(explicit string) (string, error) {
	if explicit != "" {
		return FindConfigFile(explicit)
	}
	if found, err := FindConfigFile("."); err == nil {
		return found, nil
	}
	if dir, err := ConfigDir(); err == nil {
		if found, err := FindConfigFile(dir); err == nil {
			return found, nil
		}
	}
	return "", nil
}
