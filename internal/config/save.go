package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ameistad/shipyard/internal/constants"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Marshal encodes cfg in the format implied by ext.
func Marshal(cfg *Config, ext string) ([]byte, error) {
	switch ext {
	case ".json":
		return json.MarshalIndent(cfg, "", "  ")
	case ".toml":
		return toml.Marshal(cfg)
	case ".yaml", ".yml":
		return yaml.Marshal(cfg)
	default:
		return nil, fmt.Errorf("unsupported config file type: %s", ext)
	}
}

// Save writes cfg to path, choosing the encoding from the file extension.
func Save(cfg *Config, path string) error {
	data, err := Marshal(cfg, filepath.Ext(path))
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return os.WriteFile(path, data, constants.ModeFileDefault)
}

// Example is the starting config written by `shipyard init`.
func Example() *Config {
	cfg := Default()
	cfg.Defaults = Environment{
		BasePath:    "/srv/app/{env}",
		Repository:  "git@github.com:example/app.git",
		ConfigFiles: []string{"backend/.env"},
		EnvFiles:    []string{"backend/.env"},
		Tools:       []string{"git", "python3", "npm"},
		Secrets: []SecretRule{
			{Key: "SECRET_KEY", MinLength: 32},
			{Key: "DB_PASSWORD", MinLength: 8},
			{Key: "ALLOWED_HOSTS", Pattern: `^[A-Za-z0-9.,*-]+$`, RequiredIn: []string{"production", "staging"}},
		},
		Dashboard: BuildConfig{
			Dir:      "dashboard",
			Commands: []string{"npm ci", "npm run build"},
		},
		Backend: BackendConfig{
			Dir:            "backend",
			Migrate:        []string{"python3 manage.py migrate --noinput"},
			Tests:          []string{"python3 manage.py test api"},
			SecondaryTests: []string{"python3 manage.py check --deploy"},
			Restart:        []string{"sudo systemctl restart app-{env}"},
		},
		StepTimeout: 20 * time.Minute,
	}
	cfg.Environments = map[string]Environment{
		"staging": {
			Branch:     "develop",
			Ports:      []int{8001},
			HealthURL:  "http://127.0.0.1:8001/api/health/",
			PublicURLs: []string{"https://staging.example.com/", "https://staging.example.com/api/health/"},
		},
		"production": {
			Branch:     "main",
			Strict:     true,
			Ports:      []int{8000},
			HealthURL:  "http://127.0.0.1:8000/api/health/",
			PublicURLs: []string{"https://example.com/", "https://example.com/api/health/"},
			Proxy: ProxyConfig{
				ConfigPath:    "/etc/haproxy/haproxy.cfg",
				Domains:       []string{"example.com"},
				BackendAddr:   "127.0.0.1:8000",
				DashboardAddr: "127.0.0.1:3000",
				Container:     constants.DefaultProxyContainerName,
			},
			Backup: BackupConfig{
				DumpCommand: "pg_dump --no-owner app",
			},
		},
	}
	cfg.Probe.Targets = []Target{
		{Name: "site", URL: "https://example.com/"},
		{Name: "api", URL: "https://example.com/api/health/", ExpectedStatus: []int{200}},
	}
	cfg.Probe.DetailedURL = "https://example.com/api/health/?detailed=1"
	cfg.Digest.Units = []string{"app-production", "haproxy"}
	cfg.Digest.Logs = []LogSource{
		{Name: "backend", Path: "/var/log/app/backend.log", Lines: 20},
		{Name: "proxy", Path: "/var/log/haproxy.log", Lines: 10},
	}
	return &cfg
}
