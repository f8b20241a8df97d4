package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseYAML = `
log:
  level: debug
defaults:
  base_path: /srv/app/{env}
  repository: https://git.example.com/app.git
  tools: [git]
  backend:
    dir: backend
    migrate:
      - python3 manage.py migrate --noinput
    restart:
      - systemctl restart app-{env}
environments:
  staging:
    branch: develop
    backend:
      dir: server
  production:
    base_path: /opt/prod
    min_free_disk: 5GB
probe:
  cooldown: 10m
  targets:
    - name: api
      url: https://example.com/api/
      expected_status: [200]
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func isolate(t *testing.T) string {
	t.Helper()
	dataDir := t.TempDir()
	t.Setenv("SHIPYARD_DATA_DIR", dataDir)
	t.Setenv("SHIPYARD_CONFIG_DIR", t.TempDir())
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("TELEGRAM_CHAT_IDS", "")
	os.Unsetenv("TELEGRAM_BOT_TOKEN")
	os.Unsetenv("TELEGRAM_CHAT_IDS")
	return dataDir
}

func TestLoad_YAMLWithDefaults(t *testing.T) {
	dataDir := isolate(t)
	path := writeConfig(t, "shipyard.yaml", baseYAML)

	cfg, err := Load(LoadOptions{ConfigPath: path})
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Source())
	assert.Equal(t, dataDir, cfg.DataDir)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 10*time.Minute, cfg.Probe.Cooldown)
	require.Len(t, cfg.Probe.Targets, 1)
	assert.Equal(t, "api", cfg.Probe.Targets[0].Label())
	assert.Equal(t, filepath.Join(dataDir, "state", "alert-throttle.state"), cfg.Probe.StateFile)

	staging, err := cfg.Environment("staging")
	require.NoError(t, err)
	assert.Equal(t, "staging", staging.Name)
	assert.Equal(t, "/srv/app/staging", staging.BasePath)
	assert.Equal(t, "develop", staging.Branch)
	assert.Equal(t, "origin", staging.Remote)
	assert.Equal(t, "server", staging.Backend.Dir)
	assert.Equal(t, []string{"python3 manage.py migrate --noinput"}, staging.Backend.Migrate)
	assert.Equal(t, []string{"systemctl restart app-staging"}, staging.Backend.Restart)
	assert.Equal(t, []string{"git"}, staging.Tools)
	assert.Equal(t, ByteSize(1_000_000_000), staging.MinFreeDisk)
	assert.Equal(t, filepath.Join(dataDir, "backups", "staging"), staging.Backup.Dir)

	production, err := cfg.Environment("production")
	require.NoError(t, err)
	assert.Equal(t, "/opt/prod", production.BasePath)
	assert.Equal(t, "main", production.Branch)
	assert.Equal(t, ByteSize(5_000_000_000), production.MinFreeDisk)
	assert.Equal(t, []string{"systemctl restart app-production"}, production.Backend.Restart)

	_, err = cfg.Environment("qa")
	assert.ErrorContains(t, err, "production, staging")
}

func TestLoad_Precedence(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "shipyard.yaml", baseYAML)

	t.Setenv("SHIPYARD_ENVIRONMENTS__STAGING__BRANCH", "release")
	t.Setenv("SHIPYARD_LOG__LEVEL", "warn")
	t.Setenv("SHIPYARD_LOG__FORMAT", "json")
	t.Setenv("SHIPYARD_NOTIFY__RECIPIENTS", "100,200")
	t.Setenv("SHIPYARD_NOTIFY__BOT_TOKEN", "123:abc")

	cfg, err := Load(LoadOptions{
		ConfigPath: path,
		Overrides:  Overrides{LogLevel: "error"},
	})
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.Log.Level, "flag beats env and file")
	assert.Equal(t, "json", cfg.Log.Format, "env beats defaults")
	assert.Equal(t, "release", cfg.Environments["staging"].Branch, "env beats file")
	assert.Equal(t, []string{"100", "200"}, cfg.Notify.Recipients)
	assert.True(t, cfg.Notify.Enabled())
}

func TestLoad_TelegramFallback(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "shipyard.yaml", `
environments:
  staging:
    base_path: /srv/staging
`)
	t.Setenv("TELEGRAM_BOT_TOKEN", "999:xyz")
	t.Setenv("TELEGRAM_CHAT_IDS", "1, 2 ,,3")
	t.Setenv("TELEGRAM_ALERT_THROTTLE_SECONDS", "120")

	cfg, err := Load(LoadOptions{ConfigPath: path})
	require.NoError(t, err)
	assert.Equal(t, "999:xyz", cfg.Notify.BotToken)
	assert.Equal(t, []string{"1", "2", "3"}, cfg.Notify.Recipients)
	assert.Equal(t, 2*time.Minute, cfg.Probe.Cooldown)

	t.Setenv("TELEGRAM_ALERT_THROTTLE_SECONDS", "soon")
	_, err = Load(LoadOptions{ConfigPath: path})
	assert.ErrorContains(t, err, "TELEGRAM_ALERT_THROTTLE_SECONDS")
}

func TestLoad_Formats(t *testing.T) {
	isolate(t)

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "json",
			file: "shipyard.json",
			content: `{
  "environments": {"staging": {"base_path": "/srv/staging", "ports": [8001], "min_free_disk": 2048}},
  "probe": {"timeout": "3s"}
}`,
		},
		{
			name: "toml",
			file: "shipyard.toml",
			content: `
[probe]
timeout = "3s"

[environments.staging]
base_path = "/srv/staging"
ports = [8001]
min_free_disk = 2048
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.content)
			cfg, err := Load(LoadOptions{ConfigPath: filepath.Dir(path)})
			require.NoError(t, err)
			staging := cfg.Environments["staging"]
			assert.Equal(t, "/srv/staging", staging.BasePath)
			assert.Equal(t, []int{8001}, staging.Ports)
			assert.Equal(t, ByteSize(2048), staging.MinFreeDisk)
			assert.Equal(t, 3*time.Second, cfg.Probe.Timeout)
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	isolate(t)

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown key",
			content: "environments:\n  staging:\n    base_path: /srv\n    colour: blue\n",
			wantErr: "unknown config key: environments.staging.colour",
		},
		{
			name:    "no environments",
			content: "log:\n  level: info\n",
			wantErr: "Environments",
		},
		{
			name:    "missing base path",
			content: "environments:\n  staging:\n    branch: main\n",
			wantErr: "BasePath",
		},
		{
			name:    "bad environment name",
			content: "environments:\n  \"prod env\":\n    base_path: /srv\n",
			wantErr: "invalid name",
		},
		{
			name:    "bad log level",
			content: "log:\n  level: loud\nenvironments:\n  staging:\n    base_path: /srv\n",
			wantErr: "Level",
		},
		{
			name:    "proxy without backend",
			content: "environments:\n  staging:\n    base_path: /srv\n    proxy:\n      config_path: /etc/haproxy/haproxy.cfg\n",
			wantErr: "backend_addr",
		},
		{
			name:    "bad secret pattern",
			content: "environments:\n  staging:\n    base_path: /srv\n    secrets:\n      - key: SECRET_KEY\n        pattern: \"([\"\n",
			wantErr: "secret SECRET_KEY",
		},
		{
			name:    "port out of range",
			content: "environments:\n  staging:\n    base_path: /srv\n    ports: [8000, 70000]\n",
			wantErr: "invalid port 70000",
		},
		{
			name:    "digest longer than the channel allows",
			content: "digest:\n  max_length: 8000\nenvironments:\n  staging:\n    base_path: /srv\n",
			wantErr: "MaxLength",
		},
		{
			name:    "duplicate probe target",
			content: "probe:\n  targets:\n    - name: api\n      url: https://a.example.com/\n    - name: api\n      url: https://b.example.com/\nenvironments:\n  staging:\n    base_path: /srv\n",
			wantErr: `probe target "api" is defined more than once`,
		},
		{
			name:    "bad encryption recipient",
			content: "environments:\n  staging:\n    base_path: /srv\n    backup:\n      encrypt_to: not-a-key\n",
			wantErr: "encrypt_to",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "shipyard.yaml", tt.content)
			_, err := Load(LoadOptions{ConfigPath: path})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_BackupDirPerEnvironment(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	path := writeConfig(t, "shipyard.yaml", `
defaults:
  base_path: /srv/app/{env}
  backup:
    dir: `+root+`/backups/{env}
environments:
  staging:
    branch: develop
  production:
    branch: main
`)

	cfg, err := Load(LoadOptions{ConfigPath: path})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "backups", "staging"), cfg.Environments["staging"].Backup.Dir)
	assert.Equal(t, filepath.Join(root, "backups", "production"), cfg.Environments["production"].Backup.Dir)
}

func TestFindConfigFile(t *testing.T) {
	dir := t.TempDir()

	_, err := FindConfigFile(dir)
	assert.ErrorContains(t, err, "no config file found")

	path := filepath.Join(dir, "shipyard.yml")
	require.NoError(t, os.WriteFile(path, []byte("environments: {}\n"), 0o644))
	found, err := FindConfigFile(dir)
	require.NoError(t, err)
	assert.Equal(t, path, found)

	other := filepath.Join(dir, "shipyard.ini")
	require.NoError(t, os.WriteFile(other, []byte(""), 0o644))
	_, err = FindConfigFile(other)
	assert.ErrorContains(t, err, "not a valid config file")
}

func TestSaveExampleRoundTrip(t *testing.T) {
	isolate(t)

	for _, ext := range []string{".yaml", ".json", ".toml"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "shipyard"+ext)
			require.NoError(t, Save(Example(), path))

			cfg, err := Load(LoadOptions{ConfigPath: path})
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"production", "staging"}, cfg.EnvironmentNames())
			production := cfg.Environments["production"]
			assert.Equal(t, "/srv/app/production", production.BasePath)
			assert.True(t, production.Proxy.Enabled())
			assert.Len(t, production.Secrets, 3)
			assert.Equal(t, 20*time.Minute, production.StepTimeout)
		})
	}
}

func TestMergeEnvironment(t *testing.T) {
	defaults := Environment{
		Branch: "main",
		Tools:  []string{"git", "npm"},
		Backend: BackendConfig{
			Dir:     "backend",
			Migrate: []string{"migrate"},
		},
	}
	env := Environment{
		Branch:  "develop",
		Backend: BackendConfig{Dir: "server"},
	}

	merged, err := mergeEnvironment(defaults, env)
	require.NoError(t, err)
	assert.Equal(t, "develop", merged.Branch)
	assert.Equal(t, []string{"git", "npm"}, merged.Tools)
	assert.Equal(t, "server", merged.Backend.Dir)
	assert.Equal(t, []string{"migrate"}, merged.Backend.Migrate)

	merged.Tools[0] = "changed"
	assert.Equal(t, "git", defaults.Tools[0], "defaults must not share slices with merged environments")
}
