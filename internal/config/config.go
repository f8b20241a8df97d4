package config

import (
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/ameistad/shipyard/internal/constants"
)

// Config is resolved once per invocation and passed to every component.
type Config struct {
	DataDir      string                 `koanf:"data_dir" yaml:"data_dir,omitempty" json:"data_dir,omitempty" toml:"data_dir,omitempty"`
	Log          LogConfig              `koanf:"log" yaml:"log" json:"log" toml:"log"`
	History      HistoryConfig          `koanf:"history" yaml:"history" json:"history" toml:"history"`
	Notify       NotifyConfig           `koanf:"notify" yaml:"notify" json:"notify" toml:"notify"`
	Probe        ProbeConfig            `koanf:"probe" yaml:"probe" json:"probe" toml:"probe"`
	Digest       DigestConfig           `koanf:"digest" yaml:"digest" json:"digest" toml:"digest"`
	Metrics      MetricsConfig          `koanf:"metrics" yaml:"metrics" json:"metrics" toml:"metrics"`
	Defaults     Environment            `koanf:"defaults" yaml:"defaults" json:"defaults" toml:"defaults" validate:"-"`
	Environments map[string]Environment `koanf:"environments" yaml:"environments" json:"environments" toml:"environments" validate:"required,min=1,dive"`

	source string
}

// Source is the config file the values were read from, if any.
func (c *Config) Source() string {
	return c.source
}

type LogConfig struct {
	Level         string `koanf:"level" yaml:"level" json:"level" toml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format        string `koanf:"format" yaml:"format" json:"format" toml:"format" validate:"omitempty,oneof=text json"`
	RetentionDays int    `koanf:"retention_days" yaml:"retention_days" json:"retention_days" toml:"retention_days" validate:"gte=0"`
}

type HistoryConfig struct {
	Keep int `koanf:"keep" yaml:"keep" json:"keep" toml:"keep" validate:"gte=1"`
}

// NotifyConfig holds the bot credential pair. Both empty means stdout delivery.
type NotifyConfig struct {
	BotToken   string        `koanf:"bot_token" yaml:"bot_token,omitempty" json:"bot_token,omitempty" toml:"bot_token,omitempty"`
	Recipients []string      `koanf:"recipients" yaml:"recipients,omitempty" json:"recipients,omitempty" toml:"recipients,omitempty"`
	APIURL     string        `koanf:"api_url" yaml:"api_url,omitempty" json:"api_url,omitempty" toml:"api_url,omitempty" validate:"omitempty,url"`
	Timeout    time.Duration `koanf:"timeout" yaml:"timeout" json:"timeout" toml:"timeout"`
}

// Enabled reports whether remote delivery is configured.
func (n NotifyConfig) Enabled() bool {
	return n.BotToken != "" && len(n.Recipients) > 0
}

type ProbeConfig struct {
	Targets     []Target      `koanf:"targets" yaml:"targets" json:"targets" toml:"targets" validate:"dive"`
	DetailedURL string        `koanf:"detailed_url" yaml:"detailed_url,omitempty" json:"detailed_url,omitempty" toml:"detailed_url,omitempty" validate:"omitempty,url"`
	Cooldown    time.Duration `koanf:"cooldown" yaml:"cooldown" json:"cooldown" toml:"cooldown"`
	Timeout     time.Duration `koanf:"timeout" yaml:"timeout" json:"timeout" toml:"timeout"`
	Interval    time.Duration `koanf:"interval" yaml:"interval" json:"interval" toml:"interval"`
	Concurrency int           `koanf:"concurrency" yaml:"concurrency" json:"concurrency" toml:"concurrency" validate:"gte=0"`
	StateFile   string        `koanf:"state_file" yaml:"state_file,omitempty" json:"state_file,omitempty" toml:"state_file,omitempty"`
}

// Target is one liveness endpoint.
type Target struct {
	Name           string `koanf:"name" yaml:"name,omitempty" json:"name,omitempty" toml:"name,omitempty"`
	URL            string `koanf:"url" yaml:"url" json:"url" toml:"url" validate:"required,url"`
	ExpectedStatus []int  `koanf:"expected_status" yaml:"expected_status,omitempty" json:"expected_status,omitempty" toml:"expected_status,omitempty" validate:"dive,gte=100,lte=599"`
}

var DefaultExpectedStatus = []int{200, 301, 302}

// Label is the stable identifier used in signatures and reports.
func (t Target) Label() string {
	if t.Name != "" {
		return t.Name
	}
	return t.URL
}

// Accepts reports whether status is in the target's accepted set.
func (t Target) Accepts(status int) bool {
	expected := t.ExpectedStatus
	if len(expected) == 0 {
		expected = DefaultExpectedStatus
	}
	return slices.Contains(expected, status)
}

type DigestConfig struct {
	Units     []string      `koanf:"units" yaml:"units,omitempty" json:"units,omitempty" toml:"units,omitempty"`
	Mounts    []string      `koanf:"mounts" yaml:"mounts,omitempty" json:"mounts,omitempty" toml:"mounts,omitempty"`
	Logs      []LogSource   `koanf:"logs" yaml:"logs,omitempty" json:"logs,omitempty" toml:"logs,omitempty" validate:"dive"`
	MaxLength int           `koanf:"max_length" yaml:"max_length" json:"max_length" toml:"max_length" validate:"gte=200,lte=4096"`
	Timeout   time.Duration `koanf:"timeout" yaml:"timeout" json:"timeout" toml:"timeout"`
	Interval  time.Duration `koanf:"interval" yaml:"interval" json:"interval" toml:"interval"`
}

type LogSource struct {
	Name  string `koanf:"name" yaml:"name" json:"name" toml:"name" validate:"required"`
	Path  string `koanf:"path" yaml:"path" json:"path" toml:"path" validate:"required"`
	Lines int    `koanf:"lines" yaml:"lines,omitempty" json:"lines,omitempty" toml:"lines,omitempty" validate:"gte=0"`
}

// MetricsConfig points at a node-exporter textfile collector directory.
// Each cycle writes its own shipyard_<cycle>.prom file there.
type MetricsConfig struct {
	TextfileDir string `koanf:"textfile_dir" yaml:"textfile_dir,omitempty" json:"textfile_dir,omitempty" toml:"textfile_dir,omitempty"`
}

// Environment is a named deployment target. Values left empty fall back to
// the top-level defaults block.
type Environment struct {
	Name        string        `koanf:"-" yaml:"-" json:"-" toml:"-"`
	BasePath    string        `koanf:"base_path" yaml:"base_path,omitempty" json:"base_path,omitempty" toml:"base_path,omitempty" validate:"required"`
	Repository  string        `koanf:"repository" yaml:"repository,omitempty" json:"repository,omitempty" toml:"repository,omitempty"`
	Remote      string        `koanf:"remote" yaml:"remote,omitempty" json:"remote,omitempty" toml:"remote,omitempty"`
	Branch      string        `koanf:"branch" yaml:"branch,omitempty" json:"branch,omitempty" toml:"branch,omitempty"`
	ConfigFiles []string      `koanf:"config_files" yaml:"config_files,omitempty" json:"config_files,omitempty" toml:"config_files,omitempty"`
	EnvFiles    []string      `koanf:"env_files" yaml:"env_files,omitempty" json:"env_files,omitempty" toml:"env_files,omitempty"`
	Secrets     []SecretRule  `koanf:"secrets" yaml:"secrets,omitempty" json:"secrets,omitempty" toml:"secrets,omitempty" validate:"dive"`
	Tools       []string      `koanf:"tools" yaml:"tools,omitempty" json:"tools,omitempty" toml:"tools,omitempty"`
	MinFreeDisk ByteSize      `koanf:"min_free_disk" yaml:"min_free_disk,omitempty" json:"min_free_disk,omitempty" toml:"min_free_disk,omitempty"`
	Ports       []int         `koanf:"ports" yaml:"ports,omitempty" json:"ports,omitempty" toml:"ports,omitempty"`
	Strict      bool          `koanf:"strict" yaml:"strict,omitempty" json:"strict,omitempty" toml:"strict,omitempty"`
	HealthURL   string        `koanf:"health_url" yaml:"health_url,omitempty" json:"health_url,omitempty" toml:"health_url,omitempty" validate:"omitempty,url"`
	PublicURLs  []string      `koanf:"public_urls" yaml:"public_urls,omitempty" json:"public_urls,omitempty" toml:"public_urls,omitempty" validate:"dive,url"`
	StepTimeout time.Duration `koanf:"step_timeout" yaml:"step_timeout,omitempty" json:"step_timeout,omitempty" toml:"step_timeout,omitempty"`
	Dashboard   BuildConfig   `koanf:"dashboard" yaml:"dashboard,omitempty" json:"dashboard,omitempty" toml:"dashboard,omitempty"`
	Backend     BackendConfig `koanf:"backend" yaml:"backend,omitempty" json:"backend,omitempty" toml:"backend,omitempty"`
	Proxy       ProxyConfig   `koanf:"proxy" yaml:"proxy,omitempty" json:"proxy,omitempty" toml:"proxy,omitempty"`
	Backup      BackupConfig  `koanf:"backup" yaml:"backup,omitempty" json:"backup,omitempty" toml:"backup,omitempty"`
}

// SecretRule describes one required secret key.
type SecretRule struct {
	Key        string   `koanf:"key" yaml:"key" json:"key" toml:"key" validate:"required"`
	MinLength  int      `koanf:"min_length" yaml:"min_length,omitempty" json:"min_length,omitempty" toml:"min_length,omitempty" validate:"gte=0"`
	Pattern    string   `koanf:"pattern" yaml:"pattern,omitempty" json:"pattern,omitempty" toml:"pattern,omitempty"`
	RequiredIn []string `koanf:"required_in" yaml:"required_in,omitempty" json:"required_in,omitempty" toml:"required_in,omitempty"`
}

// AppliesTo reports whether the rule is enforced for env.
func (r SecretRule) AppliesTo(env string) bool {
	return len(r.RequiredIn) == 0 || slices.Contains(r.RequiredIn, env)
}

type BuildConfig struct {
	Dir      string   `koanf:"dir" yaml:"dir,omitempty" json:"dir,omitempty" toml:"dir,omitempty"`
	Commands []string `koanf:"commands" yaml:"commands,omitempty" json:"commands,omitempty" toml:"commands,omitempty"`
}

type BackendConfig struct {
	Dir            string   `koanf:"dir" yaml:"dir,omitempty" json:"dir,omitempty" toml:"dir,omitempty"`
	Migrate        []string `koanf:"migrate" yaml:"migrate,omitempty" json:"migrate,omitempty" toml:"migrate,omitempty"`
	Tests          []string `koanf:"tests" yaml:"tests,omitempty" json:"tests,omitempty" toml:"tests,omitempty"`
	SecondaryTests []string `koanf:"secondary_tests" yaml:"secondary_tests,omitempty" json:"secondary_tests,omitempty" toml:"secondary_tests,omitempty"`
	Restart        []string `koanf:"restart" yaml:"restart,omitempty" json:"restart,omitempty" toml:"restart,omitempty"`
}

type ProxyConfig struct {
	ConfigPath    string   `koanf:"config_path" yaml:"config_path,omitempty" json:"config_path,omitempty" toml:"config_path,omitempty"`
	Domains       []string `koanf:"domains" yaml:"domains,omitempty" json:"domains,omitempty" toml:"domains,omitempty"`
	BackendAddr   string   `koanf:"backend_addr" yaml:"backend_addr,omitempty" json:"backend_addr,omitempty" toml:"backend_addr,omitempty" validate:"omitempty,hostname_port"`
	DashboardAddr string   `koanf:"dashboard_addr" yaml:"dashboard_addr,omitempty" json:"dashboard_addr,omitempty" toml:"dashboard_addr,omitempty" validate:"omitempty,hostname_port"`
	APIPrefix     string   `koanf:"api_prefix" yaml:"api_prefix,omitempty" json:"api_prefix,omitempty" toml:"api_prefix,omitempty"`
	Container     string   `koanf:"container" yaml:"container,omitempty" json:"container,omitempty" toml:"container,omitempty"`
	ReloadCommand string   `koanf:"reload_command" yaml:"reload_command,omitempty" json:"reload_command,omitempty" toml:"reload_command,omitempty"`
}

// Enabled reports whether the environment has a proxy to configure.
func (p ProxyConfig) Enabled() bool {
	return p.ConfigPath != ""
}

type BackupConfig struct {
	Dir         string `koanf:"dir" yaml:"dir,omitempty" json:"dir,omitempty" toml:"dir,omitempty"`
	DumpCommand string `koanf:"dump_command" yaml:"dump_command,omitempty" json:"dump_command,omitempty" toml:"dump_command,omitempty"`
	EncryptTo   string `koanf:"encrypt_to" yaml:"encrypt_to,omitempty" json:"encrypt_to,omitempty" toml:"encrypt_to,omitempty"`
}

// Default returns the built-in values that sit below every other source.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:         "info",
			Format:        "text",
			RetentionDays: constants.DefaultLogRetentionDays,
		},
		History: HistoryConfig{Keep: constants.DefaultHistoryToKeep},
		Notify: NotifyConfig{
			APIURL:  constants.DefaultTelegramAPIURL,
			Timeout: constants.DefaultNotifyTimeout,
		},
		Probe: ProbeConfig{
			Cooldown:    constants.DefaultProbeCooldown,
			Timeout:     constants.DefaultProbeTimeout,
			Interval:    constants.DefaultProbeInterval,
			Concurrency: 4,
		},
		Digest: DigestConfig{
			Mounts:    []string{"/"},
			MaxLength: constants.DefaultMessageLimit,
			Timeout:   constants.DefaultDigestTimeout,
			Interval:  constants.DefaultDigestInterval,
		},
		Environments: map[string]Environment{},
	}
}

// Environment returns the resolved environment called name.
func (c *Config) Environment(name string) (Environment, error) {
	env, ok := c.Environments[name]
	if !ok {
		return Environment{}, fmt.Errorf("unknown environment %q (available: %s)", name, strings.Join(c.EnvironmentNames(), ", "))
	}
	return env, nil
}

func (c *Config) EnvironmentNames() []string {
	names := make([]string, 0, len(c.Environments))
	for name := range c.Environments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Config) DBDir() string      { return c.DataDir }
func (c *Config) LogsDir() string    { return filepath.Join(c.DataDir, constants.LogsDirName) }
func (c *Config) LocksDir() string   { return filepath.Join(c.DataDir, constants.LocksDirName) }
func (c *Config) StateDir() string   { return filepath.Join(c.DataDir, constants.StateDirName) }
func (c *Config) BackupsDir() string { return filepath.Join(c.DataDir, constants.BackupsDirName) }

// RevisionFile is the single-line revision pointer for env.
func (c *Config) RevisionFile(env string) string {
	return filepath.Join(c.StateDir(), env+constants.RevisionFileSuffix)
}

// Path resolves p relative to the environment checkout.
func (e Environment) Path(p string) string {
	if p == "" {
		return e.BasePath
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(e.BasePath, p)
}
