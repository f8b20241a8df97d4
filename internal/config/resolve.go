package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ameistad/shipyard/internal/constants"
	"github.com/jinzhu/copier"
)

const envPlaceholder = "{env}"

// resolveEnvironments layers every environment over the defaults block and
// fills in derived values. Fields set on the environment win.
func (c *Config) resolveEnvironments() error {
	resolved := make(map[string]Environment, len(c.Environments))
	for name, env := range c.Environments {
		merged, err := mergeEnvironment(c.Defaults, env)
		if err != nil {
			return fmt.Errorf("environment %s: %w", name, err)
		}
		merged.Name = name
		merged.BasePath = strings.ReplaceAll(merged.BasePath, envPlaceholder, name)
		if merged.BasePath, err = expandHome(merged.BasePath); err != nil {
			return err
		}
		c.applyEnvironmentDefaults(&merged)
		resolved[name] = merged
	}
	c.Environments = resolved

	if c.Probe.StateFile == "" {
		c.Probe.StateFile = filepath.Join(c.StateDir(), constants.ThrottleFileName)
	}
	for i := range c.Digest.Logs {
		if c.Digest.Logs[i].Lines == 0 {
			c.Digest.Logs[i].Lines = constants.DefaultDigestLogLines
		}
	}
	return nil
}

func mergeEnvironment(defaults, env Environment) (Environment, error) {
	var merged Environment
	if err := copier.CopyWithOption(&merged, &defaults, copier.Option{DeepCopy: true}); err != nil {
		return Environment{}, fmt.Errorf("failed to copy defaults: %w", err)
	}
	if err := copier.CopyWithOption(&merged, &env, copier.Option{IgnoreEmpty: true, DeepCopy: true}); err != nil {
		return Environment{}, fmt.Errorf("failed to apply environment values: %w", err)
	}
	return merged, nil
}

func (c *Config) applyEnvironmentDefaults(env *Environment) {
	if env.Remote == "" {
		env.Remote = "origin"
	}
	if env.Branch == "" {
		env.Branch = "main"
	}
	if env.MinFreeDisk == 0 {
		_ = env.MinFreeDisk.UnmarshalText([]byte(constants.DefaultMinFreeDisk))
	}
	if env.StepTimeout == 0 {
		env.StepTimeout = constants.DefaultStepTimeout
	}
	if env.Backup.Dir == "" {
		env.Backup.Dir = filepath.Join(c.BackupsDir(), env.Name)
	}
	if env.Proxy.APIPrefix == "" {
		env.Proxy.APIPrefix = "/api"
	}

	expand := func(s string) string { return strings.ReplaceAll(s, envPlaceholder, env.Name) }
	expandAll := func(list []string) {
		for i := range list {
			list[i] = expand(list[i])
		}
	}
	env.Backup.Dir = expand(env.Backup.Dir)
	env.Proxy.ConfigPath = expand(env.Proxy.ConfigPath)
	env.Proxy.ReloadCommand = expand(env.Proxy.ReloadCommand)
	env.Backup.DumpCommand = expand(env.Backup.DumpCommand)
	expandAll(env.Dashboard.Commands)
	expandAll(env.Backend.Migrate)
	expandAll(env.Backend.Tests)
	expandAll(env.Backend.SecondaryTests)
	expandAll(env.Backend.Restart)
}
