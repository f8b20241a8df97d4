// Package proxy renders the HAProxy configuration of an environment and
// reloads the proxy when it changes.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"text/template"

	"github.com/ameistad/shipyard/internal/config"
	"github.com/ameistad/shipyard/internal/constants"
	"github.com/ameistad/shipyard/internal/docker"
	"github.com/ameistad/shipyard/internal/embed"
	"github.com/ameistad/shipyard/internal/helpers"
	"github.com/ameistad/shipyard/internal/kvstore"
	"github.com/ameistad/shipyard/internal/logging"
	"github.com/ameistad/shipyard/internal/runner"
)

// Reloader makes a running proxy pick up a new configuration file.
type Reloader interface {
	Reload(ctx context.Context) error
}

// CommandReloader runs a shell command, e.g. "systemctl reload haproxy".
type CommandReloader struct {
	Runner  runner.Runner
	Command string
}

func (r CommandReloader) Reload(ctx context.Context) error {
	_, err := r.Runner.Run(ctx, runner.Shell(r.Command, ""))
	return err
}

// DockerReloader sends SIGUSR2 to the HAProxy container, which makes the
// master process reload its workers.
type DockerReloader struct {
	Container string
	// Client is created on first use when nil.
	Client docker.ContainerAPI
}

func (r *DockerReloader) Reload(ctx context.Context) error {
	if r.Client == nil {
		cli, err := docker.NewClient(ctx)
		if err != nil {
			return err
		}
		defer cli.Close()
		return docker.SignalContainer(ctx, cli, r.Container, "SIGUSR2")
	}
	return docker.SignalContainer(ctx, r.Client, r.Container, "SIGUSR2")
}

// Result reports what Apply did.
type Result struct {
	Path     string
	Changed  bool
	Reloaded bool
}

type Applier struct {
	runner runner.Runner
	// reloaderFor is replaced in tests.
	reloaderFor func(config.ProxyConfig) Reloader
}

func NewApplier(r runner.Runner) *Applier {
	a := &Applier{runner: r}
	a.reloaderFor = a.defaultReloader
	return a
}

func (a *Applier) defaultReloader(p config.ProxyConfig) Reloader {
	if p.ReloadCommand != "" {
		return CommandReloader{Runner: a.runner, Command: p.ReloadCommand}
	}
	container := p.Container
	if container == "" {
		container = constants.DefaultProxyContainerName
	}
	return &DockerReloader{Container: container}
}

// Apply writes the rendered configuration for env and reloads the proxy.
// Applying an unchanged configuration writes nothing and does not reload.
// If the reload fails the previous file is restored.
func (a *Applier) Apply(ctx context.Context, env config.Environment) (Result, error) {
	logger := logging.FromContext(ctx).With("env", env.Name)
	result := Result{Path: env.Proxy.ConfigPath}
	if !env.Proxy.Enabled() {
		return result, nil
	}

	content, err := Render(env)
	if err != nil {
		return result, err
	}

	previous, err := os.ReadFile(env.Proxy.ConfigPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return result, fmt.Errorf("failed to read current proxy config: %w", err)
	}
	hadPrevious := err == nil
	if hadPrevious && bytes.Equal(previous, content) {
		logger.Info("proxy configuration unchanged", "path", env.Proxy.ConfigPath)
		return result, nil
	}

	if err := kvstore.WriteAtomic(env.Proxy.ConfigPath, content, constants.ModeFileDefault); err != nil {
		return result, err
	}
	result.Changed = true
	logger.Info("proxy configuration written", "path", env.Proxy.ConfigPath)

	if err := a.reloaderFor(env.Proxy).Reload(ctx); err != nil {
		if hadPrevious {
			if restoreErr := kvstore.WriteAtomic(env.Proxy.ConfigPath, previous, constants.ModeFileDefault); restoreErr != nil {
				return result, fmt.Errorf("failed to reload proxy: %w (restoring previous config also failed: %v)", err, restoreErr)
			}
		}
		return result, fmt.Errorf("failed to reload proxy: %w", err)
	}
	result.Reloaded = true
	logger.Info("proxy reloaded")
	return result, nil
}

// Render produces the HAProxy configuration for env.
func Render(env config.Environment) ([]byte, error) {
	data, err := embed.TemplatesFS.ReadFile(embed.HAProxyConfigTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded file: %w", err)
	}
	tmpl, err := template.New("haproxy").Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	name := helpers.SanitizeString(env.Name)
	templateData := embed.HAProxyTemplateData{
		Env:           name,
		Domains:       env.Proxy.Domains,
		APIPrefix:     env.Proxy.APIPrefix,
		BackendName:   name + "_backend",
		BackendAddr:   env.Proxy.BackendAddr,
		DashboardName: name + "_dashboard",
		DashboardAddr: env.Proxy.DashboardAddr,
		HealthPath:    healthPath(env.HealthURL),
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, templateData); err != nil {
		return nil, fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.Bytes(), nil
}

func healthPath(healthURL string) string {
	if healthURL == "" {
		return ""
	}
	u, err := url.Parse(healthURL)
	if err != nil || u.Path == "" {
		return ""
	}
	return u.Path
}
