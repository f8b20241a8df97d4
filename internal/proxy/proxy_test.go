package proxy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ameistad/shipyard/internal/config"
	"github.com/ameistad/shipyard/internal/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingReloader struct {
	calls int
	err   error
}

func (r *countingReloader) Reload(context.Context) error {
	r.calls++
	return r.err
}

func testEnv(t *testing.T) config.Environment {
	return config.Environment{
		Name:      "production",
		HealthURL: "http://127.0.0.1:8000/api/health/",
		Proxy: config.ProxyConfig{
			ConfigPath:    filepath.Join(t.TempDir(), "haproxy.cfg"),
			Domains:       []string{"example.com", "www.example.com"},
			BackendAddr:   "127.0.0.1:8000",
			DashboardAddr: "127.0.0.1:3000",
			APIPrefix:     "/api",
		},
	}
}

func TestRender(t *testing.T) {
	out, err := Render(testEnv(t))
	require.NoError(t, err)
	cfg := string(out)

	assert.Contains(t, cfg, "frontend production_http")
	assert.Contains(t, cfg, "acl known_host hdr(host) -i example.com www.example.com")
	assert.Contains(t, cfg, "acl is_api path_beg /api")
	assert.Contains(t, cfg, "use_backend production_backend if is_api")
	assert.Contains(t, cfg, "default_backend production_dashboard")
	assert.Contains(t, cfg, "option httpchk GET /api/health/")
	assert.Contains(t, cfg, "server app1 127.0.0.1:8000 check")
	assert.Contains(t, cfg, "server dashboard1 127.0.0.1:3000 check")
}

func TestRender_BackendOnly(t *testing.T) {
	env := testEnv(t)
	env.Proxy.DashboardAddr = ""
	env.Proxy.Domains = nil
	out, err := Render(env)
	require.NoError(t, err)
	assert.Contains(t, string(out), "default_backend production_backend")
	assert.NotContains(t, string(out), "known_host")
	assert.NotContains(t, string(out), "production_dashboard")
}

func TestApply_Idempotent(t *testing.T) {
	env := testEnv(t)
	reloader := &countingReloader{}
	a := NewApplier(&runner.Fake{})
	a.reloaderFor = func(config.ProxyConfig) Reloader { return reloader }
	ctx := context.Background()

	first, err := a.Apply(ctx, env)
	require.NoError(t, err)
	assert.True(t, first.Changed)
	assert.True(t, first.Reloaded)

	second, err := a.Apply(ctx, env)
	require.NoError(t, err)
	assert.False(t, second.Changed)
	assert.Equal(t, 1, reloader.calls, "identical config is not reloaded again")
}

func TestApply_ReloadFailureRestoresPrevious(t *testing.T) {
	env := testEnv(t)
	require.NoError(t, os.WriteFile(env.Proxy.ConfigPath, []byte("old\n"), 0o644))
	a := NewApplier(&runner.Fake{})
	a.reloaderFor = func(config.ProxyConfig) Reloader { return &countingReloader{err: errors.New("haproxy not running")} }

	_, err := a.Apply(context.Background(), env)
	require.ErrorContains(t, err, "haproxy not running")

	data, err := os.ReadFile(env.Proxy.ConfigPath)
	require.NoError(t, err)
	assert.Equal(t, "old\n", string(data))
}

func TestApply_Disabled(t *testing.T) {
	env := testEnv(t)
	env.Proxy.ConfigPath = ""
	res, err := NewApplier(&runner.Fake{}).Apply(context.Background(), env)
	require.NoError(t, err)
	assert.False(t, res.Changed)
}

func TestDefaultReloader(t *testing.T) {
	fake := &runner.Fake{}
	a := NewApplier(fake)

	cmd := a.defaultReloader(config.ProxyConfig{ReloadCommand: "systemctl reload haproxy"})
	require.NoError(t, cmd.Reload(context.Background()))
	assert.Equal(t, []string{"systemctl reload haproxy"}, fake.Calls())

	dockerReloader, ok := a.defaultReloader(config.ProxyConfig{}).(*DockerReloader)
	require.True(t, ok)
	assert.Equal(t, "haproxy", dockerReloader.Container)
}
