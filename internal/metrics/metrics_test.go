package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeMetricsTextfile(t *testing.T) {
	dir := t.TempDir()
	m := NewProbeMetrics()
	m.TargetUp.WithLabelValues("api").Set(1)
	m.TargetUp.WithLabelValues("web").Set(0)
	m.ComponentHealthy.WithLabelValues("database").Set(0)
	m.AlertSent.Set(1)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.TargetUp.WithLabelValues("web")))
	require.NoError(t, m.WriteTo(dir))

	data, err := os.ReadFile(filepath.Join(dir, "shipyard_probe.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `shipyard_probe_target_up{target="api"} 1`)
	assert.Contains(t, string(data), `shipyard_probe_component_healthy{component="database"} 0`)
	assert.Contains(t, string(data), "shipyard_probe_alert_sent 1")
}

func TestHostMetricsTextfile(t *testing.T) {
	dir := t.TempDir()
	m := NewHostMetrics()
	m.DiskUsedRatio.WithLabelValues("/").Set(0.5)
	m.MemoryUsedRatio.Set(0.25)
	require.NoError(t, m.WriteTo(dir))

	data, err := os.ReadFile(filepath.Join(dir, "shipyard_digest.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `shipyard_host_disk_used_ratio{mount="/"} 0.5`)
	assert.Contains(t, string(data), "shipyard_host_memory_used_ratio 0.25")
}

func TestWriteToEmptyDirIsNoop(t *testing.T) {
	assert.NoError(t, NewProbeMetrics().WriteTo(""))
}
