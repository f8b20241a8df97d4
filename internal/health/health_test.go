package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ameistad/shipyard/internal/config"
	"github.com/ameistad/shipyard/internal/kvstore"
	"github.com/ameistad/shipyard/internal/notify"
	"github.com/ameistad/shipyard/internal/throttle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// statusServer answers each path with a status that tests can change.
type statusServer struct {
	mu       sync.Mutex
	statuses map[string]int
	detailed string
	*httptest.Server
}

func newStatusServer(t *testing.T) *statusServer {
	s := &statusServer{statuses: map[string]int{}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if r.URL.Path == "/health/detailed" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(s.detailed))
			return
		}
		if r.URL.Path == "/slow" {
			time.Sleep(200 * time.Millisecond)
		}
		status, ok := s.statuses[r.URL.Path]
		if !ok {
			status = http.StatusOK
		}
		if status == http.StatusFound {
			http.Redirect(w, r, "/elsewhere", status)
			return
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *statusServer) set(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[path] = status
}

type testProber struct {
	*Prober
	recorder *notify.Recorder
	clock    time.Time
}

func newTestProber(t *testing.T, cfg config.ProbeConfig) *testProber {
	store := kvstore.NewFile(filepath.Join(t.TempDir(), "alert-throttle.state"))
	recorder := &notify.Recorder{}
	tp := &testProber{recorder: recorder, clock: time.Unix(1_700_000_000, 0)}
	tp.Prober = NewProber(cfg, "", recorder, throttle.New(store, cfg.Cooldown))
	tp.Prober.now = func() time.Time { return tp.clock }
	return tp
}

func TestSignature(t *testing.T) {
	assert.Equal(t, Signature(kindTargets, []string{"a", "b"}), Signature(kindTargets, []string{"b", "a", "a"}))
	assert.NotEqual(t, Signature(kindTargets, []string{"a"}), Signature(kindComponents, []string{"a"}))

	sets := [][]string{{"a"}, {"b"}, {"a", "b"}, {"a", "b", "c"}, {"ab"}, {"a,b"}, {"c"}}
	seen := map[string][]string{}
	for _, set := range sets {
		sig := Signature(kindTargets, set)
		_, dup := seen[sig]
		assert.False(t, dup, "signature collision for %v and %v", set, seen[sig])
		seen[sig] = set
	}
}

func TestTargetAccepts(t *testing.T) {
	server := newStatusServer(t)
	server.set("/moved", http.StatusFound)
	server.set("/down", http.StatusInternalServerError)
	client := NewHTTPClient()
	ctx := context.Background()

	tests := []struct {
		name   string
		target config.Target
		ok     bool
	}{
		{"default accepts 200", config.Target{URL: server.URL + "/"}, true},
		{"default accepts redirect", config.Target{URL: server.URL + "/moved"}, true},
		{"custom set rejects redirect", config.Target{URL: server.URL + "/moved", ExpectedStatus: []int{200}}, false},
		{"500 fails", config.Target{URL: server.URL + "/down"}, false},
		{"unreachable fails", config.Target{URL: "http://127.0.0.1:1/"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, CheckTarget(ctx, client, tt.target, time.Second).OK())
		})
	}
}

func TestCheckTargetTimeout(t *testing.T) {
	server := newStatusServer(t)
	result := CheckTarget(context.Background(), NewHTTPClient(), config.Target{Name: "slow", URL: server.URL + "/slow"}, 20*time.Millisecond)
	assert.False(t, result.OK())
	assert.True(t, errors.Is(result.Err, context.DeadlineExceeded))
	assert.Contains(t, result.Describe(), "timed out")
}

func TestParseDetailed(t *testing.T) {
	report, err := ParseDetailed([]byte(`{
		"status": "degraded",
		"overall": "unhealthy",
		"database": {"status": "healthy"},
		"redis": {"status": "unhealthy", "error": "connection refused"},
		"firebase": {"status": "not_initialized"},
		"version": "1.2.3",
		"uptime": 42
	}`))
	require.NoError(t, err)
	assert.Equal(t, DetailedReport{
		"database": StatusHealthy,
		"redis":    StatusUnhealthy,
		"firebase": StatusUnknown,
	}, report)
	assert.Equal(t, []string{"redis"}, report.Unhealthy())

	_, err = ParseDetailed([]byte("<html>"))
	assert.Error(t, err)
}

func TestCycle_FailingSetSignatures(t *testing.T) {
	server := newStatusServer(t)
	server.set("/b", http.StatusInternalServerError)
	p := newTestProber(t, config.ProbeConfig{
		Targets: []config.Target{
			{Name: "A", URL: server.URL + "/a"},
			{Name: "B", URL: server.URL + "/b"},
		},
		Cooldown: 30 * time.Minute,
		Timeout:  time.Second,
	})
	ctx := context.Background()

	first, err := p.Cycle(ctx)
	require.NoError(t, err)
	assert.True(t, first.SentAlert)
	require.Len(t, first.Alerts, 1)
	assert.Equal(t, []string{"B"}, first.Alerts[0].Failing)
	assert.Equal(t, Signature(kindTargets, []string{"B"}), first.Alerts[0].Signature)

	p.clock = p.clock.Add(5 * time.Minute)
	repeat, err := p.Cycle(ctx)
	require.NoError(t, err)
	assert.False(t, repeat.SentAlert, "same set inside cooldown is suppressed")
	assert.True(t, repeat.Alerts[0].Suppressed)

	server.set("/a", http.StatusInternalServerError)
	p.clock = p.clock.Add(time.Minute)
	second, err := p.Cycle(ctx)
	require.NoError(t, err)
	require.Len(t, second.Alerts, 1)
	assert.NotEqual(t, first.Alerts[0].Signature, second.Alerts[0].Signature)
	assert.ElementsMatch(t, []string{"A", "B"}, second.Alerts[0].Failing)
	assert.True(t, second.SentAlert, "a different failing set is not suppressed")

	p.clock = p.clock.Add(30 * time.Minute)
	later, err := p.Cycle(ctx)
	require.NoError(t, err)
	assert.True(t, later.SentAlert, "alerts again once the cooldown elapsed")

	assert.Len(t, p.recorder.Messages, 3)
}

func TestCycle_DetailedSeparateSignature(t *testing.T) {
	server := newStatusServer(t)
	server.detailed = `{"status":"ok","database":{"status":"unhealthy"},"redis":{"status":"healthy"}}`
	p := newTestProber(t, config.ProbeConfig{
		Targets:     []config.Target{{Name: "api", URL: server.URL + "/"}},
		DetailedURL: server.URL + "/health/detailed",
		Cooldown:    time.Hour,
		Timeout:     time.Second,
	})

	result, err := p.Cycle(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Healthy())
	require.Len(t, result.Alerts, 1, "runs even though every liveness target passed")
	assert.Equal(t, kindComponents, result.Alerts[0].Kind)
	assert.Equal(t, []string{"database"}, result.Alerts[0].Failing)
	assert.Contains(t, p.recorder.Messages[0].Lines, "database: unhealthy")
}

func TestCycle_DetailedUnreachable(t *testing.T) {
	server := newStatusServer(t)
	server.detailed = "not json"
	p := newTestProber(t, config.ProbeConfig{
		DetailedURL: server.URL + "/health/detailed",
		Cooldown:    time.Hour,
		Timeout:     time.Second,
	})

	result, err := p.Cycle(context.Background())
	require.NoError(t, err)
	assert.Error(t, result.DetailedErr)
	assert.Empty(t, result.Detailed.Unhealthy(), "a collection error is not an unhealthy component")
	require.Len(t, result.Alerts, 1)
	assert.Equal(t, []string{"detailed-endpoint"}, result.Alerts[0].Failing)
}

func TestCycle_DeliveryFailureIsNotFatal(t *testing.T) {
	server := newStatusServer(t)
	server.set("/down", http.StatusBadGateway)
	p := newTestProber(t, config.ProbeConfig{
		Targets:  []config.Target{{URL: server.URL + "/down"}},
		Cooldown: time.Hour,
		Timeout:  time.Second,
	})
	p.recorder.Err = &notify.DeliveryError{Attempted: 1, Failed: map[string]error{"1": errors.New("boom")}}

	result, err := p.Cycle(context.Background())
	require.NoError(t, err)
	assert.False(t, result.SentAlert)
	assert.Error(t, result.Alerts[0].Err)

	p.recorder.Err = nil
	retry, err := p.Cycle(context.Background())
	require.NoError(t, err)
	assert.True(t, retry.SentAlert, "an undelivered alert is not throttled")
}

func TestCycle_AllHealthy(t *testing.T) {
	server := newStatusServer(t)
	metricsDir := t.TempDir()
	p := newTestProber(t, config.ProbeConfig{
		Targets:  []config.Target{{Name: "api", URL: server.URL + "/"}},
		Cooldown: time.Hour,
		Timeout:  time.Second,
	})
	p.metricsDir = metricsDir

	result, err := p.Cycle(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Healthy())
	assert.False(t, result.SentAlert)
	assert.Empty(t, p.recorder.Messages)

	data, err := os.ReadFile(filepath.Join(metricsDir, "shipyard_probe.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `shipyard_probe_target_up{target="api"} 1`)
}
