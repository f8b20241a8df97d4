package deploy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ameistad/shipyard/internal/backup"
	"github.com/ameistad/shipyard/internal/config"
	"github.com/ameistad/shipyard/internal/db"
	"github.com/ameistad/shipyard/internal/environment"
	"github.com/ameistad/shipyard/internal/kvstore"
	"github.com/ameistad/shipyard/internal/lock"
	"github.com/ameistad/shipyard/internal/logging"
	"github.com/ameistad/shipyard/internal/notify"
	"github.com/ameistad/shipyard/internal/preflight"
	"github.com/ameistad/shipyard/internal/proxy"
	"github.com/ameistad/shipyard/internal/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRevision = "0123456789abcdef0123456789abcdef01234567"

type fakeResolver struct {
	mu    sync.Mutex
	syncs []environment.Ref
	err   error
}

func (f *fakeResolver) Sync(_ context.Context, _ string, ref environment.Ref, _ environment.SyncOptions) (environment.Revision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs = append(f.syncs, ref)
	if f.err != nil {
		return environment.Revision{}, f.err
	}
	full := testRevision
	if ref.Commit != "" {
		full = ref.Commit
	}
	return environment.Revision{Full: full, Short: full[:7], Ref: ref}, nil
}

func (f *fakeResolver) Current(context.Context, string) (environment.Revision, error) {
	return environment.Revision{Full: testRevision, Short: testRevision[:7]}, nil
}

func (f *fakeResolver) synced() []environment.Ref {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]environment.Ref(nil), f.syncs...)
}

type fakeValidator struct {
	verdict preflight.Verdict
	opts    []preflight.Options
}

func (f *fakeValidator) Validate(_ context.Context, envName string, opts preflight.Options) (preflight.Verdict, error) {
	f.opts = append(f.opts, opts)
	v := f.verdict
	v.Env = envName
	if len(v.Failures) == 0 {
		v.OK = true
	}
	return v, nil
}

type fakeBackups struct {
	calls  int
	latest *backup.Artifact
	result backup.Artifact
	err    error
}

func (f *fakeBackups) Backup(context.Context, string) (backup.Artifact, error) {
	f.calls++
	return f.result, f.err
}

func (f *fakeBackups) Latest(string) (backup.Artifact, bool, error) {
	if f.latest == nil {
		return backup.Artifact{}, false, nil
	}
	return *f.latest, true, nil
}

type fakeProxy struct {
	calls atomic.Int32
	err   error
}

func (f *fakeProxy) Apply(context.Context, config.Environment) (proxy.Result, error) {
	f.calls.Add(1)
	return proxy.Result{Changed: true, Reloaded: true}, f.err
}

type fixture struct {
	cfg       *config.Config
	orch      *Orchestrator
	resolver  *fakeResolver
	validator *fakeValidator
	backups   *fakeBackups
	proxy     *fakeProxy
	runner    *runner.Fake
	notifier  *notify.Recorder
	history   *db.DB
	health    *httptest.Server
	status    atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		resolver:  &fakeResolver{},
		validator: &fakeValidator{},
		backups:   &fakeBackups{result: backup.Artifact{ID: "20260101T000000Z", Dir: "/backups/x", Revision: testRevision}},
		proxy:     &fakeProxy{},
		runner:    &runner.Fake{},
		notifier:  &notify.Recorder{},
	}
	f.status.Store(http.StatusOK)
	f.health = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(f.status.Load()))
	}))
	t.Cleanup(f.health.Close)

	dataDir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dataDir
	cfg.Probe.Timeout = 2 * time.Second
	cfg.Environments = map[string]config.Environment{
		"staging": {
			Name:        "staging",
			BasePath:    t.TempDir(),
			Remote:      "origin",
			Branch:      "develop",
			HealthURL:   f.health.URL + "/api/health/",
			PublicURLs:  []string{f.health.URL + "/"},
			StepTimeout: time.Minute,
			Dashboard:   config.BuildConfig{Dir: "dashboard", Commands: []string{"npm ci", "npm run build"}},
			Backend: config.BackendConfig{
				Dir:            "backend",
				Migrate:        []string{"python3 manage.py migrate --noinput"},
				Tests:          []string{"python3 manage.py test"},
				SecondaryTests: []string{"pytest e2e"},
				Restart:        []string{"systemctl restart app-staging"},
			},
			Proxy: config.ProxyConfig{ConfigPath: "/etc/haproxy/haproxy.cfg", BackendAddr: "127.0.0.1:8000"},
		},
	}
	f.cfg = &cfg

	history, err := db.New(dataDir)
	require.NoError(t, err)
	t.Cleanup(func() { history.Close() })
	f.history = history

	f.orch = New(f.cfg, Dependencies{
		Resolver:   f.resolver,
		Validator:  f.validator,
		Backups:    f.backups,
		Proxy:      f.proxy,
		Runner:     f.runner,
		Notifier:   f.notifier,
		History:    history,
		LogOptions: logging.Options{Writer: &strings.Builder{}},
	})
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.orch.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return f
}

func (f *fixture) failOn(substr string) {
	f.runner.Handler = func(c runner.Command) (runner.Result, error) {
		if strings.Contains(c.String(), substr) {
			return runner.Result{ExitCode: 1}, &runner.ExitError{Command: c.String(), ExitCode: 1, Stderr: "boom"}
		}
		return runner.Result{}, nil
	}
}

func (f *fixture) pointer(t *testing.T) (string, bool) {
	t.Helper()
	rev, ok, err := kvstore.NewPointer(f.cfg.RevisionFile("staging")).Read()
	require.NoError(t, err)
	return rev, ok
}

func stepNames(run Run) []string {
	names := make([]string, len(run.Steps))
	for i, s := range run.Steps {
		names[i] = s.Name
	}
	return names
}

func stepStatus(t *testing.T, run Run, name string) StepStatus {
	t.Helper()
	s, ok := run.Step(name)
	require.True(t, ok, "step %s not recorded", name)
	return s.Status
}

func TestDeploy_Success(t *testing.T) {
	f := newFixture(t)

	run, err := f.orch.Deploy(context.Background(), "staging", TargetAll, Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, run.Status)
	assert.Equal(t, testRevision, run.Revision)
	assert.Equal(t, []string{
		StepPreflight, StepBackup, StepSync, StepDashboard,
		StepMigrate, StepTests, StepSecondaryTests, StepRestart,
		StepProxy, StepVerify,
	}, stepNames(run))
	for _, s := range run.Steps {
		assert.Equal(t, StepOK, s.Status, s.Name)
	}

	assert.Equal(t, []string{
		"npm ci",
		"npm run build",
		"python3 manage.py migrate --noinput",
		"python3 manage.py test",
		"pytest e2e",
		"systemctl restart app-staging",
	}, f.runner.Calls(), "steps run strictly in order")
	assert.EqualValues(t, 1, f.proxy.calls.Load())

	rev, ok := f.pointer(t)
	require.True(t, ok)
	assert.Equal(t, testRevision, rev)

	saved, err := f.history.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, "success", saved.Status)
	assert.Len(t, saved.Steps, len(run.Steps))

	titles := f.notifier.Titles()
	require.Len(t, titles, 2)
	assert.Contains(t, titles[0], "started")
	assert.Contains(t, titles[1], "succeeded")

	_, err = os.Stat(run.LogPath)
	assert.NoError(t, err, "run log is written")
}

func TestDeploy_BackendFailureStopsPipeline(t *testing.T) {
	f := newFixture(t)
	f.failOn("manage.py test")

	run, err := f.orch.Deploy(context.Background(), "staging", TargetAll, Options{})
	require.Error(t, err)

	var stepErr *StepFailure
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepTests, stepErr.Step)
	assert.Equal(t, StepTests, run.FailedStep)
	assert.Equal(t, StatusFailed, run.Status)

	assert.Equal(t, StepFailed, stepStatus(t, run, StepTests))
	for _, name := range []string{StepSecondaryTests, StepRestart, StepProxy, StepVerify} {
		assert.Equal(t, StepSkipped, stepStatus(t, run, name), name)
	}
	assert.Zero(t, f.proxy.calls.Load(), "proxy must not be applied after a failed backend step")
	assert.False(t, f.runner.Ran("systemctl restart"))

	_, ok := f.pointer(t)
	assert.False(t, ok, "revision pointer only moves on success")

	saved, err := f.history.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, StepTests, saved.FailedStep)

	require.NotEmpty(t, f.notifier.Messages)
	last := f.notifier.Messages[len(f.notifier.Messages)-1]
	assert.Equal(t, notify.LevelError, last.Level)
	assert.Contains(t, last.Lines, "Step: "+StepTests)
}

func TestDeploy_BestEffortAndVerifyWarnings(t *testing.T) {
	tests := []struct {
		name     string
		failOn   string
		status   int32
		wantStep string
	}{
		{name: "secondary tests fail", failOn: "pytest e2e", status: http.StatusOK, wantStep: StepSecondaryTests},
		{name: "verification fails", status: http.StatusInternalServerError, wantStep: StepVerify},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.failOn != "" {
				f.failOn(tt.failOn)
			}
			f.status.Store(tt.status)

			run, err := f.orch.Deploy(context.Background(), "staging", TargetAll, Options{})
			require.NoError(t, err)
			assert.Equal(t, StatusWarnings, run.Status)
			assert.Equal(t, StepFailed, stepStatus(t, run, tt.wantStep))
			assert.EqualValues(t, 1, f.proxy.calls.Load())
			assert.NotEmpty(t, run.Warnings)

			_, ok := f.pointer(t)
			assert.True(t, ok, "a run with warnings still moves the pointer")
			titles := f.notifier.Titles()
			assert.Contains(t, titles[len(titles)-1], "with warnings")
		})
	}
}

func TestDeploy_PreflightFailureAborts(t *testing.T) {
	f := newFixture(t)
	f.validator.verdict = preflight.Verdict{Failures: []preflight.Failure{
		{Check: "secret", Name: "SECRET_KEY", Message: "not set"},
		{Check: "secret", Name: "DB_PASSWORD", Message: "not set"},
	}}

	run, err := f.orch.Deploy(context.Background(), "staging", TargetAll, Options{Force: true})
	require.Error(t, err)

	var validationErr *preflight.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Len(t, validationErr.Failures, 2)
	assert.Equal(t, StatusAborted, run.Status)
	assert.Equal(t, StepPreflight, run.FailedStep)
	assert.Zero(t, f.backups.calls)
	assert.Empty(t, f.runner.Calls())
	assert.Empty(t, f.resolver.synced())
	assert.True(t, f.validator.opts[0].ForceSkipHealth)
}

func TestDeploy_BackupFailureAborts(t *testing.T) {
	f := newFixture(t)
	f.backups.err = errors.New("disk full")

	run, err := f.orch.Deploy(context.Background(), "staging", TargetAll, Options{})
	require.Error(t, err)
	assert.Equal(t, StatusAborted, run.Status)
	assert.Equal(t, StepBackup, run.FailedStep)
	assert.Empty(t, f.resolver.synced(), "nothing is synced before a backup exists")
}

func TestDeploy_DegradedBackupContinues(t *testing.T) {
	f := newFixture(t)
	f.backups.result.Degraded = true
	f.backups.result.DumpError = "pg_dump: connection refused"

	run, err := f.orch.Deploy(context.Background(), "staging", TargetAll, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusWarnings, run.Status)
	assert.Contains(t, run.Warnings, "backup is degraded: database dump failed")
}

func TestDeploy_TargetsAndOptions(t *testing.T) {
	tests := []struct {
		name        string
		target      Target
		opts        Options
		wantSkipped []string
		wantRan     []string
	}{
		{
			name:        "dashboard only",
			target:      TargetDashboard,
			wantSkipped: []string{StepMigrate, StepTests, StepSecondaryTests, StepRestart},
			wantRan:     []string{StepSync, StepDashboard, StepProxy},
		},
		{
			name:        "backend only",
			target:      TargetBackend,
			wantSkipped: []string{StepDashboard},
			wantRan:     []string{StepSync, StepMigrate, StepTests, StepRestart},
		},
		{
			name:        "skip tests and pull",
			target:      TargetAll,
			opts:        Options{SkipTests: true, SkipPull: true},
			wantSkipped: []string{StepSync, StepTests, StepSecondaryTests},
			wantRan:     []string{StepMigrate, StepRestart, StepVerify},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			run, err := f.orch.Deploy(context.Background(), "staging", tt.target, tt.opts)
			require.NoError(t, err)
			for _, name := range tt.wantSkipped {
				assert.Equal(t, StepSkipped, stepStatus(t, run, name), name)
			}
			for _, name := range tt.wantRan {
				assert.Equal(t, StepOK, stepStatus(t, run, name), name)
			}
			assert.Equal(t, testRevision, run.Revision)
		})
	}
}

func TestDeploy_DryRun(t *testing.T) {
	f := newFixture(t)

	run, err := f.orch.Deploy(context.Background(), "staging", TargetBackend, Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, StatusPlanned, run.Status)
	assert.Empty(t, run.ID)
	assert.Empty(t, f.runner.Calls())
	assert.Empty(t, f.resolver.synced())
	assert.Zero(t, f.backups.calls)
	assert.Zero(t, f.proxy.calls.Load())
	assert.Empty(t, f.notifier.Messages)

	history, err := f.history.RunHistory("staging", 10)
	require.NoError(t, err)
	assert.Empty(t, history)

	plan, err := f.orch.Plan("staging", TargetBackend, Options{SkipTests: true})
	require.NoError(t, err)
	lines := plan.Lines()
	require.Len(t, lines, 8)
	assert.Equal(t, "2. dashboard (skipped: target is backend)", lines[1])
	assert.Equal(t, "3. backend-migrate: python3 manage.py migrate --noinput", lines[2])
	assert.Equal(t, "4. backend-tests (skipped: --skip-tests)", lines[3])
}

func TestDeploy_LockHeld(t *testing.T) {
	f := newFixture(t)
	held, err := lock.Acquire(f.cfg.LocksDir(), "staging")
	require.NoError(t, err)
	defer held.Release()

	_, err = f.orch.Deploy(context.Background(), "staging", TargetAll, Options{})
	require.ErrorIs(t, err, lock.ErrLockHeld)
	assert.Empty(t, f.runner.Calls())
}

func TestRollback_NoRevisionFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Rollback(context.Background(), "staging", "", Options{})
	require.ErrorIs(t, err, ErrNoRevisionFound)

	assert.Empty(t, f.resolver.synced())
	assert.Zero(t, f.backups.calls)
	assert.Empty(t, f.runner.Calls())
	assert.Empty(t, f.notifier.Messages)
	_, ok := f.pointer(t)
	assert.False(t, ok)
	entries, err := os.ReadDir(f.cfg.DataDir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, "locks", e.Name(), "no lock is taken")
		assert.NotEqual(t, "logs", e.Name(), "no run log is opened")
	}
}

func TestResolveRollbackRevision_Priority(t *testing.T) {
	f := newFixture(t)
	f.backups.latest = &backup.Artifact{Revision: "backuprev"}

	rev, source, err := f.orch.ResolveRollbackRevision("staging", "")
	require.NoError(t, err)
	assert.Equal(t, "backuprev", rev)
	assert.Equal(t, SourceBackup, source)

	require.NoError(t, f.history.SaveRun(db.Run{
		ID: NewRunID(time.Now()), Env: "staging", Kind: "deploy", Target: "all",
		Revision: "historyrev", Status: "success", StartedAt: time.Now(),
	}))
	rev, source, err = f.orch.ResolveRollbackRevision("staging", "")
	require.NoError(t, err)
	assert.Equal(t, "historyrev", rev)
	assert.Equal(t, SourceHistory, source)

	require.NoError(t, kvstore.NewPointer(f.cfg.RevisionFile("staging")).Write("pointerrev"))
	rev, source, err = f.orch.ResolveRollbackRevision("staging", "")
	require.NoError(t, err)
	assert.Equal(t, "pointerrev", rev)
	assert.Equal(t, SourcePointer, source)

	rev, source, err = f.orch.ResolveRollbackRevision("staging", "explicit")
	require.NoError(t, err)
	assert.Equal(t, "explicit", rev)
	assert.Equal(t, SourceArgument, source)
}

func TestRollback_ChecksOutRevisionAndRunsPipeline(t *testing.T) {
	f := newFixture(t)
	previous := "fedcba9876543210fedcba9876543210fedcba98"
	require.NoError(t, kvstore.NewPointer(f.cfg.RevisionFile("staging")).Write(previous))

	run, err := f.orch.Rollback(context.Background(), "staging", "", Options{})
	require.NoError(t, err)

	assert.Equal(t, KindRollback, run.Kind)
	assert.Equal(t, StatusSuccess, run.Status)
	assert.Equal(t, previous, run.Revision)
	assert.Equal(t, []environment.Ref{{Commit: previous}}, f.resolver.synced())
	_, hasSync := run.Step(StepSync)
	assert.False(t, hasSync, "rollback does not pull the branch")
	assert.Equal(t, StepOK, stepStatus(t, run, StepCheckout))
	assert.True(t, f.runner.Ran("manage.py migrate"))
	assert.Equal(t, 1, f.backups.calls)

	rev, _ := f.pointer(t)
	assert.Equal(t, previous, rev)
	titles := f.notifier.Titles()
	assert.Contains(t, titles[0], "Rollback staging started")
}

func TestRollback_DryRun(t *testing.T) {
	f := newFixture(t)
	run, err := f.orch.Rollback(context.Background(), "staging", "abc1234", Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, StatusPlanned, run.Status)
	assert.Equal(t, StepCheckout, run.Steps[0].Name)
	assert.Contains(t, run.Steps[0].Detail, "abc1234")
	assert.Empty(t, f.resolver.synced())
}

func TestParseTarget(t *testing.T) {
	for in, want := range map[string]Target{"": TargetAll, "all": TargetAll, "dashboard": TargetDashboard, "backend": TargetBackend} {
		got, err := ParseTarget(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseTarget("frontend")
	assert.ErrorContains(t, err, "unknown deploy target")
}

func TestNewRunID_Sortable(t *testing.T) {
	a := NewRunID(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	b := NewRunID(time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC))
	assert.Len(t, a, 26)
	assert.Less(t, a, b)
}
