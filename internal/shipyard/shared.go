package shipyard

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ameistad/shipyard/internal/backup"
	"github.com/ameistad/shipyard/internal/config"
	"github.com/ameistad/shipyard/internal/constants"
	"github.com/ameistad/shipyard/internal/db"
	"github.com/ameistad/shipyard/internal/deploy"
	"github.com/ameistad/shipyard/internal/digest"
	"github.com/ameistad/shipyard/internal/environment"
	"github.com/ameistad/shipyard/internal/health"
	"github.com/ameistad/shipyard/internal/kvstore"
	"github.com/ameistad/shipyard/internal/logging"
	"github.com/ameistad/shipyard/internal/notify"
	"github.com/ameistad/shipyard/internal/preflight"
	"github.com/ameistad/shipyard/internal/proxy"
	"github.com/ameistad/shipyard/internal/runner"
	"github.com/ameistad/shipyard/internal/throttle"
	"github.com/spf13/cobra"
)

// Replaced in tests.
var (
	newRunner   = func() runner.Runner { return runner.Exec{} }
	newNotifier = func(cfg config.NotifyConfig) notify.Notifier { return notify.New(cfg) }
)

// app is the per-invocation wiring: the resolved config, the logger and the
// collaborators built from them.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	logOpts  logging.Options
	runner   runner.Runner
	notifier notify.Notifier
}

// setup resolves the configuration once and returns a context carrying the
// process logger.
func setup(cmd *cobra.Command, flags *rootFlags) (context.Context, *app, error) {
	cfg, err := config.Load(flags.loadOptions())
	if err != nil {
		return nil, nil, err
	}
	logOpts := logging.Options{
		Level:  cfg.Log.Level,
		Format: logging.Format(cfg.Log.Format),
		Writer: cmd.ErrOrStderr(),
	}
	logger, err := logging.New(logOpts)
	if err != nil {
		return nil, nil, err
	}
	if src := cfg.Source(); src != "" {
		logger.Debug("config loaded", "file", src)
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		logOpts:  logOpts,
		runner:   newRunner(),
		notifier: newNotifier(cfg.Notify),
	}
	return logging.WithLogger(cmd.Context(), logger), a, nil
}

func (a *app) resolver() *environment.Resolver {
	return environment.NewResolver(a.cfg, a.runner)
}

func (a *app) validator() *preflight.Validator {
	return preflight.NewValidator(a.cfg, a.resolver())
}

func (a *app) backups() *backup.Manager {
	return backup.NewManager(a.cfg, a.resolver(), a.runner)
}

func (a *app) openDB() (*db.DB, error) {
	database, err := db.New(a.cfg.DBDir())
	if err != nil {
		return nil, fmt.Errorf("failed to open run history: %w", err)
	}
	return database, nil
}

// orchestrator wires every deploy collaborator. A dry run only reads the
// run history when it already exists. The caller runs the returned cleanup.
func (a *app) orchestrator(dryRun bool) (*deploy.Orchestrator, func(), error) {
	resolver := a.resolver()
	deps := deploy.Dependencies{
		Resolver:   resolver,
		Validator:  preflight.NewValidator(a.cfg, resolver),
		Backups:    backup.NewManager(a.cfg, resolver, a.runner),
		Proxy:      proxy.NewApplier(a.runner),
		Runner:     a.runner,
		Notifier:   a.notifier,
		LogOptions: a.logOpts,
	}
	cleanup := func() {}

	_, statErr := os.Stat(filepath.Join(a.cfg.DBDir(), constants.DBFileName))
	if !dryRun || statErr == nil {
		database, err := a.openDB()
		if err != nil {
			return nil, nil, err
		}
		deps.History = database
		cleanup = func() { database.Close() }
	}
	return deploy.New(a.cfg, deps), cleanup, nil
}

func (a *app) prober() *health.Prober {
	store := kvstore.NewFile(a.cfg.Probe.StateFile)
	th := throttle.New(store, a.cfg.Probe.Cooldown)
	return health.NewProber(a.cfg.Probe, a.cfg.Metrics.TextfileDir, a.notifier, th)
}

func (a *app) reporter() *digest.Reporter {
	return digest.NewReporter(a.cfg, a.runner, a.notifier)
}

// isInteractive reports whether stdin is a terminal an operator can answer
// prompts on.
func isInteractive() bool {
	return isTerminal(os.Stdin.Fd())
}
