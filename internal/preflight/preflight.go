// Package preflight runs read-only checks against an environment before a
// deploy is allowed to mutate anything.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/ameistad/shipyard/internal/config"
	"github.com/ameistad/shipyard/internal/health"
	"github.com/ameistad/shipyard/internal/kvstore"
	"github.com/ameistad/shipyard/internal/logging"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/shirou/gopsutil/v4/disk"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	// ForceSkipHealth skips the liveness probe of the running service.
	ForceSkipHealth bool
}

// Checkout is the part of the environment resolver preflight reads from.
type Checkout interface {
	IsRepository(envName string) (bool, error)
	Changes(ctx context.Context, envName string) ([]string, error)
}

type Validator struct {
	cfg      *config.Config
	checkout Checkout
	client   *http.Client

	lookPath  func(string) (string, error)
	lookupEnv func(string) (string, bool)
	freeBytes func(ctx context.Context, path string) (uint64, error)
	portFree  func(port int) bool
}

func NewValidator(cfg *config.Config, checkout Checkout) *Validator {
	return &Validator{
		cfg:       cfg,
		checkout:  checkout,
		client:    health.NewHTTPClient(),
		lookPath:  exec.LookPath,
		lookupEnv: os.LookupEnv,
		freeBytes: diskFree,
		portFree:  portFree,
	}
}

type report struct {
	failures []Failure
	warnings []Failure
}

func (r *report) fail(check, name, format string, args ...any) {
	r.failures = append(r.failures, Failure{Check: check, Name: name, Message: fmt.Sprintf(format, args...)})
}

func (r *report) warn(check, name, format string, args ...any) {
	r.warnings = append(r.warnings, Failure{Check: check, Name: name, Message: fmt.Sprintf(format, args...)})
}

// Validate runs every check and returns all failures at once. Checks run
// concurrently; the verdict lists them in a fixed order. The returned error
// is reserved for problems running the checks, not for failed checks.
func (v *Validator) Validate(ctx context.Context, envName string, opts Options) (Verdict, error) {
	env, err := v.cfg.Environment(envName)
	if err != nil {
		return Verdict{}, err
	}
	logger := logging.FromContext(ctx).With("env", envName)

	live, err := v.hasLiveDeployment(envName)
	if err != nil {
		return Verdict{}, err
	}

	checks := []func(context.Context, config.Environment, *report){
		v.checkTools,
		v.checkConfigFiles,
		v.checkSecrets,
		v.checkDisk,
		func(ctx context.Context, env config.Environment, r *report) { v.checkPorts(env, live, r) },
		v.checkTree,
	}
	if !opts.ForceSkipHealth {
		checks = append(checks, func(ctx context.Context, env config.Environment, r *report) {
			v.checkHealth(ctx, env, live, r)
		})
	}

	reports := make([]report, len(checks))
	g, gCtx := errgroup.WithContext(ctx)
	for i, check := range checks {
		g.Go(func() error {
			check(gCtx, env, &reports[i])
			return nil
		})
	}
	_ = g.Wait()

	verdict := Verdict{Env: envName}
	for _, r := range reports {
		verdict.Failures = append(verdict.Failures, r.failures...)
		verdict.Warnings = append(verdict.Warnings, r.warnings...)
	}
	if opts.ForceSkipHealth {
		verdict.Warnings = append(verdict.Warnings, Failure{Check: "health", Message: "liveness probe skipped"})
	}
	verdict.OK = len(verdict.Failures) == 0
	logger.Info("preflight finished", "ok", verdict.OK, "failures", len(verdict.Failures), "warnings", len(verdict.Warnings))
	return verdict, nil
}

// hasLiveDeployment reports whether the environment has been deployed
// before, judged by its revision pointer.
func (v *Validator) hasLiveDeployment(envName string) (bool, error) {
	_, ok, err := kvstore.NewPointer(v.cfg.RevisionFile(envName)).Read()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (v *Validator) checkTools(_ context.Context, env config.Environment, r *report) {
	for _, tool := range env.Tools {
		if _, err := v.lookPath(tool); err != nil {
			r.fail("tool", tool, "not found in PATH")
		}
	}
}

func (v *Validator) checkConfigFiles(_ context.Context, env config.Environment, r *report) {
	for _, f := range env.ConfigFiles {
		path := env.Path(f)
		info, err := os.Stat(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			r.fail("config", f, "missing (%s)", path)
		case err != nil:
			r.fail("config", f, "unreadable: %v", err)
		case info.IsDir():
			r.fail("config", f, "is a directory")
		}
	}
}

// checkSecrets validates each rule against the environment's env files, with
// the process environment as fallback. Every failing key is its own failure.
func (v *Validator) checkSecrets(_ context.Context, env config.Environment, r *report) {
	values := map[string]string{}
	for _, f := range env.EnvFiles {
		path := env.Path(f)
		fileValues, err := godotenv.Read(path)
		if err != nil {
			r.fail("config", f, "cannot read env file: %v", err)
			continue
		}
		for k, val := range fileValues {
			values[k] = val
		}
	}

	for _, rule := range env.Secrets {
		if !rule.AppliesTo(env.Name) {
			continue
		}
		value, ok := values[rule.Key]
		if !ok {
			value, ok = v.lookupEnv(rule.Key)
		}
		switch {
		case !ok:
			r.fail("secret", rule.Key, "not set")
			continue
		case value == "":
			r.fail("secret", rule.Key, "is empty")
			continue
		case rule.MinLength > 0 && len(value) < rule.MinLength:
			r.fail("secret", rule.Key, "must be at least %d characters, got %d", rule.MinLength, len(value))
			continue
		}
		if rule.Pattern != "" {
			re, err := regexp.Compile(rule.Pattern)
			if err != nil {
				r.fail("secret", rule.Key, "invalid pattern: %v", err)
			} else if !re.MatchString(value) {
				r.fail("secret", rule.Key, "does not match %s", rule.Pattern)
			}
		}
	}
}

func (v *Validator) checkDisk(ctx context.Context, env config.Environment, r *report) {
	if env.MinFreeDisk == 0 {
		return
	}
	path := existingParent(env.BasePath)
	free, err := v.freeBytes(ctx, path)
	if err != nil {
		r.fail("disk", path, "cannot read usage: %v", err)
		return
	}
	if free < uint64(env.MinFreeDisk) {
		r.fail("disk", path, "%s free, need at least %s", humanize.Bytes(free), env.MinFreeDisk)
	}
}

// checkPorts is advisory when the environment is already running, since its
// own services hold the ports.
func (v *Validator) checkPorts(env config.Environment, live bool, r *report) {
	for _, port := range env.Ports {
		if v.portFree(port) {
			continue
		}
		if live {
			r.warn("port", strconv.Itoa(port), "in use, assumed held by the running deployment")
		} else {
			r.fail("port", strconv.Itoa(port), "in use and no deployment is recorded")
		}
	}
}

func (v *Validator) checkTree(ctx context.Context, env config.Environment, r *report) {
	isRepo, err := v.checkout.IsRepository(env.Name)
	if err != nil {
		r.fail("tree", "", "%v", err)
		return
	}
	if !isRepo {
		r.warn("tree", "", "no checkout at %s yet, it will be cloned", env.BasePath)
		return
	}
	changes, err := v.checkout.Changes(ctx, env.Name)
	if err != nil {
		r.fail("tree", "", "cannot read status: %v", err)
		return
	}
	if len(changes) == 0 {
		return
	}
	if env.Strict {
		r.fail("tree", "", "%d uncommitted change(s)", len(changes))
	} else {
		r.warn("tree", "", "%d uncommitted change(s)", len(changes))
	}
}

// checkHealth probes the running service. With nothing deployed yet a failed
// probe is only a warning.
func (v *Validator) checkHealth(ctx context.Context, env config.Environment, live bool, r *report) {
	if env.HealthURL == "" {
		return
	}
	result := health.CheckTarget(ctx, v.client, config.Target{Name: "liveness", URL: env.HealthURL}, v.cfg.Probe.Timeout)
	if result.OK() {
		return
	}
	if live {
		r.fail("health", env.HealthURL, "%s (use --force to skip)", result.Describe())
	} else {
		r.warn("health", env.HealthURL, "%s, nothing deployed yet", result.Describe())
	}
}

func diskFree(ctx context.Context, path string) (uint64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

func portFree(port int) bool {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

func existingParent(path string) string {
	for {
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(path)
		if parent == path {
			return path
		}
		path = parent
	}
}
