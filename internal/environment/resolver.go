// Package environment maps named environments onto git checkouts and keeps
// them at a requested ref.
package environment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ameistad/shipyard/internal/config"
	"github.com/ameistad/shipyard/internal/constants"
	"github.com/ameistad/shipyard/internal/logging"
	"github.com/ameistad/shipyard/internal/runner"
)

type Resolver struct {
	cfg    *config.Config
	runner runner.Runner
}

func NewResolver(cfg *config.Config, r runner.Runner) *Resolver {
	return &Resolver{cfg: cfg, runner: r}
}

// Sync brings the checkout of envName to ref. A missing or empty base path is
// cloned; an existing checkout is fetched and switched to ref, and a branch
// is fast-forwarded unless opts.SkipPull is set. A directory that exists but
// is not a repository is never touched.
func (r *Resolver) Sync(ctx context.Context, envName string, ref Ref, opts SyncOptions) (Revision, error) {
	env, err := r.cfg.Environment(envName)
	if err != nil {
		return Revision{}, err
	}
	if err := ref.Validate(); err != nil {
		return Revision{}, &SyncError{Env: envName, Op: "resolve", Ref: ref, Err: err}
	}
	if ref.IsZero() {
		ref = Ref{Branch: env.Branch}
	}
	logger := logging.FromContext(ctx).With("env", envName, "ref", ref.String())
	fail := func(op string, err error) (Revision, error) {
		return Revision{}, &SyncError{Env: envName, Op: op, Ref: ref, Err: err}
	}

	state, err := inspect(env.BasePath)
	if err != nil {
		return fail("inspect", err)
	}

	cloned := false
	switch state {
	case stateNotRepository:
		return fail("inspect", fmt.Errorf("%w: %s", ErrNotRepository, env.BasePath))
	case stateMissing:
		if env.Repository == "" {
			return fail("clone", ErrNoRepository)
		}
		logger.Info("cloning repository", "repo", env.Repository, "dir", env.BasePath)
		if err := r.clone(ctx, env); err != nil {
			return fail("clone", err)
		}
		cloned = true
	case stateRepository:
		if opts.CloneOnly {
			logger.Info("checkout exists, leaving it untouched", "dir", env.BasePath)
			rev, err := r.Current(ctx, envName)
			if err != nil {
				return fail("revision", err)
			}
			rev.Ref = ref
			return rev, nil
		}
		logger.Info("fetching remote", "remote", env.Remote)
		if _, err := r.git(ctx, env.BasePath, "fetch", "--tags", "--prune", "--force", env.Remote); err != nil {
			return fail("fetch", err)
		}
	}

	target, err := r.resolveRef(ctx, env, ref)
	if err != nil {
		return fail("resolve", err)
	}

	if ref.Branch != "" {
		if err := r.checkoutBranch(ctx, env, ref.Branch, target, opts.SkipPull || cloned); err != nil {
			return fail("checkout", err)
		}
	} else {
		if _, err := r.git(ctx, env.BasePath, "checkout", "--detach", target); err != nil {
			return fail("checkout", err)
		}
	}

	rev, err := r.Current(ctx, envName)
	if err != nil {
		return fail("revision", err)
	}
	rev.Ref = ref
	rev.Cloned = cloned
	logger.Info("environment synced", "revision", rev.Short)
	return rev, nil
}

// Current returns the revision the checkout of envName is at.
func (r *Resolver) Current(ctx context.Context, envName string) (Revision, error) {
	env, err := r.cfg.Environment(envName)
	if err != nil {
		return Revision{}, err
	}
	full, err := r.git(ctx, env.BasePath, "rev-parse", "HEAD")
	if err != nil {
		return Revision{}, fmt.Errorf("failed to read current revision: %w", err)
	}
	short, err := r.git(ctx, env.BasePath, "rev-parse", "--short", "HEAD")
	if err != nil {
		return Revision{}, fmt.Errorf("failed to read current revision: %w", err)
	}
	return Revision{Short: short, Full: full}, nil
}

// Changes lists uncommitted changes in the checkout, one porcelain line each.
func (r *Resolver) Changes(ctx context.Context, envName string) ([]string, error) {
	env, err := r.cfg.Environment(envName)
	if err != nil {
		return nil, err
	}
	out, err := r.git(ctx, env.BasePath, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// IsRepository reports whether the base path of envName holds a checkout.
func (r *Resolver) IsRepository(envName string) (bool, error) {
	env, err := r.cfg.Environment(envName)
	if err != nil {
		return false, err
	}
	state, err := inspect(env.BasePath)
	return state == stateRepository, err
}

func (r *Resolver) clone(ctx context.Context, env config.Environment) error {
	if err := os.MkdirAll(filepath.Dir(env.BasePath), constants.ModeFileExec); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}
	_, err := r.git(ctx, filepath.Dir(env.BasePath), "clone", "--origin", env.Remote, env.Repository, env.BasePath)
	return err
}

// resolveRef returns the commit ref points at, or ErrRefNotFound.
func (r *Resolver) resolveRef(ctx context.Context, env config.Environment, ref Ref) (string, error) {
	var rev string
	switch {
	case ref.Branch != "":
		rev = "refs/remotes/" + env.Remote + "/" + ref.Branch
	case ref.Tag != "":
		rev = "refs/tags/" + ref.Tag
	default:
		rev = ref.Commit
	}
	sha, err := r.git(ctx, env.BasePath, "rev-parse", "--verify", "--quiet", rev+"^{commit}")
	if err != nil || sha == "" {
		return "", fmt.Errorf("%w: %s", ErrRefNotFound, ref)
	}
	return sha, nil
}

func (r *Resolver) checkoutBranch(ctx context.Context, env config.Environment, branch, remoteSHA string, skipPull bool) error {
	remoteRef := env.Remote + "/" + branch
	if _, err := r.git(ctx, env.BasePath, "show-ref", "--verify", "--quiet", "refs/heads/"+branch); err != nil {
		_, err := r.git(ctx, env.BasePath, "checkout", "-b", branch, "--track", remoteRef)
		return err
	}
	if _, err := r.git(ctx, env.BasePath, "checkout", branch); err != nil {
		return err
	}
	if skipPull {
		return nil
	}
	if _, err := r.git(ctx, env.BasePath, "merge", "--ff-only", remoteSHA); err != nil {
		return fmt.Errorf("pull %s: %w", remoteRef, err)
	}
	return nil
}

func (r *Resolver) git(ctx context.Context, dir string, args ...string) (string, error) {
	res, err := r.runner.Run(ctx, runner.Command{Name: "git", Args: args, Dir: dir})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

type checkoutState int

const (
	stateMissing checkoutState = iota
	stateRepository
	stateNotRepository
)

// inspect classifies path. An empty directory counts as missing so a
// pre-created mount point can be cloned into.
func inspect(path string) (checkoutState, error) {
	entries, err := os.ReadDir(path)
	if errors.Is(err, os.ErrNotExist) {
		return stateMissing, nil
	}
	if err != nil {
		return stateMissing, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(entries) == 0 {
		return stateMissing, nil
	}
	if _, err := os.Stat(filepath.Join(path, ".git")); err == nil {
		return stateRepository, nil
	}
	return stateNotRepository, nil
}
