// Package backup snapshots an environment's revision, configuration and
// database before a deploy mutates it.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"filippo.io/age"
	"github.com/ameistad/shipyard/internal/config"
	"github.com/ameistad/shipyard/internal/constants"
	"github.com/ameistad/shipyard/internal/environment"
	"github.com/ameistad/shipyard/internal/helpers"
	"github.com/ameistad/shipyard/internal/kvstore"
	"github.com/ameistad/shipyard/internal/logging"
	"github.com/ameistad/shipyard/internal/runner"
	"github.com/ameistad/shipyard/internal/secrets"
)

const (
	configDirName = "config"
	dumpFileName  = "db.dump"
)

// Artifact describes one backup directory. It is stored as manifest.json
// inside that directory.
type Artifact struct {
	ID          string    `json:"id"`
	Env         string    `json:"env"`
	Revision    string    `json:"revision"`
	CreatedAt   time.Time `json:"created_at"`
	ConfigFiles []string  `json:"config_files"`
	DBDump      string    `json:"db_dump,omitempty"`
	// Degraded is set when the database dump failed. The revision and
	// configuration are still usable for a rollback.
	Degraded  bool   `json:"degraded"`
	DumpError string `json:"dump_error,omitempty"`
	Encrypted bool   `json:"encrypted"`

	Dir string `json:"-"`
}

// RevisionReader is the part of the environment resolver backups need.
type RevisionReader interface {
	IsRepository(envName string) (bool, error)
	Current(ctx context.Context, envName string) (environment.Revision, error)
}

type Manager struct {
	cfg       *config.Config
	revisions RevisionReader
	runner    runner.Runner
	now       func() time.Time
}

func NewManager(cfg *config.Config, revisions RevisionReader, r runner.Runner) *Manager {
	return &Manager{cfg: cfg, revisions: revisions, runner: r, now: time.Now}
}

// Backup writes a new artifact for envName. A failed database dump marks the
// artifact degraded but is not an error.
func (m *Manager) Backup(ctx context.Context, envName string) (Artifact, error) {
	env, err := m.cfg.Environment(envName)
	if err != nil {
		return Artifact{}, err
	}
	logger := logging.FromContext(ctx).With("env", envName)

	var recipient age.Recipient
	if env.Backup.EncryptTo != "" {
		if recipient, err = secrets.ParseRecipient(env.Backup.EncryptTo); err != nil {
			return Artifact{}, err
		}
	}

	created := m.now()
	dir, id, err := createBackupDir(env.Backup.Dir, created)
	if err != nil {
		return Artifact{}, err
	}
	artifact := Artifact{
		ID:          id,
		Env:         envName,
		CreatedAt:   created.UTC(),
		ConfigFiles: []string{},
		Encrypted:   recipient != nil,
		Dir:         dir,
	}

	isRepo, err := m.revisions.IsRepository(envName)
	if err != nil {
		return Artifact{}, err
	}
	if isRepo {
		rev, err := m.revisions.Current(ctx, envName)
		if err != nil {
			return Artifact{}, fmt.Errorf("failed to record revision: %w", err)
		}
		artifact.Revision = rev.Short
	} else {
		logger.Warn("no checkout yet, backup has no revision")
	}

	for _, f := range append(append([]string{}, env.ConfigFiles...), env.EnvFiles...) {
		copied, err := copyConfig(env, f, filepath.Join(dir, configDirName), recipient)
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("config file missing, not backed up", "file", f)
			continue
		}
		if err != nil {
			return Artifact{}, err
		}
		artifact.ConfigFiles = append(artifact.ConfigFiles, copied)
	}

	if env.Backup.DumpCommand != "" {
		path, err := m.dump(ctx, env, dir, recipient)
		if err != nil {
			artifact.Degraded = true
			artifact.DumpError = helpers.Truncate(err.Error(), 500)
			logger.Warn("database dump failed, backup is degraded", "error", err)
		} else {
			artifact.DBDump = path
		}
	}

	if err := writeManifest(artifact); err != nil {
		return Artifact{}, err
	}
	logger.Info("backup created", "id", artifact.ID, "revision", artifact.Revision, "degraded", artifact.Degraded)
	return artifact, nil
}

// List returns the artifacts of envName, newest first. Directories without a
// readable manifest and artifacts of other environments sharing the same
// directory are skipped.
func (m *Manager) List(envName string) ([]Artifact, error) {
	env, err := m.cfg.Environment(envName)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(env.Backup.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backups: %w", err)
	}

	var artifacts []Artifact
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		a, err := readManifest(filepath.Join(env.Backup.Dir, entry.Name()))
		if err != nil || a.Env != envName {
			continue
		}
		artifacts = append(artifacts, a)
	}
	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].ID > artifacts[j].ID
	})
	return artifacts, nil
}

// Latest returns the newest artifact of envName that recorded a revision.
func (m *Manager) Latest(envName string) (Artifact, bool, error) {
	artifacts, err := m.List(envName)
	if err != nil {
		return Artifact{}, false, err
	}
	for _, a := range artifacts {
		if a.Revision != "" {
			return a, true, nil
		}
	}
	return Artifact{}, false, nil
}

func (m *Manager) dump(ctx context.Context, env config.Environment, dir string, recipient age.Recipient) (string, error) {
	path := filepath.Join(dir, dumpFileName)
	if recipient != nil {
		path += secrets.Extension
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, constants.ModeFileSecret)
	if err != nil {
		return "", fmt.Errorf("failed to create dump file: %w", err)
	}
	w, err := secrets.NewWriter(out, recipient)
	if err != nil {
		out.Close()
		os.Remove(path)
		return "", err
	}

	cmd := runner.Shell(env.Backup.DumpCommand, env.BasePath)
	cmd.Stdout = w
	_, runErr := m.runner.Run(ctx, cmd)
	closeErr := w.Close()
	if err := out.Close(); err != nil && closeErr == nil {
		closeErr = err
	}
	if runErr != nil || closeErr != nil {
		os.Remove(path)
		return "", errors.Join(runErr, closeErr)
	}
	return path, nil
}

func copyConfig(env config.Environment, name, destDir string, recipient age.Recipient) (string, error) {
	src := env.Path(name)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}
	rel := name
	if filepath.IsAbs(rel) {
		rel = filepath.Join("abs", rel)
	}
	dst := filepath.Join(destDir, filepath.Clean(rel))
	if err := os.MkdirAll(filepath.Dir(dst), constants.ModeDirPrivate); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}
	written, err := secrets.CopyFile(src, dst, recipient)
	if err != nil {
		return "", fmt.Errorf("failed to back up %s: %w", name, err)
	}
	return written, nil
}

// createBackupDir creates <root>/<timestamp>, adding a counter when two
// backups land in the same second.
func createBackupDir(root string, t time.Time) (string, string, error) {
	if err := os.MkdirAll(root, constants.ModeDirPrivate); err != nil {
		return "", "", fmt.Errorf("failed to create backup root: %w", err)
	}
	base := t.UTC().Format(helpers.TimestampLayout)
	for i := 0; i < 100; i++ {
		id := base
		if i > 0 {
			id = base + "-" + strconv.Itoa(i)
		}
		dir := filepath.Join(root, id)
		err := os.Mkdir(dir, constants.ModeDirPrivate)
		if err == nil {
			return dir, id, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", "", fmt.Errorf("failed to create backup directory: %w", err)
		}
	}
	return "", "", fmt.Errorf("too many backups at %s", base)
}

func writeManifest(a Artifact) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	return kvstore.WriteAtomic(filepath.Join(a.Dir, constants.BackupManifestName), append(data, '\n'), constants.ModeFileSecret)
}

func readManifest(dir string) (Artifact, error) {
	data, err := os.ReadFile(filepath.Join(dir, constants.BackupManifestName))
	if err != nil {
		return Artifact{}, err
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return Artifact{}, fmt.Errorf("invalid manifest in %s: %w", dir, err)
	}
	a.Dir = dir
	return a, nil
}
