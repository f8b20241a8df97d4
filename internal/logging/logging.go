package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ameistad/shipyard/internal/constants"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

type Options struct {
	Level  string
	Format Format
	Writer io.Writer
}

// New builds the process logger. Logs go to stderr unless Writer is set.
func New(opts Options) (*slog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch opts.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, handlerOpts)
	case FormatText, "":
		handler = slog.NewTextHandler(w, handlerOpts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", opts.Format)
	}
	return slog.New(handler), nil
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Discard returns a logger that drops everything. Used by tests and dry runs.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// RunLog is the per-run log file that deploy and rollback runs tee into.
type RunLog struct {
	file *os.File
	Path string
}

// OpenRunLog creates <logsDir>/<runID>.log.
func OpenRunLog(logsDir, runID string) (*RunLog, error) {
	if runID == "" {
		return nil, fmt.Errorf("run ID cannot be empty")
	}
	if err := os.MkdirAll(logsDir, constants.ModeDirPrivate); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}
	path := filepath.Join(logsDir, runID+".log")
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, constants.ModeFileSecret)
	if err != nil {
		return nil, err
	}
	return &RunLog{file: file, Path: path}, nil
}

func (r *RunLog) Write(p []byte) (int, error) {
	return r.file.Write(p)
}

func (r *RunLog) Close() error {
	fmt.Fprintln(r.file, "[LOG END]")
	return r.file.Close()
}

// Tee returns a logger with the same level and format as opts that writes to
// both the usual destination and w.
func Tee(opts Options, w io.Writer) (*slog.Logger, error) {
	base := opts.Writer
	if base == nil {
		base = os.Stderr
	}
	opts.Writer = io.MultiWriter(base, w)
	return New(opts)
}

// CleanOldLogs removes run logs older than maxAgeDays.
func CleanOldLogs(logsPath string, maxAgeDays int) (int, error) {
	files, err := os.ReadDir(logsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	cutoff := time.Now().AddDate(0, 0, -maxAgeDays)
	removed := 0
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".log" {
			continue
		}
		info, err := file.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(logsPath, file.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
