// Package runner wraps external process execution so that git, build tools,
// migrations and dumps can be replaced by fakes in tests.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ameistad/shipyard/internal/helpers"
	"github.com/ameistad/shipyard/internal/logging"
)

type Command struct {
	Name string
	Args []string
	Dir  string
	// Env entries are appended to the current process environment.
	Env []string
	// Output, when set, additionally receives stdout and stderr as they are produced.
	Output io.Writer
	// Stdout, when set, receives stdout instead of Result.Stdout. Used for
	// large streams such as database dumps.
	Stdout io.Writer
}

// Shell runs script through sh -c in dir.
func Shell(script, dir string) Command {
	return Command{Name: "sh", Args: []string{"-c", script}, Dir: dir}
}

func (c Command) String() string {
	if c.Name == "sh" && len(c.Args) == 2 && c.Args[0] == "-c" {
		return c.Args[1]
	}
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Output returns stdout followed by stderr, trimmed.
func (r Result) Output() string {
	out := strings.TrimSpace(r.Stdout)
	if errOut := strings.TrimSpace(r.Stderr); errOut != "" {
		if out != "" {
			out += "\n"
		}
		out += errOut
	}
	return out
}

type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExitError is returned when a command exits non-zero or cannot start.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("command %q failed", e.Command)
	if e.ExitCode > 0 {
		msg += fmt.Sprintf(" with exit code %d", e.ExitCode)
	}
	if line := helpers.FirstLine(e.Stderr); line != "" {
		return msg + ": " + helpers.Truncate(line, 200)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }

// Exec runs commands with os/exec.
type Exec struct{}

func (Exec) Run(ctx context.Context, c Command) (Result, error) {
	logger := logging.FromContext(ctx)
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	// Never let git or other tools wait on a terminal prompt.
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	cmd.Env = append(cmd.Env, c.Env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if c.Output != nil {
		cmd.Stdout = io.MultiWriter(&stdout, c.Output)
		cmd.Stderr = io.MultiWriter(&stderr, c.Output)
	}
	if c.Stdout != nil {
		cmd.Stdout = c.Stdout
	}

	logger.Debug("running command", "cmd", c.String(), "dir", c.Dir)
	start := time.Now()
	err := cmd.Run()
	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		exitErr := &ExitError{Command: c.String(), Stderr: result.Stderr, Err: err}
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			exitErr.ExitCode = ee.ExitCode()
			result.ExitCode = ee.ExitCode()
		}
		if ctx.Err() != nil {
			exitErr.Err = fmt.Errorf("%w: %w", ctx.Err(), err)
		}
		logger.Debug("command failed", "cmd", c.String(), "exit_code", result.ExitCode, "error", err)
		return result, exitErr
	}

	logger.Debug("command succeeded", "cmd", c.String(), "duration", result.Duration)
	return result, nil
}
