// Package lock serializes operations on one environment across processes.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ameistad/shipyard/internal/constants"
	"golang.org/x/sys/unix"
)

// ErrLockHeld is returned when another process holds the lock.
var ErrLockHeld = errors.New("lock is held by another process")

// FileLock is an exclusive advisory flock(2) on <dir>/<name>.lock.
type FileLock struct {
	path string
	file *os.File
}

// Acquire takes the lock without blocking. The holder's pid is written to the
// lock file so a blocked operator can see who holds it.
func Acquire(dir, name string) (*FileLock, error) {
	if err := os.MkdirAll(dir, constants.ModeDirPrivate); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	path := filepath.Join(dir, name+".lock")

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, constants.ModeFileSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		holder := readHolder(file)
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			if holder != "" {
				return nil, fmt.Errorf("%w (%s, pid %s)", ErrLockHeld, name, holder)
			}
			return nil, fmt.Errorf("%w (%s)", ErrLockHeld, name)
		}
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	if err := file.Truncate(0); err == nil {
		_, _ = file.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}
	return &FileLock{path: path, file: file}, nil
}

func readHolder(file *os.File) string {
	buf := make([]byte, 32)
	n, _ := file.ReadAt(buf, 0)
	return strings.TrimSpace(string(buf[:n]))
}

func (l *FileLock) Path() string {
	return l.path
}

// Release unlocks and closes the lock file. The file itself is left in
// place; removing it would race with a process about to open it.
func (l *FileLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	defer func() { l.file = nil }()
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		l.file.Close()
		return fmt.Errorf("failed to unlock %s: %w", l.path, err)
	}
	return l.file.Close()
}
