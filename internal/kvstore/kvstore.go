// Package kvstore keeps small pieces of state in flat text files that can be
// inspected and edited by hand.
package kvstore

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ameistad/shipyard/internal/constants"
	"golang.org/x/sys/unix"
)

// Store is a string key/value store with an atomic conditional write.
type Store interface {
	Get(key string) (string, bool, error)
	// CompareAndSwap sets key to newValue only if its current value is old.
	// An empty old matches an absent key or an empty value.
	CompareAndSwap(key, old, newValue string) (bool, error)
}

// File stores one key=value pair per line. Writes go to a temp file that is
// renamed over the original, under an flock on a sidecar lock file.
type File struct {
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Path() string {
	return f.path
}

func (f *File) Get(key string) (string, bool, error) {
	entries, err := f.read()
	if err != nil {
		return "", false, err
	}
	v, ok := entries[key]
	return v, ok, nil
}

// All returns every entry in the file.
func (f *File) All() (map[string]string, error) {
	return f.read()
}

func (f *File) CompareAndSwap(key, old, newValue string) (bool, error) {
	if strings.ContainsAny(key, "=\n") || strings.ContainsRune(newValue, '\n') {
		return false, fmt.Errorf("invalid key or value for %s", key)
	}
	unlock, err := f.lock()
	if err != nil {
		return false, err
	}
	defer unlock()

	entries, err := f.read()
	if err != nil {
		return false, err
	}
	if entries[key] != old {
		return false, nil
	}
	entries[key] = newValue
	if err := WriteAtomic(f.path, encode(entries), constants.ModeFileDefault); err != nil {
		return false, err
	}
	return true, nil
}

func (f *File) lock() (func(), error) {
	if err := os.MkdirAll(filepath.Dir(f.path), constants.ModeDirPrivate); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	lf, err := os.OpenFile(f.path+".lock", os.O_CREATE|os.O_RDWR, constants.ModeFileSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock for %s: %w", f.path, err)
	}
	if err := unix.Flock(int(lf.Fd()), unix.LOCK_EX); err != nil {
		lf.Close()
		return nil, fmt.Errorf("failed to lock %s: %w", f.path, err)
	}
	return func() {
		_ = unix.Flock(int(lf.Fd()), unix.LOCK_UN)
		lf.Close()
	}, nil
}

// read parses the file. Blank lines, comments and malformed lines are skipped
// so a hand-edited file never blocks alerting.
func (f *File) read() (map[string]string, error) {
	entries := map[string]string{}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return entries, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok || key == "" {
			continue
		}
		entries[key] = value
	}
	return entries, scanner.Err()
}

func encode(entries map[string]string) []byte {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var buf bytes.Buffer
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s=%s\n", k, entries[k])
	}
	return buf.Bytes()
}

// WriteAtomic writes data to a temp file in the same directory and renames it
// over path, so readers see either the old or the new content.
func WriteAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, constants.ModeDirPrivate); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
