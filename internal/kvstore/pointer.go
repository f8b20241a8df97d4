package kvstore

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ameistad/shipyard/internal/constants"
)

// Pointer is a single-line file holding one value, such as the last deployed
// revision of an environment.
type Pointer struct {
	path string
}

func NewPointer(path string) *Pointer {
	return &Pointer{path: path}
}

// Read returns the stored value. A missing or empty file reports ok=false.
func (p *Pointer) Read() (string, bool, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", p.path, err)
	}
	value := strings.TrimSpace(string(data))
	return value, value != "", nil
}

func (p *Pointer) Write(value string) error {
	value = strings.TrimSpace(value)
	if value == "" || strings.ContainsRune(value, '\n') {
		return fmt.Errorf("invalid pointer value %q", value)
	}
	return WriteAtomic(p.path, []byte(value+"\n"), constants.ModeFileDefault)
}
