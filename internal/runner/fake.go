package runner

import (
	"context"
	"strings"
	"sync"
)

// Fake records every command and answers from Handler. A nil Handler makes
// every command succeed with empty output.
type Fake struct {
	Handler func(Command) (Result, error)

	mu    sync.Mutex
	calls []Command
}

func (f *Fake) Run(ctx context.Context, c Command) (Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if f.Handler == nil {
		return Result{}, nil
	}
	return f.Handler(c)
}

// Calls returns the commands run so far, rendered as strings.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.String()
	}
	return out
}

// Ran reports whether any recorded command contains substr.
func (f *Fake) Ran(substr string) bool {
	for _, c := range f.Calls() {
		if strings.Contains(c, substr) {
			return true
		}
	}
	return false
}
