// Package notify delivers operator messages to a Telegram bot or, when no
// bot is configured, to standard output.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/ameistad/shipyard/internal/config"
	"github.com/ameistad/shipyard/internal/constants"
	"github.com/ameistad/shipyard/internal/helpers"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

func (l Level) icon() string {
	switch l {
	case LevelSuccess:
		return "✅"
	case LevelWarning:
		return "⚠️"
	case LevelError:
		return "🚨"
	default:
		return "ℹ️"
	}
}

type Message struct {
	Level Level
	Title string
	Lines []string
}

// Text renders the message as plain text, cut to limit characters.
func (m Message) Text(limit int) string {
	var b strings.Builder
	if m.Title != "" {
		b.WriteString(m.Level.icon())
		b.WriteString(" ")
		b.WriteString(m.Title)
	}
	for _, line := range m.Lines {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(line)
	}
	return helpers.Truncate(b.String(), limit)
}

type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// DeliveryError reports the recipients a message could not reach. Callers
// treat it as non-fatal.
type DeliveryError struct {
	Attempted int
	Failed    map[string]error
}

// Partial reports whether at least one recipient received the message.
func (e *DeliveryError) Partial() bool {
	return len(e.Failed) < e.Attempted
}

func (e *DeliveryError) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for recipient, err := range e.Failed {
		parts = append(parts, fmt.Sprintf("%s: %v", recipient, err))
	}
	return "notification delivery failed: " + strings.Join(parts, "; ")
}

func (e *DeliveryError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, err := range e.Failed {
		errs = append(errs, err)
	}
	return errs
}

// IsDeliveryError reports whether err came from a failed delivery.
func IsDeliveryError(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de)
}

// Delivered reports whether a Send that returned err reached anyone.
func Delivered(err error) bool {
	if err == nil {
		return true
	}
	var de *DeliveryError
	return errors.As(err, &de) && de.Partial()
}

// New returns a Telegram notifier when a bot token and recipients are
// configured, and a Stdout notifier otherwise.
func New(cfg config.NotifyConfig) Notifier {
	if cfg.Enabled() {
		return NewTelegram(cfg)
	}
	return &Stdout{Writer: os.Stdout}
}

// Stdout prints messages, one block per message.
type Stdout struct {
	Writer io.Writer
	mu     sync.Mutex
}

func (s *Stdout) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintln(s.Writer, msg.Text(constants.DefaultMessageLimit)); err != nil {
		return &DeliveryError{Attempted: 1, Failed: map[string]error{"stdout": err}}
	}
	return nil
}

// Recorder keeps messages in memory. It is used by tests and dry runs.
type Recorder struct {
	mu       sync.Mutex
	Messages []Message
	Err      error
}

func (r *Recorder) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Messages = append(r.Messages, msg)
	return r.Err
}

func (r *Recorder) Titles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	titles := make([]string, len(r.Messages))
	for i, m := range r.Messages {
		titles[i] = m.Title
	}
	return titles
}
