// Package tmux is the terminal backend: it enumerates worker panes, captures
// their text and injects input through the tmux CLI.
package tmux

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTmuxNotFound indicates tmux is not installed.
	ErrTmuxNotFound = errors.New("tmux not found: install tmux and run paneshift inside a tmux session")

	// ErrSessionNotFound indicates the target pane no longer exists.
	ErrSessionNotFound = errors.New("session not found")
)

// Session is one terminal pane.
type Session struct {
	ID        string // tmux pane id, e.g. "%3"
	Workspace string // "<session>:<window>.<pane>"
	Cwd       string
	Title     string
}

// Backend is the terminal capability the scheduler needs.
type Backend interface {
	ListSessions(ctx context.Context) ([]Session, error)
	// CaptureText returns the last maxLines lines, or "" when the session is gone.
	CaptureText(ctx context.Context, id string, maxLines int) (string, error)
	// SendText types text literally, without a trailing Enter.
	SendText(ctx context.Context, id, text string) error
	// SendKey sends one named key such as "Enter" or "Escape".
	SendKey(ctx context.Context, id, key string) error
	SessionExists(ctx context.Context, id string) (bool, error)
	// ActiveSessionID returns the pane the caller runs in, or "" if unknown.
	ActiveSessionID(ctx context.Context) (string, error)
}

// TransportError is a tmux command that exited non-zero.
type TransportError struct {
	Op     string
	Stderr string
	Err    error
}

func (e *TransportError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("tmux %s: %s", e.Op, msg)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
