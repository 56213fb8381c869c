// Package tmuxtest provides a scripted in-memory tmux.Backend for tests.
package tmuxtest

import (
	"context"
	"sync"

	"github.com/marcus/paneshift/internal/tmux"
)

// Input is one piece of text or key delivered to a session.
type Input struct {
	Session string
	Text    string
	Key     bool
}

// Backend is a fake tmux.Backend. Screens are set per session; every
// SendText/SendKey is recorded. A session's screen can be replaced after
// each input through OnInput.
type Backend struct {
	mu       sync.Mutex
	sessions []tmux.Session
	screens  map[string]string
	gone     map[string]bool
	active   string
	inputs   []Input

	// SendErr, when non-nil, is returned by SendText and SendKey.
	SendErr error
	// CaptureErr, when non-nil, is returned by CaptureText.
	CaptureErr error
	// OnInput runs after each recorded input, under no lock.
	OnInput func(b *Backend, in Input)
}

// New creates a fake with the given session ids.
func New(ids ...string) *Backend {
	b := &Backend{screens: map[string]string{}, gone: map[string]bool{}}
	for _, id := range ids {
		b.sessions = append(b.sessions, tmux.Session{ID: id, Workspace: "main:" + id})
	}
	return b
}

// SetActive sets the id returned by ActiveSessionID.
func (b *Backend) SetActive(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = id
}

// SetScreen sets the captured text of a session.
func (b *Backend) SetScreen(id, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.screens[id] = text
}

// Kill marks a session as gone.
func (b *Backend) Kill(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gone[id] = true
}

// Inputs returns a copy of everything sent so far.
func (b *Backend) Inputs() []Input {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Input(nil), b.inputs...)
}

// Texts returns the literal texts sent to one session.
func (b *Backend) Texts(id string) []string {
	var out []string
	for _, in := range b.Inputs() {
		if in.Session == id && !in.Key {
			out = append(out, in.Text)
		}
	}
	return out
}

// Reset clears recorded inputs.
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inputs = nil
}

func (b *Backend) ListSessions(ctx context.Context) ([]tmux.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []tmux.Session
	for _, s := range b.sessions {
		if !b.gone[s.ID] {
			out = append(out, s)
		}
	}
	return out, nil
}

func (b *Backend) CaptureText(ctx context.Context, id string, maxLines int) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.CaptureErr != nil {
		return "", b.CaptureErr
	}
	if b.gone[id] {
		return "", nil
	}
	return b.screens[id], nil
}

func (b *Backend) SendText(ctx context.Context, id, text string) error {
	return b.record(Input{Session: id, Text: text})
}

func (b *Backend) SendKey(ctx context.Context, id, key string) error {
	return b.record(Input{Session: id, Text: key, Key: true})
}

func (b *Backend) record(in Input) error {
	b.mu.Lock()
	if b.SendErr != nil {
		err := b.SendErr
		b.mu.Unlock()
		return err
	}
	b.inputs = append(b.inputs, in)
	hook := b.OnInput
	b.mu.Unlock()
	if hook != nil {
		hook(b, in)
	}
	return nil
}

func (b *Backend) SessionExists(ctx context.Context, id string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gone[id] {
		return false, nil
	}
	for _, s := range b.sessions {
		if s.ID == id {
			return true, nil
		}
	}
	return false, nil
}

func (b *Backend) ActiveSessionID(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active, nil
}

var _ tmux.Backend = (*Backend)(nil)
