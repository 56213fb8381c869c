package tmux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/marcus/paneshift/internal/logging"
)

const fieldSep = "_PS_SEP_"

// RunFunc executes tmux with args and returns stdout.
type RunFunc func(ctx context.Context, args ...string) (string, error)

// RetryConfig bounds retries of read-only commands.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetryConfig returns short retries suited to a polling tick.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		MaxElapsedTime:  3 * time.Second,
	}
}

// Client is a Backend backed by the tmux CLI. Every call passes through a
// circuit breaker; read-only calls are retried with exponential backoff.
// Writes are never retried so keystrokes are not duplicated.
type Client struct {
	run     RunFunc
	breaker *gobreaker.CircuitBreaker
	retry   RetryConfig
	logger  *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithRunner replaces command execution, bypassing the tmux lookup.
func WithRunner(run RunFunc) Option {
	return func(c *Client) { c.run = run }
}

// WithRetry sets the read retry policy.
func WithRetry(r RetryConfig) Option {
	return func(c *Client) { c.retry = r }
}

// New creates a Client. It fails with ErrTmuxNotFound when tmux is not on PATH.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		retry:  DefaultRetryConfig(),
		logger: logging.Component("tmux"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.run == nil {
		bin, err := exec.LookPath("tmux")
		if err != nil {
			return nil, ErrTmuxNotFound
		}
		c.run = execRunner(bin)
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "tmux",
		MaxRequests: 1,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.WarnCtx("circuit breaker state change", map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrSessionNotFound) ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, context.DeadlineExceeded)
		},
	})
	return c, nil
}

func execRunner(bin string) RunFunc {
	return func(ctx context.Context, args ...string) (string, error) {
		cmd := exec.CommandContext(ctx, bin, args...)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return "", &TransportError{Op: args[0], Stderr: stderr.String(), Err: err}
		}
		return stdout.String(), nil
	}
}

// exec runs one command through the breaker and maps missing-pane failures
// to ErrSessionNotFound.
func (c *Client) exec(ctx context.Context, args ...string) (string, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		out, err := c.run(ctx, args...)
		if err != nil && isMissingPane(err) {
			return "", fmt.Errorf("%w: %v", ErrSessionNotFound, err)
		}
		return out, err
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// read runs a read-only command with retries.
func (c *Client) read(ctx context.Context, args ...string) (string, error) {
	var out string
	op := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		res, err := c.exec(ctx, args...)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) ||
				errors.Is(err, gobreaker.ErrOpenState) ||
				errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = res
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retry.InitialInterval
	policy.MaxInterval = c.retry.MaxInterval
	policy.MaxElapsedTime = c.retry.MaxElapsedTime
	err := backoff.Retry(op, backoff.WithContext(policy, ctx))
	return out, err
}

func isMissingPane(err error) bool {
	var te *TransportError
	if !errors.As(err, &te) {
		return false
	}
	msg := strings.ToLower(te.Stderr)
	return strings.Contains(msg, "can't find") ||
		strings.Contains(msg, "no such") ||
		strings.Contains(msg, "not found")
}

// ListSessions lists every pane across all tmux sessions.
func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	format := strings.Join([]string{
		"#{pane_id}",
		"#{session_name}:#{window_index}.#{pane_index}",
		"#{pane_current_path}",
		"#{pane_title}",
	}, fieldSep)
	out, err := c.read(ctx, "list-panes", "-a", "-F", format)
	if err != nil {
		return nil, err
	}
	return parseSessions(out), nil
}

func parseSessions(out string) []Session {
	var sessions []Session
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, fieldSep, 4)
		for len(parts) < 4 {
			parts = append(parts, "")
		}
		sessions = append(sessions, Session{
			ID:        parts[0],
			Workspace: parts[1],
			Cwd:       parts[2],
			Title:     parts[3],
		})
	}
	return sessions
}

// CaptureText returns the last maxLines lines of the pane, joined across
// soft wraps. A missing pane yields "".
func (c *Client) CaptureText(ctx context.Context, id string, maxLines int) (string, error) {
	if maxLines <= 0 {
		maxLines = 100
	}
	out, err := c.read(ctx, "capture-pane", "-p", "-J", "-t", id, "-S", "-"+strconv.Itoa(maxLines))
	if errors.Is(err, ErrSessionNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return lastLines(out, maxLines), nil
}

func lastLines(out string, n int) string {
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// SendText types text literally into the pane.
func (c *Client) SendText(ctx context.Context, id, text string) error {
	_, err := c.exec(ctx, "send-keys", "-t", id, "-l", "--", text)
	return err
}

// SendKey sends a named key to the pane.
func (c *Client) SendKey(ctx context.Context, id, key string) error {
	_, err := c.exec(ctx, "send-keys", "-t", id, key)
	return err
}

// SessionExists reports whether the pane is still present.
func (c *Client) SessionExists(ctx context.Context, id string) (bool, error) {
	out, err := c.read(ctx, "display-message", "-p", "-t", id, "#{pane_id}")
	if errors.Is(err, ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == id, nil
}

// ActiveSessionID returns the pane tmux considers current for this client.
func (c *Client) ActiveSessionID(ctx context.Context) (string, error) {
	out, err := c.read(ctx, "display-message", "-p", "#{pane_id}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
