package workflow

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/marcus/paneshift/internal/logging"
)

// Config owns the active Definition and reloads it when its file changes.
// With no path it serves the built-in definition.
type Config struct {
	mu      sync.RWMutex
	path    string
	modTime time.Time
	def     *Definition
	logger  *logging.Logger
}

// NewConfig loads the definition at path, or the built-in one when path is empty.
func NewConfig(path string) (*Config, error) {
	c := &Config{path: path, logger: logging.Component("workflow")}
	if path == "" {
		c.def = Builtin()
		return c, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat workflow file: %w", err)
	}
	def, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	c.def = def
	c.modTime = info.ModTime()
	return c, nil
}

// NewStaticConfig wraps a fixed definition.
func NewStaticConfig(def *Definition) *Config {
	return &Config{def: def, logger: logging.Component("workflow")}
}

// Definition returns the current definition.
func (c *Config) Definition() *Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.def
}

// Path returns the backing file, if any.
func (c *Config) Path() string {
	return c.path
}

// ReloadIfStale reloads the definition when the file's mtime changed.
// A definition that fails to load is reported and the previous one kept.
func (c *Config) ReloadIfStale() (bool, error) {
	if c.path == "" {
		return false, nil
	}

	info, err := os.Stat(c.path)
	if err != nil {
		return false, fmt.Errorf("stat workflow file: %w", err)
	}

	c.mu.RLock()
	same := info.ModTime().Equal(c.modTime)
	c.mu.RUnlock()
	if same {
		return false, nil
	}

	def, err := LoadFile(c.path)
	if err != nil {
		c.mu.Lock()
		c.modTime = info.ModTime()
		c.mu.Unlock()
		c.logger.WarnCtx("workflow reload failed, keeping previous definition", map[string]any{
			"path":  c.path,
			"error": err.Error(),
		})
		return false, err
	}

	c.mu.Lock()
	c.def = def
	c.modTime = info.ModTime()
	c.mu.Unlock()
	c.logger.InfoCtx("workflow reloaded", map[string]any{"path": c.path})
	return true, nil
}
