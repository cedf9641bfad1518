package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Context is the explicit, injected holder of the active session. It is
// passed to the cart store at construction and changed only through Set and
// Clear; nothing reads identity from ambient global state.
type Context struct {
	mu      sync.RWMutex
	current Session
	store   Store
	logger  *slog.Logger
}

// NewContext creates a Context backed by store. A nil store keeps the
// session in memory only.
func NewContext(store Store, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{store: store, logger: logger}
}

// Restore loads the persisted session and makes it current.
func (c *Context) Restore(ctx context.Context) (Session, error) {
	if c.store == nil {
		return c.Current(), nil
	}
	s, err := c.store.Load(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}

	c.mu.Lock()
	c.current = s
	c.mu.Unlock()

	if !s.Anonymous() {
		c.logger.Debug("session restored", "identity", s.Identity)
	}
	return s, nil
}

// Current returns the active session.
func (c *Context) Current() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Set makes s the active session and persists it. An anonymous s is
// equivalent to Clear.
func (c *Context) Set(ctx context.Context, s Session) error {
	if s.Anonymous() {
		return c.Clear(ctx)
	}
	if s.EstablishedAt.IsZero() {
		s.EstablishedAt = time.Now().UTC()
	}

	if c.store != nil {
		if err := c.store.Save(ctx, s); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
	}

	c.mu.Lock()
	c.current = s
	c.mu.Unlock()
	return nil
}

// Clear forgets the active session and removes it from persistence.
// The in-memory session is cleared even when persistence fails.
func (c *Context) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.current = Session{}
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
