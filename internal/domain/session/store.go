package session

import "context"

// Store persists the session across process restarts.
// This interface is defined in the domain to avoid circular imports.
// Implementations: state.json file (prod), in-memory (test).
type Store interface {
	// Load returns the persisted session, or the anonymous session when
	// nothing has been stored yet.
	Load(ctx context.Context) (Session, error)

	// Save replaces the persisted session.
	Save(ctx context.Context, s Session) error

	// Clear removes the persisted identity and credentials.
	Clear(ctx context.Context) error
}
