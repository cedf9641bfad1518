package state

import (
	"context"

	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/session"
)

// SessionStore implements session.Store on top of a FileStateStore.
type SessionStore struct {
	files *FileStateStore
}

var _ session.Store = (*SessionStore)(nil)

// NewSessionStore wraps files.
func NewSessionStore(files *FileStateStore) *SessionStore {
	return &SessionStore{files: files}
}

// Load returns the persisted session, anonymous when nobody is signed in.
func (s *SessionStore) Load(ctx context.Context) (session.Session, error) {
	if err := ctx.Err(); err != nil {
		return session.Session{}, err
	}
	st, err := s.files.Load()
	if err != nil {
		return session.Session{}, err
	}
	if !st.SignedIn() {
		return session.Session{}, nil
	}
	return session.Session{
		Identity:          st.Identity,
		Credential:        st.Credential,
		RefreshCredential: st.RefreshCredential,
		EstablishedAt:     st.EstablishedAt,
	}, nil
}

// Save persists sess, keeping the file's creation time.
func (s *SessionStore) Save(ctx context.Context, sess session.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.files.Update(func(st *AppState) error {
		st.Identity = sess.Identity
		st.Credential = sess.Credential
		st.RefreshCredential = sess.RefreshCredential
		st.EstablishedAt = sess.EstablishedAt
		return nil
	})
}

// Clear removes the identity and credentials from disk.
func (s *SessionStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.files.Forget()
}
