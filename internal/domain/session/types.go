// Package session holds the identity on whose behalf the cart exists and the
// credential that authorizes remote cart calls.
package session

import "time"

// Session is the active identity together with its bearer credential.
// The zero value is the anonymous session.
type Session struct {
	// Identity is the label of the authenticated user. Empty means nobody
	// is signed in.
	Identity string `json:"identity"`
	// Credential is the bearer token attached to remote cart calls.
	Credential string `json:"credential,omitempty"`
	// RefreshCredential is kept for the identity collaborator; the cart
	// never uses it.
	RefreshCredential string `json:"refresh_credential,omitempty"`
	// EstablishedAt is when the identity was set (UTC).
	EstablishedAt time.Time `json:"established_at,omitempty"`
}

// Anonymous reports whether no identity is set.
func (s Session) Anonymous() bool {
	return s.Identity == ""
}

// SameIdentity reports whether s and other refer to the same identity.
func (s Session) SameIdentity(other Session) bool {
	return s.Identity == other.Identity
}

// Redacted returns a copy safe for logging.
func (s Session) Redacted() Session {
	if s.Credential != "" {
		s.Credential = "***"
	}
	if s.RefreshCredential != "" {
		s.RefreshCredential = "***"
	}
	return s
}
