// Package state provides file-based persistence for cartsync's client-local
// state.
//
// The state.json file stores the signed-in identity and its credentials,
// nothing else: the cart snapshot itself is always re-fetched from the
// remote cart. This package provides atomic writes, file locking, and
// backup functionality.
package state

import "time"

// SchemaVersion is the current state.json schema version.
const SchemaVersion = "1"

// AppState is the top-level structure persisted in state.json.
type AppState struct {
	// Version is the schema version for forward compatibility. Currently "1".
	Version string `json:"version"`

	// Identity is the signed-in user. Empty when signed out.
	Identity string `json:"identity"`

	// Credential is the bearer token for remote cart calls.
	Credential string `json:"credential,omitempty"`

	// RefreshCredential is kept for the identity collaborator.
	RefreshCredential string `json:"refresh_credential,omitempty"`

	// EstablishedAt is when the identity was set.
	EstablishedAt time.Time `json:"established_at,omitempty"`

	// CreatedAt is when the state file was first created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is the last modification time.
	UpdatedAt time.Time `json:"updated_at"`
}

// SignedIn reports whether the state holds an identity.
func (s *AppState) SignedIn() bool {
	return s.Identity != ""
}

// forget drops the identity and every credential.
func (s *AppState) forget() {
	s.Identity = ""
	s.Credential = ""
	s.RefreshCredential = ""
	s.EstablishedAt = time.Time{}
}
