// Package identity derives and mints the Identity and ConnectionId values
// used throughout a replica: owner and database identities, module
// identities, and per-connection handles for subscribed clients.
package identity

import (
	"crypto/rand"
	"crypto/sha256"

	"github.com/google/uuid"

	"github.com/spacetimedb/core/pkg/algebra"
)

// Derive computes a stable Identity from arbitrary key material (typically
// a client's public key). Equal input always yields equal output, so a
// client can reconnect under the same Identity without the replica
// persisting anything about it ahead of time.
func Derive(keyMaterial []byte) algebra.Identity {
	return algebra.Identity(sha256.Sum256(keyMaterial))
}

// New mints a fresh random Identity, used when a replica needs an identity
// it does not want tied to any externally supplied key material — for
// example an owner_identity generated for a database created without one.
func New() (algebra.Identity, error) {
	var id algebra.Identity
	if _, err := rand.Read(id[:]); err != nil {
		return algebra.Identity{}, err
	}
	return id, nil
}

// NewConnectionId mints a fresh ConnectionId for a newly accepted client
// connection. ConnectionId is 16 bytes, the same width as a UUID, so a
// random (v4) UUID's bytes are used directly rather than reaching for
// crypto/rand a second time.
func NewConnectionId() (algebra.ConnectionId, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return algebra.ConnectionId{}, err
	}
	return algebra.ConnectionId(u), nil
}
