// Package identity generates the per-participant token used to tag outbound
// edits so receivers can recognize their own echoes.
package identity

import "github.com/google/uuid"

// Identity is an opaque participant token. It is comparable with ==.
type Identity string

// New returns a fresh identity. It never fails.
func New() Identity {
	return Identity(uuid.NewString())
}

func (id Identity) String() string {
	return string(id)
}
