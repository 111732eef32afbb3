// File: internal/interfaces/label.go
package interfaces

import (
	"github.com/deploymenttheory/go-vdev/internal/types"
)

// IdentityDecoder extracts a pool/vdev identity from one raw label
// region read off a device. The label layout is owned by the pool's
// label subsystem; this package only consumes it read-only during
// resolution.
type IdentityDecoder interface {
	// DecodeIdentity parses the identity pair out of a label region.
	// A label that is unreadable or carries no identity returns an
	// error; the resolver then tries the next label.
	DecodeIdentity(raw []byte) (types.Identity, error)
}
