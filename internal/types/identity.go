// File: internal/types/identity.go
package types

// Identity is the (pool GUID, vdev GUID) pair read from a device's
// on-media labels during resolution. It is transient: nothing in this
// package persists it.
type Identity struct {
	PoolGUID uint64
	VdevGUID uint64
}

// Complete reports whether both halves of the identity were recovered.
func (id Identity) Complete() bool {
	return id.PoolGUID != 0 && id.VdevGUID != 0
}

// Matches reports an exact identity match.
func (id Identity) Matches(other Identity) bool {
	return id.PoolGUID == other.PoolGUID && id.VdevGUID == other.VdevGUID
}
