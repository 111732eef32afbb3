// File: internal/types/vdev.go
package types

import (
	"sync"
	"sync/atomic"
)

// Geometry constants shared by the resolver, the dispatcher and the
// label codec.
const (
	// LabelCount is the number of identity labels stamped on a device.
	LabelCount = 4

	// LabelSize is the size in bytes of one identity label region.
	LabelSize = 256 * 1024

	// LabelPadSize bounds the sector size accepted for a device:
	// label framing assumes a sector never exceeds this.
	LabelPadSize = 8 * 1024

	// MinBlockSize is the pool's minimum block size; ashift is derived
	// from max(sector size, MinBlockSize).
	MinBlockSize = 512

	// MaxTransferSize caps a single block-layer transfer. Larger
	// requests are split into chunks no bigger than this, aligned down
	// to a sector multiple.
	MaxTransferSize = 128 * 1024
)

// AuxState records an auxiliary classification for the last failed open,
// alongside the error returned to the caller.
type AuxState int

const (
	AuxNone AuxState = iota
	AuxBadLabel
	AuxOpenFailed
)

// VdevState tracks how far a vdev has come since boot. Only the
// "never opened" distinction matters to the resolver's path-reuse policy.
type VdevState int

const (
	StateUnknown VdevState = iota
	StateClosed
	StateHealthy
)

// Vdev is the logical leaf volume owned by the pool manager and bound to
// a physical device by this package. The handle, path and physical-path
// fields are mutated only under the topology lock; the capability and
// removal flags are also touched from transfer-completion callbacks and
// therefore atomic.
type Vdev struct {
	// GUID identifies this vdev inside its pool. The pool GUID comes
	// from the Pool collaborator at resolution time.
	GUID uint64

	// PrevState is the state the vdev was in before the current open
	// attempt. StateUnknown means it has never been opened this boot.
	PrevState VdevState

	mu       sync.RWMutex
	path     string
	physPath string
	handle   any // consumer binding, nil while closed
	aux      AuxState

	nowritecache atomic.Bool
	notrim       atomic.Bool
	removeWanted atomic.Bool
	delayedClose atomic.Bool
}

// NewVdev returns a vdev with the given identity and last-known path.
func NewVdev(guid uint64, path string) *Vdev {
	return &Vdev{GUID: guid, path: path, PrevState: StateUnknown}
}

// Path returns the last-known device path.
func (v *Vdev) Path() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.path
}

// SetPath replaces the last-known device path. Called under the
// topology lock when resolution rebinds the vdev to a renamed device.
func (v *Vdev) SetPath(path string) {
	v.mu.Lock()
	v.path = path
	v.mu.Unlock()
}

// PhysPath returns the cached physical-path attribute, if any.
func (v *Vdev) PhysPath() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.physPath
}

// SetPhysPath replaces the cached physical-path attribute. Callers must
// hold the pool configuration lock; see the attribute-changed handler.
func (v *Vdev) SetPhysPath(p string) {
	v.mu.Lock()
	v.physPath = p
	v.mu.Unlock()
}

// Handle returns the current consumer binding, or nil when closed.
func (v *Vdev) Handle() any {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.handle
}

// SetHandle installs the consumer binding established by a successful open.
func (v *Vdev) SetHandle(h any) {
	v.mu.Lock()
	v.handle = h
	v.mu.Unlock()
}

// ClearHandle drops the binding reference. It is safe to call when no
// binding is installed.
func (v *Vdev) ClearHandle() {
	v.mu.Lock()
	v.handle = nil
	v.mu.Unlock()
}

// Aux returns the auxiliary status of the last failed open.
func (v *Vdev) Aux() AuxState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.aux
}

// SetAux records an auxiliary open status.
func (v *Vdev) SetAux(a AuxState) {
	v.mu.Lock()
	v.aux = a
	v.mu.Unlock()
}

// Readable reports whether I/O may be issued against the vdev: it must
// be open and not already slated for removal.
func (v *Vdev) Readable() bool {
	return v.Handle() != nil && !v.RemoveWanted()
}

// NoWriteCache reports the sticky flush-unsupported flag.
func (v *Vdev) NoWriteCache() bool { return v.nowritecache.Load() }

// SetNoWriteCache latches the flush-unsupported flag. It transitions
// false to true only; ClearCapabilities resets it on reopen.
func (v *Vdev) SetNoWriteCache() { v.nowritecache.Store(true) }

// NoTrim reports the sticky trim-unsupported flag.
func (v *Vdev) NoTrim() bool { return v.notrim.Load() }

// SetNoTrim latches the trim-unsupported flag.
func (v *Vdev) SetNoTrim() { v.notrim.Store(true) }

// ClearCapabilities resets both negotiated-unsupported flags so a
// reopen renegotiates flush and trim support.
func (v *Vdev) ClearCapabilities() {
	v.nowritecache.Store(false)
	v.notrim.Store(false)
}

// RemoveWanted reports whether an asynchronous removal has been requested.
func (v *Vdev) RemoveWanted() bool { return v.removeWanted.Load() }

// SetRemoveWanted marks the vdev for asynchronous removal.
func (v *Vdev) SetRemoveWanted() { v.removeWanted.Store(true) }

// DelayedClose reports whether a hard I/O error scheduled a delayed close.
func (v *Vdev) DelayedClose() bool { return v.delayedClose.Load() }

// SetDelayedClose marks the vdev for a delayed close.
func (v *Vdev) SetDelayedClose() { v.delayedClose.Store(true) }

// ResetLifecycleFlags clears the removal and delayed-close markers.
// The pool manager calls this once a removal or reopen has been resolved.
func (v *Vdev) ResetLifecycleFlags() {
	v.removeWanted.Store(false)
	v.delayedClose.Store(false)
}
