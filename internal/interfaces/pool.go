// File: internal/interfaces/pool.go
package interfaces

import (
	"github.com/deploymenttheory/go-vdev/internal/types"
)

// AsyncKind classifies the asynchronous requests this package posts back
// to the pool manager. Event handlers and completion callbacks never
// perform blocking pool operations inline; they post one of these
// instead.
type AsyncKind int

const (
	// AsyncRemove asks the pool manager to quiesce I/O against the
	// vdev and then close it.
	AsyncRemove AsyncKind = iota

	// AsyncConfigUpdate tells the pool manager that cached device
	// metadata (the physical path) changed.
	AsyncConfigUpdate
)

// AccessMode is the pool's pluggable open mode.
type AccessMode int

const (
	ModeRead AccessMode = 1 << iota
	ModeWrite
)

// LoadState distinguishes an in-progress pool configuration load from
// first-time construction. The resolver's unverified path reuse is only
// permitted outside a load.
type LoadState int

const (
	LoadNone LoadState = iota
	LoadOpen
	LoadImport
	LoadRecover
)

// ConfigLock is the pool-wide configuration lock. It is ordered after
// the topology lock: a caller holding the topology lock must drop it
// before entering, never the other way around.
type ConfigLock interface {
	Enter()
	Exit()
	Held() bool
}

// Pool is the pool manager as seen from the vdev backend: identity,
// mode and policy inputs, the async request channel, and fault
// reporting. AsyncRequest and ReportFault must be safe to call from the
// topology event thread and from transfer-completion callbacks.
type Pool interface {
	// GUID returns the pool's current identity.
	GUID() uint64

	// Mode returns the pool's open mode; write claims are only
	// escalated when ModeWrite is set.
	Mode() AccessMode

	// LoadState returns the pool's configuration load state.
	LoadState() LoadState

	// SplittingNew reports that this pool is the new half of an
	// in-progress split.
	SplittingNew() bool

	// AsyncRequest posts an asynchronous request for the vdev.
	AsyncRequest(vd *types.Vdev, kind AsyncKind)

	// ReportFault notifies the fault-management layer that the vdev's
	// device is failing, so stale error state is discarded promptly.
	ReportFault(vd *types.Vdev)

	// ConfigLock returns the pool configuration lock.
	ConfigLock() ConfigLock
}
