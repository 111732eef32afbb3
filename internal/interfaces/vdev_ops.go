// File: internal/interfaces/vdev_ops.go
package interfaces

import (
	"github.com/deploymenttheory/go-vdev/internal/types"
)

// OpenResult carries the negotiated device geometry back from a
// successful open.
type OpenResult struct {
	// PhysicalSize is the usable device size in bytes.
	PhysicalSize uint64

	// MaxPhysicalSize is the size the device could grow to; equal to
	// PhysicalSize for plain disks.
	MaxPhysicalSize uint64

	// Ashift is the base-2 logarithm of the minimum transfer
	// alignment, max(sector size, pool minimum block size).
	Ashift uint64
}

// VdevOps is the leaf-vdev operator interface exposed to the pool
// manager.
type VdevOps interface {
	// Open binds the vdev to its physical device and returns the
	// negotiated geometry. On failure the vdev's handle stays nil and
	// an auxiliary status is recorded alongside the returned error.
	Open(vd *types.Vdev) (OpenResult, error)

	// Close releases the binding. Idempotent: closing a closed vdev is
	// a no-op.
	Close(vd *types.Vdev)

	// Start submits a pool-level request. I/O errors are never
	// returned here; they arrive through the completion sink when the
	// signal is PipelineStop, or in req.Err when PipelineContinue.
	Start(req *types.Request) types.PipelineSignal

	// Done is a post-completion hook, reserved for future bookkeeping.
	Done(req *types.Request)

	// Hold and Rele are reference-accounting hooks owned by the pool
	// manager; no-ops for disk vdevs.
	Hold(vd *types.Vdev)
	Rele(vd *types.Vdev)
}

// CompletionSink receives finished requests. The dispatcher calls
// Complete exactly once per request that returned PipelineStop, from
// the device layer's completion thread.
type CompletionSink interface {
	Complete(req *types.Request)
}

// CompletionFunc adapts a function to the CompletionSink interface.
type CompletionFunc func(req *types.Request)

// Complete invokes the adapted function.
func (f CompletionFunc) Complete(req *types.Request) { f(req) }
