// File: internal/types/errors.go
package types

import "errors"

// Error taxonomy for resolution, open and transfer failures. Callers
// classify with errors.Is; open-path errors may arrive wrapped with
// path or provider context.
var (
	// ErrNotFound: no device matching the vdev's path or identity exists.
	ErrNotFound = errors.New("no matching device found")

	// ErrInvalid: missing/relative device path or unsupported sector
	// geometry (non-power-of-two, or larger than the label pad bound).
	ErrInvalid = errors.New("invalid device configuration")

	// ErrBusy: an access claim could not be granted.
	ErrBusy = errors.New("device busy")

	// ErrNotSupported: the device negotiated away an optional
	// operation (cache flush, trim); latched sticky per open handle.
	ErrNotSupported = errors.New("operation not supported")

	// ErrIO: a transfer failed outright or moved fewer bytes than
	// requested.
	ErrIO = errors.New("i/o error")

	// ErrNoDevice: the vdev has no usable binding (closed, or the
	// device is gone).
	ErrNoDevice = errors.New("no such device")
)
