// File: internal/interfaces/device_layer.go
package interfaces

import (
	"github.com/deploymenttheory/go-vdev/internal/types"
)

// AttrPhysPath is the device attribute carrying physical-path metadata.
// It is the only attribute the event handlers react to.
const AttrPhysPath = "physpath"

// Provider is the device layer's view of one physical block device.
// Enumeration and the metadata accessors require the topology lock.
type Provider interface {
	// Name is the provider's stable name within the device layer
	// (the device path is "/dev/" + Name).
	Name() string

	// MediaSize returns the device capacity in bytes.
	MediaSize() uint64

	// SectorSize returns the device's native sector size in bytes.
	SectorSize() uint32

	// Class names the subsystem that created the provider. Identity
	// scans skip providers belonging to the scanner's own class.
	Class() string

	// Err returns the provider's fault indicator. A non-nil value
	// means the device layer considers the device failed or going away.
	Err() error

	// Withering reports that the provider is being torn down and must
	// not be selected by scans.
	Withering() bool
}

// Conn is an attached consumer-side connection to a provider. Access
// and Detach require the topology lock; Submit and ReadAttr do not.
type Conn interface {
	// Provider returns the provider this connection is attached to.
	Provider() Provider

	// Access adjusts the read/write/exclusive claim deltas held
	// through this connection. It is non-blocking and returns
	// types.ErrBusy (possibly wrapped) when the device cannot grant
	// the claim right now.
	Access(dr, dw, de int) error

	// Submit issues an asynchronous transfer. The transfer's Done
	// callback runs on the device layer's completion thread.
	Submit(t *types.Transfer)

	// ReadAttr synchronously reads a named device attribute.
	ReadAttr(name string) (string, error)

	// Detach severs the connection. All claims must have been
	// released first.
	Detach()
}

// ConsumerEvents receives asynchronous topology notifications for the
// connections attached through a DeviceLayer. The device layer invokes
// both entry points on its own event thread with the topology lock
// already held; implementations must not block or perform pool I/O.
type ConsumerEvents interface {
	// Orphan fires when the provider behind the connection disappears.
	Orphan(c Conn)

	// AttrChanged fires when a device attribute changes.
	AttrChanged(c Conn, attr string)
}

// DeviceLayer is the block/device subsystem consumed by the attachment
// manager: provider enumeration plus connection establishment. All
// methods require the topology lock.
type DeviceLayer interface {
	// Providers enumerates every physical device known to the system.
	Providers() []Provider

	// ProviderByName finds a provider by its layer name.
	ProviderByName(name string) (Provider, bool)

	// Attach creates a consumer connection to the provider, delivering
	// future topology events for it to the given handler.
	Attach(p Provider, events ConsumerEvents) (Conn, error)
}
