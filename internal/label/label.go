// File: internal/label/label.go
package label

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/deploymenttheory/go-vdev/internal/types"
)

// The identity block inside a label region. The label layout belongs to
// the pool's label subsystem; this codec only covers the slice of it
// the resolver needs: a magic, a version, and the pool/vdev GUID pair,
// little-endian, at a fixed offset past the boot and pad areas.
const (
	// Magic identifies an identity block ("VDLB" followed by a version byte era).
	Magic uint32 = 0x56444C42

	// Version is the only supported identity block version.
	Version uint32 = 1

	// IdentityOffset is where the identity block sits inside a label
	// region, past the blank and boot pad areas.
	IdentityOffset = 2 * types.LabelPadSize

	// identitySize is the encoded size of the identity block.
	identitySize = 4 + 4 + 8 + 8
)

// Codec reads and writes identity blocks. The zero value is ready to use.
type Codec struct{}

// DecodeIdentity parses the identity pair out of one raw label region.
func (Codec) DecodeIdentity(raw []byte) (types.Identity, error) {
	if len(raw) < IdentityOffset+identitySize {
		return types.Identity{}, fmt.Errorf("label region too small: %d bytes", len(raw))
	}

	block := raw[IdentityOffset:]
	magic := binary.LittleEndian.Uint32(block[0:4])
	if magic != Magic {
		return types.Identity{}, fmt.Errorf("invalid identity block magic: got 0x%08X, want 0x%08X", magic, Magic)
	}

	version := binary.LittleEndian.Uint32(block[4:8])
	if version != Version {
		return types.Identity{}, fmt.Errorf("unsupported identity block version: %d", version)
	}

	return types.Identity{
		PoolGUID: binary.LittleEndian.Uint64(block[8:16]),
		VdevGUID: binary.LittleEndian.Uint64(block[16:24]),
	}, nil
}

// EncodeIdentity renders an identity block into a label-region buffer.
func (Codec) EncodeIdentity(raw []byte, id types.Identity) error {
	if len(raw) < IdentityOffset+identitySize {
		return fmt.Errorf("label region too small: %d bytes", len(raw))
	}

	block := raw[IdentityOffset:]
	binary.LittleEndian.PutUint32(block[0:4], Magic)
	binary.LittleEndian.PutUint32(block[4:8], Version)
	binary.LittleEndian.PutUint64(block[8:16], id.PoolGUID)
	binary.LittleEndian.PutUint64(block[16:24], id.VdevGUID)
	return nil
}

// AlignedSize aligns a media size down to a whole number of label
// regions. Label offsets are computed against this, not the raw size.
func AlignedSize(mediaSize uint64) uint64 {
	return mediaSize - mediaSize%types.LabelSize
}

// Offset returns the byte offset of label l on a device whose aligned
// size is psize. The first two labels sit at the front of the device,
// the last two at the back.
func Offset(psize uint64, l int) int64 {
	if l < types.LabelCount/2 {
		return int64(l) * types.LabelSize
	}
	return int64(psize) - int64(types.LabelCount-l)*types.LabelSize
}

// WriteIdentity stamps all label copies on a device image. Tooling and
// test fixtures use it; the backend itself never writes labels.
func WriteIdentity(w io.WriterAt, mediaSize uint64, id types.Identity) error {
	psize := AlignedSize(mediaSize)
	if psize < types.LabelCount*types.LabelSize {
		return fmt.Errorf("media too small for %d labels: %d bytes", types.LabelCount, mediaSize)
	}

	region := make([]byte, types.LabelSize)
	var c Codec
	if err := c.EncodeIdentity(region, id); err != nil {
		return err
	}

	for l := 0; l < types.LabelCount; l++ {
		if _, err := w.WriteAt(region, Offset(psize, l)); err != nil {
			return fmt.Errorf("failed to write label %d: %w", l, err)
		}
	}
	return nil
}
