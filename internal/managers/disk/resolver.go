// File: internal/managers/disk/resolver.go
package disk

import (
	"strings"

	"go.uber.org/zap"

	"github.com/deploymenttheory/go-vdev/internal/interfaces"
	"github.com/deploymenttheory/go-vdev/internal/label"
	"github.com/deploymenttheory/go-vdev/internal/types"
)

// tasteEvents guards the short-lived connections the identity scan
// uses: they must never observe topology events.
type tasteEvents struct{}

func (tasteEvents) Orphan(c interfaces.Conn) {
	panic("taste consumer orphaned: " + c.Provider().Name())
}

func (tasteEvents) AttrChanged(interfaces.Conn, string) {}

// wantedIdentity is the identity vd's device must carry.
func (m *Manager) wantedIdentity(vd *types.Vdev) types.Identity {
	return types.Identity{PoolGUID: m.pool.GUID(), VdevGUID: vd.GUID}
}

// openByPath attaches to the provider named by vd's stored path. With
// checkIdentity set, the on-media identity must match exactly for
// devices whose sector geometry permits a label read; a mismatch
// detaches and reports failure. Topology lock held.
func (m *Manager) openByPath(vd *types.Vdev, checkIdentity bool) *consumer {
	m.topo.AssertHeld()

	pp, ok := m.dev.ProviderByName(providerName(vd.Path()))
	if !ok {
		return nil
	}
	m.log.Debug("found provider by name", zap.String("path", vd.Path()))

	cp, err := m.attach(pp, vd)
	if err != nil {
		m.log.Debug("attach failed",
			zap.String("provider", pp.Name()), zap.Error(err))
		return nil
	}

	if checkIdentity {
		if !validSectorSize(pp.SectorSize()) {
			m.detach(cp)
			m.log.Debug("unsupported sector size for provider",
				zap.String("path", vd.Path()),
				zap.Uint32("sectorsize", pp.SectorSize()))
			return nil
		}
		want := m.wantedIdentity(vd)
		var got types.Identity
		m.topo.Unlocked(func() {
			got = m.readIdentity(cp)
		})
		if !got.Matches(want) {
			m.detach(cp)
			m.log.Debug("identity mismatch for provider",
				zap.String("path", vd.Path()),
				zap.Uint64("want_pool", want.PoolGUID),
				zap.Uint64("want_vdev", want.VdevGUID),
				zap.Uint64("got_pool", got.PoolGUID),
				zap.Uint64("got_vdev", got.VdevGUID))
			return nil
		}
		m.log.Debug("identity match for provider", zap.String("path", vd.Path()))
	}

	return cp
}

// openByIdentity scans every provider in the system for vd's identity,
// tasting each with a transient read-only connection. On a match it
// attaches for real and rebinds vd's path to the device actually found.
// Topology lock held; it is dropped around each label read.
func (m *Manager) openByIdentity(vd *types.Vdev) *consumer {
	m.topo.AssertHeld()

	want := m.wantedIdentity(vd)
	m.log.Debug("searching by identity",
		zap.Uint64("pool", want.PoolGUID), zap.Uint64("vdev", want.VdevGUID))

	for _, pp := range m.dev.Providers() {
		if pp.Withering() || pp.Class() == className {
			continue
		}
		if !validSectorSize(pp.SectorSize()) {
			continue
		}

		conn, err := m.dev.Attach(pp, tasteEvents{})
		if err != nil {
			continue
		}
		taste := &consumer{conn: conn}
		if err := taste.access(1, 0, 0); err != nil {
			conn.Detach()
			continue
		}
		var got types.Identity
		m.topo.Unlocked(func() {
			got = m.readIdentity(taste)
		})
		_ = taste.access(-1, 0, 0)
		conn.Detach()

		if !got.Matches(want) {
			continue
		}

		cp, err := m.attach(pp, vd)
		if err != nil {
			m.log.Warn("unable to attach matched provider",
				zap.String("provider", pp.Name()), zap.Error(err))
			continue
		}

		vd.SetPath("/dev/" + pp.Name())
		m.log.Debug("identity scan succeeded",
			zap.String("path", vd.Path()))
		return cp
	}

	m.log.Debug("identity scan failed",
		zap.Uint64("pool", want.PoolGUID), zap.Uint64("vdev", want.VdevGUID))
	return nil
}

// readIdentity reads vd's candidate device labels and extracts the
// identity pair. Called with the topology lock dropped: label reads
// block the calling thread. Any label that is unreadable, misaligned or
// undecodable is skipped; the first complete identity wins.
func (m *Manager) readIdentity(cp *consumer) types.Identity {
	pp := cp.provider()
	m.log.Debug("reading identity labels", zap.String("provider", pp.Name()))

	psize := label.AlignedSize(pp.MediaSize())
	sector := int64(pp.SectorSize())
	if sector == 0 || psize < types.LabelCount*types.LabelSize {
		return types.Identity{}
	}

	size := int64(types.LabelSize)
	if rem := size % sector; rem != 0 {
		size += sector - rem
	}
	buf := make([]byte, size)

	for l := 0; l < types.LabelCount; l++ {
		offset := label.Offset(psize, l)
		if offset < 0 || offset%sector != 0 || offset+size > int64(pp.MediaSize()) {
			continue
		}
		if err := m.syncRead(cp, buf, offset); err != nil {
			continue
		}
		id, err := m.dec.DecodeIdentity(buf)
		if err != nil {
			continue
		}
		if id.Complete() {
			m.log.Debug("read identity",
				zap.String("provider", pp.Name()),
				zap.Uint64("pool", id.PoolGUID),
				zap.Uint64("vdev", id.VdevGUID))
			return id
		}
	}

	return types.Identity{}
}

// syncRead reads into data at offset, chunked to the maximum transfer
// size and waited on chunk by chunk. Only the resolution path uses it;
// steady-state dispatch never blocks.
func (m *Manager) syncRead(cp *consumer, data []byte, offset int64) error {
	maxio := maxTransfer(cp.provider().SectorSize())

	for issued := int64(0); issued < int64(len(data)); {
		n := int64(len(data)) - issued
		if n > maxio {
			n = maxio
		}

		t := &types.Transfer{
			Cmd:    types.CmdRead,
			Offset: offset + issued,
			Length: n,
			Data:   data[issued : issued+n],
		}
		done := make(chan struct{})
		t.Done = func(*types.Transfer) { close(done) }
		cp.conn.Submit(t)
		<-done

		if t.Err != nil {
			return t.Err
		}
		if t.Resid != 0 {
			return types.ErrIO
		}
		issued += n
	}
	return nil
}

// providerName strips the device directory from a vdev path.
func providerName(path string) string {
	return strings.TrimPrefix(path, "/dev/")
}
