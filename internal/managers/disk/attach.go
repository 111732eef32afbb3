// File: internal/managers/disk/attach.go
package disk

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deploymenttheory/go-vdev/internal/interfaces"
	"github.com/deploymenttheory/go-vdev/internal/types"
)

// attach establishes a consumer binding to pp on behalf of vd, reusing
// an existing binding to the same provider when this subsystem already
// holds one. A read and an exclusive claim are taken immediately so the
// device cannot disappear mid-resolution. Topology lock held.
func (m *Manager) attach(pp interfaces.Provider, vd *types.Vdev) (*consumer, error) {
	m.topo.AssertHeld()

	m.log.Debug("attaching", zap.String("provider", pp.Name()))

	freshGroup := false
	if m.grp == nil {
		m.grp = newGroup()
		freshGroup = true
	}

	cp := m.grp.consumers[pp.Name()]
	if cp == nil {
		conn, err := m.dev.Attach(pp, m)
		if err != nil {
			if freshGroup {
				m.grp = nil
			}
			return nil, err
		}
		cp = &consumer{id: uuid.New(), conn: conn}
		if err := cp.access(1, 0, 1); err != nil {
			conn.Detach()
			if freshGroup {
				m.grp = nil
			}
			return nil, err
		}
		m.grp.consumers[pp.Name()] = cp
		m.log.Debug("created consumer",
			zap.String("provider", pp.Name()),
			zap.String("consumer", cp.id.String()))
	} else {
		if err := cp.access(1, 0, 1); err != nil {
			return nil, err
		}
		m.log.Debug("reused consumer",
			zap.String("provider", pp.Name()),
			zap.String("consumer", cp.id.String()))
	}

	cp.vdev = vd
	cp.detaching.Store(false)

	// Populate the physical path right away.
	m.AttrChanged(cp.conn, interfaces.AttrPhysPath)

	return cp, nil
}

// detach drops one read/exclusive claim pair, destroying the binding on
// last release and the group when no bindings remain. The vdev
// back-reference is cleared before any claim is released, so a removal
// notification firing concurrently observes no owner and becomes a
// no-op. The handle side of the link is the caller's to clear.
// Topology lock held.
func (m *Manager) detach(cp *consumer) {
	m.topo.AssertHeld()

	pp := cp.provider()
	m.log.Debug("closing access", zap.String("provider", pp.Name()))

	cp.detaching.Store(true)
	cp.vdev = nil

	_ = cp.access(-1, 0, -1)

	if cp.acr == 0 && cp.ace == 0 {
		if cp.acw > 0 {
			_ = cp.access(0, -cp.acw, 0)
		}
		cp.conn.Detach()
		delete(m.grp.consumers, pp.Name())
		m.log.Debug("destroyed consumer",
			zap.String("provider", pp.Name()),
			zap.String("consumer", cp.id.String()))
		if len(m.grp.consumers) == 0 {
			m.log.Debug("destroyed group", zap.String("group", m.grp.id.String()))
			m.grp = nil
		}
	} else {
		cp.detaching.Store(false)
	}
}
