// File: internal/managers/disk/events.go
package disk

import (
	"go.uber.org/zap"

	"github.com/deploymenttheory/go-vdev/internal/interfaces"
)

// Orphan handles a device-gone notification from the device layer's
// event thread, topology lock held. In-flight I/O must retire before
// the consumer can be detached, and quiescing it here would require the
// pool configuration lock in the wrong order; instead the vdev is
// marked for removal and the pool manager closes it once it is safe.
func (m *Manager) Orphan(c interfaces.Conn) {
	m.topo.AssertHeld()

	cp := m.lookup(c)
	if cp == nil {
		return
	}
	vd := cp.vdev
	if vd == nil || cp.detaching.Load() {
		// Vdev close in progress. Ignore the event.
		return
	}

	m.log.Debug("provider orphaned", zap.String("provider", c.Provider().Name()))
	vd.SetRemoveWanted()
	m.pool.AsyncRequest(vd, interfaces.AsyncRemove)
}

// AttrChanged re-reads the physical-path attribute when the device layer
// reports it changed, replacing the vdev's cached copy and posting a
// config-update notice. Runs with the topology lock held; any other
// attribute is ignored. The cached path is swapped under the pool
// configuration lock, dropping the topology lock around it unless the
// caller already holds config.
func (m *Manager) AttrChanged(c interfaces.Conn, attr string) {
	m.topo.AssertHeld()

	if attr != interfaces.AttrPhysPath {
		return
	}

	cp := m.lookup(c)
	if cp == nil {
		return
	}
	vd := cp.vdev
	if vd == nil || cp.detaching.Load() {
		return
	}

	if err := cp.access(1, 0, 0); err != nil {
		return
	}
	physPath, err := c.ReadAttr(interfaces.AttrPhysPath)
	_ = cp.access(-1, 0, 0)
	if err != nil || physPath == "" {
		return
	}

	cl := m.pool.ConfigLock()
	if cl.Held() {
		vd.SetPhysPath(physPath)
	} else {
		m.topo.Unlocked(func() {
			cl.Enter()
			vd.SetPhysPath(physPath)
			cl.Exit()
		})
	}

	m.log.Debug("physical path updated",
		zap.String("provider", c.Provider().Name()),
		zap.String("physpath", physPath))
	m.pool.AsyncRequest(vd, interfaces.AsyncConfigUpdate)
}
