// File: internal/managers/disk/manager.go
package disk

import (
	"fmt"
	"math/bits"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deploymenttheory/go-vdev/internal/config"
	"github.com/deploymenttheory/go-vdev/internal/interfaces"
	"github.com/deploymenttheory/go-vdev/internal/label"
	"github.com/deploymenttheory/go-vdev/internal/topology"
	"github.com/deploymenttheory/go-vdev/internal/types"
)

// className marks providers owned by this subsystem; identity scans
// skip them to avoid self-matching.
const className = "vdev::disk"

var (
	_ interfaces.VdevOps        = (*Manager)(nil)
	_ interfaces.ConsumerEvents = (*Manager)(nil)
)

// Manager is the disk-vdev backend: it resolves physical devices,
// manages consumer bindings and their claims, dispatches pool-level I/O
// and reacts to topology events. It implements interfaces.VdevOps and
// interfaces.ConsumerEvents.
type Manager struct {
	topo *topology.Lock
	dev  interfaces.DeviceLayer
	pool interfaces.Pool
	sink interfaces.CompletionSink
	cfg  *config.Settings
	dec  interfaces.IdentityDecoder
	log  *zap.Logger

	// grp is the shared attachment-point registry. It exists while at
	// least one consumer binding does and is guarded by the topology
	// lock.
	grp *group
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger installs a structured logger; the default discards.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithIdentityDecoder overrides the label identity decoder.
func WithIdentityDecoder(d interfaces.IdentityDecoder) Option {
	return func(m *Manager) { m.dec = d }
}

// NewManager wires the backend to its collaborators. A nil cfg uses the
// built-in defaults.
func NewManager(topo *topology.Lock, dev interfaces.DeviceLayer, pool interfaces.Pool, sink interfaces.CompletionSink, cfg *config.Settings, opts ...Option) *Manager {
	if cfg == nil {
		cfg = config.Default()
	}
	m := &Manager{
		topo: topo,
		dev:  dev,
		pool: pool,
		sink: sink,
		cfg:  cfg,
		dec:  label.Codec{},
		log:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// group is the shared attachment-point object. All consumer bindings
// live in it, indexed by provider name; it is created on first attach
// and destroyed when the last binding goes away.
type group struct {
	id        uuid.UUID
	consumers map[string]*consumer
}

func newGroup() *group {
	return &group{id: uuid.New(), consumers: make(map[string]*consumer)}
}

// consumer is a device handle: one binding to a physical device,
// holding reference-counted read/write/exclusive claims on it. Claim
// counts and the vdev back-reference are guarded by the topology lock;
// the detaching flag is also read from the event handlers.
type consumer struct {
	id   uuid.UUID
	conn interfaces.Conn

	acr, acw, ace int

	// vdev is the owning vdev, weakly referenced: either side clears
	// it on detach and it never extends the vdev's lifetime.
	vdev *types.Vdev

	detaching atomic.Bool
}

// access adjusts the claims held through this binding, keeping the
// local counts in step with the device layer's grants.
func (c *consumer) access(dr, dw, de int) error {
	if err := c.conn.Access(dr, dw, de); err != nil {
		return err
	}
	c.acr += dr
	c.acw += dw
	c.ace += de
	return nil
}

// provider returns the physical device behind the binding.
func (c *consumer) provider() interfaces.Provider {
	return c.conn.Provider()
}

// lookup maps a connection back to its consumer binding. Topology lock
// held.
func (m *Manager) lookup(c interfaces.Conn) *consumer {
	if m.grp == nil {
		return nil
	}
	return m.grp.consumers[c.Provider().Name()]
}

// Open binds vd to its physical device. The device is found by the
// stored path when its label identity checks out, by an identity scan
// of all providers otherwise, and as a last resort by the stored path
// without identity proof when policy allows. The topology lock covers
// the whole resolution and bind sequence; a held pool configuration
// lock is released around it to keep the topology-then-config lock
// order.
func (m *Manager) Open(vd *types.Vdev) (interfaces.OpenResult, error) {
	if !strings.HasPrefix(vd.Path(), "/") {
		vd.SetAux(types.AuxBadLabel)
		return interfaces.OpenResult{}, fmt.Errorf("%w: vdev path %q is not absolute", types.ErrInvalid, vd.Path())
	}

	vd.ClearHandle()

	cl := m.pool.ConfigLock()
	heldConfig := cl.Held()
	if heldConfig {
		cl.Exit()
	}
	m.topo.Lock()

	// Try the recorded path, accepting it only if the label identity
	// matches.
	cp := m.openByPath(vd, true)
	if cp == nil {
		// The device at vd.Path doesn't carry the expected identity.
		// The disks may merely have moved around, so scan every other
		// provider for one with the right identity.
		cp = m.openByIdentity(vd)
	}
	if cp == nil && m.cfg.AllowUnverifiedPath &&
		((vd.PrevState == types.StateUnknown && m.pool.LoadState() == interfaces.LoadNone) ||
			m.pool.SplittingNew()) {
		// A vdev never opened this boot, outside a pool load (a fresh
		// add), or a pool split in progress: take the stored path even
		// without identity proof. Safety here rests on the caller.
		cp = m.openByPath(vd, false)
	}

	var err error
	if cp == nil {
		m.log.Debug("provider not found", zap.String("path", vd.Path()))
		err = fmt.Errorf("%w: %s", types.ErrNotFound, vd.Path())
	} else if pp := cp.provider(); !validSectorSize(pp.SectorSize()) {
		m.log.Debug("unsupported sector size",
			zap.String("provider", pp.Name()),
			zap.Uint32("sectorsize", pp.SectorSize()))
		m.detach(cp)
		cp = nil
		err = fmt.Errorf("%w: unsupported sector size %d on %s", types.ErrInvalid, pp.SectorSize(), pp.Name())
	} else if cp.acw == 0 && m.pool.Mode()&interfaces.ModeWrite != 0 {
		for i := 0; i < m.cfg.WriteClaimAttempts; i++ {
			err = cp.access(0, 1, 0)
			if err == nil {
				break
			}
			m.topo.Unlocked(func() {
				time.Sleep(m.cfg.WriteClaimDelay)
			})
		}
		if err != nil {
			m.log.Warn("unable to open for writing",
				zap.String("path", vd.Path()), zap.Error(err))
			m.detach(cp)
			cp = nil
		}
	}

	m.topo.Unlock()
	if heldConfig {
		cl.Enter()
	}

	if cp == nil {
		vd.SetAux(types.AuxOpenFailed)
		return interfaces.OpenResult{}, err
	}

	vd.SetHandle(cp)
	vd.SetAux(types.AuxNone)

	pp := cp.provider()
	res := interfaces.OpenResult{
		PhysicalSize:    pp.MediaSize(),
		MaxPhysicalSize: pp.MediaSize(),
		Ashift:          ashift(pp.SectorSize()),
	}

	// Renegotiate flush and trim support on every open.
	vd.ClearCapabilities()

	return res, nil
}

// Close releases vd's binding. Idempotent: a closed vdev is a no-op.
func (m *Manager) Close(vd *types.Vdev) {
	cp, _ := vd.Handle().(*consumer)
	if cp == nil {
		return
	}
	m.topo.Lock()
	vd.ClearHandle()
	m.detach(cp)
	m.topo.Unlock()
}

// Done is a post-completion hook, reserved for future bookkeeping.
func (m *Manager) Done(req *types.Request) {}

// Hold is a reference-accounting hook owned by the pool manager.
func (m *Manager) Hold(vd *types.Vdev) {}

// Rele is a reference-accounting hook owned by the pool manager.
func (m *Manager) Rele(vd *types.Vdev) {}

// ashift returns log2(max(sector size, pool minimum block size)).
func ashift(sectorSize uint32) uint64 {
	s := uint64(sectorSize)
	if s < types.MinBlockSize {
		s = types.MinBlockSize
	}
	return uint64(bits.Len64(s) - 1)
}

// validSectorSize accepts power-of-two sectors no larger than the label
// pad: label and transfer framing assume this bound.
func validSectorSize(s uint32) bool {
	return s > 0 && s&(s-1) == 0 && s <= types.LabelPadSize
}
