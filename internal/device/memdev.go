// File: internal/device/memdev.go
package device

import (
	"fmt"
	"sync"

	"github.com/deploymenttheory/go-vdev/internal/interfaces"
	"github.com/deploymenttheory/go-vdev/internal/topology"
	"github.com/deploymenttheory/go-vdev/internal/types"
)

// MemLayer is an in-memory device layer with claim accounting, a single
// completion thread and injectable faults. Tests and the simulator use
// it where real hardware would sit; provider removal and attribute
// changes are delivered to consumers the same way the real topology
// subsystem would deliver them, holding the topology lock.
type MemLayer struct {
	topo      *topology.Lock
	providers map[string]*MemProvider

	work chan task
	wg   sync.WaitGroup
}

type task struct {
	p *MemProvider
	t *types.Transfer
}

var (
	_ interfaces.DeviceLayer = (*MemLayer)(nil)
	_ interfaces.Provider    = (*MemProvider)(nil)
	_ interfaces.Conn        = (*memConn)(nil)
)

// NewMemLayer returns a running layer. Stop must be called to shut the
// completion thread down.
func NewMemLayer(topo *topology.Lock) *MemLayer {
	ml := &MemLayer{
		topo:      topo,
		providers: make(map[string]*MemProvider),
		work:      make(chan task, 64),
	}
	ml.wg.Add(1)
	go ml.completionLoop()
	return ml
}

// completionLoop executes transfers and invokes their Done callbacks
// one at a time, in submission order.
func (ml *MemLayer) completionLoop() {
	defer ml.wg.Done()
	for tk := range ml.work {
		tk.p.execute(tk.t)
		if tk.t.Done != nil {
			tk.t.Done(tk.t)
		}
	}
}

// Stop drains and stops the completion thread.
func (ml *MemLayer) Stop() {
	close(ml.work)
	ml.wg.Wait()
}

// AddProvider creates a provider backed by a zeroed in-memory image.
// Topology lock held (or the layer not yet shared).
func (ml *MemLayer) AddProvider(name string, sectorSize uint32, mediaSize uint64) *MemProvider {
	p := &MemProvider{
		layer:        ml,
		name:         name,
		class:        "memdisk",
		sector:       sectorSize,
		data:         make([]byte, mediaSize),
		attrs:        make(map[string]string),
		failReadFrom: -1,
	}
	ml.providers[name] = p
	return p
}

// RemoveProvider simulates device removal: the provider withers, its
// fault indicator is set, and every attached consumer is orphaned.
func (ml *MemLayer) RemoveProvider(name string) {
	ml.topo.Lock()
	defer ml.topo.Unlock()

	p, ok := ml.providers[name]
	if !ok {
		return
	}
	p.mu.Lock()
	p.withering = true
	p.err = types.ErrNoDevice
	conns := append([]*memConn(nil), p.conns...)
	p.mu.Unlock()
	delete(ml.providers, name)

	for _, c := range conns {
		if c.events != nil {
			c.events.Orphan(c)
		}
	}
}

// SetAttr updates a device attribute and notifies attached consumers.
func (ml *MemLayer) SetAttr(name, attr, value string) {
	ml.topo.Lock()
	defer ml.topo.Unlock()

	p, ok := ml.providers[name]
	if !ok {
		return
	}
	p.mu.Lock()
	p.attrs[attr] = value
	conns := append([]*memConn(nil), p.conns...)
	p.mu.Unlock()

	for _, c := range conns {
		if c.events != nil {
			c.events.AttrChanged(c, attr)
		}
	}
}

// Providers enumerates the layer's devices. Topology lock held.
func (ml *MemLayer) Providers() []interfaces.Provider {
	out := make([]interfaces.Provider, 0, len(ml.providers))
	for _, p := range ml.providers {
		out = append(out, p)
	}
	return out
}

// ProviderByName finds a device by name. Topology lock held.
func (ml *MemLayer) ProviderByName(name string) (interfaces.Provider, bool) {
	p, ok := ml.providers[name]
	return p, ok
}

// Attach creates a consumer connection to p. Topology lock held.
func (ml *MemLayer) Attach(pp interfaces.Provider, events interfaces.ConsumerEvents) (interfaces.Conn, error) {
	p, ok := pp.(*MemProvider)
	if !ok || p.layer != ml {
		return nil, fmt.Errorf("%w: foreign provider %s", types.ErrInvalid, pp.Name())
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.withering {
		return nil, types.ErrNoDevice
	}
	c := &memConn{p: p, events: events}
	p.conns = append(p.conns, c)
	return c, nil
}

// TransferRecord is the trace of one executed transfer, kept so tests
// can assert on chunking and framing.
type TransferRecord struct {
	Cmd     types.TransferCmd
	Offset  int64
	Length  int64
	Ordered bool
}

// MemProvider is one simulated block device.
type MemProvider struct {
	layer  *MemLayer
	name   string
	class  string
	sector uint32

	mu        sync.Mutex
	data      []byte
	attrs     map[string]string
	conns     []*memConn
	err       error
	withering bool

	acr, acw, ace int

	history []TransferRecord

	// Fault injection, all nil/false by default.
	denyWrite    bool
	readErr      error
	writeErr     error
	flushErr     error
	trimErr      error
	shortRead    int64
	failReadFrom int64
}

// Name implements interfaces.Provider.
func (p *MemProvider) Name() string { return p.name }

// MediaSize implements interfaces.Provider.
func (p *MemProvider) MediaSize() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return uint64(len(p.data))
}

// SectorSize implements interfaces.Provider.
func (p *MemProvider) SectorSize() uint32 { return p.sector }

// Class implements interfaces.Provider.
func (p *MemProvider) Class() string { return p.class }

// Err implements interfaces.Provider.
func (p *MemProvider) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Withering implements interfaces.Provider.
func (p *MemProvider) Withering() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.withering
}

// SetClass overrides the provider's owning class (scan-exclusion tests).
func (p *MemProvider) SetClass(class string) { p.class = class }

// SetFault sets the provider's fault indicator.
func (p *MemProvider) SetFault(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// SetDenyWrite makes write-claim requests fail busy.
func (p *MemProvider) SetDenyWrite(deny bool) {
	p.mu.Lock()
	p.denyWrite = deny
	p.mu.Unlock()
}

// FailReads makes read transfers complete with err.
func (p *MemProvider) FailReads(err error) {
	p.mu.Lock()
	p.readErr = err
	p.mu.Unlock()
}

// FailWrites makes write transfers complete with err.
func (p *MemProvider) FailWrites(err error) {
	p.mu.Lock()
	p.writeErr = err
	p.mu.Unlock()
}

// FailFlush makes flush transfers complete with err.
func (p *MemProvider) FailFlush(err error) {
	p.mu.Lock()
	p.flushErr = err
	p.mu.Unlock()
}

// FailTrim makes delete transfers complete with err.
func (p *MemProvider) FailTrim(err error) {
	p.mu.Lock()
	p.trimErr = err
	p.mu.Unlock()
}

// ShortReads makes read transfers leave n residual bytes.
func (p *MemProvider) ShortReads(n int64) {
	p.mu.Lock()
	p.shortRead = n
	p.mu.Unlock()
}

// FailReadsAt makes read transfers at or past offset fail with an I/O
// error, leaving earlier reads intact.
func (p *MemProvider) FailReadsAt(offset int64) {
	p.mu.Lock()
	p.failReadFrom = offset
	p.mu.Unlock()
}

// Transfers returns the executed-transfer trace.
func (p *MemProvider) Transfers() []TransferRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]TransferRecord(nil), p.history...)
}

// ClearTransfers resets the executed-transfer trace.
func (p *MemProvider) ClearTransfers() {
	p.mu.Lock()
	p.history = nil
	p.mu.Unlock()
}

// Claims returns the aggregate granted (read, write, exclusive) counts.
func (p *MemProvider) Claims() (int, int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acr, p.acw, p.ace
}

// ReadAt implements io.ReaderAt over the provider image, for fixtures.
func (p *MemProvider) ReadAt(b []byte, off int64) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if off < 0 || off >= int64(len(p.data)) {
		return 0, fmt.Errorf("read beyond media at %d", off)
	}
	n := copy(b, p.data[off:])
	return n, nil
}

// WriteAt implements io.WriterAt over the provider image, for fixtures
// (label stamping in particular).
func (p *MemProvider) WriteAt(b []byte, off int64) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if off < 0 || off+int64(len(b)) > int64(len(p.data)) {
		return 0, fmt.Errorf("write beyond media at %d+%d", off, len(b))
	}
	n := copy(p.data[off:], b)
	return n, nil
}

// execute runs one transfer against the image on the completion thread.
func (p *MemProvider) execute(t *types.Transfer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.history = append(p.history, TransferRecord{
		Cmd:     t.Cmd,
		Offset:  t.Offset,
		Length:  t.Length,
		Ordered: t.Ordered,
	})

	if p.withering {
		t.Err = types.ErrNoDevice
		return
	}

	switch t.Cmd {
	case types.CmdRead:
		if p.readErr != nil {
			t.Err = p.readErr
			return
		}
		if p.failReadFrom >= 0 && t.Offset >= p.failReadFrom {
			t.Err = types.ErrIO
			return
		}
		if t.Offset < 0 || t.Offset+t.Length > int64(len(p.data)) {
			t.Err = types.ErrIO
			return
		}
		copy(t.Data[:t.Length], p.data[t.Offset:t.Offset+t.Length])
		if p.shortRead > 0 {
			t.Resid = p.shortRead
		}

	case types.CmdWrite:
		if p.writeErr != nil {
			t.Err = p.writeErr
			return
		}
		if t.Offset < 0 || t.Offset+t.Length > int64(len(p.data)) {
			t.Err = types.ErrIO
			return
		}
		copy(p.data[t.Offset:t.Offset+t.Length], t.Data[:t.Length])

	case types.CmdFlush:
		t.Err = p.flushErr

	case types.CmdDelete:
		if p.trimErr != nil {
			t.Err = p.trimErr
			return
		}
		if t.Offset < 0 || t.Offset+t.Length > int64(len(p.data)) {
			t.Err = types.ErrIO
			return
		}
		zero := make([]byte, t.Length)
		copy(p.data[t.Offset:t.Offset+t.Length], zero)

	default:
		t.Err = types.ErrNotSupported
	}
}

// memConn is an attached consumer connection.
type memConn struct {
	p      *MemProvider
	events interfaces.ConsumerEvents

	acr, acw, ace int
}

// Provider implements interfaces.Conn.
func (c *memConn) Provider() interfaces.Provider { return c.p }

// Access implements interfaces.Conn with aggregate claim accounting:
// positive deltas are refused on a withering device, and write claims
// are refused busy while the provider is deny-write.
func (c *memConn) Access(dr, dw, de int) error {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()

	if (dr > 0 || dw > 0 || de > 0) && c.p.withering {
		return types.ErrNoDevice
	}
	if dw > 0 && c.p.denyWrite {
		return fmt.Errorf("%w: %s", types.ErrBusy, c.p.name)
	}
	if c.acr+dr < 0 || c.acw+dw < 0 || c.ace+de < 0 {
		return fmt.Errorf("%w: claim release below zero on %s", types.ErrInvalid, c.p.name)
	}

	c.acr += dr
	c.acw += dw
	c.ace += de
	c.p.acr += dr
	c.p.acw += dw
	c.p.ace += de
	return nil
}

// Submit implements interfaces.Conn: the transfer is queued to the
// layer's completion thread.
func (c *memConn) Submit(t *types.Transfer) {
	c.p.layer.work <- task{p: c.p, t: t}
}

// ReadAttr implements interfaces.Conn.
func (c *memConn) ReadAttr(name string) (string, error) {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	v, ok := c.p.attrs[name]
	if !ok {
		return "", fmt.Errorf("%w: attribute %s", types.ErrNotSupported, name)
	}
	return v, nil
}

// Detach implements interfaces.Conn.
func (c *memConn) Detach() {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	for i, other := range c.p.conns {
		if other == c {
			c.p.conns = append(c.p.conns[:i], c.p.conns[i+1:]...)
			break
		}
	}
}
