package disk

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-vdev/internal/config"
	"github.com/deploymenttheory/go-vdev/internal/device"
	"github.com/deploymenttheory/go-vdev/internal/interfaces"
	"github.com/deploymenttheory/go-vdev/internal/label"
	"github.com/deploymenttheory/go-vdev/internal/services"
	"github.com/deploymenttheory/go-vdev/internal/topology"
	"github.com/deploymenttheory/go-vdev/internal/types"
)

const testMediaSize = 8 * 1024 * 1024

// fakeConfigLock is a pool configuration lock for tests.
type fakeConfigLock struct {
	mu   sync.Mutex
	held atomic.Bool
}

func (l *fakeConfigLock) Enter() {
	l.mu.Lock()
	l.held.Store(true)
}

func (l *fakeConfigLock) Exit() {
	l.held.Store(false)
	l.mu.Unlock()
}

func (l *fakeConfigLock) Held() bool { return l.held.Load() }

type asyncRecord struct {
	vd   *types.Vdev
	kind interfaces.AsyncKind
}

// fakePool records the calls the backend makes into the pool manager.
type fakePool struct {
	guid      uint64
	mode      interfaces.AccessMode
	loadState interfaces.LoadState
	splitting bool
	lock      fakeConfigLock

	mu     sync.Mutex
	asyncs []asyncRecord
	faults []*types.Vdev
}

func (p *fakePool) GUID() uint64 { return p.guid }

func (p *fakePool) Mode() interfaces.AccessMode { return p.mode }

func (p *fakePool) LoadState() interfaces.LoadState { return p.loadState }

func (p *fakePool) SplittingNew() bool { return p.splitting }

func (p *fakePool) ConfigLock() interfaces.ConfigLock { return &p.lock }

func (p *fakePool) AsyncRequest(vd *types.Vdev, kind interfaces.AsyncKind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.asyncs = append(p.asyncs, asyncRecord{vd: vd, kind: kind})
}

func (p *fakePool) ReportFault(vd *types.Vdev) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.faults = append(p.faults, vd)
}

func (p *fakePool) asyncCount(kind interfaces.AsyncKind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, r := range p.asyncs {
		if r.kind == kind {
			n++
		}
	}
	return n
}

func (p *fakePool) faultCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.faults)
}

// rig bundles a backend wired to an in-memory device layer.
type rig struct {
	topo  *topology.Lock
	layer *device.MemLayer
	pool  *fakePool
	queue *services.CompletionQueue
	cfg   *config.Settings
	mgr   *Manager
}

func newRig(t *testing.T, mode interfaces.AccessMode) *rig {
	t.Helper()

	topo := &topology.Lock{}
	layer := device.NewMemLayer(topo)
	t.Cleanup(layer.Stop)

	pool := &fakePool{guid: 0xB007D15C, mode: mode}
	cfg := config.Default()
	cfg.WriteClaimDelay = time.Millisecond
	queue := services.NewCompletionQueue(cfg.CompletionQueueDepth)

	return &rig{
		topo:  topo,
		layer: layer,
		pool:  pool,
		queue: queue,
		cfg:   cfg,
		mgr:   NewManager(topo, layer, pool, queue, cfg),
	}
}

// addLabeled creates a provider stamped with the identity pair.
func (r *rig) addLabeled(t *testing.T, name string, sector uint32, id types.Identity) *device.MemProvider {
	t.Helper()
	p := r.layer.AddProvider(name, sector, testMediaSize)
	require.NoError(t, label.WriteIdentity(p, testMediaSize, id))
	return p
}

// wait pulls the next completion off the queue.
func (r *rig) wait(t *testing.T) *types.Request {
	t.Helper()
	select {
	case req := <-r.queue.Requests():
		return req
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion")
		return nil
	}
}
