// File: internal/device/filedev.go
package device

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/deploymenttheory/go-vdev/internal/interfaces"
	"github.com/deploymenttheory/go-vdev/internal/types"
)

// DefaultSectorSize is assumed for disk images that carry no geometry
// of their own.
const DefaultSectorSize = 512

var (
	_ interfaces.DeviceLayer = (*FileLayer)(nil)
	_ interfaces.Provider    = (*FileProvider)(nil)
	_ interfaces.Conn        = (*fileConn)(nil)
)

// FileLayer exposes raw disk image files as providers. It backs the CLI
// and anything else that wants to run the full open/resolve/dispatch
// path against media on disk. Image files never disappear underneath
// it, so it delivers no topology events.
type FileLayer struct {
	providers map[string]*FileProvider
}

// NewFileLayer returns an empty layer.
func NewFileLayer() *FileLayer {
	return &FileLayer{providers: make(map[string]*FileProvider)}
}

// AddImage opens a disk image and registers it as a provider named
// after its base name. The image is opened read-write when permissions
// allow, read-only otherwise.
func (fl *FileLayer) AddImage(path string, sectorSize uint32) (*FileProvider, error) {
	if sectorSize == 0 {
		sectorSize = DefaultSectorSize
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve image path: %w", err)
	}

	readOnly := false
	file, err := os.OpenFile(abs, os.O_RDWR, 0)
	if err != nil {
		file, err = os.Open(abs)
		if err != nil {
			return nil, fmt.Errorf("failed to open image file: %w", err)
		}
		readOnly = true
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat image file: %w", err)
	}

	p := &FileProvider{
		name:     filepath.Base(abs),
		path:     abs,
		file:     file,
		size:     uint64(stat.Size()),
		sector:   sectorSize,
		readOnly: readOnly,
	}
	fl.providers[p.name] = p
	return p, nil
}

// Close releases every image file.
func (fl *FileLayer) Close() error {
	var firstErr error
	for _, p := range fl.providers {
		if err := p.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Providers implements interfaces.DeviceLayer.
func (fl *FileLayer) Providers() []interfaces.Provider {
	out := make([]interfaces.Provider, 0, len(fl.providers))
	for _, p := range fl.providers {
		out = append(out, p)
	}
	return out
}

// ProviderByName implements interfaces.DeviceLayer.
func (fl *FileLayer) ProviderByName(name string) (interfaces.Provider, bool) {
	p, ok := fl.providers[name]
	return p, ok
}

// Attach implements interfaces.DeviceLayer. Events are accepted but
// never fire: image files have no removal or attribute notifications.
func (fl *FileLayer) Attach(pp interfaces.Provider, events interfaces.ConsumerEvents) (interfaces.Conn, error) {
	p, ok := pp.(*FileProvider)
	if !ok {
		return nil, fmt.Errorf("%w: foreign provider %s", types.ErrInvalid, pp.Name())
	}
	return &fileConn{p: p}, nil
}

// FileProvider is one disk image.
type FileProvider struct {
	name     string
	path     string
	file     *os.File
	size     uint64
	sector   uint32
	readOnly bool

	mu  sync.Mutex
	acw int
}

// Name implements interfaces.Provider.
func (p *FileProvider) Name() string { return p.name }

// MediaSize implements interfaces.Provider.
func (p *FileProvider) MediaSize() uint64 { return p.size }

// SectorSize implements interfaces.Provider.
func (p *FileProvider) SectorSize() uint32 { return p.sector }

// Class implements interfaces.Provider.
func (p *FileProvider) Class() string { return "file" }

// Err implements interfaces.Provider.
func (p *FileProvider) Err() error { return nil }

// Withering implements interfaces.Provider.
func (p *FileProvider) Withering() bool { return false }

// fileConn is an attached connection to an image provider.
type fileConn struct {
	p *FileProvider

	mu            sync.Mutex
	acr, acw, ace int
}

// Provider implements interfaces.Conn.
func (c *fileConn) Provider() interfaces.Provider { return c.p }

// Access implements interfaces.Conn. Write claims on a read-only image
// fail busy.
func (c *fileConn) Access(dr, dw, de int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if dw > 0 && c.p.readOnly {
		return fmt.Errorf("%w: %s is read-only", types.ErrBusy, c.p.name)
	}
	if c.acr+dr < 0 || c.acw+dw < 0 || c.ace+de < 0 {
		return fmt.Errorf("%w: claim release below zero on %s", types.ErrInvalid, c.p.name)
	}

	c.acr += dr
	c.acw += dw
	c.ace += de

	c.p.mu.Lock()
	c.p.acw += dw
	c.p.mu.Unlock()
	return nil
}

// Submit implements interfaces.Conn. Transfers run on their own
// goroutine; ordering within one logical request is preserved by the
// dispatcher's chunk chaining.
func (c *fileConn) Submit(t *types.Transfer) {
	go func() {
		c.execute(t)
		if t.Done != nil {
			t.Done(t)
		}
	}()
}

func (c *fileConn) execute(t *types.Transfer) {
	switch t.Cmd {
	case types.CmdRead:
		n, err := c.p.file.ReadAt(t.Data[:t.Length], t.Offset)
		if err != nil && int64(n) < t.Length {
			t.Resid = t.Length - int64(n)
			t.Err = fmt.Errorf("%w: %v", types.ErrIO, err)
		}
	case types.CmdWrite:
		if c.p.readOnly {
			t.Err = types.ErrIO
			return
		}
		n, err := c.p.file.WriteAt(t.Data[:t.Length], t.Offset)
		if err != nil {
			t.Resid = t.Length - int64(n)
			t.Err = fmt.Errorf("%w: %v", types.ErrIO, err)
		}
	case types.CmdFlush:
		if err := c.p.file.Sync(); err != nil {
			t.Err = fmt.Errorf("%w: %v", types.ErrIO, err)
		}
	case types.CmdDelete:
		// Punching holes in image files is not supported; negotiation
		// latches this away after the first attempt.
		t.Err = types.ErrNotSupported
	default:
		t.Err = types.ErrNotSupported
	}
}

// ReadAttr implements interfaces.Conn. The physical path of an image is
// its absolute file path.
func (c *fileConn) ReadAttr(name string) (string, error) {
	if name == interfaces.AttrPhysPath {
		return c.p.path, nil
	}
	return "", fmt.Errorf("%w: attribute %s", types.ErrNotSupported, name)
}

// Detach implements interfaces.Conn.
func (c *fileConn) Detach() {}
