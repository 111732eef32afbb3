package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/deploymenttheory/go-vdev/internal/config"
	"github.com/deploymenttheory/go-vdev/internal/device"
	"github.com/deploymenttheory/go-vdev/internal/interfaces"
	"github.com/deploymenttheory/go-vdev/internal/managers/disk"
	"github.com/deploymenttheory/go-vdev/internal/services"
	"github.com/deploymenttheory/go-vdev/internal/topology"
	"github.com/deploymenttheory/go-vdev/internal/types"
)

var (
	openImages   []string
	openPath     string
	openPoolGUID uint64
	openVdevGUID uint64
	openWritable bool
)

var openCmd = &cobra.Command{
	Use:   "open",
	Short: "Open a vdev against disk images and report its geometry",
	Long: `open runs the backend's full resolution path: it tries the given vdev
path first, falls back to an identity scan across all images, and
reports the geometry a successful open negotiated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(openImages) == 0 {
			return fmt.Errorf("at least one --image is required")
		}
		if openPoolGUID == 0 || openVdevGUID == 0 {
			return fmt.Errorf("--pool-guid and --guid must both be non-zero")
		}
		return runOpen()
	},
}

func init() {
	openCmd.Flags().StringArrayVar(&openImages, "image", nil, "disk image file (repeatable)")
	openCmd.Flags().StringVar(&openPath, "path", "", "vdev device path (default /dev/<first image name>)")
	openCmd.Flags().Uint64Var(&openPoolGUID, "pool-guid", 0, "pool GUID the vdev belongs to")
	openCmd.Flags().Uint64Var(&openVdevGUID, "guid", 0, "vdev GUID to open")
	openCmd.Flags().BoolVar(&openWritable, "rw", false, "open the pool for writing")
}

// cliConfigLock is a plain mutex standing in for the pool configuration
// lock in this single-process tool.
type cliConfigLock struct {
	mu   sync.Mutex
	held atomic.Bool
}

func (l *cliConfigLock) Enter() {
	l.mu.Lock()
	l.held.Store(true)
}

func (l *cliConfigLock) Exit() {
	l.held.Store(false)
	l.mu.Unlock()
}

func (l *cliConfigLock) Held() bool { return l.held.Load() }

// cliPool is the minimal pool manager the CLI provides: fixed identity
// and mode, async requests surfaced as log lines.
type cliPool struct {
	guid uint64
	mode interfaces.AccessMode
	lock cliConfigLock
}

func (p *cliPool) GUID() uint64 { return p.guid }

func (p *cliPool) Mode() interfaces.AccessMode { return p.mode }

func (p *cliPool) LoadState() interfaces.LoadState { return interfaces.LoadNone }

func (p *cliPool) SplittingNew() bool { return false }

func (p *cliPool) ConfigLock() interfaces.ConfigLock { return &p.lock }

func (p *cliPool) AsyncRequest(vd *types.Vdev, kind interfaces.AsyncKind) {
	fmt.Fprintf(os.Stderr, "async request %d for vdev %d\n", kind, vd.GUID)
}

func (p *cliPool) ReportFault(vd *types.Vdev) {
	fmt.Fprintf(os.Stderr, "fault reported for vdev %d\n", vd.GUID)
}

// openReport is the presentation form of a successful open.
type openReport struct {
	Path            string `json:"path" yaml:"path"`
	PhysPath        string `json:"phys_path,omitempty" yaml:"phys_path,omitempty"`
	PhysicalSize    uint64 `json:"physical_size" yaml:"physical_size"`
	MaxPhysicalSize uint64 `json:"max_physical_size" yaml:"max_physical_size"`
	Size            string `json:"size" yaml:"size"`
	Ashift          uint64 `json:"ashift" yaml:"ashift"`
}

func runOpen() error {
	log := newLogger()
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	layer := device.NewFileLayer()
	defer layer.Close()
	for _, img := range openImages {
		if _, err := layer.AddImage(img, device.DefaultSectorSize); err != nil {
			return err
		}
	}

	if openPath == "" {
		openPath = "/dev/" + filepath.Base(openImages[0])
	}

	mode := interfaces.ModeRead
	if openWritable {
		mode |= interfaces.ModeWrite
	}
	pool := &cliPool{guid: openPoolGUID, mode: mode}

	topo := &topology.Lock{}
	queue := services.NewCompletionQueue(cfg.CompletionQueueDepth)
	mgr := disk.NewManager(topo, layer, pool, queue, cfg, disk.WithLogger(log))

	vd := types.NewVdev(openVdevGUID, openPath)
	res, err := mgr.Open(vd)
	if err != nil {
		return fmt.Errorf("open failed (aux=%d): %w", vd.Aux(), err)
	}
	defer mgr.Close(vd)

	report := openReport{
		Path:            vd.Path(),
		PhysPath:        vd.PhysPath(),
		PhysicalSize:    res.PhysicalSize,
		MaxPhysicalSize: res.MaxPhysicalSize,
		Size:            humanize.IBytes(res.PhysicalSize),
		Ashift:          res.Ashift,
	}

	switch outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		return yaml.NewEncoder(os.Stdout).Encode(report)
	default:
		fmt.Printf("path:     %s\n", report.Path)
		if report.PhysPath != "" {
			fmt.Printf("physpath: %s\n", report.PhysPath)
		}
		fmt.Printf("size:     %s (%d bytes)\n", report.Size, report.PhysicalSize)
		fmt.Printf("ashift:   %d\n", report.Ashift)
		return nil
	}
}
