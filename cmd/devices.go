package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/deploymenttheory/go-vdev/internal/device"
)

var devicesImages []string

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List providers backed by disk images",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(devicesImages) == 0 {
			return fmt.Errorf("at least one --image is required")
		}
		return runDevices(devicesImages)
	},
}

func init() {
	devicesCmd.Flags().StringArrayVar(&devicesImages, "image", nil, "disk image file (repeatable)")
}

// deviceInfo is the presentation row for one provider.
type deviceInfo struct {
	Name       string `json:"name" yaml:"name"`
	Class      string `json:"class" yaml:"class"`
	SectorSize uint32 `json:"sector_size" yaml:"sector_size"`
	MediaSize  uint64 `json:"media_size" yaml:"media_size"`
	Size       string `json:"size" yaml:"size"`
}

func runDevices(images []string) error {
	layer := device.NewFileLayer()
	defer layer.Close()

	for _, img := range images {
		if _, err := layer.AddImage(img, device.DefaultSectorSize); err != nil {
			return err
		}
	}

	var rows []deviceInfo
	for _, pp := range layer.Providers() {
		rows = append(rows, deviceInfo{
			Name:       pp.Name(),
			Class:      pp.Class(),
			SectorSize: pp.SectorSize(),
			MediaSize:  pp.MediaSize(),
			Size:       humanize.IBytes(pp.MediaSize()),
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })

	return renderDevices(rows)
}

func renderDevices(rows []deviceInfo) error {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case "yaml":
		return yaml.NewEncoder(os.Stdout).Encode(rows)
	default:
		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tCLASS\tSECTOR\tSIZE")
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", r.Name, r.Class, r.SectorSize, r.Size)
		}
		return w.Flush()
	}
}
