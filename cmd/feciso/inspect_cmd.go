package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Wenri/FECISO/internal/geometry"
	"github.com/Wenri/FECISO/internal/image/imageinspect"
	"github.com/Wenri/FECISO/internal/ledger"
	"github.com/Wenri/FECISO/internal/utils/logger"
)

// inspect needs only this one method.
type inspector interface {
	Inspect(imagePath string, dataSectors int64) (*imageinspect.ImageSummary, error)
}

// Allow tests to inject a fake inspector.
var newInspector = func(payloadName string) inspector {
	return imageinspect.NewDiskfsInspector(payloadName)
}

var (
	inspectFormat      string
	inspectPayloadName string
	inspectDataSectors int64
)

// createInspectCommand creates the inspect subcommand.
func createInspectCommand() *cobra.Command {
	inspectCmd := &cobra.Command{
		Use:   "inspect [flags] IMAGE_FILE",
		Short: "report the volume label, root hash, and selected FEC roots stamped in a finished image",
		Long: `Inspect reads a finished disc image back and reports its ISO-9660
volume label, the stamped dm-verity root hash and selected FEC roots byte,
and whether a named payload file is present.

The data-sector count is required to locate the stamped superblock. It is
recovered from the image's sibling "<image>.ledger.xz" file if one exists,
or may be supplied directly with --data-sectors.`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			switch inspectFormat {
			case "text", "json", "yaml":
				return nil
			default:
				return fmt.Errorf("unsupported --format %q (supported: text, json, yaml)", inspectFormat)
			}
		},
		RunE: executeInspect,
	}

	inspectCmd.Flags().StringVar(&inspectFormat, "format", "text", "output format: text, json, yaml")
	inspectCmd.Flags().StringVar(&inspectPayloadName, "payload", "", "check for this payload file name inside the ISO-9660 tree")
	inspectCmd.Flags().Int64Var(&inspectDataSectors, "data-sectors", 0, "data sector count, overriding the ledger lookup")

	return inspectCmd
}

func executeInspect(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	imageFile := args[0]
	log.Infof("inspecting image file: %s", imageFile)

	dataSectors, err := resolveDataSectors(cmd, imageFile)
	if err != nil {
		return fmt.Errorf("resolve data sector count: %w", err)
	}

	summary, err := newInspector(inspectPayloadName).Inspect(imageFile, dataSectors)
	if err != nil {
		return fmt.Errorf("image inspection failed: %w", err)
	}

	return writeInspectionResult(cmd, summary, inspectFormat)
}

// resolveDataSectors prefers an explicit --data-sectors flag, falls back to
// the most recent matching ledger record, and finally estimates the value
// with geometry.DataSectors over the image file size. For a finished image
// that size includes the hash tree, FEC parity and tail padding, so the
// estimate exceeds the real data-sector count.
func resolveDataSectors(cmd *cobra.Command, imageFile string) (int64, error) {
	if cmd.Flags().Changed("data-sectors") {
		return inspectDataSectors, nil
	}

	if records, err := ledger.ReadAll(imageFile); err == nil && len(records) > 0 {
		return records[len(records)-1].DataSectors, nil
	}

	fi, err := os.Stat(imageFile)
	if err != nil {
		return 0, fmt.Errorf("stat image: %w", err)
	}
	return geometry.DataSectors(fi.Size()), nil
}

func writeInspectionResult(cmd *cobra.Command, summary *imageinspect.ImageSummary, format string) error {
	out := cmd.OutOrStdout()

	switch format {
	case "text":
		imageinspect.PrintSummary(out, summary)
		return nil

	case "json":
		b, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal json: %w", err)
		}
		_, err = fmt.Fprintln(out, string(b))
		return err

	case "yaml":
		b, err := yaml.Marshal(summary)
		if err != nil {
			return fmt.Errorf("marshal yaml: %w", err)
		}
		_, err = fmt.Fprintln(out, string(b))
		return err

	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}
