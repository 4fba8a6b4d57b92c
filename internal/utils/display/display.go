// Package display prints a human-readable banner summarizing a finished
// build (adapted from the teacher's PrintImageDirectorySummary, which did
// the same for a directory of OS-image artifacts).
package display

import (
	"fmt"
	"os"

	"github.com/Wenri/FECISO/internal/ledger"
	"github.com/Wenri/FECISO/internal/utils/logger"
)

// PrintBuildSummary reports the finished disc image and its sibling ledger
// file, if one was written (spec.md §6 --save_disc/--save_pass).
func PrintBuildSummary(outputPath string) {
	log := logger.Logger()

	fi, err := os.Stat(outputPath)
	if err != nil {
		log.Warnf("build summary: stat %s: %v", outputPath, err)
		return
	}

	log.Info("")
	log.Info("╔════════════════════════════════════════════════════════════════════════════╗")
	log.Info("║                    ✓ DISC IMAGE BUILT SUCCESSFULLY                           ║")
	log.Info("╚════════════════════════════════════════════════════════════════════════════╝")
	log.Info("")
	log.Infof("  Image:  %s (%s)", outputPath, formatSize(fi.Size()))

	ledgerPath := ledger.Path(outputPath)
	if lfi, err := os.Stat(ledgerPath); err == nil {
		log.Infof("  Ledger: %s (%s)", ledgerPath, formatSize(lfi.Size()))
	}
	log.Info("")
}

func formatSize(bytes int64) string {
	mb := float64(bytes) / (1024 * 1024)
	if mb > 1024 {
		return fmt.Sprintf("%.2f GB", mb/1024)
	}
	return fmt.Sprintf("%.2f MB", mb)
}
