package imageinspect

import (
	"encoding/hex"
	"fmt"
	"io"
)

// PrintSummary prints a human-readable summary of the image inspection to
// the given writer (shape grounded on the teacher's own PrintSummary).
func PrintSummary(w io.Writer, summary *ImageSummary) {
	if summary == nil {
		log.Errorf("PrintSummary: summary is nil")
		return
	}

	fmt.Fprintln(w, "Disc Image Summary")
	fmt.Fprintln(w, "==================")
	fmt.Fprintf(w, "Image:\t%s\n", summary.File)
	fmt.Fprintf(w, "Size:\t%d bytes\n", summary.SizeBytes)
	fmt.Fprintf(w, "Volume label:\t%s\n", summary.VolumeLabel)
	fmt.Fprintf(w, "Root hash:\t%s\n", hex.EncodeToString(summary.RootHash[:]))
	fmt.Fprintf(w, "Selected FEC roots:\t%d\n", summary.SelectedFECRoots)
	if summary.PayloadName != "" {
		fmt.Fprintf(w, "Payload %q present:\t%t\n", summary.PayloadName, summary.PayloadPresent)
	}
}
