// Package ledger appends one build record per run to "<output>.ledger.xz",
// an xz-compressed JSON-lines file, when the operator asks to retain the
// disc id or the compression passcode (spec.md §6 --save_disc/--save_pass).
// Grounded on the teacher's artifact-retention pattern in
// imageconvert.compressImageFile, which compresses a build output for
// later reference rather than keeping it around uncompressed.
package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ulikunitz/xz"

	"github.com/Wenri/FECISO/internal/utils/logger"
)

var log = logger.Logger()

// Record is one append-only build entry.
type Record struct {
	Timestamp        string `json:"timestamp"`
	VolumeID         string `json:"volumeId"`
	DiscID           string `json:"discId,omitempty"`
	PassHint         string `json:"passHint,omitempty"`
	CompressKey      string `json:"compressKey,omitempty"`
	SelectedFECRoots int    `json:"selectedFecRoots"`
	RootHashHex      string `json:"rootHashHex"`
	DataSectors      int64  `json:"dataSectors"`
	HashSectors      int64  `json:"hashSectors"`
}

// Path returns the ledger file path for a given output image path.
func Path(outputPath string) string {
	return outputPath + ".ledger.xz"
}

// Append decompresses any existing records at Path(outputPath), adds rec,
// and rewrites the file. xz is a framed, non-seekable format with no native
// append operation, so a full read-modify-write is the straightforward
// correct approach for what is expected to be a small, human-auditable
// file.
func Append(outputPath string, rec Record) error {
	path := Path(outputPath)

	existing, err := readAll(path)
	if err != nil {
		return fmt.Errorf("read existing ledger %s: %w", path, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create ledger %s: %w", path, err)
	}
	defer f.Close()

	xw, err := xz.NewWriter(f)
	if err != nil {
		return fmt.Errorf("open xz writer for ledger: %w", err)
	}

	bw := bufio.NewWriter(xw)
	for _, line := range existing {
		if _, err := bw.WriteString(line); err != nil {
			return fmt.Errorf("rewrite ledger record: %w", err)
		}
		if err := bw.WriteByte('\n'); err != nil {
			return fmt.Errorf("rewrite ledger record: %w", err)
		}
	}

	encoded, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal ledger record: %w", err)
	}
	if _, err := bw.Write(encoded); err != nil {
		return fmt.Errorf("write ledger record: %w", err)
	}
	if err := bw.WriteByte('\n'); err != nil {
		return fmt.Errorf("write ledger record: %w", err)
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush ledger: %w", err)
	}
	if err := xw.Close(); err != nil {
		return fmt.Errorf("close xz writer for ledger: %w", err)
	}

	log.Infof("appended build record to %s", path)
	return nil
}

// ReadAll returns every record currently in the ledger at outputPath's
// ledger file, oldest first.
func ReadAll(outputPath string) ([]Record, error) {
	lines, err := readAll(Path(outputPath))
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(lines))
	for _, line := range lines {
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("parse ledger record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func readAll(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	defer f.Close()

	xr, err := xz.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open xz reader for ledger %s: %w", path, err)
	}

	var lines []string
	scanner := bufioScanner(xr)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan ledger %s: %w", path, err)
	}
	return lines, nil
}

func bufioScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	s.Buffer(buf, 4*1024*1024)
	return s
}
