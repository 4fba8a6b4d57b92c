// Package extentlocator mounts the finished ISO read-only, asks the kernel
// for the squashfs payload's physical extent via `filefrag -e`, and scales
// the result into the 512-byte-unit convention the boot script expects
// (spec.md §4.6; the core, C6).
package extentlocator

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/Wenri/FECISO/internal/utils/logger"
	"github.com/Wenri/FECISO/internal/utils/shell"
)

var log = logger.Logger()

const wantBlockSize = 2048

// Extent is the squashfs payload's physical location in 512-byte units:
// filefrag's 2048-byte block numbers multiplied by 4 (spec.md §4.6 step 3).
type Extent struct {
	Offset int64
	Length int64
}

// Options configures Locate.
type Options struct {
	ISOPath     string
	PayloadName string
	MountPoint  string
	Executor    shell.Executor
}

// Locate mounts opts.ISOPath read-only at opts.MountPoint, locates the
// single physical extent of opts.PayloadName inside it, and unmounts
// unconditionally before returning (spec.md §4.6).
func Locate(opts Options) (Extent, error) {
	ex := opts.Executor
	if ex == nil {
		ex = shell.Default
	}

	if err := os.MkdirAll(opts.MountPoint, 0755); err != nil {
		return Extent{}, fmt.Errorf("create mount point %s: %w", opts.MountPoint, err)
	}

	mountCmd := fmt.Sprintf("mount -o loop,ro %s %s", shellQuote(opts.ISOPath), shellQuote(opts.MountPoint))
	if _, err := ex.ExecCmd(mountCmd, true, nil); err != nil {
		return Extent{}, fmt.Errorf("mount %s: %w", opts.ISOPath, err)
	}
	defer func() {
		umountCmd := fmt.Sprintf("umount %s", shellQuote(opts.MountPoint))
		if _, err := ex.ExecCmd(umountCmd, true, nil); err != nil {
			log.Warnf("unmount %s: %v", opts.MountPoint, err)
		}
	}()

	payloadPath := opts.MountPoint + "/" + opts.PayloadName
	cmdStr := fmt.Sprintf("filefrag -e %s", shellQuote(payloadPath))
	out, err := ex.ExecCmd(cmdStr, true, nil)
	if err != nil {
		return Extent{}, fmt.Errorf("filefrag %s: %w", payloadPath, err)
	}

	return parseFilefrag(out)
}

var (
	blockSizeRe = regexp.MustCompile(`\(\d+ blocks? of (\d+) bytes\)`)
	extentRe    = regexp.MustCompile(`^\s*\d+:\s*(\d+)\.\.\s*(\d+):\s*(\d+)\.\.\s*(\d+):\s*(\d+):`)
)

// parseFilefrag implements spec.md §4.6 step 2-3: exactly one extent is
// expected; the reported filesystem block size must be 2048; the stored
// offset/length are the physical-offset-start/extent-length values scaled
// by 4 (filefrag reports extents in filesystem blocks, checked to be 2048
// bytes; 2048/512 = 4 expresses them in 512-byte units).
func parseFilefrag(out string) (Extent, error) {
	var blockSize int64
	var extents []Extent

	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if m := blockSizeRe.FindStringSubmatch(line); m != nil {
			bs, err := strconv.ParseInt(m[1], 10, 64)
			if err != nil {
				return Extent{}, fmt.Errorf("parse block size from filefrag output: %w", err)
			}
			blockSize = bs
			continue
		}
		if m := extentRe.FindStringSubmatch(line); m != nil {
			physStart, err := strconv.ParseInt(m[3], 10, 64)
			if err != nil {
				return Extent{}, fmt.Errorf("parse physical_offset start: %w", err)
			}
			length, err := strconv.ParseInt(m[5], 10, 64)
			if err != nil {
				return Extent{}, fmt.Errorf("parse extent length: %w", err)
			}
			extents = append(extents, Extent{Offset: physStart, Length: length})
		}
	}
	if err := scanner.Err(); err != nil {
		return Extent{}, fmt.Errorf("scan filefrag output: %w", err)
	}

	if blockSize == 0 {
		return Extent{}, fmt.Errorf("could not find filesystem block size in filefrag output")
	}
	if blockSize != wantBlockSize {
		return Extent{}, fmt.Errorf("filesystem block size is %d, want %d", blockSize, wantBlockSize)
	}
	if len(extents) != 1 {
		return Extent{}, fmt.Errorf("expected exactly one extent for payload file, found %d", len(extents))
	}

	const unitScale = 4
	return Extent{
		Offset: extents[0].Offset * unitScale,
		Length: extents[0].Length * unitScale,
	}, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
