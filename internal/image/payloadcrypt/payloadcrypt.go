// Package payloadcrypt builds the squashfs payload and, when requested,
// streams it through a plain dm-crypt mapper device so the on-disk file
// becomes ciphertext in place (spec.md §4.5; the core, C5).
package payloadcrypt

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/Wenri/FECISO/internal/utils/logger"
	"github.com/Wenri/FECISO/internal/utils/shell"
)

var log = logger.Logger()

// zstdMagic is the four-byte frame magic klauspost/compress/zstd (and every
// conforming zstd decoder) requires at the start of a frame.
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// Options configures Build.
type Options struct {
	// DataDir is the plaintext payload directory to compress.
	DataDir string
	// ImagePath is the final ISO path; the squashfs and its sibling
	// ciphertext are staged alongside it under "<image>.rootdir".
	ImagePath string
	// Key is the compression passcode. Empty selects cipher_null.
	Key string
	// Executor runs external commands; nil selects shell.Default.
	Executor shell.Executor
}

// Result is the squashfs file produced for the final image, plus whether it
// ended up encrypted.
type Result struct {
	SquashfsPath string
	Encrypted    bool
}

// Build runs the full C5 sequence: mksquashfs, pre-allocate the ciphertext
// file, open a plain dm-crypt device over it, stream the plaintext through
// the mapper, close the device, and atomically replace the plaintext
// squashfs with the ciphertext (spec.md §4.5 steps 1-4). When opts.Key is
// empty, cipher_null still runs so the payload keeps a uniform on-disk
// layout (spec.md §4.5 "uniform layout" note).
func Build(opts Options) (Result, error) {
	ex := opts.Executor
	if ex == nil {
		ex = shell.Default
	}

	rootDir := opts.ImagePath + ".rootdir"
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return Result{}, fmt.Errorf("mkdir %s: %w", rootDir, err)
	}

	dmid := uuid.NewString()
	sqfsPath := filepath.Join(rootDir, dmid+".sqfs")
	cryptPath := sqfsPath + ".crypt"

	if err := runMksquashfs(ex, opts.DataDir, sqfsPath); err != nil {
		return Result{}, err
	}

	if err := sniffZstdFrame(sqfsPath); err != nil {
		return Result{}, err
	}

	fi, err := os.Stat(sqfsPath)
	if err != nil {
		return Result{}, fmt.Errorf("stat squashfs: %w", err)
	}
	size := fi.Size()

	if err := fallocate(ex, cryptPath, size); err != nil {
		return Result{}, err
	}

	mapperName := dmid + "_crypt"
	cipher := "cipher_null"
	if opts.Key != "" {
		cipher = "aes-xts-plain64"
	}
	if err := cryptOpen(ex, cryptPath, mapperName, cipher, opts.Key); err != nil {
		os.Remove(cryptPath)
		return Result{}, err
	}

	streamErr := streamThroughMapper(ex, sqfsPath, mapperName)
	if closeErr := cryptClose(ex, mapperName); closeErr != nil {
		log.Warnf("closing dm-crypt mapper %s: %v", mapperName, closeErr)
	}
	if streamErr != nil {
		os.Remove(cryptPath)
		return Result{}, streamErr
	}

	if err := os.Rename(cryptPath, sqfsPath); err != nil {
		return Result{}, fmt.Errorf("rename ciphertext over plaintext: %w", err)
	}

	return Result{SquashfsPath: sqfsPath, Encrypted: opts.Key != ""}, nil
}

func runMksquashfs(ex shell.Executor, dataDir, sqfsPath string) error {
	cmdStr := fmt.Sprintf(
		"mksquashfs %s %s -b 1M -all-root -comp zstd -Xcompression-level 22",
		shellQuote(dataDir), shellQuote(sqfsPath),
	)
	if _, err := ex.ExecCmdWithStream(cmdStr, false, nil); err != nil {
		return fmt.Errorf("mksquashfs: %w", err)
	}
	return nil
}

func sniffZstdFrame(sqfsPath string) error {
	f, err := os.Open(sqfsPath)
	if err != nil {
		return fmt.Errorf("open squashfs for frame sniff: %w", err)
	}
	defer f.Close()

	head := make([]byte, 4)
	if _, err := io.ReadFull(f, head); err != nil {
		return fmt.Errorf("read squashfs header: %w", err)
	}
	if !bytes.Equal(head, zstdMagic) {
		return fmt.Errorf("squashfs file %s does not begin with a zstd frame magic; mksquashfs may not have used -comp zstd", sqfsPath)
	}

	// Open a zstd decoder over the file and close it again. No decoded data
	// is read from it, so a truncated frame is not detected by this step.
	f.Seek(0, io.SeekStart)
	dec, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("squashfs zstd frame is malformed: %w", err)
	}
	dec.Close()
	return nil
}

func fallocate(ex shell.Executor, path string, size int64) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("create ciphertext file %s: %w", path, err)
	}
	defer f.Close()

	cmdStr := fmt.Sprintf("fallocate -x -l %d %s", size, shellQuote(path))
	if _, err := ex.ExecCmd(cmdStr, false, nil); err != nil {
		return fmt.Errorf("fallocate %s: %w", path, err)
	}
	return nil
}

func cryptOpen(ex shell.Executor, cryptPath, mapperName, cipher, key string) error {
	cmdStr := fmt.Sprintf(
		"cryptsetup open --type plain --cipher %s --hash sha512 --key-size 512 --key-file - %s %s",
		cipher, shellQuote(cryptPath), shellQuote(mapperName),
	)
	if err := ex.ExecCmdWithStdin(bytes.NewReader([]byte(key)), cmdStr, true, nil); err != nil {
		return fmt.Errorf("cryptsetup open: %w", err)
	}

	mapperPath := "/dev/mapper/" + mapperName
	if err := chownMapper(ex, mapperPath); err != nil {
		return err
	}
	return nil
}

func chownMapper(ex shell.Executor, mapperPath string) error {
	u, err := user.Current()
	if err != nil {
		return fmt.Errorf("look up invoking user: %w", err)
	}
	cmdStr := fmt.Sprintf("chown %s:%s %s", u.Uid, u.Gid, shellQuote(mapperPath))
	if _, err := ex.ExecCmd(cmdStr, true, nil); err != nil {
		return fmt.Errorf("chown mapper device: %w", err)
	}
	return nil
}

func streamThroughMapper(ex shell.Executor, sqfsPath, mapperName string) error {
	src, err := os.Open(sqfsPath)
	if err != nil {
		return fmt.Errorf("open plaintext squashfs: %w", err)
	}
	defer src.Close()

	mapperPath := "/dev/mapper/" + mapperName
	cmdStr := fmt.Sprintf("dd of=%s bs=1M conv=notrunc", shellQuote(mapperPath))
	if err := ex.ExecCmdWithStdin(src, cmdStr, true, nil); err != nil {
		return fmt.Errorf("stream squashfs through mapper %s: %w", mapperName, err)
	}
	return nil
}

func cryptClose(ex shell.Executor, mapperName string) error {
	cmdStr := fmt.Sprintf("cryptsetup close %s", shellQuote(mapperName))
	if _, err := ex.ExecCmd(cmdStr, true, nil); err != nil {
		return fmt.Errorf("cryptsetup close: %w", err)
	}
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
