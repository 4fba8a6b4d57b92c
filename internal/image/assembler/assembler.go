// Package assembler splices the boot script, hash tree, root hash, FEC
// parity, and cluster-tail padding into the finished ISO file at explicit
// byte offsets (spec.md §4.3; the core, C3).
package assembler

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/Wenri/FECISO/internal/geometry"
)

const (
	bootHeaderOffset = 0
	bootBodyOffset   = 512
	bootAreaSize     = 0x8000

	// clusterSize is the alignment unit the final image length is padded
	// to for optical-burning-tool compatibility.
	clusterSize = 65536

	// rootZeroCheckSize is the width of the zero-region sanity check
	// performed before stamping the root hash: spec.md §9 Open Question
	// (ii) adopts the larger, safer 512-byte superblock-region check over
	// checking only the 16-byte root-hash slot.
	rootZeroCheckSize = 512
)

// Plan carries everything Assemble needs to splice one image.
type Plan struct {
	DataSectors      int64
	HashSectors      int64
	RootHash         [16]byte
	SelectedFECRoots byte
	Header           []byte
	Body             []byte
	HashFilePath     string
	FECFilePath      string
}

// Assemble performs the ordered splice operations of spec.md §4.3 on the
// ISO file at imagePath. Any I/O error aborts immediately, leaving the
// partially-written file in place for the operator to inspect or re-run
// from scratch (spec.md §4.3 Failure policy).
func Assemble(imagePath string, plan Plan) error {
	if len(plan.Header) > 218 {
		return fmt.Errorf("boot header is %d bytes, exceeds 218-byte budget", len(plan.Header))
	}
	if len(plan.Body) > bootAreaSize-bootBodyOffset {
		return fmt.Errorf("boot body is %d bytes, exceeds %d-byte budget", len(plan.Body), bootAreaSize-bootBodyOffset)
	}

	f, err := os.OpenFile(imagePath, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open image %s: %w", imagePath, err)
	}
	defer f.Close()

	if err := patchBootArea(f, plan); err != nil {
		return fmt.Errorf("patch boot area: %w", err)
	}
	if err := appendHashTree(f, plan); err != nil {
		return fmt.Errorf("append hash tree: %w", err)
	}
	rootOffset := plan.DataSectors*geometry.DataBlockSize + bootBodyOffset
	if err := stampRoot(f, rootOffset, plan.RootHash, plan.SelectedFECRoots); err != nil {
		return fmt.Errorf("stamp root: %w", err)
	}
	if err := appendParity(f, plan.FECFilePath); err != nil {
		return fmt.Errorf("append parity: %w", err)
	}
	if err := padClusterTail(f, plan.RootHash); err != nil {
		return fmt.Errorf("pad cluster tail: %w", err)
	}
	return nil
}

func patchBootArea(f *os.File, plan Plan) error {
	if _, err := f.WriteAt(plan.Header, bootHeaderOffset); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := f.WriteAt(plan.Body, bootBodyOffset); err != nil {
		return fmt.Errorf("write body: %w", err)
	}

	required := plan.DataSectors * geometry.DataBlockSize
	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat image: %w", err)
	}
	switch {
	case fi.Size() > required:
		return fmt.Errorf("image is %d bytes, larger than computed data-sector boundary %d", fi.Size(), required)
	case fi.Size() < required:
		if err := f.Truncate(required); err != nil {
			return fmt.Errorf("zero-pad to sector boundary: %w", err)
		}
	}
	return nil
}

func appendHashTree(f *os.File, plan Plan) error {
	hashFile, err := os.Open(plan.HashFilePath)
	if err != nil {
		return fmt.Errorf("open hash file %s: %w", plan.HashFilePath, err)
	}
	defer hashFile.Close()

	wantSize := plan.HashSectors * geometry.DataBlockSize
	hfi, err := hashFile.Stat()
	if err != nil {
		return fmt.Errorf("stat hash file: %w", err)
	}
	if hfi.Size() != wantSize {
		return fmt.Errorf("hash file %s is %d bytes, want %d", plan.HashFilePath, hfi.Size(), wantSize)
	}

	offset := plan.DataSectors * geometry.DataBlockSize
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek to hash tree offset: %w", err)
	}
	if _, err := io.Copy(f, hashFile); err != nil {
		return fmt.Errorf("copy hash tree: %w", err)
	}
	return nil
}

func stampRoot(f *os.File, rootOffset int64, rootHash [16]byte, selectedRoots byte) error {
	region := make([]byte, rootZeroCheckSize)
	if _, err := f.ReadAt(region, rootOffset); err != nil && err != io.EOF {
		return fmt.Errorf("read zero-check region: %w", err)
	}
	if !bytes.Equal(region, make([]byte, rootZeroCheckSize)) {
		return fmt.Errorf("superblock region at offset %d is not all-zero as expected", rootOffset)
	}

	if _, err := f.WriteAt(rootHash[:], rootOffset); err != nil {
		return fmt.Errorf("write root hash: %w", err)
	}
	if _, err := f.WriteAt([]byte{selectedRoots}, rootOffset+int64(len(rootHash))); err != nil {
		return fmt.Errorf("write selected FEC roots byte: %w", err)
	}
	return nil
}

func appendParity(f *os.File, fecFilePath string) error {
	fecFile, err := os.Open(fecFilePath)
	if err != nil {
		return fmt.Errorf("open FEC file %s: %w", fecFilePath, err)
	}
	defer fecFile.Close()

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("seek to end of file: %w", err)
	}
	if _, err := io.Copy(f, fecFile); err != nil {
		return fmt.Errorf("copy FEC parity: %w", err)
	}
	return nil
}

func padClusterTail(f *os.File, rootHash [16]byte) error {
	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat image: %w", err)
	}

	rem := fi.Size() % clusterSize
	if rem == 0 {
		return nil
	}

	slack := clusterSize - rem
	zeroBytes := slack % int64(len(rootHash))
	copies := slack / int64(len(rootHash))

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("seek to end of file: %w", err)
	}
	if zeroBytes > 0 {
		if _, err := f.Write(make([]byte, zeroBytes)); err != nil {
			return fmt.Errorf("write zero pad: %w", err)
		}
	}
	for i := int64(0); i < copies; i++ {
		if _, err := f.Write(rootHash[:]); err != nil {
			return fmt.Errorf("write root-hash tail copy %d/%d: %w", i+1, copies, err)
		}
	}

	fi, err = f.Stat()
	if err != nil {
		return fmt.Errorf("stat image after padding: %w", err)
	}
	if fi.Size()%clusterSize != 0 {
		return fmt.Errorf("internal error: image length %d not a multiple of %d after padding", fi.Size(), clusterSize)
	}
	return nil
}
