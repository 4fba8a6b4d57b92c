package assembler

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path string, size int64, fill byte) {
	t.Helper()
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = fill
	}
	if err := os.WriteFile(path, buf, 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestAssembleLayoutInvariants(t *testing.T) {
	dir := t.TempDir()
	imagePath := filepath.Join(dir, "out.iso")
	hashPath := filepath.Join(dir, "out.hash_24")
	fecPath := filepath.Join(dir, "out.fec_24")

	const dataSectors = 10
	const hashSectors = 2

	// Unaligned length on purpose: exercises the zero-pad-to-sector step.
	writeFile(t, imagePath, dataSectors*2048-100, 0xAB)
	writeFile(t, hashPath, hashSectors*2048, 0)
	writeFile(t, fecPath, 777, 0xCC)

	var rootHash [16]byte
	for i := range rootHash {
		rootHash[i] = byte(i + 1)
	}

	plan := Plan{
		DataSectors:      dataSectors,
		HashSectors:      hashSectors,
		RootHash:         rootHash,
		SelectedFECRoots: 24,
		Header:           []byte("#!/bin/sh\n"),
		Body:             []byte("echo hi\n"),
		HashFilePath:     hashPath,
		FECFilePath:      fecPath,
	}

	if err := Assemble(imagePath, plan); err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	data, err := os.ReadFile(imagePath)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}

	if len(data)%65536 != 0 {
		t.Fatalf("final length %d not a multiple of 65536", len(data))
	}

	if !bytes.Equal(data[0:len(plan.Header)], plan.Header) {
		t.Errorf("header not written at offset 0")
	}
	if !bytes.Equal(data[512:512+len(plan.Body)], plan.Body) {
		t.Errorf("body not written at offset 512")
	}

	rootOffset := dataSectors*2048 + 512
	if !bytes.Equal(data[rootOffset:rootOffset+16], rootHash[:]) {
		t.Errorf("root hash not stamped at offset %d", rootOffset)
	}
	if data[rootOffset+16] != 24 {
		t.Errorf("selected FEC roots byte = %d, want 24", data[rootOffset+16])
	}

	fecOffset := (dataSectors + hashSectors) * 2048
	if !bytes.Equal(data[fecOffset:fecOffset+777], bytes.Repeat([]byte{0xCC}, 777)) {
		t.Errorf("FEC parity not appended at expected offset")
	}

	tailStart := fecOffset + 777
	rem := int64(len(data)) % 65536
	if rem != 0 {
		t.Fatalf("computed tail start leaves a non-cluster-aligned length")
	}
	slack := len(data) - tailStart
	zeroBytes := slack % 16
	copies := slack / 16
	tail := data[tailStart:]
	if !bytes.Equal(tail[:zeroBytes], make([]byte, zeroBytes)) {
		t.Errorf("tail zero-pad region is not zero")
	}
	for i := 0; i < copies; i++ {
		start := zeroBytes + i*16
		if !bytes.Equal(tail[start:start+16], rootHash[:]) {
			t.Errorf("tail root-hash copy %d mismatched", i)
		}
	}
}

func TestAssembleRejectsNonZeroSuperblockRegion(t *testing.T) {
	dir := t.TempDir()
	imagePath := filepath.Join(dir, "out.iso")
	hashPath := filepath.Join(dir, "out.hash_24")
	fecPath := filepath.Join(dir, "out.fec_24")

	const dataSectors = 4
	const hashSectors = 1

	writeFile(t, imagePath, dataSectors*2048, 0x00)
	writeFile(t, hashPath, hashSectors*2048, 0)
	// Poison the superblock region where the root hash should land: the
	// hash file is copied to offset dataSectors*2048, so its byte 600 ends
	// up inside the zero-checked region.
	f, err := os.OpenFile(hashPath, os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt([]byte{0xFF}, 600); err != nil {
		t.Fatal(err)
	}
	f.Close()

	writeFile(t, fecPath, 10, 0)

	plan := Plan{
		DataSectors:  dataSectors,
		HashSectors:  hashSectors,
		Header:       []byte("h"),
		Body:         []byte("b"),
		HashFilePath: hashPath,
		FECFilePath:  fecPath,
	}

	if err := Assemble(imagePath, plan); err == nil {
		t.Fatal("expected error for non-zero superblock region")
	}
}

func TestAssembleRejectsHeaderOverBudget(t *testing.T) {
	dir := t.TempDir()
	imagePath := filepath.Join(dir, "out.iso")
	writeFile(t, imagePath, 4*2048, 0)

	plan := Plan{
		DataSectors: 4,
		Header:      bytes.Repeat([]byte{'x'}, 300),
	}
	if err := Assemble(imagePath, plan); err == nil {
		t.Fatal("expected error for over-budget header")
	}
}
