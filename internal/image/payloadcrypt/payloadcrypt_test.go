package payloadcrypt

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
)

// fakeExecutor simulates mksquashfs/fallocate/cryptsetup/dd without any real
// external binaries, so the C5 sequencing can be exercised deterministically.
// "dd" is simulated as a direct write into the pre-allocated ciphertext file,
// which is exactly what cipher_null's identity transform would produce on a
// real dm-crypt mapper.
type fakeExecutor struct {
	t           *testing.T
	payload     []byte
	cryptPath   string
	mapperBytes int
}

func (f *fakeExecutor) ExecCmd(cmdStr string, sudo bool, envVal []string) (string, error) {
	switch {
	case strings.HasPrefix(cmdStr, "fallocate"):
		fields := strings.Fields(cmdStr)
		f.cryptPath = strings.Trim(fields[len(fields)-1], "'")
		return "", nil
	case strings.HasPrefix(cmdStr, "chown"):
		return "", nil
	case strings.HasPrefix(cmdStr, "cryptsetup close"):
		return "", nil
	}
	return "", nil
}

func (f *fakeExecutor) ExecCmdWithStream(cmdStr string, sudo bool, envVal []string) (string, error) {
	if strings.HasPrefix(cmdStr, "mksquashfs") {
		fields := strings.Fields(cmdStr)
		// mksquashfs <src> <dst> ...
		dst := strings.Trim(fields[2], "'")
		if err := os.WriteFile(dst, f.payload, 0644); err != nil {
			return "", err
		}
		return "", nil
	}
	return "", nil
}

func (f *fakeExecutor) ExecCmdWithStdin(stdin io.Reader, cmdStr string, sudo bool, envVal []string) error {
	switch {
	case strings.HasPrefix(cmdStr, "cryptsetup open"):
		// consume the key material, as the real binary would.
		io.Copy(io.Discard, stdin)
		return nil
	case strings.HasPrefix(cmdStr, "dd"):
		data, err := io.ReadAll(stdin)
		if err != nil {
			return err
		}
		f.mapperBytes = len(data)
		return os.WriteFile(f.cryptPath, data, 0644)
	}
	return nil
}

func buildZstdPayload(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := enc.Write([]byte("synthetic squashfs payload contents")); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestBuildCipherNullWhenKeyEmpty(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		t.Fatal(err)
	}
	imagePath := filepath.Join(dir, "out.iso")

	payload := buildZstdPayload(t)
	ex := &fakeExecutor{t: t, payload: payload}

	res, err := Build(Options{DataDir: dataDir, ImagePath: imagePath, Key: "", Executor: ex})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if res.Encrypted {
		t.Errorf("expected Encrypted=false for empty key")
	}
	got, err := os.ReadFile(res.SquashfsPath)
	if err != nil {
		t.Fatalf("read result squashfs: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("squashfs contents mismatch after cipher_null round trip")
	}
}

func TestBuildEncryptedWhenKeyPresent(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		t.Fatal(err)
	}
	imagePath := filepath.Join(dir, "out.iso")

	payload := buildZstdPayload(t)
	ex := &fakeExecutor{t: t, payload: payload}

	res, err := Build(Options{DataDir: dataDir, ImagePath: imagePath, Key: "s3cret", Executor: ex})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !res.Encrypted {
		t.Errorf("expected Encrypted=true for non-empty key")
	}
	if ex.mapperBytes != len(payload) {
		t.Errorf("expected mapper to receive %d plaintext bytes, got %d", len(payload), ex.mapperBytes)
	}
}

func TestBuildRejectsNonZstdPayload(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		t.Fatal(err)
	}
	imagePath := filepath.Join(dir, "out.iso")

	ex := &fakeExecutor{t: t, payload: []byte("not a zstd frame at all")}

	if _, err := Build(Options{DataDir: dataDir, ImagePath: imagePath, Executor: ex}); err == nil {
		t.Fatal("expected error for non-zstd squashfs output")
	}
}
