package verityrunner

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Wenri/FECISO/internal/geometry"
)

func TestCandidateRootsCaps(t *testing.T) {
	r := CandidateRoots(24, 4)
	if len(r) > 4 {
		t.Fatalf("CandidateRoots returned %d values, want <= cpuCount 4", len(r))
	}
	if r[0] != 24 {
		t.Errorf("expected largest candidate 24 first, got %v", r)
	}
	for i := 1; i < len(r); i++ {
		if r[i] >= r[i-1] {
			t.Fatalf("CandidateRoots not strictly descending: %v", r)
		}
	}
}

func TestCandidateRootsSmallCPU(t *testing.T) {
	r := CandidateRoots(24, 1)
	if len(r) != 1 || r[0] != 24 {
		t.Errorf("CandidateRoots(24,1) = %v, want [24]", r)
	}
}

func TestFoldSlack(t *testing.T) {
	slack := map[int]int64{24: 100, 23: 100, 22: 100, 20: 100, 18: 50}
	got := FoldSlack(slack)
	want := "24-22:100B,20:100B,18:50B"
	if got != want {
		t.Errorf("FoldSlack() = %q, want %q", got, want)
	}
}

func TestPromptOperatorRetriesOnInvalid(t *testing.T) {
	candidates := map[int]Candidate{24: {Roots: 24}, 20: {Roots: 20}}
	in := strings.NewReader("99\nabc\n20\n")
	var out strings.Builder
	got, err := PromptOperator(in, &out, candidates, 100, 10, 10_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 20 {
		t.Errorf("PromptOperator() = %d, want 20", got)
	}
	if !strings.Contains(out.String(), "not a candidate") {
		t.Errorf("expected re-prompt message for out-of-set input, got: %q", out.String())
	}
}

// fakeExecutor satisfies shell.Executor for deterministic verityrunner
// tests without invoking a real veritysetup binary.
type fakeExecutor struct {
	dataSectors int64
	hashSectors int64
	rootHash    string
	failRoots   map[int]bool
}

func (f *fakeExecutor) ExecCmd(cmdStr string, sudo bool, envVal []string) (string, error) {
	return f.ExecCmdWithStream(cmdStr, sudo, envVal)
}

func (f *fakeExecutor) ExecCmdWithStream(cmdStr string, sudo bool, envVal []string) (string, error) {
	roots, hashPath, fecPath := parseFakeArgs(cmdStr)
	if f.failRoots[roots] {
		return "", fmt.Errorf("simulated failure for roots=%d", roots)
	}
	if err := os.WriteFile(hashPath, make([]byte, f.hashSectors*geometry.DataBlockSize), 0644); err != nil {
		return "", err
	}
	if err := os.WriteFile(fecPath, []byte{1, 2, 3}, 0644); err != nil {
		return "", err
	}
	out := fmt.Sprintf(
		"Data blocks:        %d\nData block size:    2048\nHash block size:    2048\nSalt:               -\nRoot hash:          %s\n",
		f.dataSectors, f.rootHash,
	)
	return out, nil
}

func (f *fakeExecutor) ExecCmdWithStdin(stdin io.Reader, cmdStr string, sudo bool, envVal []string) error {
	return nil
}

func parseFakeArgs(cmdStr string) (roots int, hashPath, fecPath string) {
	fields := strings.Fields(cmdStr)
	hashPath = fields[len(fields)-1]
	imagePath := fields[len(fields)-2]
	for _, f := range fields {
		if strings.HasPrefix(f, "--fec-roots=") {
			fmt.Sscanf(strings.TrimPrefix(f, "--fec-roots="), "%d", &roots)
		}
		if strings.HasPrefix(f, "--fec-device=") {
			fecPath = strings.TrimPrefix(f, "--fec-device=")
		}
	}
	_ = imagePath
	return roots, hashPath, fecPath
}

func TestRunAllSuccess(t *testing.T) {
	dir := t.TempDir()
	imagePath := filepath.Join(dir, "out.iso")
	if err := os.WriteFile(imagePath, make([]byte, 2048), 0644); err != nil {
		t.Fatal(err)
	}

	ex := &fakeExecutor{dataSectors: 1, hashSectors: 1, rootHash: "0123456789abcdef0123456789abcdef"}
	opts := Options{
		ImagePath:   imagePath,
		DataSectors: 1,
		HashSectors: 1,
		Roots:       []int{24, 20, 18},
		CPUCount:    2,
		Executor:    ex,
	}
	candidates, err := RunAll(context.Background(), opts)
	if err != nil {
		t.Fatalf("RunAll failed: %v", err)
	}
	if len(candidates) != 3 {
		t.Fatalf("got %d candidates, want 3", len(candidates))
	}
	for r, c := range candidates {
		if _, err := os.Stat(c.HashFilePath); err != nil {
			t.Errorf("candidate %d hash file missing: %v", r, err)
		}
	}
	CleanupAll(candidates)
	for _, c := range candidates {
		if _, err := os.Stat(c.HashFilePath); err == nil {
			t.Errorf("expected hash file removed after CleanupAll")
		}
	}
}

func TestRunAllPropagatesFailure(t *testing.T) {
	dir := t.TempDir()
	imagePath := filepath.Join(dir, "out.iso")
	if err := os.WriteFile(imagePath, make([]byte, 2048), 0644); err != nil {
		t.Fatal(err)
	}

	ex := &fakeExecutor{
		dataSectors: 1, hashSectors: 1, rootHash: "0123456789abcdef0123456789abcdef",
		failRoots: map[int]bool{18: true},
	}
	opts := Options{
		ImagePath:   imagePath,
		DataSectors: 1,
		HashSectors: 1,
		Roots:       []int{24, 20, 18},
		CPUCount:    2,
		Executor:    ex,
	}
	if _, err := RunAll(context.Background(), opts); err == nil {
		t.Fatal("expected error when one candidate fails")
	}
}
