// Package verityrunner concurrently invokes the dm-verity formatter at every
// candidate FEC-roots value, gated by a CPU-count semaphore, and reports a
// single aggregated progress signal (spec.md §4.4; the core, C4). The
// worker-pool/progress-bar shape is grounded on
// internal/ospackage/pkgfetcher.FetchPackages in the teacher repo.
package verityrunner

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/Wenri/FECISO/internal/discmodel"
	"github.com/Wenri/FECISO/internal/geometry"
	"github.com/Wenri/FECISO/internal/utils/logger"
	"github.com/Wenri/FECISO/internal/utils/shell"
)

var log = logger.Logger()

// Candidate is one completed veritysetup trial.
type Candidate struct {
	Roots        int
	HashFilePath string
	FECFilePath  string
	RootHash     [16]byte
}

// Options configures RunAll.
type Options struct {
	ImagePath   string
	DataSectors int64
	HashSectors int64
	Roots       []int
	CPUCount    int
	Executor    shell.Executor
}

// CandidateRoots returns R = linspace(rMax, 2, n) rounded to int and
// deduplicated, where n = min(rMax-1, cpuCount), per spec.md §4.4. The
// result is sorted largest-first.
func CandidateRoots(rMax, cpuCount int) []int {
	if rMax < geometry.MinFECRoots {
		rMax = geometry.MinFECRoots
	}
	if rMax > geometry.MaxFECRoots {
		rMax = geometry.MaxFECRoots
	}
	n := rMax - 1
	if cpuCount > 0 && cpuCount < n {
		n = cpuCount
	}
	if n < 1 {
		n = 1
	}

	seen := make(map[int]bool, n)
	var out []int
	if n == 1 {
		out = append(out, rMax)
	} else {
		step := float64(rMax-geometry.MinFECRoots) / float64(n-1)
		for i := 0; i < n; i++ {
			v := float64(rMax) - float64(i)*step
			r := int(math.Round(v))
			if !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}

type taskResult struct {
	roots     int
	candidate Candidate
	err       error
}

// RunAll spawns one veritysetup format trial per roots value in
// opts.Roots, bounded to opts.CPUCount concurrent processes, and returns
// once every trial has finished. After the first fatal error, trials not
// yet started are skipped; trials already running are not interrupted and
// are waited for. On any error, the .hash_<r>/.fec_<r> files of every
// roots value are removed before returning.
func RunAll(ctx context.Context, opts Options) (map[int]Candidate, error) {
	ex := opts.Executor
	if ex == nil {
		ex = shell.Default
	}
	cpuCount := opts.CPUCount
	if cpuCount < 1 {
		cpuCount = 1
	}

	dataAndHashBytes := (opts.DataSectors + opts.HashSectors) * geometry.DataBlockSize
	var total int64
	hashBytesPerCandidate := opts.HashSectors * geometry.DataBlockSize
	for _, r := range opts.Roots {
		total += hashBytesPerCandidate
		total += geometry.FECParityBytes(dataAndHashBytes, r)
	}

	bar := progressbar.NewOptions64(total,
		progressbar.OptionSetDescription("verity"),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan int, len(opts.Roots))
	results := make(chan taskResult, len(opts.Roots))
	sem := make(chan struct{}, cpuCount)

	workers := cpuCount
	if workers > len(opts.Roots) {
		workers = len(opts.Roots)
	}
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := range jobs {
				select {
				case <-runCtx.Done():
					results <- taskResult{roots: r, err: runCtx.Err()}
					continue
				default:
				}
				sem <- struct{}{}
				cand, err := runOne(runCtx, ex, opts, r)
				<-sem
				if err != nil {
					log.Errorf("verity trial roots=%d failed: %v", r, err)
					cancel()
				}
				results <- taskResult{roots: r, candidate: cand, err: err}
			}
		}()
	}
	for _, r := range opts.Roots {
		jobs <- r
	}
	close(jobs)

	progressDone := make(chan struct{})
	go pollProgress(runCtx, progressDone, bar, opts, total)

	go func() {
		wg.Wait()
		close(results)
	}()

	candidates := make(map[int]Candidate, len(opts.Roots))
	var firstErr error
	for res := range results {
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
			}
			continue
		}
		candidates[res.roots] = res.candidate
	}
	close(progressDone)
	_ = bar.Finish()

	if firstErr != nil {
		CleanupAll(candidates)
		for _, r := range opts.Roots {
			os.Remove(fmt.Sprintf("%s.hash_%d", opts.ImagePath, r))
			os.Remove(fmt.Sprintf("%s.fec_%d", opts.ImagePath, r))
		}
		return nil, firstErr
	}

	var want [16]byte
	first := true
	for _, c := range candidates {
		if first {
			want = c.RootHash
			first = false
			continue
		}
		if c.RootHash != want {
			CleanupAll(candidates)
			return nil, fmt.Errorf("verity candidates disagree on root hash: got %x and %x", c.RootHash, want)
		}
	}

	return candidates, nil
}

func runOne(ctx context.Context, ex shell.Executor, opts Options, roots int) (Candidate, error) {
	hashPath := fmt.Sprintf("%s.hash_%d", opts.ImagePath, roots)
	fecPath := fmt.Sprintf("%s.fec_%d", opts.ImagePath, roots)

	os.Remove(hashPath)
	os.Remove(fecPath)

	cmdStr := fmt.Sprintf(
		"veritysetup format --salt=- --hash=md5 --fec-roots=%d --data-block-size=%d --hash-block-size=%d --fec-device=%s %s %s",
		roots, geometry.DataBlockSize, geometry.DataBlockSize, fecPath, opts.ImagePath, hashPath,
	)

	output, err := ex.ExecCmdWithStream(cmdStr, false, nil)
	if err != nil {
		return Candidate{}, fmt.Errorf("veritysetup format (roots=%d) failed: %w, output: %s", roots, err, output)
	}

	if ctx.Err() != nil {
		os.Remove(hashPath)
		os.Remove(fecPath)
		return Candidate{}, ctx.Err()
	}

	wantHashSize := opts.HashSectors * geometry.DataBlockSize
	fi, err := os.Stat(hashPath)
	if err != nil {
		return Candidate{}, fmt.Errorf("stat hash file (roots=%d): %w", roots, err)
	}
	if fi.Size() != wantHashSize {
		return Candidate{}, fmt.Errorf("hash file (roots=%d) is %d bytes, want %d", roots, fi.Size(), wantHashSize)
	}

	vo, err := discmodel.ValidateVerityOutput(output, opts.DataSectors)
	if err != nil {
		return Candidate{}, fmt.Errorf("veritysetup output (roots=%d): %w", roots, err)
	}

	return Candidate{
		Roots:        roots,
		HashFilePath: hashPath,
		FECFilePath:  fecPath,
		RootHash:     vo.RootHash,
	}, nil
}

func pollProgress(ctx context.Context, done <-chan struct{}, bar *progressbar.ProgressBar, opts Options, total int64) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			var sum int64
			for _, r := range opts.Roots {
				sum += fileSizeOrZero(fmt.Sprintf("%s.hash_%d", opts.ImagePath, r))
				sum += fileSizeOrZero(fmt.Sprintf("%s.fec_%d", opts.ImagePath, r))
			}
			if sum > total {
				sum = total
			}
			_ = bar.Set64(sum)
		}
	}
}

func fileSizeOrZero(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

// CleanupAll removes every candidate's temp hash/fec files. Used on failure
// paths: RunAll's own errors and a failed operator prompt (the success path
// uses CleanupExcept).
func CleanupAll(candidates map[int]Candidate) {
	for _, c := range candidates {
		if c.HashFilePath != "" {
			os.Remove(c.HashFilePath)
		}
		if c.FECFilePath != "" {
			os.Remove(c.FECFilePath)
		}
	}
}

// CleanupExcept removes every candidate's temp files except the one
// selected by the operator (spec.md §3 Lifecycle: "the chosen roots value
// and its (hash, fec) files are merged into the image and all other
// candidates are deleted").
func CleanupExcept(candidates map[int]Candidate, keep int) {
	for r, c := range candidates {
		if r == keep {
			continue
		}
		if c.HashFilePath != "" {
			os.Remove(c.HashFilePath)
		}
		if c.FECFilePath != "" {
			os.Remove(c.FECFilePath)
		}
	}
}
