// Package orchestrator wires C1-C6 into the end-to-end build pipeline
// (spec.md §4.7; the core, C7): optional encrypt, ISO build, extent lookup,
// geometry, boot templater, verity, operator FEC selection, assemble.
// Grounded on the teacher's RawMaker.BuildRawImage shape: one ordered
// sequence of named steps, wrapped errors at each stage, deferred cleanup
// keyed off the named return error.
package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/ascii85"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/Wenri/FECISO/internal/bootscript"
	"github.com/Wenri/FECISO/internal/discmodel"
	"github.com/Wenri/FECISO/internal/geometry"
	"github.com/Wenri/FECISO/internal/image/assembler"
	"github.com/Wenri/FECISO/internal/image/extentlocator"
	"github.com/Wenri/FECISO/internal/image/payloadcrypt"
	"github.com/Wenri/FECISO/internal/image/verityrunner"
	"github.com/Wenri/FECISO/internal/ledger"
	"github.com/Wenri/FECISO/internal/privilege"
	"github.com/Wenri/FECISO/internal/utils/logger"
	"github.com/Wenri/FECISO/internal/utils/shell"
)

var log = logger.Logger()

// Options is the merged, already-validated build request (spec.md §6 CLI).
type Options struct {
	DataDir       string
	OutputPath    string
	VolID         discmodel.VolID
	CompressKey   *string // nil = no compression requested
	DiscID        *discmodel.DiscID
	Hint          *discmodel.PassHint
	// FECRootsOverride caps the Reed-Solomon FEC roots search at this
	// value (spec.md §2.3 --profile "FEC roots override"). 0 uses the
	// full geometry.MaxFECRoots range.
	FECRootsOverride int
	SudoPassword     string
	SaveDisc         bool
	SavePass         bool
	Executor         shell.Executor
	OperatorInput    io.Reader
	OperatorOut      io.Writer
	// ISOBuilder overrides the ISO producer; nil selects the xorriso
	// wrapper. Tests supply a fake to avoid shelling out to xorriso.
	ISOBuilder ISOBuilder
}

// ISOBuilder runs the external ISO-9660/Joliet/Rock-Ridge producer. The
// orchestrator depends on this narrow interface, not on a concrete
// xorriso wrapper, so tests can fake the "build an ISO" step without a
// real xorriso binary.
type ISOBuilder interface {
	BuildISO(ctx context.Context, sourceDir, outputPath string, volID string) error
}

type xorrisoBuilder struct {
	ex shell.Executor
}

func (b xorrisoBuilder) BuildISO(_ context.Context, sourceDir, outputPath, volID string) error {
	cmdStr := fmt.Sprintf(
		"xorriso -as mkisofs -iso-level 4 -J -R -V %s -o %s %s",
		shellQuote(volID), shellQuote(outputPath), shellQuote(sourceDir),
	)
	if _, err := b.ex.ExecCmdWithStream(cmdStr, false, nil); err != nil {
		return fmt.Errorf("xorriso -as mkisofs: %w", err)
	}
	return nil
}

func shellQuote(s string) string {
	return "'" + s + "'"
}

// Result summarizes one completed build (spec.md §4.7 step 10).
type Result struct {
	RootHash         [16]byte
	SelectedFECRoots int
	ImageSizeBytes   int64
	DataSectors      int64
	HashSectors      int64
	Profile          discmodel.DiscProfile
}

// Build runs the full C1-C6 pipeline and writes the finished, self-
// verifying image to opts.OutputPath.
func Build(ctx context.Context, opts Options) (result Result, err error) {
	ex := opts.Executor
	if ex == nil {
		ex = shell.Default
	}
	operatorIn := opts.OperatorInput
	if operatorIn == nil {
		operatorIn = os.Stdin
	}
	operatorOut := opts.OperatorOut
	if operatorOut == nil {
		operatorOut = os.Stdout
	}

	compressKey, compressing := resolveCompressKey(opts)

	// The sudo session is validated and kept alive unconditionally. Only a
	// compressing run reaches sudo-gated tools (dm-crypt setup and the
	// mount/filefrag extent lookup); veritysetup runs without sudo.
	keeper := privilege.NewKeeper(opts.SudoPassword, ex)
	if err := keeper.Validate(); err != nil {
		return Result{}, fmt.Errorf("privilege pre-validation: %w", err)
	}
	stopRefresh := keeper.Refresh(ctx)
	defer func() {
		if refreshErr := stopRefresh(); refreshErr != nil && err == nil {
			err = fmt.Errorf("sudo session refresher: %w", refreshErr)
		}
	}()

	var cleanupPaths []string
	defer func() {
		if err != nil {
			for _, p := range cleanupPaths {
				os.RemoveAll(p)
			}
		}
	}()

	sourceDir := opts.DataDir
	payloadName := ""
	cipherLabel := "none"
	if compressing {
		res, buildErr := payloadcrypt.Build(payloadcrypt.Options{
			DataDir:   opts.DataDir,
			ImagePath: opts.OutputPath,
			Key:       compressKey,
			Executor:  ex,
		})
		if buildErr != nil {
			return Result{}, fmt.Errorf("payload encryptor: %w", buildErr)
		}
		sourceDir = filepath.Dir(res.SquashfsPath)
		payloadName = filepath.Base(res.SquashfsPath)
		cleanupPaths = append(cleanupPaths, sourceDir)
		if res.Encrypted {
			cipherLabel = "aes-xts-plain64"
		} else {
			cipherLabel = "cipher_null"
		}
	}

	builder := opts.ISOBuilder
	if builder == nil {
		builder = xorrisoBuilder{ex: ex}
	}
	if err := builder.BuildISO(ctx, sourceDir, opts.OutputPath, opts.VolID.Label()); err != nil {
		return Result{}, fmt.Errorf("ISO producer: %w", err)
	}
	if compressing {
		os.RemoveAll(sourceDir)
		cleanupPaths = nil
	}

	var offset, length int64
	if compressing {
		ext, extErr := extentlocator.Locate(extentlocator.Options{
			ISOPath:     opts.OutputPath,
			PayloadName: payloadName,
			MountPoint:  opts.OutputPath + ".mnt",
			Executor:    ex,
		})
		if extErr != nil {
			return Result{}, fmt.Errorf("extent locator: %w", extErr)
		}
		offset, length = ext.Offset, ext.Length
	}

	fi, err := os.Stat(opts.OutputPath)
	if err != nil {
		return Result{}, fmt.Errorf("stat ISO: %w", err)
	}
	isoSize := fi.Size()

	dataSectors := geometry.DataSectors(isoSize)
	hashSectors, err := geometry.HashSectors(dataSectors)
	if err != nil {
		return Result{}, fmt.Errorf("geometry: %w", err)
	}
	profile, ok := geometry.PickProfile(dataSectors + hashSectors)
	if !ok {
		return Result{}, fmt.Errorf("no disc profile has room for %d data+hash sectors", dataSectors+hashSectors)
	}

	dmid := opts.VolID.DeviceMapperID()
	// OFFSET and LENGTH are the payload extent from extentlocator, in
	// 512-byte units (filefrag's 2048-byte block numbers times 4); both are
	// 0 when no payload was compressed.
	subs := map[string]bootscript.Value{
		"ISO_SZ":  bootscript.Str(fmt.Sprintf("%d", dataSectors*geometry.DataBlockSize)),
		"HASH_SZ": bootscript.Str(fmt.Sprintf("%d", hashSectors*geometry.DataBlockSize)),
		"DMID":    bootscript.Str(dmid),
		"OFFSET":  bootscript.Str(fmt.Sprintf("%d", offset)),
		"LENGTH":  bootscript.Str(fmt.Sprintf("%d", length)),
		"CIPHER":  bootscript.Str(cipherLabel),
	}
	if compressKey != "" {
		subs["_PASS"] = bootscript.Str(compressKey)
	}
	if opts.DiscID != nil {
		subs["_DISC_ID"] = bootscript.Str(opts.DiscID.String())
	}
	if opts.Hint != nil {
		subs["_HINT"] = bootscript.Str(opts.Hint.String())
	}

	script, err := bootscript.Render(bootscript.DefaultTemplate(), subs)
	if err != nil {
		return Result{}, fmt.Errorf("boot templater: %w", err)
	}

	maxRoots := geometry.MaxFECRoots
	if opts.FECRootsOverride > 0 {
		maxRoots = opts.FECRootsOverride
	}

	cpuCount := runtime.NumCPU()
	candidateRoots := verityrunner.CandidateRoots(maxRoots, cpuCount)
	candidates, err := verityrunner.RunAll(ctx, verityrunner.Options{
		ImagePath:   opts.OutputPath,
		DataSectors: dataSectors,
		HashSectors: hashSectors,
		Roots:       candidateRoots,
		CPUCount:    cpuCount,
		Executor:    ex,
	})
	if err != nil {
		return Result{}, fmt.Errorf("verity runner: %w", err)
	}

	selectedRoots, err := verityrunner.PromptOperator(
		operatorIn, operatorOut, candidates, dataSectors, hashSectors, profile.TotalSectors,
	)
	if err != nil {
		verityrunner.CleanupAll(candidates)
		return Result{}, fmt.Errorf("operator prompt: %w", err)
	}
	chosen := candidates[selectedRoots]
	verityrunner.CleanupExcept(candidates, selectedRoots)
	defer func() {
		os.Remove(chosen.HashFilePath)
		os.Remove(chosen.FECFilePath)
	}()

	plan := assembler.Plan{
		DataSectors:      dataSectors,
		HashSectors:      hashSectors,
		RootHash:         chosen.RootHash,
		SelectedFECRoots: byte(selectedRoots),
		Header:           script.Header,
		Body:             script.Body,
		HashFilePath:     chosen.HashFilePath,
		FECFilePath:      chosen.FECFilePath,
	}
	if err := assembler.Assemble(opts.OutputPath, plan); err != nil {
		return Result{}, fmt.Errorf("image assembler: %w", err)
	}

	finalFI, err := os.Stat(opts.OutputPath)
	if err != nil {
		return Result{}, fmt.Errorf("stat finished image: %w", err)
	}

	result = Result{
		RootHash:         chosen.RootHash,
		SelectedFECRoots: selectedRoots,
		ImageSizeBytes:   finalFI.Size(),
		DataSectors:      dataSectors,
		HashSectors:      hashSectors,
		Profile:          profile,
	}

	if opts.SaveDisc || opts.SavePass {
		rec := ledger.Record{
			Timestamp:        time.Now().UTC().Format(time.RFC3339),
			VolumeID:         opts.VolID.String(),
			SelectedFECRoots: selectedRoots,
			RootHashHex:      fmt.Sprintf("%x", chosen.RootHash),
			DataSectors:      dataSectors,
			HashSectors:      hashSectors,
		}
		if opts.SaveDisc && opts.DiscID != nil {
			rec.DiscID = opts.DiscID.String()
		}
		if opts.SavePass {
			rec.CompressKey = compressKey
		}
		if opts.Hint != nil {
			rec.PassHint = opts.Hint.String()
		}
		if ledgerErr := ledger.Append(opts.OutputPath, rec); ledgerErr != nil {
			log.Warnf("failed to append build ledger: %v", ledgerErr)
		}
	}

	log.Infof("build complete: root hash %x, roots=%d, size=%d bytes", result.RootHash, result.SelectedFECRoots, result.ImageSizeBytes)
	return result, nil
}

// resolveCompressKey decides the effective compression passcode and
// whether compression runs at all (spec.md §4.5's trigger condition:
// --compress supplies a key, or --save_pass generates one as 16 random
// bytes base85-encoded).
func resolveCompressKey(opts Options) (key string, compressing bool) {
	if opts.CompressKey != nil {
		return *opts.CompressKey, true
	}
	if opts.SavePass {
		return generatePasscode(), true
	}
	return "", false
}

func generatePasscode() string {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		log.Warnf("failed to read random bytes for generated passcode, falling back to cipher_null: %v", err)
		return ""
	}
	encoded := make([]byte, ascii85.MaxEncodedLen(len(raw)))
	n := ascii85.Encode(encoded, raw)
	return string(encoded[:n])
}
