package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Wenri/FECISO/internal/config"
	"github.com/Wenri/FECISO/internal/discmodel"
	"github.com/Wenri/FECISO/internal/orchestrator"
	"github.com/Wenri/FECISO/internal/utils/display"
	"github.com/Wenri/FECISO/internal/utils/logger"
)

// Allow tests to inject a fake orchestrator without a real sudo/xorriso/
// veritysetup pipeline.
var buildOrchestrator = orchestrator.Build

var (
	buildOutput       string
	buildVolID        string
	buildCompress     string
	buildDisc         string
	buildHint         string
	buildFECRoots     int
	buildSaveDisc     bool
	buildSavePass     bool
	buildProfilePath  string
	buildSudoPassword string
)

// createBuildCommand creates the build subcommand.
func createBuildCommand() *cobra.Command {
	buildCmd := &cobra.Command{
		Use:   "build [flags] DATA_DIR",
		Short: "build a self-verifying, self-booting disc image from a data directory",
		Long: `Build assembles DATA_DIR into a single ISO-9660/Joliet/Rock-Ridge image,
appends a dm-verity hash tree and Reed-Solomon FEC parity, and patches in a
boot script that verifies and mounts the disc before handing off to init.`,
		Args: cobra.MaximumNArgs(1),
		RunE: executeBuild,
	}

	buildCmd.Flags().StringVarP(&buildOutput, "output", "o", "", "output image path (required)")
	buildCmd.Flags().StringVarP(&buildVolID, "volid", "V", "", "ISO-9660 volume id, max 15 ASCII characters (required)")
	buildCmd.Flags().StringVarP(&buildCompress, "compress", "C", "", "compress the payload into a squashfs; value is the encryption passcode, empty selects cipher_null")
	buildCmd.Flags().StringVarP(&buildDisc, "disc", "d", "", "disc id from the allow-list, recorded in the build ledger with --save_disc")
	buildCmd.Flags().StringVar(&buildHint, "hint", "", "passcode hint baked into the boot script")
	buildCmd.Flags().IntVar(&buildFECRoots, "fec-roots", 0, "cap the Reed-Solomon FEC roots search at this value (2-24); 0 uses the full range")
	buildCmd.Flags().BoolVar(&buildSaveDisc, "save_disc", false, "persist the disc id to the build ledger")
	buildCmd.Flags().BoolVar(&buildSavePass, "save_pass", false, "persist the compression passcode to the build ledger; generates one if --compress was not given")
	buildCmd.Flags().StringVar(&buildProfilePath, "profile", "", "load data_dir/output/volid/... from a YAML profile file; explicit flags take precedence")
	buildCmd.Flags().StringVar(&buildSudoPassword, "sudo-password", "", "sudo password for privileged steps (prompted on the controlling terminal if omitted)")

	return buildCmd
}

func executeBuild(cmd *cobra.Command, args []string) error {
	log := logger.Logger()

	req, err := mergeBuildRequest(cmd, args)
	if err != nil {
		return err
	}

	volID, err := discmodel.NewVolID(req.VolID)
	if err != nil {
		return fmt.Errorf("invalid volume id: %w", err)
	}

	var discID *discmodel.DiscID
	if req.Disc != "" {
		d, err := discmodel.NewDiscID(req.Disc)
		if err != nil {
			return fmt.Errorf("invalid disc id: %w", err)
		}
		discID = &d
	}

	var hint *discmodel.PassHint
	if req.Hint != "" {
		h, err := discmodel.NewPassHint(req.Hint)
		if err != nil {
			return fmt.Errorf("invalid hint: %w", err)
		}
		hint = &h
	}

	var compressKey *string
	if req.CompressSet {
		discmodel.CheckPassphraseStrength(req.Compress)
		compressKey = &req.Compress
	}

	sudoPassword := buildSudoPassword
	if sudoPassword == "" {
		sudoPassword, err = promptSudoPassword()
		if err != nil {
			return fmt.Errorf("read sudo password: %w", err)
		}
	}

	log.Infof("building %s -> %s (volid=%s)", req.DataDir, req.Output, volID.Label())

	opts := orchestrator.Options{
		DataDir:          req.DataDir,
		OutputPath:       req.Output,
		VolID:            volID,
		CompressKey:      compressKey,
		DiscID:           discID,
		Hint:             hint,
		FECRootsOverride: req.FECRoots,
		SudoPassword:     sudoPassword,
		SaveDisc:         req.SaveDisc,
		SavePass:         req.SavePass,
	}

	result, err := buildOrchestrator(context.Background(), opts)
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "root hash: %x\nselected FEC roots: %d\nimage size: %d bytes\ndisc profile: %s\n",
		result.RootHash, result.SelectedFECRoots, result.ImageSizeBytes, result.Profile.Name)
	display.PrintBuildSummary(req.Output)
	return nil
}

// buildRequest is the fully-merged, not-yet-validated build request: CLI
// flags take precedence over --profile, which takes precedence over
// nothing (there are no built-in defaults for the required fields).
type buildRequest struct {
	DataDir     string
	Output      string
	VolID       string
	Compress    string
	CompressSet bool
	Disc        string
	Hint        string
	FECRoots    int
	FECRootsSet bool
	SaveDisc    bool
	SavePass    bool
}

func mergeBuildRequest(cmd *cobra.Command, args []string) (buildRequest, error) {
	var req buildRequest

	if buildProfilePath != "" {
		p, err := config.Load(buildProfilePath)
		if err != nil {
			return buildRequest{}, fmt.Errorf("load profile: %w", err)
		}
		req.DataDir = p.DataDir
		req.Output = p.Output
		req.VolID = p.VolID
		if p.Compress != nil {
			req.Compress = *p.Compress
			req.CompressSet = true
		}
		if p.Disc != nil {
			req.Disc = *p.Disc
		}
		if p.Hint != nil {
			req.Hint = *p.Hint
		}
		if p.FECRoots != nil {
			req.FECRoots = *p.FECRoots
			req.FECRootsSet = true
		}
		req.SaveDisc = p.SaveDisc
		req.SavePass = p.SavePass
	}

	if len(args) == 1 {
		req.DataDir = args[0]
	}
	if cmd.Flags().Changed("output") {
		req.Output = buildOutput
	}
	if cmd.Flags().Changed("volid") {
		req.VolID = buildVolID
	}
	if cmd.Flags().Changed("compress") {
		req.Compress = buildCompress
		req.CompressSet = true
	}
	if cmd.Flags().Changed("disc") {
		req.Disc = buildDisc
	}
	if cmd.Flags().Changed("hint") {
		req.Hint = buildHint
	}
	if cmd.Flags().Changed("fec-roots") {
		req.FECRoots = buildFECRoots
		req.FECRootsSet = true
	}
	if cmd.Flags().Changed("save_disc") {
		req.SaveDisc = buildSaveDisc
	}
	if cmd.Flags().Changed("save_pass") {
		req.SavePass = buildSavePass
	}

	if req.DataDir == "" {
		return buildRequest{}, fmt.Errorf("data_dir is required (positional argument or --profile)")
	}
	if req.Output == "" {
		return buildRequest{}, fmt.Errorf("-o/--output is required (flag or --profile)")
	}
	if req.VolID == "" {
		return buildRequest{}, fmt.Errorf("-V/--volid is required (flag or --profile)")
	}

	if err := config.ValidateMergedRequest(req.schemaDoc()); err != nil {
		return buildRequest{}, fmt.Errorf("merged build request failed schema validation: %w", err)
	}

	return req, nil
}

// schemaDoc renders req as the generic document build_request.schema.json
// validates (spec.md §2.3: the merged request is schema-checked before the
// pipeline runs, after CLI flags have been layered over any --profile).
func (req buildRequest) schemaDoc() map[string]interface{} {
	doc := map[string]interface{}{
		"data_dir": req.DataDir,
		"output":   req.Output,
		"volid":    req.VolID,
	}
	if req.CompressSet {
		doc["compress"] = req.Compress
	}
	if req.Disc != "" {
		doc["disc"] = req.Disc
	}
	if req.Hint != "" {
		doc["hint"] = req.Hint
	}
	if req.FECRootsSet {
		doc["fec_roots"] = req.FECRoots
	}
	if req.SaveDisc {
		doc["save_disc"] = req.SaveDisc
	}
	if req.SavePass {
		doc["save_pass"] = req.SavePass
	}
	return doc
}

func promptSudoPassword() (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", nil
	}
	fmt.Fprint(os.Stderr, "sudo password: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
