package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeProfile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.yaml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidProfile(t *testing.T) {
	path := writeProfile(t, `
data_dir: /srv/payload
output: /srv/out.iso
volid: MYDISC
compress: s3cr3t
save_pass: true
`)
	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if p.DataDir != "/srv/payload" || p.Output != "/srv/out.iso" || p.VolID != "MYDISC" {
		t.Errorf("unexpected profile: %+v", p)
	}
	if p.Compress == nil || *p.Compress != "s3cr3t" {
		t.Errorf("expected compress = s3cr3t, got %v", p.Compress)
	}
	if !p.SavePass {
		t.Error("expected save_pass = true")
	}
}

func TestLoadAllowsProfileWithoutDataDirOrOutput(t *testing.T) {
	// A profile pre-fills the repeatable fields (volume id, disc id, hint,
	// FEC roots override); data_dir/output are commonly left to the CLI
	// invocation instead, so profile.schema.json does not require them.
	path := writeProfile(t, `
volid: MYDISC
disc: REEL1
fec_roots: 12
`)
	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if p.DataDir != "" || p.Output != "" {
		t.Errorf("expected empty data_dir/output, got %+v", p)
	}
	if p.FECRoots == nil || *p.FECRoots != 12 {
		t.Errorf("expected fec_roots = 12, got %v", p.FECRoots)
	}
}

func TestLoadRejectsFECRootsOutOfRange(t *testing.T) {
	path := writeProfile(t, `
volid: MYDISC
fec_roots: 25
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected schema validation error for fec_roots above the 2-24 range")
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	path := writeProfile(t, `
data_dir: /srv/payload
output: /srv/out.iso
volid: MYDISC
bogus_field: true
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected schema validation error for unknown field")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml")); err == nil {
		t.Fatal("expected error for missing profile file")
	}
}

func TestValidateMergedRequestRequiresDataDirOutputVolID(t *testing.T) {
	if err := ValidateMergedRequest(map[string]interface{}{
		"output": "/srv/out.iso",
		"volid":  "MYDISC",
	}); err == nil {
		t.Fatal("expected merged request validation to fail without data_dir")
	}
}

func TestValidateMergedRequestAcceptsFullRequest(t *testing.T) {
	err := ValidateMergedRequest(map[string]interface{}{
		"data_dir":  "/srv/data",
		"output":    "/srv/out.iso",
		"volid":     "MYDISC",
		"fec_roots": 12,
	})
	if err != nil {
		t.Fatalf("expected full merged request to validate, got %v", err)
	}
}
