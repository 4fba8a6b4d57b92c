// Package config loads a "--profile" YAML build request and validates it
// against profile.schema.json, and separately validates the fully-merged
// CLI+profile build request against build_request.schema.json before the
// pipeline runs (spec.md §2.3). Grounded on the teacher's
// cmd/image-composer validate.go pattern of "load template, validate, then
// proceed", adapted to this module's much smaller request shape.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed profile.schema.json
var profileSchemaJSON string

//go:embed build_request.schema.json
var buildRequestSchemaJSON string

var profileSchema = mustCompileSchema("profile.schema.json", profileSchemaJSON)
var buildRequestSchema = mustCompileSchema("build_request.schema.json", buildRequestSchemaJSON)

func mustCompileSchema(name, src string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(src)); err != nil {
		panic(fmt.Sprintf("config: invalid embedded schema %s: %v", name, err))
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("config: failed to compile embedded schema %s: %v", name, err))
	}
	return schema
}

// Profile is a build request as loaded from a "--profile" YAML file. Every
// field mirrors one of the CLI flags in spec.md §6; CLI flags that are
// explicitly set take precedence over the profile's values (cmd/feciso
// performs that merge, not this package). A profile is meant to pre-fill
// the repeatable fields for repeat builds, so unlike the merged request,
// data_dir/output/volid are not required here.
type Profile struct {
	DataDir  string  `yaml:"data_dir,omitempty"`
	Output   string  `yaml:"output,omitempty"`
	VolID    string  `yaml:"volid,omitempty"`
	Compress *string `yaml:"compress,omitempty"`
	Disc     *string `yaml:"disc,omitempty"`
	Hint     *string `yaml:"hint,omitempty"`
	FECRoots *int    `yaml:"fec_roots,omitempty"`
	SaveDisc bool    `yaml:"save_disc,omitempty"`
	SavePass bool    `yaml:"save_pass,omitempty"`
}

// Load reads and schema-validates a profile YAML file at path.
func Load(path string) (*Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}

	var generic interface{}
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if err := profileSchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("profile %s failed schema validation: %w", path, err)
	}

	var p Profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", path, err)
	}
	return &p, nil
}

// ValidateMergedRequest validates the fully-merged CLI+profile build
// request against build_request.schema.json (spec.md §2.3: "the merged
// build request is validated against a JSON Schema ... before the pipeline
// runs"). Unlike profile.schema.json, this schema requires data_dir/output/
// volid: by merge time those fields must be present regardless of which
// layer supplied them.
func ValidateMergedRequest(doc interface{}) error {
	return buildRequestSchema.Validate(doc)
}
