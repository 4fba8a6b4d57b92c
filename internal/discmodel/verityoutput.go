package discmodel

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// VerityFields is an insertion-ordered key/value mapping parsed from
// `veritysetup format`'s stdout, grounded on original_source/fecsetup.py's
// `_veriysetup` (`s.split(':', maxsplit=1)` into an OrderedDict). Ordering is
// preserved for diagnostic printing only; callers must not depend on it
// beyond the presence of the required keys.
type VerityFields struct {
	keys   []string
	values map[string]string
}

// ParseVerityFields parses `key: value` lines, one per line, skipping blank
// lines. A key with no colon-delimited value maps to the empty string.
func ParseVerityFields(output string) VerityFields {
	f := VerityFields{values: make(map[string]string)}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		k, v, found := strings.Cut(line, ":")
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, seen := f.values[k]; !seen {
			f.keys = append(f.keys, k)
		}
		if found {
			f.values[k] = strings.TrimSpace(v)
		} else {
			f.values[k] = ""
		}
	}
	return f
}

// Get returns the value for key and whether it was present.
func (f VerityFields) Get(key string) (string, bool) {
	v, ok := f.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (f VerityFields) Keys() []string { return f.keys }

// VerityOutput is the validated, typed result of one `veritysetup format`
// invocation (spec.md §3 VerityOutput).
type VerityOutput struct {
	RootHash      [16]byte
	DataBlocks    int64
	DataBlockSize int64
	HashBlockSize int64
	Salt          string
}

// ValidateVerityOutput parses and validates fields against the expected data
// block count and fixed schema constants (spec.md §3). Any deviation is a
// fatal error, per spec.md §7.
func ValidateVerityOutput(output string, wantDataBlocks int64) (VerityOutput, error) {
	f := ParseVerityFields(output)

	rootHashHex, ok := f.Get("Root hash")
	if !ok {
		return VerityOutput{}, fmt.Errorf("verity output missing %q", "Root hash")
	}
	rootHashBytes, err := hex.DecodeString(rootHashHex)
	if err != nil || len(rootHashBytes) != 16 {
		return VerityOutput{}, fmt.Errorf("verity output has malformed root hash %q: %v", rootHashHex, err)
	}

	dataBlocksStr, ok := f.Get("Data blocks")
	if !ok {
		return VerityOutput{}, fmt.Errorf("verity output missing %q", "Data blocks")
	}
	dataBlocks, err := strconv.ParseInt(dataBlocksStr, 10, 64)
	if err != nil {
		return VerityOutput{}, fmt.Errorf("verity output has malformed %q: %v", "Data blocks", err)
	}
	if dataBlocks != wantDataBlocks {
		return VerityOutput{}, fmt.Errorf("verity output data blocks = %d, want %d", dataBlocks, wantDataBlocks)
	}

	dataBlockSize, err := requireInt(f, "Data block size", 2048)
	if err != nil {
		return VerityOutput{}, err
	}
	hashBlockSize, err := requireInt(f, "Hash block size", 2048)
	if err != nil {
		return VerityOutput{}, err
	}

	salt, ok := f.Get("Salt")
	if !ok {
		return VerityOutput{}, fmt.Errorf("verity output missing %q", "Salt")
	}
	if salt != "-" {
		return VerityOutput{}, fmt.Errorf("verity output salt = %q, want %q", salt, "-")
	}

	var out VerityOutput
	copy(out.RootHash[:], rootHashBytes)
	out.DataBlocks = dataBlocks
	out.DataBlockSize = dataBlockSize
	out.HashBlockSize = hashBlockSize
	out.Salt = salt
	return out, nil
}

func requireInt(f VerityFields, key string, want int64) (int64, error) {
	s, ok := f.Get(key)
	if !ok {
		return 0, fmt.Errorf("verity output missing %q", key)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("verity output has malformed %q: %v", key, err)
	}
	if n != want {
		return 0, fmt.Errorf("verity output %s = %d, want %d", key, n, want)
	}
	return n, nil
}
