package discmodel

import (
	"fmt"
	"unicode"

	"github.com/muesli/crunchy"

	"github.com/Wenri/FECISO/internal/utils/logger"
)

var log = logger.Logger()

// PassHint is a free-form ASCII string that must survive being inserted into
// the boot script as a raw shell literal (spec.md §3 PassHint). The
// templater itself performs the actual shell-quoting (internal/bootscript);
// this type rejects non-ASCII characters, single quotes and NUL bytes.
type PassHint struct {
	raw string
}

// NewPassHint validates raw as a shell-safe literal.
func NewPassHint(raw string) (PassHint, error) {
	for _, r := range raw {
		if r > unicode.MaxASCII {
			return PassHint{}, fmt.Errorf("hint must be ASCII")
		}
		if r == '\'' || r == 0 {
			return PassHint{}, fmt.Errorf("hint must not contain a single quote or NUL byte")
		}
	}
	return PassHint{raw: raw}, nil
}

func (p PassHint) String() string { return p.raw }

// CheckPassphraseStrength runs an advisory strength check on a compression
// passcode via muesli/crunchy. A weak passcode is never rejected outright —
// cipher_null (empty passcode) is an explicitly supported mode — but the
// operator is warned, mirroring the "warn and continue" posture the teacher
// uses for non-fatal configuration issues.
func CheckPassphraseStrength(passcode string) {
	if passcode == "" {
		return
	}
	validator := crunchy.NewValidator()
	if err := validator.Check(passcode); err != nil {
		log.Warnf("compression passcode is weak: %v", err)
	}
}
