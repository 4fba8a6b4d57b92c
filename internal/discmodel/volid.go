package discmodel

import (
	"fmt"
	"strings"
)

// MaxVolIDLen is the ISO-9660 volume identifier length limit this project
// enforces (spec.md §3 VolID).
const MaxVolIDLen = 15

// VolID is a stripped ASCII identifier used both as the ISO-9660 volume
// label (uppercase) and the dm-crypt/device-mapper name (lowercase).
type VolID struct {
	raw string
}

// NewVolID validates and wraps a raw volume id string.
func NewVolID(raw string) (VolID, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return VolID{}, fmt.Errorf("volume id must not be empty")
	}
	if len(s) > MaxVolIDLen {
		return VolID{}, fmt.Errorf("volume id %q exceeds %d characters", s, MaxVolIDLen)
	}
	for _, r := range s {
		if r > 127 {
			return VolID{}, fmt.Errorf("volume id %q must be ASCII", s)
		}
	}
	return VolID{raw: s}, nil
}

// Label returns the uppercase projection used as the ISO-9660 volume label.
func (v VolID) Label() string {
	return strings.ToUpper(v.raw)
}

// DeviceMapperID returns the lowercase projection used as a device-mapper
// name component.
func (v VolID) DeviceMapperID() string {
	return strings.ToLower(v.raw)
}

func (v VolID) String() string { return v.raw }
