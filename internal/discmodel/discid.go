package discmodel

import (
	"fmt"
	"strings"
)

// DiscAllowList is the closed set of accepted disc ids (spec.md §3 DiscID).
// Entries name the physical media stock this tool's geometry constants were
// calibrated against.
var DiscAllowList = []string{
	"VERBAT/IMk/0",
	"VERBAT/IMn/0",
	"TDK/DVDRW/0",
	"RITEK/BD/0",
}

// DiscID is a stripped ASCII string drawn from DiscAllowList.
type DiscID struct {
	raw string
}

// NewDiscID validates raw against DiscAllowList.
func NewDiscID(raw string) (DiscID, error) {
	s := strings.TrimSpace(raw)
	for _, allowed := range DiscAllowList {
		if s == allowed {
			return DiscID{raw: s}, nil
		}
	}
	return DiscID{}, fmt.Errorf("disc id %q is not in the allow-list %v", s, DiscAllowList)
}

func (d DiscID) String() string { return d.raw }
