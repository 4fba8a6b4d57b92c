// Package geometry computes disc byte geometry: data/hash-tree sector
// counts, disc-profile selection, and FEC-roots sizing (spec.md §3, §4.1;
// the core, C1).
package geometry

import (
	"fmt"

	"github.com/Wenri/FECISO/internal/discmodel"
)

const (
	// DataBlockSize is one optical-disc sector, in bytes.
	DataBlockSize = 2048
	// HashSize is one MD5 digest, in bytes.
	HashSize = 16
	// HashFanout is the number of hashes that fit in one data block.
	HashFanout = DataBlockSize / HashSize // 128

	// MinFECRoots and MaxFECRoots bound the Reed-Solomon roots parameter.
	MinFECRoots = 2
	MaxFECRoots = 24
)

// DataSectors returns ceil(isoBytes / DataBlockSize).
func DataSectors(isoBytes int64) int64 {
	if isoBytes < 0 {
		isoBytes = 0
	}
	return (isoBytes + DataBlockSize - 1) / DataBlockSize
}

// HashSectors computes the dm-verity hash-tree sector count for n data
// sectors: one superblock sector plus, per tree level, floor(n / HashFanout)
// sectors and one more only when that division leaves a remainder; n then
// becomes floor(n / HashFanout) for the next level, until it reaches zero.
func HashSectors(n int64) (int64, error) {
	if n < 0 {
		return 0, fmt.Errorf("data sector count must be non-negative, got %d", n)
	}
	h := int64(1) // superblock
	for n > 0 {
		var rem int64
		n, rem = n/HashFanout, n%HashFanout
		h += n
		if rem != 0 {
			h++
		}
	}
	return h, nil
}

// PickProfile returns the smallest disc profile whose total sector count is
// >= need, and true. If no profile fits, it returns the zero value and
// false.
func PickProfile(need int64) (discmodel.DiscProfile, bool) {
	for _, p := range discmodel.Profiles {
		if p.TotalSectors >= need {
			return p, true
		}
	}
	return discmodel.DiscProfile{}, false
}

// FECParityBytes returns the Reed-Solomon parity byte count for roots r
// protecting dataAndHashBytes bytes of payload: ceil(N/(255-r))*r.
func FECParityBytes(dataAndHashBytes int64, r int) int64 {
	codewordData := int64(255 - r)
	blocks := (dataAndHashBytes + codewordData - 1) / codewordData
	return blocks * int64(r)
}

// FECParitySectors returns FECParityBytes rounded up to whole data sectors.
func FECParitySectors(dataAndHashBytes int64, r int) int64 {
	bytes := FECParityBytes(dataAndHashBytes, r)
	return (bytes + DataBlockSize - 1) / DataBlockSize
}

// PickFECRoots returns the largest r in [MinFECRoots, MaxFECRoots] such that
// data + hash + parity-sectors(r) <= profileTotal, trying r = 24 downward so
// ties favor the larger root count. It returns (0, false) if no r fits.
func PickFECRoots(dataSectors, hashSectors, profileTotal int64) (int, bool) {
	dataAndHashBytes := (dataSectors + hashSectors) * DataBlockSize
	for r := MaxFECRoots; r >= MinFECRoots; r-- {
		parity := FECParitySectors(dataAndHashBytes, r)
		if dataSectors+hashSectors+parity <= profileTotal {
			return r, true
		}
	}
	return 0, false
}

// FormatBytes renders n using binary (Ki/Mi/.../Yi) prefixes, for
// user-visible reporting only.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	prefixes := "KMGTPEZY"
	return fmt.Sprintf("%.2f%ciB", float64(n)/float64(div), prefixes[exp])
}
