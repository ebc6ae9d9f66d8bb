// Package chunk splits a byte count into ordered upload ranges.
//
// The split is pure arithmetic: it never touches the media bytes and knows
// nothing about providers, so callers can plan part counts (and progress
// totals) before any upload starts.
package chunk

import "errors"

// DefaultMaxUnitBytes is the per-part ceiling for chunked uploads.
const DefaultMaxUnitBytes uint64 = 15 << 20 // 15 MiB

var (
	ErrEmptyMedia  = errors.New("media is empty")
	ErrInvalidUnit = errors.New("max unit size must be greater than zero")
)

// Range is a half-open byte window [Start, End) of the source media.
// Index is the zero-based position of the range within the split.
type Range struct {
	Index uint32 `json:"index"`
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// Len returns the number of bytes the range covers.
func (r Range) Len() uint64 {
	return r.End - r.Start
}

// Split divides sizeBytes into contiguous ranges of at most maxUnitBytes
// each. Ranges are returned in ascending order, cover [0, sizeBytes) with
// no gaps or overlaps, and only the final range may be shorter than
// maxUnitBytes. A sizeBytes of exactly maxUnitBytes yields a single range.
func Split(sizeBytes, maxUnitBytes uint64) ([]Range, error) {
	if sizeBytes == 0 {
		return nil, ErrEmptyMedia
	}
	if maxUnitBytes == 0 {
		return nil, ErrInvalidUnit
	}

	n := sizeBytes / maxUnitBytes
	if sizeBytes%maxUnitBytes != 0 {
		n++
	}

	ranges := make([]Range, 0, n)
	var start uint64
	for i := uint64(0); i < n; i++ {
		end := start + maxUnitBytes
		if end > sizeBytes {
			end = sizeBytes
		}
		ranges = append(ranges, Range{Index: uint32(i), Start: start, End: end})
		start = end
	}
	return ranges, nil
}

// Count returns how many ranges Split would produce without building them.
// It reports zero for inputs Split rejects.
func Count(sizeBytes, maxUnitBytes uint64) int {
	if sizeBytes == 0 || maxUnitBytes == 0 {
		return 0
	}
	n := sizeBytes / maxUnitBytes
	if sizeBytes%maxUnitBytes != 0 {
		n++
	}
	return int(n)
}
