package recovery

import (
	"fmt"
	"math"
)

// Range is an inclusive block range.
type Range struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// String returns the range in "start-end" format.
func (r Range) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// Size returns the number of blocks in the range, saturating at MaxUint64
// for the full range.
func (r Range) Size() uint64 {
	if r.End-r.Start == math.MaxUint64 {
		return math.MaxUint64
	}
	return r.End - r.Start + 1
}

// Split cuts the range into consecutive chunks of at most maxSize blocks.
func (r Range) Split(maxSize uint64) []Range {
	if maxSize == 0 || r.Size() <= maxSize {
		return []Range{r}
	}

	var chunks []Range
	for current := r.Start; current <= r.End; {
		chunkEnd := current + min(maxSize-1, r.End-current)
		chunks = append(chunks, Range{Start: current, End: chunkEnd})
		if chunkEnd == r.End {
			break
		}
		current = chunkEnd + 1
	}
	return chunks
}

// ParseRange parses "start-end".
func ParseRange(s string) (Range, error) {
	var start, end uint64
	if _, err := fmt.Sscanf(s, "%d-%d", &start, &end); err != nil {
		return Range{}, fmt.Errorf("invalid range format: %s", s)
	}
	if start > end {
		return Range{}, fmt.Errorf("start > end: %d > %d", start, end)
	}
	return Range{Start: start, End: end}, nil
}

// saturating subtraction
func sub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}
