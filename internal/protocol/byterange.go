package protocol

import (
	"strconv"
	"strings"
)

// Range is an inclusive byte span. End < 0 means "through the last byte".
type Range struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// ParseRange reads a "bytes=<start>-<end>" header. A missing end runs to
// the last byte, a missing or invalid start is 0. Pass length < 0 when the
// body size is not known yet; End is then left at -1.
func ParseRange(header string, length int64) *Range {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, "bytes=") {
		return nil
	}
	ranges := strings.TrimPrefix(header, "bytes=")
	// Only the first span of a multi-range request is honored.
	if i := strings.IndexByte(ranges, ','); i >= 0 {
		ranges = ranges[:i]
	}
	startStr, endStr, _ := strings.Cut(ranges, "-")

	start, err := strconv.ParseInt(strings.TrimSpace(startStr), 10, 64)
	if err != nil || start < 0 {
		start = 0
	}
	end := int64(-1)
	if e, err := strconv.ParseInt(strings.TrimSpace(endStr), 10, 64); err == nil && e >= 0 {
		end = e
	}
	if end < 0 && length >= 0 {
		end = length - 1
	}
	return &Range{Start: start, End: end}
}

// Clamp fits r into a body of the given length so that
// 0 <= Start <= End <= length-1. It reports false when length is 0.
func (r Range) Clamp(length int64) (Range, bool) {
	if length <= 0 {
		return Range{}, false
	}
	last := length - 1
	start, end := r.Start, r.End
	if end < 0 || end > last {
		end = last
	}
	if start < 0 {
		start = 0
	}
	if start > last {
		start = last
	}
	if start > end {
		start = end
	}
	return Range{Start: start, End: end}, true
}

// Len is the number of bytes an already clamped range covers.
func (r Range) Len() int64 { return r.End - r.Start + 1 }
