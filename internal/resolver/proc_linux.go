//go:build linux

package resolver

import (
	"os"
	"strconv"
	"strings"
)

// processRSSBytes reads resident memory for the periodic stats line from
// /proc/self/statm, whose second field counts resident pages.
func processRSSBytes() (uint64, bool) {
	raw, err := os.ReadFile("/proc/self/statm")
	if err != nil {
		return 0, false
	}
	cols := strings.Fields(string(raw))
	if len(cols) < 2 {
		return 0, false
	}
	pages, err := strconv.ParseUint(cols[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return pages * uint64(os.Getpagesize()), true
}
