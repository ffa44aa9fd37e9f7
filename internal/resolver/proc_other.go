//go:build !linux

package resolver

func processRSSBytes() (uint64, bool) { return 0, false }
