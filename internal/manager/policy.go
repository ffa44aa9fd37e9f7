package manager

import (
	"time"

	"swarmsite/internal/config"
	"swarmsite/internal/swarm"
)

// Trigger says why a site was processed before the swarm finished.
type Trigger int

const (
	TriggerNone Trigger = iota
	TriggerOverall
	TriggerEssential
	TriggerTimer
	TriggerDone
)

func (t Trigger) String() string {
	switch t {
	case TriggerOverall:
		return "overall"
	case TriggerEssential:
		return "essential"
	case TriggerTimer:
		return "timer"
	case TriggerDone:
		return "done"
	default:
		return "none"
	}
}

// ShouldProcessEarly decides whether a partially downloaded site is worth
// materializing now.
func ShouldProcessEarly(overall float64, files []swarm.File, th config.Thresholds) (bool, Trigger) {
	if overall >= th.EarlyOverall {
		return true, TriggerOverall
	}
	if readyRatio(files, th.FileReady) >= th.EarlyEssentialRatio {
		return true, TriggerEssential
	}
	return false, TriggerNone
}

// readyRatio is the fraction of files at or above the given progress.
func readyRatio(files []swarm.File, min float64) float64 {
	if len(files) == 0 {
		return 0
	}
	n := 0
	for _, f := range files {
		if f.Progress() >= min {
			n++
		}
	}
	return float64(n) / float64(len(files))
}

func megabytes(n int64) float64 {
	return float64(n) / (1 << 20)
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if hi > 0 && d > hi {
		return hi
	}
	return d
}

// fallbackTimeout scales with the file count and total size of the site.
func fallbackTimeout(cfg config.Manager, files []swarm.File) time.Duration {
	f := cfg.Fallback
	d := f.Base.D() +
		time.Duration(len(files))*f.PerFile.D() +
		time.Duration(megabytes(swarm.TotalLength(files))*float64(f.PerMB.D()))
	return clampDuration(d, f.Min.D(), f.Max.D())
}

// extractTimeout bounds reading one file of the given size.
func extractTimeout(cfg config.Manager, size int64) time.Duration {
	e := cfg.Extract
	d := e.Base.D() + time.Duration(megabytes(size)*float64(e.PerMB.D()))
	return clampDuration(d, e.Base.D(), e.Max.D())
}

func (m *Manager) thresholdFor(c fileClass) float64 {
	th := m.cfg.Thresholds
	switch c {
	case classEssential:
		return th.Essential
	case classMedia:
		return th.Media
	default:
		return th.Other
	}
}
