package resolver

import (
	"context"
	"log"
	"math"
	"sync/atomic"
	"time"

	"swarmsite/internal/config"
)

type statsCollector struct {
	served     atomic.Uint64
	servedByte atomic.Uint64
	minBytes   atomic.Uint64
	maxBytes   atomic.Uint64

	mediaHits atomic.Uint64
	fallbacks atomic.Uint64
	timeouts  atomic.Uint64
}

func newStatsCollector() *statsCollector {
	s := &statsCollector{}
	s.minBytes.Store(math.MaxUint64)
	return s
}

// Observe records one body written with a 200 or 206 status.
func (s *statsCollector) Observe(respBytes int) {
	if respBytes < 0 {
		respBytes = 0
	}
	n := uint64(respBytes)

	s.served.Add(1)
	s.servedByte.Add(n)

	for {
		cur := s.minBytes.Load()
		if n >= cur {
			break
		}
		if s.minBytes.CompareAndSwap(cur, n) {
			break
		}
	}
	for {
		cur := s.maxBytes.Load()
		if n <= cur {
			break
		}
		if s.maxBytes.CompareAndSwap(cur, n) {
			break
		}
	}
}

type statsSnapshot struct {
	Served    uint64
	MinBytes  uint64
	MaxBytes  uint64
	AvgBytes  uint64
	MediaHits uint64
	Fallbacks uint64
	Timeouts  uint64
}

func (s *statsCollector) Snapshot() statsSnapshot {
	ss := statsSnapshot{
		MediaHits: s.mediaHits.Load(),
		Fallbacks: s.fallbacks.Load(),
		Timeouts:  s.timeouts.Load(),
	}
	count := s.served.Load()
	if count == 0 {
		return ss
	}
	minv := s.minBytes.Load()
	if minv == math.MaxUint64 {
		minv = 0
	}
	ss.Served = count
	ss.MinBytes = minv
	ss.MaxBytes = s.maxBytes.Load()
	ss.AvgBytes = s.servedByte.Load() / count
	return ss
}

// LogStats prints a summary line every interval until ctx ends.
func (rv *Resolver) LogStats(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			ss := rv.stats.Snapshot()
			snap := rv.state.Snapshot()
			rss := "n/a"
			if b, ok := processRSSBytes(); ok {
				rss = config.FormatBytes(b)
			}
			log.Printf(
				"resolver: site=%s(%s) files=%d served=%d resp min/avg/max %s/%s/%s media-cache=%d/%s hits=%d fallbacks=%d timeouts=%d pending=%d rss=%s",
				shortHash(snap.Hash), snap.Phase, snap.FileCount(),
				ss.Served,
				config.FormatBytes(ss.MinBytes),
				config.FormatBytes(ss.AvgBytes),
				config.FormatBytes(ss.MaxBytes),
				rv.media.Len(), config.FormatBytes(uint64(rv.media.TotalSize())),
				ss.MediaHits, ss.Fallbacks, ss.Timeouts,
				rv.pending.Len(),
				rss,
			)
		}
	}
}

func shortHash(h string) string {
	if h == "" {
		return "-"
	}
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
