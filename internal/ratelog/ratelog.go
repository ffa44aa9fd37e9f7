// Package ratelog throttles repetitive log lines.
package ratelog

import (
	"log"
	"sync"
	"time"
)

// Logger prints at most once per interval and reports how many lines it
// swallowed in between.
type Logger struct {
	mu         sync.Mutex
	lastAt     time.Time
	interval   time.Duration
	suppressed int

	now func() time.Time
}

func New(interval time.Duration) *Logger {
	return &Logger{interval: interval, now: time.Now}
}

func (l *Logger) Printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if !l.lastAt.IsZero() && now.Sub(l.lastAt) < l.interval {
		l.suppressed++
		return
	}
	l.lastAt = now
	if l.suppressed > 0 {
		format += " (%d similar suppressed)"
		args = append(args, l.suppressed)
		l.suppressed = 0
	}
	log.Printf(format, args...)
}
