package resolver

import (
	"context"
	"sync"
	"time"
)

type Phase int

const (
	NoSite Phase = iota
	Loading
	Ready
)

func (p Phase) String() string {
	switch p {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	default:
		return "no-site"
	}
}

// Snapshot is an immutable view of the readiness state.
type Snapshot struct {
	Phase Phase
	Hash  string
	files map[string]struct{}
}

// Has reports whether p is in the published manifest.
func (s Snapshot) Has(p string) bool {
	_, ok := s.files[p]
	return ok
}

func (s Snapshot) FileCount() int { return len(s.files) }

// readiness holds the resolver's view of the site lifecycle. Waiters block
// on changed, which is closed and replaced on every transition.
type readiness struct {
	mu      sync.Mutex
	cur     Snapshot
	changed chan struct{}
}

func newReadiness() *readiness {
	return &readiness{changed: make(chan struct{})}
}

func (r *readiness) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur
}

// set installs next and returns the state it replaced.
func (r *readiness) set(next Snapshot) Snapshot {
	r.mu.Lock()
	prev := r.cur
	r.cur = next
	ch := r.changed
	r.changed = make(chan struct{})
	r.mu.Unlock()
	close(ch)
	return prev
}

func (r *readiness) Loading(hash string) Snapshot {
	return r.set(Snapshot{Phase: Loading, Hash: hash})
}

func (r *readiness) Ready(hash string, fileList []string) Snapshot {
	files := make(map[string]struct{}, len(fileList))
	for _, f := range fileList {
		files[f] = struct{}{}
	}
	return r.set(Snapshot{Phase: Ready, Hash: hash, files: files})
}

func (r *readiness) Unload() Snapshot {
	return r.set(Snapshot{Phase: NoSite})
}

// WaitReady blocks until a site is ready. The window is base while no site
// is known and grows to max once a load is in progress, measured from the
// start of the wait.
func (r *readiness) WaitReady(ctx context.Context, base, max time.Duration) (Snapshot, error) {
	start := time.Now()
	for {
		r.mu.Lock()
		cur, ch := r.cur, r.changed
		r.mu.Unlock()

		if cur.Phase == Ready {
			return cur, nil
		}

		window := base
		if cur.Phase == Loading && max > base {
			window = max
		}
		remaining := time.Until(start.Add(window))
		if remaining <= 0 {
			return cur, &TimeoutError{Op: "waiting for site", After: time.Since(start)}
		}

		t := time.NewTimer(remaining)
		select {
		case <-ch:
			t.Stop()
		case <-t.C:
			// loop once more: a transition to Loading may extend the window
		case <-ctx.Done():
			t.Stop()
			return cur, ctx.Err()
		}
	}
}
