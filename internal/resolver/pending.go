package resolver

import (
	"sync"
	"time"

	"swarmsite/internal/protocol"
)

// answer is what a waiting request receives. Exactly one field is set.
type answer struct {
	resp        *protocol.ResourceResponse
	chunk       *protocol.MediaChunkResponse
	invalidated bool
}

type pendingRequest struct {
	id        string
	url       string
	rng       *protocol.Range
	createdAt time.Time

	// buffered so the resolving side never blocks on a gone waiter
	ch chan answer
}

// pendingTable tracks in-flight round trips. An entry is removed exactly
// once, by Resolve, Remove or InvalidateAll; only the remover acts on it.
type pendingTable struct {
	mu sync.Mutex
	m  map[string]*pendingRequest
}

func newPendingTable() *pendingTable {
	return &pendingTable{m: make(map[string]*pendingRequest)}
}

func (t *pendingTable) Add(id, url string, rng *protocol.Range) *pendingRequest {
	pr := &pendingRequest{
		id:        id,
		url:       url,
		rng:       rng,
		createdAt: time.Now(),
		ch:        make(chan answer, 1),
	}
	t.mu.Lock()
	t.m[id] = pr
	t.mu.Unlock()
	return pr
}

// Resolve hands a to the waiter for id. A late or duplicate answer returns
// false and changes nothing.
func (t *pendingTable) Resolve(id string, a answer) bool {
	t.mu.Lock()
	pr, ok := t.m[id]
	if ok {
		delete(t.m, id)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	pr.ch <- a
	return true
}

// Remove drops id without answering it. It returns false when the entry
// was already resolved, in which case the answer is waiting in its channel.
func (t *pendingTable) Remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.m[id]; !ok {
		return false
	}
	delete(t.m, id)
	return true
}

// InvalidateAll answers every waiter with invalidated and empties the table.
func (t *pendingTable) InvalidateAll() int {
	t.mu.Lock()
	old := t.m
	t.m = make(map[string]*pendingRequest)
	t.mu.Unlock()
	for _, pr := range old {
		pr.ch <- answer{invalidated: true}
	}
	return len(old)
}

func (t *pendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.m)
}
