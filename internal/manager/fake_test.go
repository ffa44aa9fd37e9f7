package manager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"swarmsite/internal/swarm"
)

var errNotYet = errors.New("pieces missing")

type fakeFile struct {
	path string
	data []byte
	size int64

	mu         sync.Mutex
	progress   float64
	failReads  int
	stallReads int
	selected   bool

	reads atomic.Int32
}

func newFakeFile(p string, data string, progress float64) *fakeFile {
	return &fakeFile{path: p, data: []byte(data), progress: progress}
}

func (f *fakeFile) Path() string { return f.path }

func (f *fakeFile) Length() int64 {
	if f.size > 0 {
		return f.size
	}
	return int64(len(f.data))
}

func (f *fakeFile) Progress() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.progress
}

func (f *fakeFile) setProgress(p float64) {
	f.mu.Lock()
	f.progress = p
	f.mu.Unlock()
}

func (f *fakeFile) Select() {
	f.mu.Lock()
	f.selected = true
	f.mu.Unlock()
}

func (f *fakeFile) ReadAll(ctx context.Context) ([]byte, error) {
	f.reads.Add(1)
	f.mu.Lock()
	if f.stallReads > 0 {
		// Pieces that never arrive: wait like the real client does.
		f.stallReads--
		f.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	defer f.mu.Unlock()
	if f.failReads > 0 {
		f.failReads--
		return nil, errNotYet
	}
	if f.progress < 1 {
		return nil, errNotYet
	}
	return append([]byte{}, f.data...), nil
}

func (f *fakeFile) ReadRange(ctx context.Context, start, end int64) ([]byte, error) {
	return append([]byte{}, f.data[start:end+1]...), nil
}

type fakeTorrent struct {
	hash   string
	files  []*fakeFile
	events chan swarm.Event

	mu       sync.Mutex
	progress float64
	closed   bool
}

func (t *fakeTorrent) Hash() string { return t.hash }

func (t *fakeTorrent) Files() []swarm.File {
	out := make([]swarm.File, len(t.files))
	for i, f := range t.files {
		out[i] = f
	}
	return out
}

func (t *fakeTorrent) Progress() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

func (t *fakeTorrent) Events() <-chan swarm.Event { return t.events }

func (t *fakeTorrent) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTorrent) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTorrent) emit(kind swarm.EventKind, progress float64) {
	t.mu.Lock()
	t.progress = progress
	t.mu.Unlock()
	t.events <- swarm.Event{Kind: kind, Progress: progress}
}

type fakeClient struct {
	mu       sync.Mutex
	torrents map[string]*fakeTorrent
	adds     int
}

func newFakeClient() *fakeClient {
	return &fakeClient{torrents: map[string]*fakeTorrent{}}
}

func (c *fakeClient) seed(hash string, progress float64, files ...*fakeFile) *fakeTorrent {
	t := &fakeTorrent{hash: hash, files: files, events: make(chan swarm.Event, 16), progress: progress}
	c.mu.Lock()
	c.torrents[hash] = t
	c.mu.Unlock()
	return t
}

func (c *fakeClient) Add(ctx context.Context, hash string) (swarm.Torrent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adds++
	t, ok := c.torrents[hash]
	if !ok {
		return nil, swarm.ErrNotFound
	}
	return t, nil
}

func (c *fakeClient) addCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adds
}

func (c *fakeClient) Close() error { return nil }
