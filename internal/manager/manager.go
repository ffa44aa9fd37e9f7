// Package manager owns the loaded site: it follows swarm progress, decides
// when enough has arrived to serve, extracts files into a manifest and
// answers resource requests coming over the bridge.
package manager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"swarmsite/internal/bridge"
	"swarmsite/internal/config"
	"swarmsite/internal/protocol"
	"swarmsite/internal/ratelog"
	"swarmsite/internal/sitecache"
	"swarmsite/internal/swarm"
)

type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateFailed  State = "failed"
)

type Status struct {
	Hash      string  `json:"hash"`
	State     State   `json:"state"`
	Progress  float64 `json:"progress"`
	Files     int     `json:"files"`
	Extracted int     `json:"extracted"`
}

// ExtractionError is a failed read of one file from the swarm.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

type Manager struct {
	cfg     config.Manager
	link    bridge.Link
	client  swarm.Client
	cache   *sitecache.Cache
	classes *classifier

	mu        sync.Mutex
	gen       uint64
	hash      string
	state     State
	torrent   swarm.Torrent
	manifest  *Manifest
	published int
	cancel    context.CancelFunc

	sendWarn *ratelog.Logger
}

// New builds a manager. cache may be nil.
func New(cfg config.Manager, link bridge.Link, client swarm.Client, cache *sitecache.Cache) (*Manager, error) {
	classes, err := newClassifier(cfg.Essential, cfg.Media)
	if err != nil {
		return nil, err
	}
	return &Manager{
		cfg:      cfg,
		link:     link,
		client:   client,
		cache:    cache,
		classes:  classes,
		state:    StateIdle,
		manifest: NewManifest(),
		sendWarn: ratelog.New(10 * time.Second),
	}, nil
}

// Run answers resource requests until ctx ends.
func (m *Manager) Run(ctx context.Context) error {
	defer m.stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-m.link.Inbox():
			switch v := msg.(type) {
			case protocol.ResourceRequest:
				go m.answer(ctx, v)
			default:
				log.Printf("manager: ignoring %s", msg.Kind())
			}
		}
	}
}

func (m *Manager) stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	m.dropLocked()
}

// dropLocked ends the current load. Caller holds m.mu.
func (m *Manager) dropLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.torrent != nil {
		if err := m.torrent.Close(); err != nil {
			log.Printf("manager: close %s: %v", m.torrent.Hash(), err)
		}
		m.torrent = nil
	}
	m.manifest = NewManifest()
	m.published = 0
}

func (m *Manager) send(ctx context.Context, msg protocol.Message) {
	if err := m.link.Send(ctx, msg); err != nil {
		if errors.Is(err, bridge.ErrNoPeer) {
			m.sendWarn.Printf("manager: %s not delivered: %v", msg.Kind(), err)
			return
		}
		log.Printf("manager: send %s: %v", msg.Kind(), err)
	}
}

// current reports whether gen still names the active load.
func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen == gen
}

// BeginLoad replaces whatever site is loaded with the one named by raw.
func (m *Manager) BeginLoad(ctx context.Context, raw string) error {
	hash, err := protocol.ParseHash(raw)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.dropLocked()
	m.hash = hash
	m.state = StateLoading
	manifest := m.manifest
	loadCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()

	log.Printf("manager: loading %s", hash)
	m.send(ctx, protocol.SiteLoading{Hash: hash})

	if m.cache != nil {
		if site, ok := m.cache.Get(hash); ok {
			for _, f := range site.Files {
				manifest.Put(&FileRecord{
					Path:        f.Path,
					Content:     f.Content,
					ContentType: f.ContentType,
					IsText:      f.IsText,
					IsMedia:     f.IsMedia,
					Size:        f.Size,
				})
			}
			log.Printf("manager: %s served from local cache (%d files)", hash, manifest.Len())
			m.publishIfReady(ctx, gen)
			return nil
		}
	}

	t, err := m.client.Add(ctx, hash)
	if err != nil {
		m.mu.Lock()
		if m.gen == gen {
			m.state = StateFailed
		}
		m.mu.Unlock()
		return fmt.Errorf("add %s: %w", hash, err)
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		_ = t.Close()
		return nil
	}
	m.torrent = t
	m.mu.Unlock()

	go m.watch(loadCtx, gen, t, manifest)
	return nil
}

// Unload drops the current site.
func (m *Manager) Unload(ctx context.Context) {
	m.mu.Lock()
	m.gen++
	m.dropLocked()
	prev := m.hash
	m.hash = ""
	m.state = StateIdle
	m.mu.Unlock()

	if prev != "" {
		log.Printf("manager: unloaded %s", prev)
	}
	m.send(ctx, protocol.SiteUnloaded{})
}

// Republish repeats the last lifecycle message, for a resolver that just
// (re)attached.
func (m *Manager) Republish(ctx context.Context) {
	m.mu.Lock()
	state, hash, manifest := m.state, m.hash, m.manifest
	m.mu.Unlock()

	switch state {
	case StateLoading:
		m.send(ctx, protocol.SiteLoading{Hash: hash})
	case StateReady:
		paths := manifest.Paths()
		m.send(ctx, protocol.SiteReady{Hash: hash, FileCount: len(paths), FileList: paths})
	default:
		m.send(ctx, protocol.SiteUnloaded{})
	}
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		Hash:      m.hash,
		State:     m.state,
		Files:     m.manifest.Len(),
		Extracted: m.manifest.Extracted(),
	}
	switch {
	case m.torrent != nil:
		st.Progress = m.torrent.Progress()
		if n := len(m.torrent.Files()); n > st.Files {
			st.Files = n
		}
	case m.state == StateReady:
		st.Progress = 1
	}
	return st
}

// ClearCache empties the local site cache.
func (m *Manager) ClearCache() {
	if m.cache == nil {
		return
	}
	m.cache.Clear()
	m.cache.Flush()
	log.Printf("manager: local cache cleared")
}

func (m *Manager) lookup(p string) (*FileRecord, *Manifest, bool) {
	m.mu.Lock()
	manifest := m.manifest
	m.mu.Unlock()
	r, ok := manifest.Lookup(p)
	return r, manifest, ok
}

func (m *Manager) answer(ctx context.Context, req protocol.ResourceRequest) {
	resp := protocol.ResourceResponse{RequestID: req.RequestID, URL: req.URL}

	rec, manifest, ok := m.lookup(req.FilePath)
	switch {
	case !ok:
	case rec.Extracted():
		resp.Data = bytes.Clone(rec.Content)
		resp.ContentType = rec.ContentType
	case rec.Streaming() && req.Range != nil:
		if chunk, ok := m.readChunk(ctx, rec, *req.Range); ok {
			chunk.RequestID = req.RequestID
			m.send(ctx, chunk)
			return
		}
	case rec.Streaming():
		rctx, cancel := context.WithTimeout(ctx, extractTimeout(m.cfg, rec.Size))
		data, err := rec.stream.ReadAll(rctx)
		cancel()
		if err != nil {
			log.Printf("manager: %v", &ExtractionError{Path: rec.Path, Err: err})
			break
		}
		full := *rec
		full.Content = data
		full.stream = nil
		manifest.Put(&full)
		resp.Data = bytes.Clone(data)
		resp.ContentType = rec.ContentType
	}
	m.send(ctx, resp)
}

func (m *Manager) readChunk(ctx context.Context, rec *FileRecord, want protocol.Range) (protocol.MediaChunkResponse, bool) {
	r, ok := want.Clamp(rec.Size)
	if !ok {
		return protocol.MediaChunkResponse{}, false
	}
	rctx, cancel := context.WithTimeout(ctx, extractTimeout(m.cfg, r.Len()))
	defer cancel()
	data, err := rec.stream.ReadRange(rctx, r.Start, r.End)
	if err != nil {
		log.Printf("manager: %v", &ExtractionError{Path: rec.Path, Err: err})
		return protocol.MediaChunkResponse{}, false
	}
	return protocol.MediaChunkResponse{
		Chunk:       data,
		Start:       r.Start,
		End:         r.Start + int64(len(data)) - 1,
		Total:       rec.Size,
		ContentType: rec.ContentType,
	}, true
}
