package manager

import (
	"path"
	"strings"
	"sync"

	"swarmsite/internal/swarm"
)

// FileRecord is one file of the loaded site. A media record may be
// streaming: it has no Content yet and is served from the swarm file.
type FileRecord struct {
	Path        string
	Content     []byte
	ContentType string
	IsText      bool
	IsMedia     bool
	Size        int64

	stream swarm.File
}

func (r *FileRecord) Extracted() bool { return r.Content != nil }

func (r *FileRecord) Streaming() bool { return r.Content == nil && r.stream != nil }

// Manifest maps site paths to records and remembers insertion order.
type Manifest struct {
	mu    sync.RWMutex
	order []string
	files map[string]*FileRecord
}

func NewManifest() *Manifest {
	return &Manifest{files: map[string]*FileRecord{}}
}

// Put stores r, replacing any record for the same path. It reports whether
// the path is new.
func (m *Manifest) Put(r *FileRecord) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.files[r.Path]
	if !exists {
		m.order = append(m.order, r.Path)
	}
	m.files[r.Path] = r
	return !exists
}

func (m *Manifest) Get(p string) (*FileRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.files[p]
	return r, ok
}

func (m *Manifest) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// Paths lists every known path in insertion order.
func (m *Manifest) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// Records returns the records in insertion order.
func (m *Manifest) Records() []*FileRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*FileRecord, 0, len(m.order))
	for _, p := range m.order {
		out = append(out, m.files[p])
	}
	return out
}

func (m *Manifest) Extracted() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.files {
		if r.Extracted() {
			n++
		}
	}
	return n
}

// HasIndex reports whether an index.html in any directory has content.
func (m *Manifest) HasIndex() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for p, r := range m.files {
		if isIndex(p) && r.Extracted() {
			return true
		}
	}
	return false
}

// Lookup finds the record for a requested path. Stages are tried in order
// and the first hit wins; inside a stage, earlier inserted paths win.
//
//  1. exact match, raw and then with leading "./" and "/" removed
//  2. same file name (not for index.html)
//  3. one path is a suffix of the other; a request for a directory index
//     or with no extension also compares paths with the extension and a
//     trailing "/index.html" removed
func (m *Manifest) Lookup(p string) (*FileRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if r, ok := m.files[p]; ok {
		return r, true
	}
	clean := cleanPath(p)
	if r, ok := m.files[clean]; ok {
		return r, true
	}
	if clean == "" {
		return nil, false
	}

	name := path.Base(clean)
	// index.html names its directory; stage 3 matches it by stem.
	if name != indexName {
		for _, k := range m.order {
			if path.Base(k) == name {
				return m.files[k], true
			}
		}
	}

	// Stems only apply to directory indexes and extension-less requests.
	cstem := ""
	if name == indexName || path.Ext(clean) == "" {
		cstem = stem(clean)
	}
	for _, k := range m.order {
		// Directory indexes only ever match through their stems.
		if !(name == indexName && path.Base(k) == indexName) {
			if strings.HasSuffix(k, "/"+clean) || strings.HasSuffix(clean, "/"+k) {
				return m.files[k], true
			}
		}
		ks := stem(k)
		if ks == "" || cstem == "" {
			continue
		}
		if ks == cstem || strings.HasSuffix(ks, "/"+cstem) || strings.HasSuffix(cstem, "/"+ks) {
			return m.files[k], true
		}
	}
	return nil, false
}

const indexName = "index.html"

func isIndex(p string) bool {
	return strings.EqualFold(path.Base(p), indexName)
}

func cleanPath(p string) string {
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	return strings.TrimLeft(p, "/")
}

// stem drops a trailing "/index.html" or the extension. The root index has
// an empty stem.
func stem(p string) string {
	if p == indexName {
		return ""
	}
	if s, ok := strings.CutSuffix(p, "/"+indexName); ok {
		return s
	}
	return strings.TrimSuffix(p, path.Ext(p))
}
