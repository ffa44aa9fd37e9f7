package manager

import (
	"context"
	"log"
	"time"

	"swarmsite/internal/protocol"
	"swarmsite/internal/sitecache"
	"swarmsite/internal/swarm"
)

// watch follows one torrent until it completes or the load is replaced.
func (m *Manager) watch(ctx context.Context, gen uint64, t swarm.Torrent, manifest *Manifest) {
	files := t.Files()
	for _, f := range files {
		if m.classes.classOf(f.Path()) == classEssential {
			f.Select()
		}
	}

	wait := fallbackTimeout(m.cfg, files)
	timer := time.NewTimer(wait)
	defer timer.Stop()

	early := false
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-t.Events():
			if !ok {
				return
			}
			if ev.Kind == swarm.EventDone {
				m.process(ctx, gen, files, manifest, TriggerDone)
				m.store(gen, t.Hash(), files, manifest)
				return
			}
			if !early {
				ok, trig := ShouldProcessEarly(ev.Progress, files, m.cfg.Thresholds)
				if !ok {
					continue
				}
				early = true
				log.Printf("manager: %s at %.0f%%, processing early (%s)", t.Hash(), ev.Progress*100, trig)
				m.process(ctx, gen, files, manifest, trig)
				continue
			}
			m.process(ctx, gen, files, manifest, TriggerNone)
		case <-timer.C:
			if p := t.Progress(); !early && p > m.cfg.Thresholds.FallbackOverall {
				early = true
				log.Printf("manager: %s at %.0f%% after %s, processing (%s)", t.Hash(), p*100, wait, TriggerTimer)
				m.process(ctx, gen, files, manifest, TriggerTimer)
			}
			if !early {
				timer.Reset(wait)
			}
		}
	}
}

// process runs one extraction pass and publishes the site if the gate
// passes. Media is listed as streaming before the gate and only read after
// it.
func (m *Manager) process(ctx context.Context, gen uint64, files []swarm.File, manifest *Manifest, trig Trigger) {
	var extracted, skipped, streaming int
	var media []swarm.File
	for _, f := range m.classes.order(files) {
		if ctx.Err() != nil || !m.current(gen) {
			return
		}
		p := f.Path()
		r, known := manifest.Get(p)
		if known && (r.Extracted() || f.Progress() < 1) {
			continue
		}

		class := m.classes.classOf(p)
		if class == classMedia {
			if !known {
				manifest.Put(m.streamRecord(f))
				streaming++
			}
			if f.Progress() >= m.thresholdFor(class) {
				media = append(media, f)
			}
			continue
		}
		if f.Progress() < m.thresholdFor(class) {
			skipped++
			continue
		}

		timeout := extractTimeout(m.cfg, f.Length())
		data, err := readFile(ctx, f, timeout)
		if err != nil && isIndex(p) {
			log.Printf("manager: %v, retrying in %s", err, m.cfg.Extract.IndexRetryDelay.D())
			if !sleepCtx(ctx, m.cfg.Extract.IndexRetryDelay.D()) {
				return
			}
			data, err = readFile(ctx, f, 2*timeout)
		}
		if err != nil {
			log.Printf("manager: %v", err)
			continue
		}
		manifest.Put(m.classes.record(p, data, f.Length()))
		extracted++
	}
	m.publishIfReady(ctx, gen)

	for _, f := range media {
		if ctx.Err() != nil || !m.current(gen) {
			return
		}
		// Incomplete media gets one short try; the rest is served by range.
		timeout := extractTimeout(m.cfg, f.Length())
		if f.Progress() < 1 {
			timeout = min(timeout, m.cfg.Extract.Base.D())
		}
		data, err := readFile(ctx, f, timeout)
		if err != nil {
			log.Printf("manager: %v, left streaming", err)
			continue
		}
		rec := m.classes.record(f.Path(), data, f.Length())
		rec.stream = f
		manifest.Put(rec)
		extracted++
	}
	if trig != TriggerNone {
		log.Printf("manager: pass (%s): %d extracted, %d streaming, %d skipped", trig, extracted, streaming, skipped)
	}
}

func (m *Manager) streamRecord(f swarm.File) *FileRecord {
	rec := m.classes.record(f.Path(), nil, f.Length())
	rec.IsMedia = true
	rec.stream = f
	return rec
}

// publishIfReady sends SITE_READY once something is extracted and an
// index.html is among it, and again whenever the manifest has grown.
func (m *Manager) publishIfReady(ctx context.Context, gen uint64) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	manifest := m.manifest
	if manifest.Extracted() == 0 || !manifest.HasIndex() {
		m.mu.Unlock()
		return
	}
	paths := manifest.Paths()
	if m.state == StateReady && len(paths) == m.published {
		m.mu.Unlock()
		return
	}
	first := m.state != StateReady
	m.state = StateReady
	m.published = len(paths)
	hash := m.hash
	m.mu.Unlock()

	if first {
		log.Printf("manager: %s ready with %d files", hash, len(paths))
	}
	m.send(ctx, protocol.SiteReady{Hash: hash, FileCount: len(paths), FileList: paths})
}

// store saves a fully extracted site in the local cache.
func (m *Manager) store(gen uint64, hash string, files []swarm.File, manifest *Manifest) {
	if m.cache == nil || !m.current(gen) {
		return
	}
	site := &sitecache.Site{Hash: hash}
	for _, f := range files {
		r, ok := manifest.Get(f.Path())
		if !ok || !r.Extracted() {
			return
		}
		site.Files = append(site.Files, sitecache.File{
			Path:        r.Path,
			Content:     r.Content,
			ContentType: r.ContentType,
			IsText:      r.IsText,
			IsMedia:     r.IsMedia,
			Size:        r.Size,
		})
	}
	m.cache.Set(hash, site)
	log.Printf("manager: %s stored in local cache", hash)
}

func readFile(ctx context.Context, f swarm.File, timeout time.Duration) ([]byte, error) {
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	data, err := f.ReadAll(rctx)
	if err != nil {
		return nil, &ExtractionError{Path: f.Path(), Err: err}
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
