// Package resolver intercepts requests for the virtual site namespace and
// answers them with content obtained from the site manager over a bridge
// link. A site-scoped request never falls through to another handler.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"swarmsite/internal/bridge"
	"swarmsite/internal/config"
	"swarmsite/internal/protocol"
	"swarmsite/internal/ratelog"
)

type Resolver struct {
	cfg    config.Resolver
	prefix string
	origin *url.URL

	link bridge.Link

	state   *readiness
	pending *pendingTable
	media   *mediaCache
	stats   *statsCollector
	isMedia *protocol.MediaMatcher

	noPeerLog *ratelog.Logger

	newID func() string
}

// New builds a resolver for the namespace under prefix. origin is the
// interceptor's own origin; empty accepts the Host of each request.
func New(cfg config.Resolver, link bridge.Link, prefix, origin string) (*Resolver, error) {
	var self *url.URL
	if origin != "" {
		u, err := url.Parse(origin)
		if err != nil {
			return nil, fmt.Errorf("resolver: origin %q: %w", origin, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("resolver: origin %q must be absolute", origin)
		}
		self = u
	}
	isMedia, err := protocol.NewMediaMatcher(cfg.Media)
	if err != nil {
		return nil, fmt.Errorf("resolver: %w", err)
	}
	return &Resolver{
		cfg:       cfg,
		prefix:    prefix,
		origin:    self,
		link:      link,
		state:     newReadiness(),
		pending:   newPendingTable(),
		media:     newMediaCache(int64(cfg.MediaCacheMax), ratelog.New(time.Minute)),
		stats:     newStatsCollector(),
		isMedia:   isMedia,
		noPeerLog: ratelog.New(30 * time.Second),
		newID:     uuid.NewString,
	}, nil
}

// Snapshot returns the resolver's current view of the site.
func (rv *Resolver) Snapshot() Snapshot { return rv.state.Snapshot() }

// Run consumes messages from the manager until ctx ends.
func (rv *Resolver) Run(ctx context.Context) error {
	in := rv.link.Inbox()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-in:
			rv.dispatch(m)
		}
	}
}

func (rv *Resolver) dispatch(m protocol.Message) {
	switch v := m.(type) {
	case protocol.SiteLoading:
		hash := protocol.Sanitize(v.Hash)
		prev := rv.state.Loading(hash)
		rv.invalidate()
		log.Printf("resolver: site %s loading (was %s %s)", shortHash(hash), prev.Phase, shortHash(prev.Hash))
	case protocol.SiteReady:
		hash := protocol.Sanitize(v.Hash)
		prev := rv.state.Ready(hash, v.FileList)
		if prev.Hash != hash {
			rv.invalidate()
		}
		if prev.Phase != Ready || prev.Hash != hash {
			log.Printf("resolver: site %s ready with %d files", shortHash(hash), len(v.FileList))
		} else if prev.FileCount() != len(v.FileList) {
			log.Printf("resolver: site %s now has %d files", shortHash(hash), len(v.FileList))
		}
	case protocol.SiteUnloaded:
		prev := rv.state.Unload()
		rv.invalidate()
		log.Printf("resolver: site %s unloaded", shortHash(prev.Hash))
	case protocol.ResourceResponse:
		rv.pending.Resolve(v.RequestID, answer{resp: &v})
	case protocol.MediaChunkResponse:
		rv.pending.Resolve(v.RequestID, answer{chunk: &v})
	case protocol.ResourceRequest:
		log.Printf("resolver: ignoring %s from manager side", v.Kind())
	default:
		log.Printf("resolver: ignoring unexpected message %T", m)
	}
}

// invalidate drops everything tied to the previous site.
func (rv *Resolver) invalidate() {
	rv.media.Clear()
	if n := rv.pending.InvalidateAll(); n > 0 {
		log.Printf("resolver: invalidated %d in-flight requests", n)
	}
}

// Middleware answers site-scoped requests and passes everything else to
// next unchanged.
func (rv *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if Classify(requestURL(r), rv.origin, rv.prefix) != ScopeSite {
			next.ServeHTTP(w, r)
			return
		}
		rv.serveSite(w, r)
	})
}

func (rv *Resolver) Handler() http.Handler {
	return rv.Middleware(http.NotFoundHandler())
}

// requestURL rebuilds the absolute URL the client asked for.
func requestURL(r *http.Request) *url.URL {
	u := *r.URL
	if u.Scheme == "" {
		u.Scheme = "http"
		if r.TLS != nil {
			u.Scheme = "https"
		}
	}
	if u.Host == "" {
		u.Host = r.Host
	}
	return &u
}

func (rv *Resolver) siteHome(hash string) string {
	return rv.prefix + "/" + hash + "/"
}

func (rv *Resolver) serveSite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, &ProtocolError{Reason: "method " + r.Method + " not allowed"}, tagBadRequest)
		return
	}

	hash, file, err := splitSitePath(r.URL.Path, rv.prefix)
	if err != nil {
		writeError(w, err, tagBadRequest)
		return
	}

	snap, err := rv.state.WaitReady(r.Context(), rv.cfg.ReadyTimeout.D(), rv.cfg.ReadyTimeoutMax.D())
	if err != nil {
		rv.stats.timeouts.Add(1)
		writeError(w, fmt.Errorf("site %s never became ready: %w", shortHash(hash), err), tagNotReady)
		return
	}
	if snap.Hash != hash {
		writeError(w, &IdentityMismatchError{Requested: hash, Loaded: snap.Hash}, tagMismatch)
		return
	}

	filePath := Normalize(file, snap.Has)
	full := requestURL(r).String()
	rng := protocol.ParseRange(r.Header.Get("Range"), -1)

	if ent, ok := rv.media.Get(full); ok {
		rv.stats.mediaHits.Add(1)
		n := writeContent(w, r, ent.Data, ent.ContentType, true, rng, tagMediaHit)
		rv.stats.Observe(n)
		return
	}

	rv.roundTrip(w, r, hash, filePath, full, rng)
}

func (rv *Resolver) roundTrip(w http.ResponseWriter, r *http.Request, hash, filePath, full string, rng *protocol.Range) {
	isMedia := rv.isMedia.Match(filePath)
	timeout := rv.cfg.RequestTimeout.D()
	if isMedia {
		timeout = rv.cfg.MediaRequestTimeout.D()
	}

	id := rv.newID()
	pr := rv.pending.Add(id, full, rng)

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	err := rv.link.Send(ctx, protocol.ResourceRequest{
		URL:       full,
		FilePath:  filePath,
		RequestID: id,
		Range:     rng,
	})
	if err != nil {
		rv.pending.Remove(id)
		if errors.Is(err, bridge.ErrNoPeer) {
			rv.noPeerLog.Printf("resolver: no site manager attached, answering %s with fallback", filePath)
		} else {
			log.Printf("resolver: send request for %s: %v", filePath, err)
		}
		rv.fallback(w, hash, filePath, isMedia, http.StatusServiceUnavailable, "The site is not reachable right now.")
		return
	}

	var a answer
	select {
	case a = <-pr.ch:
	case <-ctx.Done():
		if rv.pending.Remove(id) {
			if r.Context().Err() != nil {
				// client went away
				return
			}
			rv.stats.timeouts.Add(1)
			log.Printf("resolver: %s", &TimeoutError{Op: "waiting for " + filePath, After: timeout})
			rv.fallback(w, hash, filePath, isMedia, http.StatusServiceUnavailable, "This page is still arriving from the swarm.")
			return
		}
		// resolved concurrently with the timeout
		a = <-pr.ch
	}

	rv.answer(w, r, hash, filePath, full, isMedia, rng, a)
}

func (rv *Resolver) answer(w http.ResponseWriter, r *http.Request, hash, filePath, full string, isMedia bool, rng *protocol.Range, a answer) {
	switch {
	case a.invalidated:
		rv.fallback(w, hash, filePath, isMedia, http.StatusServiceUnavailable, "The loaded site changed while this page was requested.")
	case a.chunk != nil:
		rv.stats.Observe(writeChunk(w, r, a.chunk))
	case a.resp != nil && a.resp.Data == nil:
		if isMedia {
			rv.stats.fallbacks.Add(1)
			writeMediaUnavailable(w, rv.cfg.RetryAfter.D())
			return
		}
		rv.stats.fallbacks.Add(1)
		err := &NotFoundError{Path: filePath}
		writeNavigationFallback(w, statusOf(err), tagNotFound, rv.siteHome(hash), err.Error(), rv.cfg.FallbackRedirect.D())
	case a.resp != nil:
		data, ct := a.resp.Data, a.resp.ContentType
		media := isMedia || protocol.IsMediaType(ct)
		if media && int64(len(data)) > int64(rv.cfg.MediaCacheMin) {
			rv.media.Put(full, data, ct)
		}
		rv.stats.Observe(writeContent(w, r, data, ct, media, rng, tagHit))
	default:
		rv.fallback(w, hash, filePath, isMedia, http.StatusServiceUnavailable, "No answer for this page.")
	}
}

func (rv *Resolver) fallback(w http.ResponseWriter, hash, filePath string, isMedia bool, status int, message string) {
	rv.stats.fallbacks.Add(1)
	if isMedia {
		writeMediaUnavailable(w, rv.cfg.RetryAfter.D())
		return
	}
	writeNavigationFallback(w, status, tagFallback, rv.siteHome(hash), message, rv.cfg.FallbackRedirect.D())
}
