package resolver

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"swarmsite/internal/protocol"
)

const (
	tagMediaHit   = "media-hit"
	tagHit        = "hit"
	tagChunk      = "chunk"
	tagNotFound   = "not-found"
	tagFallback   = "fallback"
	tagMismatch   = "mismatch"
	tagNotReady   = "not-ready"
	tagBadRequest = "bad-request"
)

const immutableCache = "public, max-age=31536000, immutable"

func setTagHeaders(h http.Header, tag string) {
	if tag != "" {
		h.Set("X-Swarmsite", tag)
	}
	// Custom headers are only readable from page scripts when exposed.
	ensureExposedHeader(h, "X-Swarmsite")
}

func ensureExposedHeader(h http.Header, name string) {
	if name == "" {
		return
	}

	const expose = "Access-Control-Expose-Headers"
	cur := h.Values(expose)
	if len(cur) == 0 {
		h.Set(expose, name)
		return
	}

	merged := strings.Join(cur, ",")
	for _, part := range strings.Split(merged, ",") {
		if strings.EqualFold(strings.TrimSpace(part), name) {
			return
		}
	}

	h.Set(expose, strings.TrimSpace(merged)+", "+name)
}

// writeContent serves data in full, or the requested span of it when rng
// is set and the body is media. It returns the number of body bytes.
func writeContent(w http.ResponseWriter, r *http.Request, data []byte, contentType string, isMedia bool, rng *protocol.Range, tag string) int {
	h := w.Header()
	setTagHeaders(h, tag)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	h.Set("Accept-Ranges", "bytes")
	h.Set("Cache-Control", immutableCache)

	length := int64(len(data))
	if rng == nil || !isMedia {
		h.Set("Content-Length", strconv.FormatInt(length, 10))
		w.WriteHeader(http.StatusOK)
		return writeBody(w, r, data)
	}

	span, ok := rng.Clamp(length)
	if !ok {
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", length))
		h.Del("Cache-Control")
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return 0
	}
	part := data[span.Start : span.End+1]
	h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", span.Start, span.End, length))
	h.Set("Content-Length", strconv.FormatInt(span.Len(), 10))
	w.WriteHeader(http.StatusPartialContent)
	return writeBody(w, r, part)
}

// writeChunk serves a span the manager already cut out of a larger body.
func writeChunk(w http.ResponseWriter, r *http.Request, c *protocol.MediaChunkResponse) int {
	h := w.Header()
	setTagHeaders(h, tagChunk)
	ct := c.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	h.Set("Accept-Ranges", "bytes")
	h.Set("Cache-Control", "no-cache")

	if len(c.Chunk) == 0 || c.Total <= 0 {
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", c.Total))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return 0
	}
	start := c.Start
	end := start + int64(len(c.Chunk)) - 1
	h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, c.Total))
	h.Set("Content-Length", strconv.Itoa(len(c.Chunk)))
	w.WriteHeader(http.StatusPartialContent)
	return writeBody(w, r, c.Chunk)
}

func writeBody(w http.ResponseWriter, r *http.Request, b []byte) int {
	if r.Method == http.MethodHead {
		return 0
	}
	n, _ := w.Write(b)
	return n
}

// writeMediaUnavailable tells a media element to come back later.
func writeMediaUnavailable(w http.ResponseWriter, retryAfter time.Duration) {
	h := w.Header()
	setTagHeaders(h, tagFallback)
	secs := int(retryAfter.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	h.Set("Retry-After", strconv.Itoa(secs))
	h.Set("Cache-Control", "no-store")
	h.Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("media not available yet, retry later\n"))
}

var fallbackPage = template.Must(template.New("fallback").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Loading site</title>
<style>body{font-family:sans-serif;margin:4em auto;max-width:32em;color:#333}</style>
</head>
<body>
<h1>Still loading</h1>
<p>{{.Message}}</p>
<p>Returning to the <a href="{{.Home}}">site home</a> in {{.Seconds}} seconds.</p>
<script>setTimeout(function(){location.href={{.Home}}},{{.Millis}});</script>
</body>
</html>
`))

// writeNavigationFallback serves a page that sends the browser back to the
// site root after delay.
func writeNavigationFallback(w http.ResponseWriter, status int, tag, home, message string, delay time.Duration) {
	var buf bytes.Buffer
	secs := int(delay.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	_ = fallbackPage.Execute(&buf, struct {
		Home    string
		Message string
		Seconds int
		Millis  int64
	}{home, message, secs, delay.Milliseconds()})

	h := w.Header()
	setTagHeaders(h, tag)
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	h.Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, err error, tag string) {
	setTagHeaders(w.Header(), tag)
	w.Header().Set("Cache-Control", "no-store")
	http.Error(w, err.Error(), statusOf(err))
}
