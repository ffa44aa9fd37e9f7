package resolver

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swarmsite/internal/protocol"
	"swarmsite/internal/ratelog"
)

func body(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func TestWriteContentFull(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	n := writeContent(rec, req, []byte("<h1>hi</h1>"), "text/html", false, &protocol.Range{Start: 2, End: 4}, tagHit)

	assert.Equal(t, 11, n)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Equal(t, immutableCache, rec.Header().Get("Cache-Control"))
	assert.Equal(t, "11", rec.Header().Get("Content-Length"))
	assert.Equal(t, tagHit, rec.Header().Get("X-Swarmsite"))
	assert.Equal(t, "X-Swarmsite", rec.Header().Get("Access-Control-Expose-Headers"))
}

func TestWriteContentRange(t *testing.T) {
	data := body(1000)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rng := protocol.ParseRange("bytes=100-", int64(len(data)))
	writeContent(rec, req, data, "video/mp4", true, rng, tagHit)

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 100-999/1000", rec.Header().Get("Content-Range"))
	assert.Equal(t, "900", rec.Header().Get("Content-Length"))
	assert.True(t, bytes.Equal(data[100:], rec.Body.Bytes()))
}

func TestWriteContentRangeClampProperty(t *testing.T) {
	data := body(300)
	ranges := []protocol.Range{{Start: 0, End: 0}, {Start: -10, End: 20}, {Start: 250, End: 9999}, {Start: 400, End: 500}, {Start: 20, End: 10}, {Start: 5, End: -1}}
	for _, r := range ranges {
		r := r
		rec := httptest.NewRecorder()
		writeContent(rec, httptest.NewRequest(http.MethodGet, "/x", nil), data, "audio/mpeg", true, &r, tagHit)
		require.Equal(t, http.StatusPartialContent, rec.Code)

		clamped, _ := r.Clamp(int64(len(data)))
		cl, err := strconv.Atoi(rec.Header().Get("Content-Length"))
		require.NoError(t, err)
		assert.Equal(t, int(clamped.End-clamped.Start+1), cl)
		assert.Equal(t, cl, rec.Body.Len())
		assert.True(t, bytes.Equal(data[clamped.Start:clamped.End+1], rec.Body.Bytes()))
	}
}

func TestWriteContentEmptyRange(t *testing.T) {
	rec := httptest.NewRecorder()
	writeContent(rec, httptest.NewRequest(http.MethodGet, "/x", nil), []byte{}, "video/mp4", true, &protocol.Range{Start: 0, End: -1}, tagHit)
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
	assert.Equal(t, "bytes */0", rec.Header().Get("Content-Range"))
}

func TestWriteContentHead(t *testing.T) {
	rec := httptest.NewRecorder()
	n := writeContent(rec, httptest.NewRequest(http.MethodHead, "/x", nil), []byte("abc"), "text/plain", false, nil, tagHit)
	assert.Equal(t, 0, n)
	assert.Equal(t, "3", rec.Header().Get("Content-Length"))
	assert.Equal(t, 0, rec.Body.Len())
}

func TestWriteChunk(t *testing.T) {
	rec := httptest.NewRecorder()
	writeChunk(rec, httptest.NewRequest(http.MethodGet, "/x", nil), &protocol.MediaChunkResponse{
		Chunk: []byte("0123"), Start: 10, End: 13, Total: 100, ContentType: "video/webm",
	})
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 10-13/100", rec.Header().Get("Content-Range"))
	assert.Equal(t, "4", rec.Header().Get("Content-Length"))
	assert.Equal(t, "video/webm", rec.Header().Get("Content-Type"))
}

func TestMediaUnavailable(t *testing.T) {
	rec := httptest.NewRecorder()
	writeMediaUnavailable(rec, 5*time.Second)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
	assert.Equal(t, tagFallback, rec.Header().Get("X-Swarmsite"))
}

func TestNavigationFallback(t *testing.T) {
	rec := httptest.NewRecorder()
	writeNavigationFallback(rec, http.StatusServiceUnavailable, tagFallback, "/site/abc/", "still <loading>", 2*time.Second)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	out := rec.Body.String()
	assert.Contains(t, out, `href="/site/abc/"`)
	assert.Contains(t, out, "setTimeout")
	assert.Contains(t, out, "2000")
	assert.Contains(t, out, "still &lt;loading&gt;")
}

func TestExposedHeaderMerge(t *testing.T) {
	h := http.Header{}
	h.Set("Access-Control-Expose-Headers", "ETag")
	ensureExposedHeader(h, "X-Swarmsite")
	ensureExposedHeader(h, "x-swarmsite")
	assert.Equal(t, "ETag, X-Swarmsite", h.Get("Access-Control-Expose-Headers"))
}

func TestMediaCacheLRU(t *testing.T) {
	c := newMediaCache(10, ratelog.New(time.Minute))
	c.Put("a", body(4), "video/mp4")
	c.Put("b", body(4), "video/mp4")
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Put("c", body(4), "video/mp4") // evicts b, the least recently used
	_, ok = c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, int64(8), c.TotalSize())

	c.Put("huge", body(11), "video/mp4")
	_, ok = c.Get("huge")
	assert.False(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(0), c.TotalSize())
}
