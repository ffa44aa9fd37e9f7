package resolver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swarmsite/internal/bridge"
	"swarmsite/internal/config"
	"swarmsite/internal/protocol"
)

var siteHash = strings.Repeat("c0ffee", 6) + "c0ff"

type fakeManager struct {
	link  bridge.Link
	files map[string][]byte
	types map[string]string

	mu       sync.Mutex
	requests []protocol.ResourceRequest
	silent   atomic.Bool
	chunks   atomic.Bool
}

func (f *fakeManager) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-f.link.Inbox():
			req, ok := m.(protocol.ResourceRequest)
			if !ok {
				continue
			}
			f.mu.Lock()
			f.requests = append(f.requests, req)
			f.mu.Unlock()
			if f.silent.Load() {
				continue
			}
			data, found := f.files[req.FilePath]
			if found && f.chunks.Load() && req.Range != nil {
				span, _ := req.Range.Clamp(int64(len(data)))
				_ = f.link.Send(ctx, protocol.MediaChunkResponse{
					RequestID: req.RequestID, Chunk: data[span.Start : span.End+1],
					Start: span.Start, End: span.End, Total: int64(len(data)), ContentType: f.types[req.FilePath],
				})
				continue
			}
			resp := protocol.ResourceResponse{RequestID: req.RequestID, URL: req.URL}
			if found {
				resp.Data = data
				resp.ContentType = f.types[req.FilePath]
			}
			_ = f.link.Send(ctx, resp)
		}
	}
}

func (f *fakeManager) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeManager) lastRequest() protocol.ResourceRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func testConfig() config.Resolver {
	cfg := config.Default().Resolver
	cfg.ReadyTimeout = config.Duration(100 * time.Millisecond)
	cfg.ReadyTimeoutMax = config.Duration(300 * time.Millisecond)
	cfg.RequestTimeout = config.Duration(150 * time.Millisecond)
	cfg.MediaRequestTimeout = config.Duration(200 * time.Millisecond)
	cfg.MediaCacheMin = 1024
	return cfg
}

type harness struct {
	rv  *Resolver
	mgr *fakeManager
	srv *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, testConfig())
}

func newHarnessWith(t *testing.T, cfg config.Resolver) *harness {
	t.Helper()
	resEnd, mgrEnd := bridge.NewPipe()
	rv, err := New(cfg, resEnd, "/site", "")
	require.NoError(t, err)

	video := body(4096)
	mgr := &fakeManager{
		link: mgrEnd,
		files: map[string][]byte{
			"index.html":      []byte("<html>home</html>"),
			"style.css":       []byte("body{}"),
			"app.js":          []byte("console.log(1)"),
			"docs/index.html": []byte("<html>docs</html>"),
			"media/clip.mp4":  video,
		},
		types: map[string]string{
			"index.html":      "text/html; charset=utf-8",
			"style.css":       "text/css; charset=utf-8",
			"app.js":          "text/javascript; charset=utf-8",
			"docs/index.html": "text/html; charset=utf-8",
			"media/clip.mp4":  "video/mp4",
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = rv.Run(ctx) }()
	go mgr.run(ctx)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Next", "1")
		w.WriteHeader(http.StatusTeapot)
	})
	srv := httptest.NewServer(rv.Middleware(next))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		_ = resEnd.Close()
		_ = mgrEnd.Close()
	})
	return &harness{rv: rv, mgr: mgr, srv: srv}
}

func (h *harness) ready(t *testing.T) {
	t.Helper()
	list := make([]string, 0, len(h.mgr.files))
	for p := range h.mgr.files {
		list = append(list, p)
	}
	require.NoError(t, h.mgr.link.Send(context.Background(), protocol.SiteReady{Hash: siteHash, FileCount: len(list), FileList: list}))
	require.Eventually(t, func() bool { return h.rv.Snapshot().Phase == Ready }, time.Second, 5*time.Millisecond)
}

func (h *harness) get(t *testing.T, path string, hdr ...string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, h.srv.URL+path, nil)
	require.NoError(t, err)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

func TestServeIndexForEmptyPath(t *testing.T) {
	h := newHarness(t)
	h.ready(t)

	resp, out := h.get(t, "/site/"+siteHash+"/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<html>home</html>", out)
	assert.Equal(t, "hit", resp.Header.Get("X-Swarmsite"))
	assert.Equal(t, "index.html", h.mgr.lastRequest().FilePath)

	resp, _ = h.get(t, "/site/"+siteHash)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServeDirectoryAndQuery(t *testing.T) {
	h := newHarness(t)
	h.ready(t)

	resp, out := h.get(t, "/site/"+siteHash+"/docs")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<html>docs</html>", out)

	resp, out = h.get(t, "/site/"+siteHash+"/style.css?v=42")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "body{}", out)
	assert.Equal(t, "text/css; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, "style.css", h.mgr.lastRequest().FilePath)
}

func TestUppercaseHashMatches(t *testing.T) {
	h := newHarness(t)
	h.ready(t)

	resp, _ := h.get(t, "/site/"+strings.ToUpper(siteHash)+"/app.js")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIdentityMismatch(t *testing.T) {
	h := newHarness(t)
	h.ready(t)

	other := strings.Repeat("1", 40)
	resp, out := h.get(t, "/site/"+other+"/index.html")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "mismatch", resp.Header.Get("X-Swarmsite"))
	assert.Contains(t, out, "is not loaded")
	assert.Equal(t, 0, h.mgr.requestCount())
}

func TestBadRequests(t *testing.T) {
	h := newHarness(t)

	resp, _ := h.get(t, "/site/")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = h.get(t, "/site/zzz/index.html")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodPost, h.srv.URL+"/site/"+siteHash+"/", nil)
	r, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)
}

func TestPassThrough(t *testing.T) {
	h := newHarness(t)
	resp, _ := h.get(t, "/app/main.js")
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("X-Next"))
}

func TestNotReadyTimesOut(t *testing.T) {
	h := newHarness(t)
	start := time.Now()
	resp, _ := h.get(t, "/site/"+siteHash+"/")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "not-ready", resp.Header.Get("X-Swarmsite"))
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestReadinessRace(t *testing.T) {
	h := newHarness(t)
	done := make(chan *http.Response, 1)
	go func() {
		resp, _ := h.get(t, "/site/"+siteHash+"/")
		done <- resp
	}()
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, h.mgr.link.Send(context.Background(), protocol.SiteLoading{Hash: siteHash}))
	time.Sleep(120 * time.Millisecond) // past the base window, inside the extended one
	h.ready(t)

	select {
	case resp := <-done:
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	case <-time.After(2 * time.Second):
		t.Fatal("request never answered")
	}
}

func TestMissingPageFallsBackHome(t *testing.T) {
	h := newHarness(t)
	h.ready(t)

	resp, out := h.get(t, "/site/"+siteHash+"/nope.html")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not-found", resp.Header.Get("X-Swarmsite"))
	assert.Contains(t, out, "/site/"+siteHash+"/")
}

func TestMissingMediaAsksForRetry(t *testing.T) {
	h := newHarness(t)
	h.ready(t)

	resp, _ := h.get(t, "/site/"+siteHash+"/media/none.mp4")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestMediaFollowsConfiguredPatterns(t *testing.T) {
	cfg := testConfig()
	cfg.Media = []string{"*.bin"}
	h := newHarnessWith(t, cfg)
	h.ready(t)

	resp, _ := h.get(t, "/site/"+siteHash+"/tapes/none.bin")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	resp, _ = h.get(t, "/site/"+siteHash+"/media/none.mp4")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBadMediaPattern(t *testing.T) {
	cfg := testConfig()
	cfg.Media = []string{"[oops"}
	_, err := New(cfg, nil, "/site", "")
	assert.Error(t, err)
}

func TestTimeoutFallbackAndLateAnswer(t *testing.T) {
	h := newHarness(t)
	h.ready(t)
	h.mgr.silent.Store(true)

	resp, out := h.get(t, "/site/"+siteHash+"/app.js")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "fallback", resp.Header.Get("X-Swarmsite"))
	assert.Contains(t, out, "setTimeout")
	assert.Equal(t, 0, h.rv.pending.Len())

	// a late answer for the timed out request changes nothing
	late := h.mgr.lastRequest()
	require.NoError(t, h.mgr.link.Send(context.Background(), protocol.ResourceResponse{RequestID: late.RequestID, Data: []byte("late")}))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, h.rv.pending.Len())
}

func TestMediaRangeAndCache(t *testing.T) {
	h := newHarness(t)
	h.ready(t)
	url := "/site/" + siteHash + "/media/clip.mp4"

	resp, out := h.get(t, url, "Range", "bytes=100-")
	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "bytes 100-4095/4096", resp.Header.Get("Content-Range"))
	assert.Len(t, out, 3996)
	assert.Equal(t, &protocol.Range{Start: 100, End: -1}, h.mgr.lastRequest().Range)
	n := h.mgr.requestCount()

	resp, out = h.get(t, url, "Range", "bytes=0-9")
	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "media-hit", resp.Header.Get("X-Swarmsite"))
	assert.Len(t, out, 10)
	assert.Equal(t, n, h.mgr.requestCount())

	// a new load throws the cache away
	require.NoError(t, h.mgr.link.Send(context.Background(), protocol.SiteLoading{Hash: siteHash}))
	require.Eventually(t, func() bool { return h.rv.media.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestMediaChunkAnswer(t *testing.T) {
	h := newHarness(t)
	h.ready(t)
	h.mgr.chunks.Store(true)

	resp, out := h.get(t, "/site/"+siteHash+"/media/clip.mp4", "Range", "bytes=10-19")
	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "chunk", resp.Header.Get("X-Swarmsite"))
	assert.Equal(t, "bytes 10-19/4096", resp.Header.Get("Content-Range"))
	assert.Len(t, out, 10)
	assert.Equal(t, 0, h.rv.media.Len())
}

func TestUnloadBlocksServing(t *testing.T) {
	h := newHarness(t)
	h.ready(t)
	require.NoError(t, h.mgr.link.Send(context.Background(), protocol.SiteUnloaded{}))
	require.Eventually(t, func() bool { return h.rv.Snapshot().Phase == NoSite }, time.Second, 5*time.Millisecond)

	resp, _ := h.get(t, "/site/"+siteHash+"/")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestNoPeerFallsBackImmediately(t *testing.T) {
	hub := bridge.NewHub()
	defer hub.Close()
	rv, err := New(testConfig(), hub, "/site", "")
	require.NoError(t, err)
	rv.dispatch(protocol.SiteReady{Hash: siteHash, FileCount: 1, FileList: []string{"index.html"}})

	rec := httptest.NewRecorder()
	start := time.Now()
	rv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/site/"+siteHash+"/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestOriginMismatchPassesThrough(t *testing.T) {
	rv, err := New(testConfig(), nil, "/site", "http://swarm.local")
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "http://elsewhere.example/site/"+siteHash+"/", nil)
	rv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Swarmsite"))
}
