package manager

import (
	"fmt"
	"mime"
	"net/http"
	"path"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"swarmsite/internal/protocol"
	"swarmsite/internal/swarm"
)

type fileClass int

const (
	classEssential fileClass = iota
	classOther
	classMedia
)

func (c fileClass) String() string {
	switch c {
	case classEssential:
		return "essential"
	case classMedia:
		return "media"
	default:
		return "other"
	}
}

type classifier struct {
	essential []glob.Glob
	media     *protocol.MediaMatcher
}

func newClassifier(essential, media []string) (*classifier, error) {
	c := &classifier{}
	var err error
	if c.essential, err = compileAll(essential); err != nil {
		return nil, fmt.Errorf("essential patterns: %w", err)
	}
	if c.media, err = protocol.NewMediaMatcher(media); err != nil {
		return nil, err
	}
	return c, nil
}

func compileAll(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(strings.ToLower(strings.TrimSpace(p)))
		if err != nil {
			return nil, fmt.Errorf("%q: %w", p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

func matchAny(gs []glob.Glob, s string) bool {
	for _, g := range gs {
		if g.Match(s) {
			return true
		}
	}
	return false
}

// classOf matches the lowercased base name. Media wins over essential.
func (c *classifier) classOf(p string) fileClass {
	name := strings.ToLower(path.Base(p))
	switch {
	case c.media.Match(name):
		return classMedia
	case matchAny(c.essential, name):
		return classEssential
	default:
		return classOther
	}
}

// order sorts files essential first and media last, keeping the swarm's
// order inside a class.
func (c *classifier) order(files []swarm.File) []swarm.File {
	out := append([]swarm.File(nil), files...)
	sort.SliceStable(out, func(i, j int) bool {
		return c.classOf(out[i].Path()) < c.classOf(out[j].Path())
	})
	return out
}

var contentTypes = map[string]string{
	".html":  "text/html; charset=utf-8",
	".htm":   "text/html; charset=utf-8",
	".css":   "text/css; charset=utf-8",
	".js":    "text/javascript; charset=utf-8",
	".mjs":   "text/javascript; charset=utf-8",
	".json":  "application/json",
	".map":   "application/json",
	".txt":   "text/plain; charset=utf-8",
	".md":    "text/markdown; charset=utf-8",
	".xml":   "application/xml",
	".svg":   "image/svg+xml",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".webp":  "image/webp",
	".avif":  "image/avif",
	".ico":   "image/x-icon",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".ttf":   "font/ttf",
	".otf":   "font/otf",
	".wasm":  "application/wasm",
	".pdf":   "application/pdf",
	".mp4":   "video/mp4",
	".m4v":   "video/mp4",
	".webm":  "video/webm",
	".mkv":   "video/x-matroska",
	".mov":   "video/quicktime",
	".avi":   "video/x-msvideo",
	".ogv":   "video/ogg",
	".mp3":   "audio/mpeg",
	".m4a":   "audio/mp4",
	".aac":   "audio/aac",
	".ogg":   "audio/ogg",
	".oga":   "audio/ogg",
	".opus":  "audio/opus",
	".wav":   "audio/wav",
	".flac":  "audio/flac",
}

// contentTypeOf guesses from the extension, then from data when given.
func contentTypeOf(p string, data []byte) string {
	ext := strings.ToLower(path.Ext(p))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	if len(data) > 0 {
		return http.DetectContentType(data)
	}
	return "application/octet-stream"
}

func isTextType(ct string) bool {
	ct = strings.ToLower(ct)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	ct = strings.TrimSpace(ct)
	switch {
	case strings.HasPrefix(ct, "text/"):
		return true
	case ct == "application/json", strings.HasSuffix(ct, "+json"):
		return true
	case ct == "application/javascript", ct == "application/x-javascript":
		return true
	case ct == "application/xml", strings.HasSuffix(ct, "+xml"):
		return true
	}
	return false
}

func (c *classifier) record(p string, data []byte, size int64) *FileRecord {
	ct := contentTypeOf(p, data)
	return &FileRecord{
		Path:        p,
		Content:     data,
		ContentType: ct,
		IsText:      isTextType(ct),
		IsMedia:     c.classOf(p) == classMedia || protocol.IsMediaType(ct),
		Size:        size,
	}
}
