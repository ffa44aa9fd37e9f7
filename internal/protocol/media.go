package protocol

import (
	"fmt"
	"path"
	"strings"

	"github.com/gobwas/glob"
)

// MediaMatcher tells audio and video paths apart by matching the lowercased
// base name against glob patterns. The resolver and the manager build one
// from the same pattern list so both sides agree on what is media.
type MediaMatcher struct {
	globs []glob.Glob
}

func NewMediaMatcher(patterns []string) (*MediaMatcher, error) {
	mm := &MediaMatcher{globs: make([]glob.Glob, 0, len(patterns))}
	for _, p := range patterns {
		g, err := glob.Compile(strings.ToLower(strings.TrimSpace(p)))
		if err != nil {
			return nil, fmt.Errorf("media pattern %q: %w", p, err)
		}
		mm.globs = append(mm.globs, g)
	}
	return mm, nil
}

// Match reports whether p names media. Query and fragment are ignored.
func (mm *MediaMatcher) Match(p string) bool {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	name := strings.ToLower(path.Base(p))
	for _, g := range mm.globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}

func IsMediaType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	return strings.HasPrefix(ct, "video/") || strings.HasPrefix(ct, "audio/")
}
