package resolver

import (
	"net/url"
	"path"
	"strings"

	"swarmsite/internal/protocol"
)

type Scope int

const (
	// ScopeExternal is another origin or an unsupported scheme.
	ScopeExternal Scope = iota
	// ScopeInternal is same-origin traffic outside the site namespace.
	ScopeInternal
	// ScopeSite is a request under the virtual site prefix.
	ScopeSite
)

// Classify places u relative to the interceptor's own origin self. A nil
// self accepts any http(s) host as its own.
func Classify(u *url.URL, self *url.URL, prefix string) Scope {
	switch strings.ToLower(u.Scheme) {
	case "blob", "data":
		return ScopeInternal
	case "http", "https":
	default:
		return ScopeExternal
	}
	if self != nil {
		if !strings.EqualFold(u.Scheme, self.Scheme) || !strings.EqualFold(u.Host, self.Host) {
			return ScopeExternal
		}
	}
	if hasPrefix(u.Path, prefix) {
		return ScopeSite
	}
	return ScopeInternal
}

func hasPrefix(p, prefix string) bool {
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

// splitSitePath takes the path after prefix apart into the canonical site
// hash and the raw file path inside the site.
func splitSitePath(p, prefix string) (hash, file string, err error) {
	rest := strings.TrimPrefix(p, prefix)
	rest = strings.TrimLeft(rest, "/")
	if rest == "" {
		return "", "", &ProtocolError{Reason: "missing site identifier"}
	}
	seg, file, _ := strings.Cut(rest, "/")
	hash, herr := protocol.ParseHash(seg)
	if herr != nil {
		return "", "", &ProtocolError{Reason: "invalid site identifier " + quoteShort(seg)}
	}
	return hash, file, nil
}

func quoteShort(s string) string {
	if len(s) > 64 {
		s = s[:64] + "..."
	}
	return `"` + s + `"`
}

// Normalize maps a requested file path onto a manifest path. known reports
// whether a candidate is in the manifest; it may be nil.
func Normalize(p string, known func(string) bool) string {
	if known == nil {
		known = func(string) bool { return false }
	}
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	p = trimLeadingDots(p)

	if p == "" {
		return "index.html"
	}
	if strings.HasSuffix(p, "/") {
		return p + "index.html"
	}
	if path.Ext(p) == "" && !known(p) {
		if c := p + "/index.html"; known(c) {
			return c
		}
		if c := p + ".html"; known(c) {
			return c
		}
		return p + "/index.html"
	}
	return p
}

// trimLeadingDots strips any run of leading "./" and "/".
func trimLeadingDots(p string) string {
	for {
		switch {
		case strings.HasPrefix(p, "./"):
			p = p[2:]
		case strings.HasPrefix(p, "/"):
			p = p[1:]
		default:
			return p
		}
	}
}
