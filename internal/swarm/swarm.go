// Package swarm is the contract between the site manager and a
// peer-to-peer transport that delivers site files incrementally.
package swarm

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("swarm: content not found")

type Client interface {
	// Add starts fetching the content named by hash.
	Add(ctx context.Context, hash string) (Torrent, error)
	Close() error
}

type Torrent interface {
	Hash() string
	Files() []File
	// Progress is overall completion in [0, 1].
	Progress() float64
	// Events delivers progress updates and is closed after EventDone or
	// when the torrent is closed.
	Events() <-chan Event
	Close() error
}

type File interface {
	// Path is the slash-separated path inside the site.
	Path() string
	Length() int64
	// Progress is this file's completion in [0, 1].
	Progress() float64
	// Select asks the transport to prioritize this file.
	Select()
	// ReadAll returns the whole file, waiting for missing pieces until ctx
	// ends.
	ReadAll(ctx context.Context) ([]byte, error)
	// ReadRange returns bytes start..end inclusive.
	ReadRange(ctx context.Context, start, end int64) ([]byte, error)
}

type EventKind int

const (
	EventProgress EventKind = iota
	EventDone
)

type Event struct {
	Kind     EventKind
	Progress float64
}

// TotalLength sums the declared length of files.
func TotalLength(files []File) int64 {
	var n int64
	for _, f := range files {
		n += f.Length()
	}
	return n
}
