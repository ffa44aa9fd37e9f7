package swarm

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// DirClient serves sites seeded as plain directories named by hash under
// root. Every file is complete as soon as the site is added.
type DirClient struct {
	root string
}

func NewDirClient(root string) *DirClient {
	return &DirClient{root: root}
}

func (c *DirClient) Add(ctx context.Context, hash string) (Torrent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := filepath.Join(c.root, hash)
	st, err := os.Stat(dir)
	if err != nil || !st.IsDir() {
		return nil, fmt.Errorf("%s: %w", hash, ErrNotFound)
	}

	var files []File
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, &dirFile{path: filepath.ToSlash(rel), abs: p, length: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}

	t := &dirTorrent{hash: hash, files: files, events: make(chan Event, 2)}
	t.events <- Event{Kind: EventProgress, Progress: 1}
	t.events <- Event{Kind: EventDone, Progress: 1}
	close(t.events)
	return t, nil
}

func (c *DirClient) Close() error { return nil }

type dirTorrent struct {
	hash   string
	files  []File
	events chan Event
}

func (t *dirTorrent) Hash() string         { return t.hash }
func (t *dirTorrent) Files() []File        { return t.files }
func (t *dirTorrent) Progress() float64    { return 1 }
func (t *dirTorrent) Events() <-chan Event { return t.events }
func (t *dirTorrent) Close() error         { return nil }

type dirFile struct {
	path   string
	abs    string
	length int64
}

func (f *dirFile) Path() string      { return f.path }
func (f *dirFile) Length() int64     { return f.length }
func (f *dirFile) Progress() float64 { return 1 }
func (f *dirFile) Select()           {}

func (f *dirFile) ReadAll(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(f.abs)
}

func (f *dirFile) ReadRange(ctx context.Context, start, end int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if start < 0 || end < start || end >= f.length {
		return nil, fmt.Errorf("%s: range %d-%d outside 0-%d", f.path, start, end, f.length-1)
	}
	fh, err := os.Open(f.abs)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	buf := make([]byte, end-start+1)
	if _, err := io.ReadFull(io.NewSectionReader(fh, start, int64(len(buf))), buf); err != nil {
		return nil, err
	}
	return buf, nil
}
