package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// File keeps the whole ledger in one JSON document. Every commit rewrites the
// document through a temp file and rename so readers never see a partial write.
type File struct {
	path string

	mu    sync.Mutex
	state State
}

type fileDoc struct {
	TotalViews int64                `json:"total_views"`
	Entries    map[string]time.Time `json:"entries,omitempty"`
}

func NewFile(path string) *File {
	return &File{path: path, state: Empty()}
}

// Load reads the document. A missing file is an empty store. Unparseable
// content resets the in-memory copy and reports ErrCorrupt; the next Commit
// overwrites it.
func (f *File) Load(ctx context.Context) (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.state = Empty()
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return cloneState(f.state), nil
	}
	if err != nil {
		return Empty(), fmt.Errorf("read %s: %w", f.path, err)
	}

	var doc fileDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Empty(), fmt.Errorf("%w: %s: %v", ErrCorrupt, f.path, err)
	}
	if doc.TotalViews < 0 {
		return Empty(), fmt.Errorf("%w: %s: negative total %d", ErrCorrupt, f.path, doc.TotalViews)
	}
	f.state.TotalViews = doc.TotalViews
	for fp, seen := range doc.Entries {
		f.state.Entries[fp] = seen
	}
	return cloneState(f.state), nil
}

func (f *File) Commit(ctx context.Context, total int64, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	prevTotal := f.state.TotalViews
	prevSeen, had := f.state.Entries[e.Fingerprint]
	f.state.TotalViews = total
	f.state.Entries[e.Fingerprint] = e.LastSeen.UTC()

	if err := f.write(); err != nil {
		f.state.TotalViews = prevTotal
		if had {
			f.state.Entries[e.Fingerprint] = prevSeen
		} else {
			delete(f.state.Entries, e.Fingerprint)
		}
		return err
	}
	return nil
}

func (f *File) write() error {
	raw, err := json.Marshal(fileDoc{TotalViews: f.state.TotalViews, Entries: f.state.Entries})
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", f.path, err)
	}
	return nil
}

// Ping checks that the directory holding the document is still there.
func (f *File) Ping(ctx context.Context) error {
	fi, err := os.Stat(filepath.Dir(f.path))
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s is not a directory", filepath.Dir(f.path))
	}
	return nil
}

func (f *File) Close() error { return nil }

func cloneState(s State) State {
	out := State{TotalViews: s.TotalViews, Entries: make(map[string]time.Time, len(s.Entries))}
	for k, v := range s.Entries {
		out.Entries[k] = v
	}
	return out
}
