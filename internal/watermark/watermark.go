// Package watermark persists the incremental-sync checkpoint between
// process invocations: the last modified-since timestamp durably loaded,
// plus the pagination cursor of an interrupted walk.
package watermark

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
)

// Watermark marks how far a sync has progressed. Since is monotonically
// non-decreasing across successful runs; Cursor is non-empty only when
// a walk was cut short mid-window.
type Watermark struct {
	Since  time.Time `json:"since"`
	Cursor string    `json:"cursor,omitempty"`
}

// IsZero reports whether no prior sync state exists.
func (w Watermark) IsZero() bool { return w.Since.IsZero() && w.Cursor == "" }

// Store loads and saves the watermark. Only the run orchestrator
// writes it, once per durably loaded page.
type Store interface {
	Load() (Watermark, error)
	Save(Watermark) error
}

// FileStore keeps the watermark as a small JSON file.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore { return &FileStore{path: path} }

// Load reads the persisted watermark. An absent file is not an error;
// it returns the zero watermark.
func (s *FileStore) Load() (Watermark, error) {
	b, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Watermark{}, nil
	}
	if err != nil {
		return Watermark{}, errors.Wrapf(err, "read watermark %s", s.path)
	}
	var w Watermark
	if err := json.Unmarshal(b, &w); err != nil {
		return Watermark{}, errors.Wrapf(err, "parse watermark %s", s.path)
	}
	return w, nil
}

// Save writes the watermark atomically (temp file + rename) so a crash
// mid-write never leaves a torn checkpoint behind.
func (s *FileStore) Save(w Watermark) error {
	b, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode watermark")
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create watermark dir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".watermark-*")
	if err != nil {
		return errors.Wrap(err, "create temp watermark")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write temp watermark")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "sync temp watermark")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp watermark")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return errors.Wrapf(err, "rename watermark into %s", s.path)
	}
	return nil
}

// Discard is a Store that keeps nothing. Dry runs use it so extract and
// transform can be exercised without advancing real sync state.
type Discard struct{}

func (Discard) Load() (Watermark, error) { return Watermark{}, nil }
func (Discard) Save(Watermark) error     { return nil }
