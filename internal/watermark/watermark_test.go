package watermark

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAbsentFile(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "missing.json"))
	w, err := s.Load()
	require.NoError(t, err)
	assert.True(t, w.IsZero())
}

func TestSaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wm", "state.json")
	s := NewFileStore(path)

	want := Watermark{
		Since:  time.Date(2025, 4, 2, 8, 30, 0, 0, time.UTC),
		Cursor: "https://example.invalid/api/v1/pulses/subscribed?page=4",
	}
	require.NoError(t, s.Save(want))

	got, err := s.Load()
	require.NoError(t, err)
	assert.True(t, got.Since.Equal(want.Since))
	assert.Equal(t, want.Cursor, got.Cursor)
}

func TestSaveOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewFileStore(path)

	require.NoError(t, s.Save(Watermark{Since: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), Cursor: "c1"}))
	require.NoError(t, s.Save(Watermark{Since: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)}))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, time.February, got.Since.Month())
	assert.Empty(t, got.Cursor)

	// No temp files left behind by the atomic write.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewFileStore(path).Load()
	assert.Error(t, err)
}

func TestDiscard(t *testing.T) {
	var s Store = Discard{}
	require.NoError(t, s.Save(Watermark{Cursor: "x"}))
	w, err := s.Load()
	require.NoError(t, err)
	assert.True(t, w.IsZero())
}
