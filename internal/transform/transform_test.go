package transform

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otxsync/internal/otx"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testMeta() Meta {
	return Meta{RunID: "run-1", PageNo: 3, Now: func() time.Time { return fixedNow }}
}

func TestEnrichStampsMetadata(t *testing.T) {
	raw := otx.Pulse{"id": "abc123", "name": "bad actors", "modified": "2025-05-30T10:00:00Z"}

	doc, err := Enrich(raw, testMeta())
	require.NoError(t, err)

	assert.Equal(t, "abc123", doc.PulseID)
	assert.Equal(t, fixedNow, doc.IngestedAt)
	assert.Equal(t, "abc123", doc.Body["pulse_id"])
	assert.NotContains(t, doc.Body, "id")
	assert.Equal(t, SourceTag, doc.Body["_source"])
	assert.Equal(t, "2025-06-01T12:00:00Z", doc.Body["_ingested_at"])
	assert.Equal(t, "run-1", doc.Body["_run_id"])
	assert.Equal(t, 3, doc.Body["_page_no"])
	assert.Equal(t, "bad actors", doc.Body["name"])
}

func TestEnrichSanitizesKeys(t *testing.T) {
	raw := otx.Pulse{
		"id":        "p1",
		"a.b.c":     1,
		"$operator": "x",
		"nested": map[string]any{
			"inner.key": "v",
			"list":      []any{map[string]any{"$deep.key": true}},
		},
	}

	doc, err := Enrich(raw, testMeta())
	require.NoError(t, err)

	assert.Equal(t, 1, doc.Body["a_b_c"])
	assert.Equal(t, "x", doc.Body["operator"])
	nested := doc.Body["nested"].(map[string]any)
	assert.Equal(t, "v", nested["inner_key"])
	deep := nested["list"].([]any)[0].(map[string]any)
	assert.Equal(t, true, deep["deep_key"])

	// Input untouched.
	assert.Contains(t, raw, "a.b.c")
	assert.Contains(t, raw, "id")
}

func TestEnrichRejectsMissingID(t *testing.T) {
	_, err := Enrich(otx.Pulse{"name": "anonymous"}, testMeta())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedRecord))

	_, err = Enrich(otx.Pulse{"id": ""}, testMeta())
	assert.True(t, errors.Is(err, ErrMalformedRecord))
}

func TestMaxModified(t *testing.T) {
	floor := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	pulses := []otx.Pulse{
		{"id": "a", "modified": "2025-02-01T00:00:00Z"},
		{"id": "b", "modified": "2025-03-01T00:00:00Z"},
		{"id": "c", "created": "2025-02-15T00:00:00Z"},
		{"id": "d"}, // no timestamps: ignored
	}
	got := MaxModified(pulses, floor)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), got)

	// Floor wins when every record is older.
	later := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, later, MaxModified(pulses, later))
}
