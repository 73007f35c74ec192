// Package transform normalizes raw pulses into store documents: key
// sanitation, identifier renaming, and ingestion metadata stamping.
// Everything else passes through untouched.
package transform

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"otxsync/internal/otx"
	"otxsync/internal/store"
)

// SourceTag identifies the origin feed on every stored document.
const SourceTag = "otx_pulses_subscribed"

// ErrMalformedRecord marks a pulse without a usable id. The record is
// skipped; the rest of its page still loads.
var ErrMalformedRecord = errors.New("pulse has no id")

// Meta is the per-run context stamped onto each document.
type Meta struct {
	RunID  string
	PageNo int
	Now    func() time.Time // defaults to time.Now
}

func (m Meta) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

// Enrich converts one raw pulse into a store document. The pulse's id
// becomes pulse_id, keys are made store-safe, and _source, _ingested_at,
// _run_id and _page_no are added. The input map is not mutated.
func Enrich(raw otx.Pulse, meta Meta) (store.Document, error) {
	id := raw.ID()
	if id == "" {
		return store.Document{}, errors.Wrapf(ErrMalformedRecord, "pulse %v", raw["name"])
	}
	now := meta.now()

	body := safeMap(map[string]any(raw))
	delete(body, "id")
	body["pulse_id"] = id
	body["_source"] = SourceTag
	body["_ingested_at"] = now.Format(time.RFC3339)
	body["_run_id"] = meta.RunID
	body["_page_no"] = meta.PageNo

	return store.Document{PulseID: id, IngestedAt: now, Body: body}, nil
}

// safeKey rewrites a key the document store cannot index: '.' becomes
// '_' and a leading '$' is stripped.
func safeKey(k string) string {
	return strings.TrimLeft(strings.ReplaceAll(k, ".", "_"), "$")
}

func safeMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[safeKey(k)] = safeValue(v)
	}
	return out
}

func safeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return safeMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = safeValue(e)
		}
		return out
	default:
		return v
	}
}

// MaxModified returns the latest modified (or created) timestamp across
// a page of pulses. The orchestrator advances the watermark to this,
// never to wall-clock time, so records modified during a slow run are
// not skipped by clock skew.
func MaxModified(pulses []otx.Pulse, floor time.Time) time.Time {
	max := floor
	for _, p := range pulses {
		if t, ok := p.Modified(); ok && t.After(max) {
			max = t
		}
	}
	return max
}
