// Package store is the document-store side of the pipeline: upsert of
// enriched pulse documents keyed by their stable pulse id.
package store

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrSystemicWrite marks a batch in which every upsert failed. A whole
// batch failing points at the store, not the records, and is fatal to
// the run.
var ErrSystemicWrite = errors.New("all records in batch failed to load")

// Document is one enriched pulse ready for load. Body already carries
// the pulse_id field and the ingestion metadata; PulseID and IngestedAt
// are lifted out for keying and indexing.
type Document struct {
	PulseID    string
	IngestedAt time.Time
	Body       map[string]any
}

// LoadResult reports how one batch fared. FailedIDs holds the pulse ids
// whose upsert failed; the rest of the batch still landed.
type LoadResult struct {
	Succeeded int
	FailedIDs []string
}

// Store persists documents. Upserting the same document twice converges
// to one stored row, with ingested_at refreshed to the latest load.
type Store interface {
	// EnsureSchema makes the target table and its indexes exist.
	EnsureSchema(ctx context.Context) error

	// UpsertBatch loads one page's documents. A single record failing
	// is recorded in the result, not returned as an error; the error
	// is non-nil only for systemic failures (ErrSystemicWrite) or a
	// dead connection.
	UpsertBatch(ctx context.Context, docs []Document) (LoadResult, error)

	Close()
}
