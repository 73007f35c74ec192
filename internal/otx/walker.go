package otx

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// Walker drives the fetch client page by page through one since-window.
// Pagination is inherently sequential: each page's cursor comes from
// the previous response, so there is exactly one in-flight fetch.
type Walker struct {
	client   *Client
	since    time.Time
	cursor   string
	maxPages int
	fetched  int
	done     bool
}

// DefaultMaxPages bounds a single walk. The subscribed-pulses listing
// should exhaust long before this; hitting the ceiling means the API
// handed back a cursor that is not advancing.
const DefaultMaxPages = 1000

// NewWalker starts a walk at the given since-window and cursor. An
// empty cursor starts from the beginning of the window; a non-empty
// one resumes a previously interrupted walk. maxPages <= 0 selects
// DefaultMaxPages.
func NewWalker(client *Client, since time.Time, cursor string, maxPages int) *Walker {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	return &Walker{client: client, since: since, cursor: cursor, maxPages: maxPages}
}

// Cursor returns the continuation token the next fetch would use.
// After a failure it marks how far the walk reached.
func (w *Walker) Cursor() string { return w.cursor }

// Next fetches the next page, or returns (nil, nil) once the listing is
// exhausted. A fatal fetch error ends the walk; the error is annotated
// with the cursor at the point of failure.
func (w *Walker) Next(ctx context.Context) (*Page, error) {
	if w.done {
		return nil, nil
	}
	if w.fetched >= w.maxPages {
		w.done = true
		return nil, errors.Wrapf(ErrLoopDetected, "%d pages fetched without exhausting the listing", w.fetched)
	}

	page, err := w.client.FetchPage(ctx, w.since, w.cursor)
	if err != nil {
		w.done = true
		return nil, errors.Wrapf(err, "walk stopped at cursor %q", w.cursor)
	}
	w.fetched++

	if page.Empty() {
		w.done = true
		return nil, nil
	}
	w.cursor = page.NextCursor
	if !page.HasMore() {
		w.done = true
	}
	return page, nil
}
