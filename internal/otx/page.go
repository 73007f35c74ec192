package otx

import "time"

// Pulse is one threat-intelligence record as returned by the API.
// Fields are kept opaque; only the stable id and the modified/created
// timestamps are interpreted here.
type Pulse map[string]any

// ID returns the pulse's stable identifier, or "" when absent.
func (p Pulse) ID() string {
	id, _ := p["id"].(string)
	return id
}

// timeLayouts covers the timestamp shapes the API has been observed to
// emit: RFC3339 and a naive microsecond form without zone.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// Modified returns the pulse's modification time, falling back to its
// creation time. The second return is false when neither parses.
func (p Pulse) Modified() (time.Time, bool) {
	for _, field := range []string{"modified", "created"} {
		s, _ := p[field].(string)
		if s == "" {
			continue
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// Page is one slice of the subscribed-pulses listing. NextCursor is the
// opaque continuation token from the response's "next" field; an empty
// cursor means the listing is exhausted.
type Page struct {
	Results    []Pulse
	NextCursor string
	Count      int
}

// HasMore reports whether the API advertised another page.
func (p *Page) HasMore() bool { return p.NextCursor != "" }

// Empty reports whether the page carried no records.
func (p *Page) Empty() bool { return len(p.Results) == 0 }
