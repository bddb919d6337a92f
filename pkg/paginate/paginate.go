// Package paginate implements cursor pagination over EasyEcom responses.
//
// The API links pages through a nextUrl field that may appear at the top
// level of the payload or nested inside an object-valued data field. The
// continuation token is the cursor query parameter of that URL. A data
// field holding the literal string "No Data Found" is the API's way of
// returning zero results and is not a schema violation.
package paginate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
)

// MaxPageSize is the API's documented maximum page size. This is a hard
// external constraint, not a tunable.
const MaxPageSize = 10

// noDataSentinel is the exact value the API returns instead of an empty list.
const noDataSentinel = "No Data Found"

// ParseError indicates a response that could not be decoded or had an
// unexpected shape. It is structural, never retried.
type ParseError struct {
	Stream string
	Body   string
	Err    error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parse response for stream %s: %v (body: %s)", e.Stream, e.Err, e.Body)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// Page is one decoded API page: its records and the cursor for the next
// page, empty when pagination ends.
type Page struct {
	Records    []map[string]any
	NextCursor string
}

// envelope mirrors the parts of a response the paginator cares about.
type envelope struct {
	Data    json.RawMessage `json:"data"`
	NextURL string          `json:"nextUrl"`
}

// ParsePage decodes a raw response body into records and the next cursor.
//
// Cursor extraction is an ordered fallback: a top-level nextUrl wins; when
// absent and data is an object, a nextUrl nested inside data is used; with
// neither, pagination ends. Records come from data directly when it is a
// list, or from the object's array-valued fields (in sorted key order)
// when it is an object.
func ParsePage(stream string, body []byte) (*Page, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &ParseError{Stream: stream, Body: truncate(body), Err: err}
	}

	page := &Page{}

	if len(env.Data) == 0 || string(env.Data) == "null" {
		return page, nil
	}

	// Zero-result sentinel: not an error, not a schema violation.
	var sentinel string
	if err := json.Unmarshal(env.Data, &sentinel); err == nil {
		if sentinel == noDataSentinel {
			return page, nil
		}
		return nil, &ParseError{
			Stream: stream,
			Body:   truncate(body),
			Err:    fmt.Errorf("unexpected string data %q", sentinel),
		}
	}

	var list []map[string]any
	if err := json.Unmarshal(env.Data, &list); err == nil {
		page.Records = list
		page.NextCursor, _ = cursorFromURL(env.NextURL)
		return page, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(env.Data, &obj); err != nil {
		return nil, &ParseError{
			Stream: stream,
			Body:   truncate(body),
			Err:    fmt.Errorf("data is neither list nor object: %w", err),
		}
	}

	// Object-shaped data: records live under array-valued fields, iterated
	// in sorted key order for determinism.
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var records []map[string]any
		if err := json.Unmarshal(obj[k], &records); err == nil {
			page.Records = append(page.Records, records...)
		}
	}

	nextURL := env.NextURL
	if nextURL == "" {
		var nested string
		if raw, ok := obj["nextUrl"]; ok {
			_ = json.Unmarshal(raw, &nested)
		}
		nextURL = nested
	}
	page.NextCursor, _ = cursorFromURL(nextURL)

	return page, nil
}

// cursorFromURL extracts the cursor query parameter from a pagination URL.
func cursorFromURL(rawURL string) (string, error) {
	if rawURL == "" {
		return "", nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse next url: %w", err)
	}
	return u.Query().Get("cursor"), nil
}

// truncate bounds response bodies kept in error messages.
func truncate(body []byte) string {
	const max = 1 << 10
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

// FetchFunc fetches one raw page for a cursor. An empty cursor means the
// first page.
type FetchFunc func(ctx context.Context, cursor string) ([]byte, error)

// Paginator drives repeated fetches for one stream, yielding decoded pages
// until no continuation cursor is found.
type Paginator struct {
	stream string
	fetch  FetchFunc
	cursor string
	done   bool
}

// New creates a paginator for one stream's extraction.
func New(stream string, fetch FetchFunc) *Paginator {
	return &Paginator{stream: stream, fetch: fetch}
}

// Next fetches and decodes the next page. It returns nil when pagination
// is exhausted.
func (p *Paginator) Next(ctx context.Context) (*Page, error) {
	if p.done {
		return nil, nil
	}

	body, err := p.fetch(ctx, p.cursor)
	if err != nil {
		return nil, err
	}

	page, err := ParsePage(p.stream, body)
	if err != nil {
		return nil, err
	}

	p.cursor = page.NextCursor
	if p.cursor == "" {
		p.done = true
	}
	return page, nil
}
