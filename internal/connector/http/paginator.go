package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// DefaultPageSize is the page size Jira honours for search and worklog
// listings.
const DefaultPageSize = 100

// DefaultMaxPages bounds a single pagination loop. A server whose
// startAt/total metadata never converges hits this instead of looping
// forever.
const DefaultMaxPages = 10000

// ErrPaginationOverrun is returned when a listing does not terminate within
// the page budget.
var ErrPaginationOverrun = errors.New("pagination did not terminate")

// =============================================================================
// OFFSET PAGINATION
// =============================================================================

// PageMeta is the offset metadata Jira attaches to every paged listing.
type PageMeta struct {
	StartAt    int
	MaxResults int
	Total      int
}

// OffsetPaginator uses startAt/maxResults pagination.
type OffsetPaginator struct {
	Path      string
	Query     url.Values
	Limit     int
	OffsetKey string // Query param name (default: "startAt")
	LimitKey  string // Query param name (default: "maxResults")
	MaxPages  int
}

// NewOffsetPaginator creates a new offset-based paginator.
func NewOffsetPaginator(path string, query url.Values, limit int) *OffsetPaginator {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	return &OffsetPaginator{
		Path:      path,
		Query:     query,
		Limit:     limit,
		OffsetKey: "startAt",
		LimitKey:  "maxResults",
		MaxPages:  DefaultMaxPages,
	}
}

// PageRequest returns the request for the page starting at offset.
func (p *OffsetPaginator) PageRequest(offset int) *Request {
	query := url.Values{}
	for k, v := range p.Query {
		query[k] = append([]string(nil), v...)
	}
	query.Set(p.OffsetKey, strconv.Itoa(offset))
	query.Set(p.LimitKey, strconv.Itoa(p.Limit))
	return &Request{
		Method: http.MethodGet,
		Path:   p.Path,
		Query:  query,
	}
}

// Next returns the offset of the following page and whether there is one.
// Missing maxResults falls back to the requested limit and missing total to
// zero, so a page without metadata ends the listing.
func (p *OffsetPaginator) Next(offset int, meta PageMeta) (int, bool) {
	pageSize := meta.MaxResults
	if pageSize <= 0 {
		pageSize = p.Limit
	}
	if offset+pageSize >= meta.Total {
		return 0, false
	}
	return offset + pageSize, true
}

// =============================================================================
// PAGE DECODING
// =============================================================================

// PageDecoder turns one response into its metadata and items.
type PageDecoder[T any] func(resp *Response) (PageMeta, []T, error)

// DecodeEnvelope decodes the common Jira envelope
// {"startAt":..,"maxResults":..,"total":..,"<itemsKey>":[...]}.
func DecodeEnvelope[T any](itemsKey string) PageDecoder[T] {
	return func(resp *Response) (PageMeta, []T, error) {
		var raw map[string]json.RawMessage
		if err := resp.JSON(&raw); err != nil {
			return PageMeta{}, nil, err
		}

		var meta PageMeta
		for key, dst := range map[string]*int{
			"startAt":    &meta.StartAt,
			"maxResults": &meta.MaxResults,
			"total":      &meta.Total,
		} {
			if v, ok := raw[key]; ok {
				// Some endpoints omit or null these; zero is the documented fallback.
				_ = json.Unmarshal(v, dst)
			}
		}

		var items []T
		if v, ok := raw[itemsKey]; ok {
			if err := json.Unmarshal(v, &items); err != nil {
				return PageMeta{}, nil, fmt.Errorf("decode %s: %w", itemsKey, err)
			}
		}
		return meta, items, nil
	}
}

// =============================================================================
// PAGINATED ITERATOR
// =============================================================================

// PageIterator lazily fetches pages from an offset-paginated listing.
type PageIterator[T any] struct {
	client    *Client
	paginator *OffsetPaginator
	decode    PageDecoder[T]

	offset  int
	pages   int
	current []T
	done    bool
	err     error
}

// NewPageIterator creates a lazy page iterator.
func NewPageIterator[T any](client *Client, paginator *OffsetPaginator, decode PageDecoder[T]) *PageIterator[T] {
	return &PageIterator[T]{
		client:    client,
		paginator: paginator,
		decode:    decode,
	}
}

// Next fetches the next page. It returns false when the listing is
// exhausted or an error occurred; check Err afterwards.
func (it *PageIterator[T]) Next(ctx context.Context) bool {
	if it.done || it.err != nil {
		return false
	}

	maxPages := it.paginator.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	if it.pages >= maxPages {
		it.err = fmt.Errorf("%s after %d pages: %w", it.paginator.Path, it.pages, ErrPaginationOverrun)
		return false
	}

	resp, err := it.client.Do(ctx, it.paginator.PageRequest(it.offset))
	if err != nil {
		it.err = err
		return false
	}

	meta, items, err := it.decode(resp)
	if err != nil {
		it.err = fmt.Errorf("decode page at %d: %w", it.offset, err)
		return false
	}

	it.pages++
	it.current = items
	next, more := it.paginator.Next(it.offset, meta)
	if more && len(items) > 0 {
		it.offset = next
	} else {
		it.done = true
	}
	return true
}

// Page returns the items of the page fetched by the last Next call.
func (it *PageIterator[T]) Page() []T {
	return it.current
}

// Err returns any error encountered.
func (it *PageIterator[T]) Err() error {
	return it.err
}

// CollectAll drains the iterator. A failure on any page fails the whole
// collection; callers never see a partial listing.
func CollectAll[T any](ctx context.Context, it *PageIterator[T]) ([]T, error) {
	var all []T
	for it.Next(ctx) {
		all = append(all, it.Page()...)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return all, nil
}
