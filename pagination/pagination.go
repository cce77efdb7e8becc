// Package pagination follows the offset cursor of list endpoints that answer
// with {"data": [...], "pagination": {"next_offset": n}}.
package pagination

import (
	"context"
	"fmt"
	"maps"
	"net/url"
	"strconv"

	"github.com/smaxtec/sxapi/apierr"
	"github.com/smaxtec/sxapi/transport"
)

// DefaultLimit is the page size requested when none is configured
const DefaultLimit = 100

// Getter performs a GET and decodes the JSON response. *transport.Client
// implements it.
type Getter interface {
	Get(ctx context.Context, path string, params url.Values, out any, opts ...transport.CallOption) error
}

// resolver is implemented by getters that know the absolute URL of a path,
// such as *transport.Client
type resolver interface {
	ResolveURL(path string, opts ...transport.CallOption) string
}

func resolveURL(getter Getter, path string, opts []transport.CallOption) string {
	if r, ok := getter.(resolver); ok {
		return r.ResolveURL(path, opts...)
	}
	return path
}

// Page is one response of a paginated endpoint
type Page[T any] struct {
	Data       []T `json:"data"`
	Pagination struct {
		NextOffset *int `json:"next_offset"`
	} `json:"pagination"`
}

// Option configures FetchAll
type Option func(*options)

type options struct {
	limit    int
	callOpts []transport.CallOption
}

// WithLimit sets the page size. Values below 1 fall back to DefaultLimit.
func WithLimit(limit int) Option {
	return func(o *options) {
		if limit > 0 {
			o.limit = limit
		}
	}
}

// WithCallOptions passes transport options to every page request
func WithCallOptions(opts ...transport.CallOption) Option {
	return func(o *options) {
		o.callOpts = append(o.callOpts, opts...)
	}
}

// FetchAll requests pages of path until a short page arrives and returns all
// records in server order. filter is sent with every page and is not
// modified. On error no partial result is returned.
func FetchAll[T any](ctx context.Context, getter Getter, path string, filter url.Values, opts ...Option) ([]T, error) {
	o := options{limit: DefaultLimit}
	for _, opt := range opts {
		opt(&o)
	}

	params := maps.Clone(filter)
	if params == nil {
		params = url.Values{}
	}
	params.Set("limit", strconv.Itoa(o.limit))

	var all []T
	offset := 0

	for {
		params.Set("offset", strconv.Itoa(offset))

		var page Page[T]
		if err := getter.Get(ctx, path, params, &page, o.callOpts...); err != nil {
			return nil, err
		}
		all = append(all, page.Data...)

		if len(page.Data) < o.limit {
			return all, nil
		}

		next := page.Pagination.NextOffset
		if next == nil {
			return nil, &apierr.ProtocolError{
				URL:    resolveURL(getter, path, o.callOpts),
				Reason: "full page without pagination.next_offset",
			}
		}
		if *next <= offset {
			return nil, &apierr.ProtocolError{
				URL:    resolveURL(getter, path, o.callOpts),
				Reason: fmt.Sprintf("next_offset %d does not advance past offset %d", *next, offset),
			}
		}
		offset = *next
	}
}
