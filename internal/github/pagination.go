package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/tomnomnom/linkheader"
)

// PageSize is the per_page value forced on every paginated request
const PageSize = 100

// NextURL returns the rel="next" target of a Link header, or "" when there is none
func NextURL(header string) string {
	if header == "" {
		return ""
	}
	for _, link := range linkheader.Parse(header) {
		if link.Rel == "next" {
			return link.URL
		}
	}
	return ""
}

// Paginate walks a list endpoint page by page and yields every element of
// each page's JSON array. Iterating again issues fresh requests.
func (c *Client) Paginate(ctx context.Context, url string) iter.Seq2[json.RawMessage, error] {
	return c.paginate(ctx, url, func(body []byte) ([]json.RawMessage, error) {
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("decode page: %w", err)
		}
		return items, nil
	})
}

// PaginateSearch walks a search endpoint and yields the elements of each page's items array
func (c *Client) PaginateSearch(ctx context.Context, url string) iter.Seq2[json.RawMessage, error] {
	return c.paginate(ctx, url, func(body []byte) ([]json.RawMessage, error) {
		var page struct {
			Items []json.RawMessage `json:"items"`
		}
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("decode search page: %w", err)
		}
		return page.Items, nil
	})
}

func (c *Client) paginate(ctx context.Context, url string, items func([]byte) ([]json.RawMessage, error)) iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		next := withPageSize(c.resolve(url))
		for next != "" {
			resp, err := c.Get(ctx, next)
			if err != nil {
				var apiErr *APIError
				if !errors.As(err, &apiErr) || apiErr.Kind != KindUnclassified || apiErr.Response == nil {
					yield(nil, err)
					return
				}

				// Unclassified page failures are logged and the walk continues from the errored response
				c.logger.Error("github: page request failed",
					"url", next,
					"status", apiErr.StatusCode,
					"error", err)
				next = NextURL(apiErr.Response.Header.Get("Link"))
				continue
			}

			page, err := items(resp.Body)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, item := range page {
				if !yield(item, nil) {
					return
				}
			}

			next = NextURL(resp.Header.Get("Link"))
		}
	}
}

func withPageSize(url string) string {
	if strings.Contains(url, "?") {
		return fmt.Sprintf("%s&per_page=%d", url, PageSize)
	}
	return fmt.Sprintf("%s?per_page=%d", url, PageSize)
}

// decodeSeq decodes every element of a raw sequence into T
func decodeSeq[T any](seq iter.Seq2[json.RawMessage, error]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for raw, err := range seq {
			var item T
			if err != nil {
				yield(item, err)
				return
			}
			if err := json.Unmarshal(raw, &item); err != nil {
				yield(item, fmt.Errorf("decode item: %w", err))
				return
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}

// Collect drains a sequence into a slice, stopping at the first error
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for item, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, item)
	}
	return out, nil
}
