package bamclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// halEnvelope is the generic shape of a HAL+JSON list response: either a
// flat `data` array or an `_embedded.<collection>` array, plus `_links`
// for pagination.
type halEnvelope struct {
	Data     []json.RawMessage          `json:"data,omitempty"`
	Embedded map[string][]json.RawMessage `json:"_embedded,omitempty"`
	Links    struct {
		Next *struct {
			Href string `json:"href"`
		} `json:"next,omitempty"`
	} `json:"_links,omitempty"`
}

// ListOptions parameterize a paginated list call.
type ListOptions struct {
	Filter   map[string]string
	Fields   []string
	OrderBy  string
	ItemCap  int // 0 = unbounded
	PageCap  int // 0 = unbounded
}

// List performs a paginated GET against endpoint, following `_links.next`
// until absent, an item/page cap is hit, or a self-referential `next` is
// detected (Testable Property 10). Each returned Entity is decoded
// independently so malformed individual entries do not abort the page.
func (c *Client) List(ctx context.Context, endpoint string, opts ListOptions) ([]*Entity, error) {
	var results []*Entity
	visited := map[string]struct{}{}

	query := url.Values{}
	if f := BuildFilter(opts.Filter); f != "" {
		query.Set("filter", f)
	}
	if len(opts.Fields) > 0 {
		for _, f := range opts.Fields {
			query.Add("fields", f)
		}
	}
	if opts.OrderBy != "" {
		query.Set("orderBy", opts.OrderBy)
	}
	pageSize := c.cfg.PageSize
	if opts.ItemCap > 0 && opts.ItemCap < pageSize {
		pageSize = opts.ItemCap
	}
	query.Set("limit", fmt.Sprintf("%d", pageSize))

	path := endpoint + "?" + query.Encode()
	pages := 0

	for path != "" {
		dedupeKey := path
		if _, seen := visited[dedupeKey]; seen {
			// self-referential next link: stop rather than loop forever.
			break
		}
		visited[dedupeKey] = struct{}{}

		var env halEnvelope
		if err := c.doJSON(ctx, "GET", path, nil, &env); err != nil {
			return nil, err
		}

		raw := env.Data
		if len(raw) == 0 {
			for _, v := range env.Embedded {
				raw = v
				break
			}
		}
		for _, r := range raw {
			var e Entity
			if err := json.Unmarshal(r, &e); err != nil {
				continue
			}
			results = append(results, &e)
			if opts.ItemCap > 0 && len(results) >= opts.ItemCap {
				return results, nil
			}
		}

		pages++
		if opts.PageCap > 0 && pages >= opts.PageCap {
			break
		}

		if env.Links.Next == nil || env.Links.Next.Href == "" {
			break
		}
		path = env.Links.Next.Href
	}

	return results, nil
}
