package bamclient

import (
	"context"
	"fmt"
	"net/netip"
)

// FindNetworkContainingAddress filters ip4_networks/ip6_networks by
// `range:contains(addr)` and computes the longest-prefix match
// client-side. Returns core.ErrNotFound-compatible nil, nil when no
// candidate contains addr.
func (c *Client) FindNetworkContainingAddress(ctx context.Context, addr string) (*Entity, error) {
	return c.findContaining(ctx, "networks", addr)
}

// FindBlockContainingAddress filters ip4_blocks/ip6_blocks by
// `range:contains(addr)` and computes the longest-prefix match
// client-side.
func (c *Client) FindBlockContainingAddress(ctx context.Context, addr string) (*Entity, error) {
	return c.findContaining(ctx, "blocks", addr)
}

func (c *Client) findContaining(ctx context.Context, collection, addr string) (*Entity, error) {
	target, err := netip.ParseAddr(addr)
	if err != nil {
		return nil, fmt.Errorf("bamclient: %q is not a well-formed address: %w", addr, err)
	}

	candidates, err := c.List(ctx, collection, ListOptions{
		Filter: map[string]string{"range__contains": addr},
	})
	if err != nil {
		return nil, err
	}

	var best *Entity
	var bestBits int = -1
	for _, cand := range candidates {
		prefix, err := netip.ParsePrefix(cand.Range)
		if err != nil {
			continue
		}
		if !prefix.Contains(target) {
			continue
		}
		if prefix.Bits() > bestBits {
			bestBits = prefix.Bits()
			best = cand
		}
	}

	return best, nil
}
