package bamclient

import (
	"context"
	"strconv"
	"strings"
)

// GetZoneByFQDN recovers a zone's identity for an absolute domain name:
// first an absolute-name match, then a name match, then a reversed
// label-walk from the TLD downward through sub_zones, since
// the server does not accept compound FQDNs in every context.
func (c *Client) GetZoneByFQDN(ctx context.Context, viewID int64, fqdn string) (*Entity, error) {
	fqdn = strings.TrimSuffix(fqdn, ".")

	if zones, err := c.List(ctx, "zones", ListOptions{
		Filter: map[string]string{"absoluteName": fqdn},
	}); err == nil && len(zones) > 0 {
		return zones[0], nil
	}

	if zones, err := c.List(ctx, "zones", ListOptions{
		Filter: map[string]string{"name": fqdn},
	}); err == nil && len(zones) > 0 {
		return zones[0], nil
	}

	return c.walkZoneLabels(ctx, viewID, fqdn)
}

// walkZoneLabels descends from the TLD: example.com -> com -> example,
// following sub_zones at each hop, to recover a zone hierarchy that has no
// single absoluteName entry matching the full FQDN.
func (c *Client) walkZoneLabels(ctx context.Context, viewID int64, fqdn string) (*Entity, error) {
	labels := strings.Split(fqdn, ".")
	reversed := make([]string, len(labels))
	for i, l := range labels {
		reversed[len(labels)-1-i] = l
	}

	parentID := viewID
	var current *Entity
	for _, label := range reversed {
		children, err := c.List(ctx, "zones", ListOptions{
			Filter: map[string]string{"name": label, "parentId": strconv.FormatInt(parentID, 10)},
		})
		if err != nil || len(children) == 0 {
			return nil, nil
		}
		current = children[0]
		parentID = current.ID
	}
	return current, nil
}
