package identity

import (
	"context"
	"net/netip"

	"github.com/bamops/reconciler/internal/bamclient"
	"github.com/bamops/reconciler/internal/core"
	"github.com/bamops/reconciler/internal/planner"
	"github.com/bamops/reconciler/internal/resolver"
	"github.com/bamops/reconciler/internal/rows"
)

// ParentOf builds a planner.ParentResolver that resolves a row's
// containment to the remote parent entity and the collection it lives
// under, per object_type:
//
//   - ip4/ip6 networks, dhcp ranges, and addresses resolve parent_path
//     (a CIDR) through block/network containment.
//   - ip4/ip6 blocks resolve parent_path through block containment
//     (sub-block) when present, otherwise anchor to the configuration
//     named by row.Config (top-level block).
//   - zones and records resolve parent_path (an absolute name) through
//     zone FQDN lookup; a zone with no parent_path anchors to the view
//     named by row.Config/row.View (top-level zone).
//
// A declared path or name that matches nothing remote returns
// core.ErrPathNotFound, which the planner treats as "parent is itself
// being created in this same batch" and leaves to the dependency graph.
func ParentOf(client *bamclient.Client) func(ctx context.Context, res *resolver.Resolver, row *rows.Row) (planner.ParentRef, error) {
	return func(ctx context.Context, res *resolver.Resolver, row *rows.Row) (planner.ParentRef, error) {
		parentPath := row.Get("parent_path")

		switch row.ObjectType {
		case rows.ObjectIP4Block, rows.ObjectIP6Block:
			if parentPath == "" {
				return resolveConfigurationParent(ctx, res, client, row)
			}
			id, err := resolveBlockContaining(ctx, res, client, row, parentPath)
			if err != nil {
				return planner.ParentRef{}, err
			}
			return planner.ParentRef{ID: id, Collection: "blocks"}, nil

		case rows.ObjectIP4Network, rows.ObjectIP6Network:
			if parentPath == "" {
				return planner.ParentRef{}, nil
			}
			id, err := resolveBlockContaining(ctx, res, client, row, parentPath)
			if err != nil {
				return planner.ParentRef{}, err
			}
			return planner.ParentRef{ID: id, Collection: "blocks"}, nil

		case rows.ObjectIP4Address, rows.ObjectIP6Address, rows.ObjectIPv4DHCPRange, rows.ObjectIPv6DHCPRange:
			if parentPath == "" {
				return planner.ParentRef{}, nil
			}
			id, err := resolveNetworkContaining(ctx, res, client, row, parentPath)
			if err != nil {
				return planner.ParentRef{}, err
			}
			return planner.ParentRef{ID: id, Collection: "networks"}, nil

		case rows.ObjectDNSZone, rows.ObjectHostRecord, rows.ObjectAliasRecord, rows.ObjectMXRecord,
			rows.ObjectTXTRecord, rows.ObjectSRVRecord, rows.ObjectExternalHostRecord, rows.ObjectGenericRecord:
			if parentPath != "" {
				id, err := resolveZoneFQDN(ctx, res, client, row, parentPath)
				if err != nil {
					return planner.ParentRef{}, err
				}
				return planner.ParentRef{ID: id, Collection: "zones"}, nil
			}
			if row.ObjectType == rows.ObjectDNSZone {
				return resolveViewParent(ctx, res, client, row)
			}
			return planner.ParentRef{}, nil

		default:
			return planner.ParentRef{}, nil
		}
	}
}

func resolveBlockContaining(ctx context.Context, res *resolver.Resolver, client *bamclient.Client, row *rows.Row, path string) (int64, error) {
	kind := string(row.ObjectType) + ":parent"
	return res.Resolve(ctx, kind, path, func(ctx context.Context) (int64, error) {
		prefix, err := netip.ParsePrefix(path)
		if err != nil {
			return 0, core.ErrPathNotFound
		}
		block, err := client.FindBlockContainingAddress(ctx, prefix.Addr().String())
		if err != nil {
			return 0, err
		}
		if block == nil {
			return 0, core.ErrPathNotFound
		}
		return block.ID, nil
	})
}

func resolveNetworkContaining(ctx context.Context, res *resolver.Resolver, client *bamclient.Client, row *rows.Row, path string) (int64, error) {
	kind := string(row.ObjectType) + ":parent"
	return res.Resolve(ctx, kind, path, func(ctx context.Context) (int64, error) {
		prefix, err := netip.ParsePrefix(path)
		if err != nil {
			return 0, core.ErrPathNotFound
		}
		network, err := client.FindNetworkContainingAddress(ctx, prefix.Addr().String())
		if err != nil {
			return 0, err
		}
		if network == nil {
			return 0, core.ErrPathNotFound
		}
		return network.ID, nil
	})
}

func resolveZoneFQDN(ctx context.Context, res *resolver.Resolver, client *bamclient.Client, row *rows.Row, fqdn string) (int64, error) {
	kind := string(row.ObjectType) + ":parent"
	return res.Resolve(ctx, kind, fqdn, func(ctx context.Context) (int64, error) {
		zone, err := client.GetZoneByFQDN(ctx, 0, fqdn)
		if err != nil {
			return 0, err
		}
		if zone == nil {
			return 0, core.ErrPathNotFound
		}
		return zone.ID, nil
	})
}

// resolveConfigurationParent anchors a top-level block (no parent_path) to
// the configuration named by row.Config, the root of the containment
// hierarchy.
func resolveConfigurationParent(ctx context.Context, res *resolver.Resolver, client *bamclient.Client, row *rows.Row) (planner.ParentRef, error) {
	if row.Config == "" {
		return planner.ParentRef{}, nil
	}
	id, err := res.Resolve(ctx, "configuration:name", row.Config, func(ctx context.Context) (int64, error) {
		cfg, err := client.GetConfigurationByName(ctx, row.Config)
		if err != nil {
			return 0, err
		}
		if cfg == nil {
			return 0, core.ErrPathNotFound
		}
		return cfg.ID, nil
	})
	if err != nil {
		return planner.ParentRef{}, err
	}
	return planner.ParentRef{ID: id, Collection: "configurations"}, nil
}

// resolveViewParent anchors a top-level zone (no parent_path) to the view
// named by row.View within the configuration named by row.Config.
func resolveViewParent(ctx context.Context, res *resolver.Resolver, client *bamclient.Client, row *rows.Row) (planner.ParentRef, error) {
	if row.Config == "" || row.View == "" {
		return planner.ParentRef{}, nil
	}
	id, err := res.Resolve(ctx, "view:name", row.Config+"/"+row.View, func(ctx context.Context) (int64, error) {
		cfg, err := client.GetConfigurationByName(ctx, row.Config)
		if err != nil {
			return 0, err
		}
		if cfg == nil {
			return 0, core.ErrPathNotFound
		}
		view, err := client.GetViewByName(ctx, cfg.ID, row.View)
		if err != nil {
			return 0, err
		}
		if view == nil {
			return 0, core.ErrPathNotFound
		}
		return view.ID, nil
	})
	if err != nil {
		return planner.ParentRef{}, err
	}
	return planner.ParentRef{ID: id, Collection: "views"}, nil
}
