package bamclient

import (
	"context"
	"fmt"
)

// GetConfigurationByName resolves a configuration by its unique name, the
// root of the containment hierarchy for top-level blocks and views that
// declare no parent_path. Returns nil, nil if no configuration matches.
func (c *Client) GetConfigurationByName(ctx context.Context, name string) (*Entity, error) {
	candidates, err := c.List(ctx, "configurations", ListOptions{
		Filter:  map[string]string{"name": name},
		ItemCap: 1,
	})
	if err != nil {
		return nil, err
	}
	for _, cand := range candidates {
		if cand.Name == name {
			return cand, nil
		}
	}
	return nil, nil
}

// GetViewByName resolves a DNS view scoped to configID by its name, used to
// anchor a top-level zone's containment when it declares no parent_path.
func (c *Client) GetViewByName(ctx context.Context, configID int64, name string) (*Entity, error) {
	candidates, err := c.List(ctx, configurationViewsPath(configID), ListOptions{
		Filter:  map[string]string{"name": name},
		ItemCap: 1,
	})
	if err != nil {
		return nil, err
	}
	for _, cand := range candidates {
		if cand.Name == name {
			return cand, nil
		}
	}
	return nil, nil
}

func configurationViewsPath(configID int64) string {
	return fmt.Sprintf("configurations/%d/views", configID)
}
