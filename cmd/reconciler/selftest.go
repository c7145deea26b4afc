package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bamops/reconciler/internal/bamclient"
)

func (c *CLI) selfTestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "self-test",
		Short: "Verify connectivity and authentication against the configured Address-Management API",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := c.client()
			start := time.Now()

			_, err := client.List(cmd.Context(), "configurations", bamclient.ListOptions{ItemCap: 1})
			if err != nil {
				return fmt.Errorf("self-test failed: %w", err)
			}

			fmt.Printf("ok: reached %s as %s in %s\n", c.cfg.BAM.URL, c.cfg.BAM.Username, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}
