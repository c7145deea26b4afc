package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/bamops/reconciler/internal/checkpoint"
	"github.com/bamops/reconciler/internal/statusapi"
)

func (c *CLI) serveCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only status API (/status, /history, /live, /metrics) over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := checkpoint.NewStore(cmd.Context(), c.cfg, c.log)
			if err != nil {
				return fmt.Errorf("failed to open checkpoint store: %w", err)
			}
			defer store.Close()

			router := statusapi.NewRouter(statusapi.Config{
				Store:        store,
				ChangelogDir: c.cfg.Checkpoint.ChangelogDir,
				Logger:       c.log,
			})

			c.log.Info("status api listening", "addr", addr)
			return http.ListenAndServe(addr, router)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8090", "address to listen on")
	return cmd
}
