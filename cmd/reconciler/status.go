package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bamops/reconciler/internal/checkpoint"
)

func (c *CLI) statusCommand() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the latest checkpoint for a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				return fmt.Errorf("--session-id is required")
			}

			store, err := checkpoint.NewStore(cmd.Context(), c.cfg, c.log)
			if err != nil {
				return fmt.Errorf("failed to open checkpoint store: %w", err)
			}
			defer store.Close()

			cp, err := store.LatestCheckpoint(cmd.Context(), sessionID)
			if err != nil {
				return fmt.Errorf("failed to load checkpoint: %w", err)
			}
			if cp == nil {
				fmt.Printf("no checkpoint found for session %s\n", sessionID)
				return nil
			}

			fmt.Printf("session:    %s\n", cp.SessionID)
			fmt.Printf("batch:      %d\n", cp.BatchID)
			fmt.Printf("status:     %s\n", cp.Status)
			fmt.Printf("progress:   %d/%d operations\n", cp.CompletedOperations, cp.TotalOperations)
			fmt.Printf("updated at: %s\n", cp.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"))
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session-id", "", "session identifier to look up")
	return cmd
}
