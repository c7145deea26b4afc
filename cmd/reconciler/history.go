package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bamops/reconciler/internal/rollback"
)

func (c *CLI) historyCommand() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the recorded operations for a session from its changelog",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				return fmt.Errorf("--session-id is required")
			}

			results, err := rollback.ReadChangelog(c.cfg.Checkpoint.ChangelogDir, sessionID)
			if err != nil {
				return fmt.Errorf("failed to read changelog: %w", err)
			}

			for _, r := range results {
				status := "ok"
				if !r.Success {
					status = "failed: " + r.ErrorKind
				}
				resourceID := "-"
				if r.ResourceID != nil {
					resourceID = fmt.Sprintf("%d", *r.ResourceID)
				}
				fmt.Printf("%-20s %-24s %-8s %-10s %s\n", r.RowID, r.ObjectType, r.OperationType, resourceID, status)
			}
			fmt.Printf("%d entr(ies) total\n", len(results))
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session-id", "", "session identifier to look up")
	return cmd
}
