package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (c *CLI) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the reconciler version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(appVersion)
			return nil
		},
	}
}
