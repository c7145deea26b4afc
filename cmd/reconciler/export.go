package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bamops/reconciler/internal/tabular"
)

func (c *CLI) exportCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Re-emit a tabular input file through the parser, normalizing its schema and row order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := c.parseInput(args[0])
			if err != nil {
				return err
			}
			for _, verr := range parsed.Errors {
				c.log.Warn("row validation error", "detail", verr.Error())
			}

			w := os.Stdout
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()
				if err := tabular.WriteCSV(f, parsed.Rows); err != nil {
					return fmt.Errorf("failed to write output: %w", err)
				}
				fmt.Printf("wrote %d row(s) to %s\n", len(parsed.Rows), output)
				return nil
			}

			if err := tabular.WriteCSV(w, parsed.Rows); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&output, "output", "", "file to write to (defaults to stdout)")
	return cmd
}
