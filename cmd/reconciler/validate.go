package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bamops/reconciler/internal/tabular"
)

func (c *CLI) validateCommand() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a tabular input file without contacting the remote API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open input file: %w", err)
			}
			defer f.Close()

			mode := tabular.ModeWarn
			if strict {
				mode = tabular.ModeStrict
			}

			result, err := tabular.Parse(f, mode)
			if err != nil && len(result.Errors) == 0 {
				return fmt.Errorf("parse failed: %w", err)
			}

			fmt.Printf("%d row(s) parsed, %d valid, %d error(s)\n", len(result.Rows)+len(result.Errors), len(result.Rows), len(result.Errors))
			for _, verr := range result.Errors {
				fmt.Println(" -", verr.Error())
			}

			if strict && len(result.Errors) > 0 {
				return fmt.Errorf("validation failed with %d error(s)", len(result.Errors))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "fail the command if any row fails validation")
	return cmd
}
