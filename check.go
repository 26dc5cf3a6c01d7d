package main

import (
	"fmt"

	"github.com/jacobedelsonuw/visionboard-ai/core/validation"

	"github.com/spf13/cobra"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	var failFast bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run the preflight checks without starting the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			res := validation.NewSuite(cfg, nil).
				WithOutput(cmd.OutOrStdout()).
				WithFailFast(failFast).
				Validate(cmd.Context())
			if !res.Success {
				return fmt.Errorf("%s", res.Summary())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "Stop at the first failed check")
	return cmd
}
