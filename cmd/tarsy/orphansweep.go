package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// orphanSweepCmd runs the same startup recovery serve performs (spec.md
// §4.10) as a standalone one-shot command, for an operator to run by hand
// against a store that was left with stale non-terminal sessions (e.g.
// after a hard crash that also took down the automatic sweep).
func orphanSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "orphan-sweep",
		Short: "Mark every non-terminal session failed and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			if err := a.Sessions.RecoverOrphans(ctx); err != nil {
				return fmt.Errorf("orphan sweep: %w", err)
			}
			return nil
		},
	}
}
