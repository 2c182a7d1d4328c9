package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Abandon stale sessions and purge expired ones",
	Long: `Marks active sessions older than SESSION_STALE_AFTER as abandoned and
deletes finished sessions older than SESSION_RETENTION_DAYS. Journals are kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := context.Background()
		a, err := buildApp(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer a.Close()

		abandoned, purged := runSweep(ctx, a)
		fmt.Fprintf(cmd.OutOrStdout(), "abandoned %d, purged %d\n", abandoned, purged)
		return nil
	},
}
