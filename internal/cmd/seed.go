package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"parkd/internal/service"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert the demo parking sites into an empty store",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.close()
		if err := rt.migrate(ctx); err != nil {
			return err
		}
		n, err := service.SeedDemoSites(ctx, rt.store, service.SystemClock{}, rt.logger)
		if err != nil {
			return err
		}
		if n == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Sites already exist, nothing seeded")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d sites\n", n)
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.close()
		if rt.conn == nil {
			return fmt.Errorf("migrate needs STORE=postgres")
		}
		if err := rt.migrate(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd, migrateCmd)
}
