package main

import (
	"fmt"

	"github.com/MimeLyc/menulens/internal/config"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations for the configured store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(config.WithoutLLMKey())
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		if cfg.Store.Driver == config.DriverMemory {
			fmt.Fprintln(cmd.OutOrStdout(), "memory store has no schema")
			return nil
		}

		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		if err := store.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", cfg.Store.Driver)
		return nil
	},
}
