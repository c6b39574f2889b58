package main

import (
	"encoding/json"
	"fmt"

	"github.com/MimeLyc/menulens/internal/config"
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one expiry sweep and print the report",
	Long: `Sweep removes expired upload sessions and share links once, releasing the
file handles of every reaped session. Use it from an external scheduler when
the serve command is not running.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		app, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		report, err := app.manager.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}
