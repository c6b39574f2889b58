package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/MimeLyc/menulens/pkg/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var envFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "menulens",
	Short: "Menu photo translation service",
	Long: `menulens turns photos of restaurant menus into translated, shareable menus.

It keeps short-lived upload sessions, retries translations against an
OpenAI-compatible service and publishes finished menus behind share links.`,
	SilenceUsage:      true,
	PersistentPreRunE: initializeApp,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(migrateCmd)
}

// initializeApp loads the dotenv file and sets the log level.
func initializeApp(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	log.InitLogger(log.ParseLevel(os.Getenv("LOG_LEVEL")))
	return nil
}
