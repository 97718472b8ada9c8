package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "parkd",
	Short: "Parking availability and reservation server",
	Long: `parkd tracks spot capacity per parking site and vehicle type, admits
reservations against it, and pushes availability changes to subscribers.
Configuration is read from the environment and an optional .env file.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
