package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "brickrunner",
	Short: "Run one brick of a packet pipeline.",
	Long: `brickrunner loads a brick file, registers with the grid manager and ` +
		`processes packets pulled from upstream runners, serving the results ` +
		`to downstream runners.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
