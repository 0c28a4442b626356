package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/brickrunner/internal/bricks"
	"github.com/GriffinCanCode/brickrunner/internal/config"
)

var validatePattern string

var validateCmd = &cobra.Command{
	Use:   "validate <brick-file|directory>",
	Short: "Check brick files and resolve their modules",
	Long: `Check a brick file, or every brick file below a directory, and ` +
		`resolve the module each one names.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files := []string{args[0]}
		if info, err := os.Stat(args[0]); err == nil && info.IsDir() {
			files, err = config.FindBrickFiles(cmd.Context(), args[0], validatePattern)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no brick files below %s", args[0])
			}
		}

		out := cmd.OutOrStdout()
		var errs []error
		for _, path := range files {
			if err := validateFile(out, path); err != nil {
				fmt.Fprintf(out, "%s: %v\n", path, err)
				errs = append(errs, fmt.Errorf("%s: %w", path, err))
			}
		}
		return errors.Join(errs...)
	},
}

func validateFile(out io.Writer, path string) error {
	bf, err := config.LoadBrickFile(path)
	if err != nil {
		return err
	}
	if _, err := bricks.NewRegistry().Resolve(bf.Brick); err != nil {
		return err
	}

	fmt.Fprintf(out, "brick %s (%s) ok\n", bf.Brick.UID, bf.Brick.Module)
	ports := make([]string, 0, len(bf.OutputConnections))
	for port := range bf.OutputConnections {
		ports = append(ports, port)
	}
	sort.Strings(ports)
	for _, port := range ports {
		for _, t := range bf.OutputConnections[port] {
			fmt.Fprintf(out, "  %s -> %s\n", port, t.GroupName())
		}
	}
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "brickrunner", version)
	},
}

func init() {
	validateCmd.Flags().StringVar(&validatePattern, "pattern", config.BrickFilePattern, "brick file pattern when validating a directory")
	rootCmd.AddCommand(validateCmd, versionCmd)
}
