package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "labforge",
	Short: "labforge - run and grade lab code submissions",
	Long: `labforge compiles and tests learner code against a lab's test suite in an
isolated workspace, scores the result and records every attempt.

It runs as an HTTP/WebSocket service (labforge serve) or grades a single
file from the command line (labforge run).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default: ./labforge.yaml or ~/.labforge/labforge.yaml)")
}

func main() {
	// Optional .env for LABFORGE_* overrides
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: loading .env: %v\n", err)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
