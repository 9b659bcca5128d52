package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"globiagent/internal/config"
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:           "globi-agent",
	Short:         "Finds recorded interactions between organisms using GloBI",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		config.LoadDotEnv()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = version

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(typesCmd)
	rootCmd.AddCommand(runsCmd)
}
