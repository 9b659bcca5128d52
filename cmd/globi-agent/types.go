package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"globiagent/internal/config"
)

var typesSorted bool

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List the interaction types known to GloBI",
	RunE:  runTypes,
}

func init() {
	typesCmd.Flags().BoolVar(&typesSorted, "sorted", false, "Sort alphabetically instead of listing order")
}

func runTypes(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadWithoutModel()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogger(cfg.Log.Level, os.Stderr)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ClientTimeout+5*time.Second)
	defer cancel()

	a, err := newApp(ctx, cfg, appOptions{withTypes: true})
	if err != nil {
		return err
	}
	defer a.Close()

	values := a.types.Values()
	if typesSorted {
		values = a.types.Sorted()
	}
	for _, v := range values {
		fmt.Fprintln(cmd.OutOrStdout(), v)
	}
	return nil
}
