package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"globiagent/internal/config"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show the most recent runs from the audit log",
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Number of runs to show")
}

func runRuns(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadWithoutModel()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogger(cfg.Log.Level, os.Stderr)
	if cfg.DB.DSN == "" {
		return errors.New("run audit log is disabled, set DB_DSN")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a, err := newApp(ctx, cfg, appOptions{withStore: true})
	if err != nil {
		return err
	}
	defer a.Close()

	runs, err := a.store.ListRuns(ctx, runsLimit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tWHEN\tSTATUS\tTAXON\tTYPE\tRECORDS\tDURATION\tREQUEST")
	for _, r := range runs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%s\t%q\n",
			r.ID,
			r.CreatedAt.UTC().Format(time.RFC3339),
			r.Status,
			r.SubjectTaxon,
			r.InteractionType,
			r.RecordCount,
			r.Duration.Round(time.Millisecond),
			r.Request,
		)
	}
	return tw.Flush()
}
