package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"globiagent/internal/agent"
	"globiagent/internal/config"
)

var askEntrypoint string

var askCmd = &cobra.Command{
	Use:   "ask <request>",
	Short: "Answer one request; progress goes to stderr, the artifact content to stdout",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askEntrypoint, "entrypoint", "e", agent.EntrypointFindInteractions, "Agent entrypoint")
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogger(cfg.Log.Level, os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, appOptions{withModel: true, withTypes: true, withStore: true})
	if err != nil {
		return err
	}
	defer a.Close()

	sink := &consoleSink{progress: cmd.ErrOrStderr(), out: cmd.OutOrStdout()}
	return a.agent.Run(ctx, strings.Join(args, " "), askEntrypoint, sink)
}

type consoleSink struct {
	progress io.Writer
	out      io.Writer
}

func (s *consoleSink) Publish(_ context.Context, ev agent.Event) error {
	switch ev.Type {
	case agent.EventBegin:
		_, err := fmt.Fprintf(s.progress, "> %s\n", ev.Summary)
		return err
	case agent.EventLog:
		if _, err := fmt.Fprintf(s.progress, "  %s\n", ev.Text); err != nil {
			return err
		}
		keys := make([]string, 0, len(ev.Data))
		for k := range ev.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if _, err := fmt.Fprintf(s.progress, "    %s: %v\n", k, ev.Data[k]); err != nil {
				return err
			}
		}
		return nil
	case agent.EventArtifact:
		if _, err := fmt.Fprintf(s.progress, "  %s (%s)\n", ev.Artifact.Description, ev.Artifact.Metadata[agent.MetadataDerivedFrom]); err != nil {
			return err
		}
		_, err := fmt.Fprintf(s.out, "%s\n", ev.Artifact.Content)
		return err
	default:
		return nil
	}
}
