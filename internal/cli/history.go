package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/harun/runcore/pkg/history"
	"github.com/harun/runcore/pkg/protocol"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	historyFormat    string
	runsLimit        int
	sessionLimit     int
	historyOlderThan time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect recorded runtime messages",
	Long:  `Inspect and prune the message history written by runcore serve and runcore run.`,
}

var historyRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent runs",
	Args:  cobra.NoArgs,
	RunE: withStore(func(ctx context.Context, s *history.Store, w io.Writer, _ []string) error {
		runs, err := s.Runs(ctx, runsLimit)
		if err != nil {
			return err
		}
		return printRuns(w, runs, historyFormat)
	}),
}

var historyRunCmd = &cobra.Command{
	Use:   "run <run-id>",
	Short: "Replay the messages of one run",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(ctx context.Context, s *history.Store, w io.Writer, args []string) error {
		records, err := s.ListRun(ctx, args[0])
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return fmt.Errorf("no messages recorded for run %s", args[0])
		}
		return printRecords(w, records, historyFormat)
	}),
}

var historySessionCmd = &cobra.Command{
	Use:   "session <session-id>",
	Short: "Replay the latest messages of a session",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(ctx context.Context, s *history.Store, w io.Writer, args []string) error {
		records, err := s.ListSession(ctx, args[0], sessionLimit)
		if err != nil {
			return err
		}
		return printRecords(w, records, historyFormat)
	}),
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete messages older than a cutoff",
	Args:  cobra.NoArgs,
	RunE: withStore(func(ctx context.Context, s *history.Store, w io.Writer, _ []string) error {
		if historyOlderThan <= 0 {
			return fmt.Errorf("--older-than must be positive")
		}
		n, err := s.Prune(ctx, time.Now().Add(-historyOlderThan))
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Pruned %d messages\n", n)
		return nil
	}),
}

func init() {
	historyCmd.PersistentFlags().StringVar(&historyFormat, "format", "text", "output format (text, json, yaml)")
	historyRunsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum number of runs")
	historySessionCmd.Flags().IntVar(&sessionLimit, "limit", 200, "maximum number of messages (0 for all)")
	historyPruneCmd.Flags().DurationVar(&historyOlderThan, "older-than", 7*24*time.Hour, "age cutoff")

	historyCmd.AddCommand(historyRunsCmd, historyRunCmd, historySessionCmd, historyPruneCmd)
	rootCmd.AddCommand(historyCmd)
}

// withStore opens the configured history database around fn.
func withStore(fn func(ctx context.Context, s *history.Store, w io.Writer, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		switch historyFormat {
		case "text", "json", "yaml":
		default:
			return fmt.Errorf("unsupported format %q (must be text, json or yaml)", historyFormat)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := newLogger(cfg, false)
		if err != nil {
			return err
		}
		defer log.Close()

		store, err := history.NewStore(cfg.History.Path, log.GetZerolog())
		if err != nil {
			return err
		}
		defer store.Close()

		return fn(cmd.Context(), store, cmd.OutOrStdout(), args)
	}
}

type runView struct {
	RunID     string    `json:"runId" yaml:"runId"`
	SessionID string    `json:"sessionId" yaml:"sessionId"`
	Messages  int       `json:"messages" yaml:"messages"`
	FirstAt   time.Time `json:"firstAt" yaml:"firstAt"`
	LastAt    time.Time `json:"lastAt" yaml:"lastAt"`
}

type recordView struct {
	ID      int64          `json:"id" yaml:"id"`
	Type    protocol.Type  `json:"type" yaml:"type"`
	At      time.Time      `json:"at" yaml:"at"`
	Message map[string]any `json:"message" yaml:"message"`
}

func printRuns(w io.Writer, runs []history.RunSummary, format string) error {
	views := make([]runView, 0, len(runs))
	for _, r := range runs {
		views = append(views, runView{
			RunID:     r.RunID,
			SessionID: r.SessionID,
			Messages:  r.Messages,
			FirstAt:   time.UnixMilli(r.FirstAt).UTC(),
			LastAt:    time.UnixMilli(r.LastAt).UTC(),
		})
	}

	if format != "text" {
		return render(w, views, format)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSESSION\tMESSAGES\tLAST")
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", v.RunID, v.SessionID, v.Messages, v.LastAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func printRecords(w io.Writer, records []history.Record, format string) error {
	if format == "text" {
		for _, r := range records {
			fmt.Fprintf(w, "%s  %s\n", time.UnixMilli(r.Timestamp).UTC().Format(time.RFC3339), protocol.Describe(r.Message))
		}
		return nil
	}

	views := make([]recordView, 0, len(records))
	for _, r := range records {
		data, err := protocol.Encode(r.Message)
		if err != nil {
			return err
		}
		var fields map[string]any
		if err := json.Unmarshal(data, &fields); err != nil {
			return err
		}
		views = append(views, recordView{
			ID:      r.ID,
			Type:    r.Type,
			At:      time.UnixMilli(r.Timestamp).UTC(),
			Message: fields,
		})
	}
	return render(w, views, format)
}

func render(w io.Writer, v any, format string) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
