package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/harun/runcore/internal/tracing"
	"github.com/harun/runcore/pkg/bus"
	"github.com/harun/runcore/pkg/history"
	"github.com/harun/runcore/pkg/protocol"
	"github.com/harun/runcore/pkg/runner"
	"github.com/spf13/cobra"
)

var (
	runSession string
	runFormat  string
	runTasks   []string
)

var runCmd = &cobra.Command{
	Use:   "run [prompt]",
	Short: "Drive a single run and print its messages",
	Long: `Run one prompt to completion, printing every runtime message as it is
published. With --task the prompt is delegated to a sub-agent run. Ctrl-C
aborts the run.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runSession, "session", "", "session id (default: new session)")
	runCmd.Flags().StringVar(&runFormat, "format", "text", "output format (text, json)")
	runCmd.Flags().StringArrayVar(&runTasks, "task", nil, "sub-agent task (repeatable)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	if runFormat != "text" && runFormat != "json" {
		return fmt.Errorf("unsupported format %q (must be text or json)", runFormat)
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
	logger := log.GetZerolog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessionID := runSession
	if sessionID == "" {
		sessionID = tracing.NewSessionID()
	}
	ctx = tracing.WithSessionID(ctx, sessionID)

	b := bus.New(logger)
	events, cancel := b.Subscribe(sessionID, recorderBuffer)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printMessages(cmd.OutOrStdout(), events, runFormat)
	}()

	if cfg.History.Enabled {
		store, err := history.NewStore(cfg.History.Path, logger)
		if err != nil {
			cancel()
			return err
		}
		defer store.Close()

		recorded, stopRecording := b.Subscribe(sessionID, recorderBuffer)
		done := make(chan struct{})
		go func() {
			defer close(done)
			history.NewRecorder(store).Run(context.WithoutCancel(ctx), recorded)
		}()
		defer func() {
			stopRecording()
			<-done
		}()
	}

	model, err := newModel(cfg)
	if err != nil {
		cancel()
		return err
	}
	r, err := newRunner(cfg, model, b, logger)
	if err != nil {
		cancel()
		return err
	}

	prompt := strings.Join(args, " ")
	var result runner.Result
	if len(runTasks) > 0 {
		result, err = r.RunSubagent(ctx, "", runner.SubagentParams{Name: "cli", Prompt: prompt, Tasks: runTasks})
	} else {
		result, err = r.Run(ctx, runner.Params{Prompt: prompt, SessionID: sessionID})
	}

	cancel()
	<-printed

	if err != nil {
		return err
	}
	if result.Aborted {
		return fmt.Errorf("run %s aborted", result.RunID)
	}
	if result.NextSessionID != "" && result.NextSessionID != result.SessionID {
		fmt.Fprintf(cmd.ErrOrStderr(), "context compacted; continue in session %s\n", result.NextSessionID)
	}
	return nil
}

// printMessages writes messages as they arrive until ch is closed. Stream
// deltas are folded into the final answer in text mode.
func printMessages(w io.Writer, ch <-chan protocol.Message, format string) {
	for msg := range ch {
		if format == "json" {
			data, err := protocol.Encode(msg)
			if err != nil {
				continue
			}
			fmt.Fprintln(w, string(data))
			continue
		}

		switch msg.Kind() {
		case protocol.TypeAssistantStreamStart, protocol.TypeAssistantStreamDelta, protocol.TypeAssistantStreamStop:
			continue
		}
		fmt.Fprintln(w, protocol.Describe(msg))
	}
}
