package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"clawlink/internal/config"
	"clawlink/internal/transcript"
)

type sendOptions struct {
	session      string
	thinking     string
	agentID      string
	system       string
	timeout      time.Duration
	showThinking bool
	noRecord     bool
	asJSON       bool
}

var sendOpts sendOptions

var sendCmd = &cobra.Command{
	Use:   "send [message...]",
	Short: "Send a message to the agent and stream the reply",
	Long: `Send a message to the agent and print the reply as it streams.

Tool activity and status notices are written to stderr. Press Ctrl+C once to
abort the run; the gateway is asked to stop and text already streamed stays
on screen.

With no arguments, or a single "-", the message is read from stdin when stdin
is not a terminal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		message, err := messageFromArgs(args, cmd.InOrStdin(), stdinIsTerminal())
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		return runSend(ctx, cfg, message, sendOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func init() {
	f := sendCmd.Flags()
	f.StringVarP(&sendOpts.session, "session", "s", "", "session key (default from config)")
	f.StringVar(&sendOpts.thinking, "thinking", "", "thinking level: off, minimal, low, medium, high")
	f.StringVar(&sendOpts.agentID, "agent", "", "agent id")
	f.StringVar(&sendOpts.system, "system", "", "extra system prompt for this run")
	f.DurationVar(&sendOpts.timeout, "timeout", 0, "run timeout (default from config)")
	f.BoolVar(&sendOpts.showThinking, "show-thinking", false, "print thinking text to stderr")
	f.BoolVar(&sendOpts.noRecord, "no-record", false, "do not record the run in the transcript")
	f.BoolVar(&sendOpts.asJSON, "json", false, "print the result as JSON instead of streaming")
	rootCmd.AddCommand(sendCmd)
}

// runSend connects, runs one message, and prints the result. Cancelling ctx
// after the handshake aborts the run instead of dropping it.
func runSend(ctx context.Context, cfg *config.Config, message string, so sendOptions, stdout, stderr io.Writer) error {
	obs := newReadyObserver(cfg)
	c, err := dial(ctx, cfg, obs, obs.ready)
	if err != nil {
		return err
	}
	defer c.Stop()

	var store *transcript.Store
	if !so.noRecord {
		s, err := openTranscript(cfg)
		if err != nil {
			fmt.Fprintf(stderr, "warning: transcript disabled: %v\n", err)
		} else if s != nil {
			defer s.Close()
			store = s
		}
	}

	opts := messageOptions(cfg)
	if so.session != "" {
		opts.SessionKey = so.session
	}
	if so.thinking != "" {
		opts.Thinking = so.thinking
	}
	if so.agentID != "" {
		opts.AgentID = so.agentID
	}
	if so.system != "" {
		opts.ExtraSystemPrompt = so.system
	}
	if so.timeout > 0 {
		opts.Timeout = so.timeout
	}

	var printer *streamPrinter
	if !so.asJSON {
		printer = newStreamPrinter(stdout, stderr, so.showThinking)
		opts.OnStream = printer.handle
	}

	runCtx, release := abortOnDone(ctx, c, func(runID string) {
		fmt.Fprintf(stderr, "\nAborted run %s\n", runID)
	})
	defer release()

	res := executeRun(runCtx, c, store, runRequest{
		Message: message,
		Source:  "cli",
		Options: opts,
	})

	if so.asJSON {
		if err := writeJSON(stdout, res); err != nil {
			return err
		}
		return res.err
	}

	printer.finish(res.Response)
	return res.err
}

// messageFromArgs joins the arguments, or reads piped stdin for none or "-"
func messageFromArgs(args []string, stdin io.Reader, isTerminal bool) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	if isTerminal {
		return "", fmt.Errorf("no message given (pass it as arguments or pipe it on stdin)")
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read message from stdin: %w", err)
	}
	message := strings.TrimSpace(string(data))
	if message == "" {
		return "", fmt.Errorf("empty message on stdin")
	}
	return message, nil
}

func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}
