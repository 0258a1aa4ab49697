package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"clawlink/internal/client"
	"clawlink/internal/config"
)

var historyLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and reset gateway sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions known to the gateway",
	Args:  cobra.NoArgs,
	RunE: withClient(func(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
		payload, err := c.ListSessions(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, payload)
	}),
}

var sessionsResetCmd = &cobra.Command{
	Use:   "reset [session-key]",
	Short: "Clear a session's conversation context",
	Long: `Clear a session's conversation context. The gateway is asked to delete
the session; if it refuses, a reset is requested instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: withClient(func(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
		key := ""
		if len(args) == 1 {
			key = args[0]
		}
		res := c.ResetSession(ctx, key)
		if key == "" {
			key = "default session"
		}
		fmt.Fprintf(out, "Reset %s: success=%t\n", key, res.Success)
		return nil
	}),
}

var sessionsHistoryCmd = &cobra.Command{
	Use:   "history [session-key]",
	Short: "Print the gateway's message history for a session",
	Args:  cobra.MaximumNArgs(1),
	RunE: withClient(func(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
		key := ""
		if len(args) == 1 {
			key = args[0]
		}
		payload, err := c.GetSessionHistory(ctx, key, historyLimit)
		if err != nil {
			return err
		}
		return printJSON(out, payload)
	}),
}

func init() {
	sessionsHistoryCmd.Flags().IntVarP(&historyLimit, "limit", "n", client.DefaultHistoryLimit, "maximum number of entries")

	sessionsCmd.AddCommand(sessionsListCmd, sessionsResetCmd, sessionsHistoryCmd)
	rootCmd.AddCommand(sessionsCmd)
}

// withClient adapts a function needing a connected client into a RunE
func withClient(fn func(ctx context.Context, c *client.Client, args []string, out io.Writer) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		c, err := dialConfig(ctx, cfg)
		if err != nil {
			return err
		}
		defer c.Stop()
		return fn(ctx, c, args, cmd.OutOrStdout())
	}
}

// dialConfig connects with a plain ready observer
func dialConfig(ctx context.Context, cfg *config.Config) (*client.Client, error) {
	obs := newReadyObserver(cfg)
	return dial(ctx, cfg, obs, obs.ready)
}

