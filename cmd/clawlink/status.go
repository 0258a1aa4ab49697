package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"clawlink/internal/client"
	"clawlink/internal/config"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connection state and the gateway's status payload",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		return runStatus(ctx, cfg, statusJSON, cmd.OutOrStdout())
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print as a single JSON document")
	rootCmd.AddCommand(statusCmd)
}

type statusReport struct {
	Client  client.Snapshot `json:"client"`
	Gateway json.RawMessage `json:"gateway,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func runStatus(ctx context.Context, cfg *config.Config, asJSON bool, out io.Writer) error {
	obs := newReadyObserver(cfg)
	c, err := dial(ctx, cfg, obs, obs.ready)
	if err != nil {
		if asJSON {
			return writeJSON(out, statusReport{
				Client: client.Snapshot{URL: cfg.Gateway.URL, State: client.StateDisconnected},
				Error:  err.Error(),
			})
		}
		return err
	}
	defer c.Stop()

	payload, err := c.GetStatus(ctx)
	report := statusReport{Client: c.Snapshot(), Gateway: payload}
	if err != nil {
		report.Error = err.Error()
	}

	if asJSON {
		return writeJSON(out, report)
	}

	styles := NewStyles(out)
	state := styles.Offline.Render(report.Client.State.String())
	if report.Client.Connected {
		state = styles.Connected.Render(report.Client.State.String())
	}
	fmt.Fprintf(out, "%s %s (%s)\n", styles.Label.Render("Gateway:"), report.Client.URL, state)
	fmt.Fprintf(out, "%s %s\n", styles.Label.Render("Instance:"), c.InstanceID())
	if err != nil {
		return fmt.Errorf("status request failed: %w", err)
	}
	fmt.Fprintln(out, styles.Label.Render("Status:"))
	return printJSON(out, payload)
}
