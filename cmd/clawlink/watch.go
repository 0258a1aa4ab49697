package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"clawlink/pkg/protocol"
)

var watchAgent bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print gateway events as they arrive",
	Long: `Print gateway events as they arrive. The connection is kept open and
re-established after drops until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		obs := newWatchObserver(newReadyObserver(cfg), cmd.OutOrStdout(), watchAgent)
		c, err := dial(ctx, cfg, obs, obs.ready)
		if err != nil {
			return err
		}
		defer c.Stop()

		<-ctx.Done()
		snap := c.Snapshot()
		fmt.Fprintf(cmd.ErrOrStderr(), "\nStopped. %d sequence gap(s) observed.\n", snap.SequenceGaps)
		return nil
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchAgent, "agent", false, "also print agent stream frames")
	rootCmd.AddCommand(watchCmd)
}

// watchObserver prints every callback as one styled line
type watchObserver struct {
	*readyObserver

	mu        sync.Mutex
	out       io.Writer
	styles    Styles
	showAgent bool
	now       func() time.Time
}

func newWatchObserver(ready *readyObserver, out io.Writer, showAgent bool) *watchObserver {
	return &watchObserver{
		readyObserver: ready,
		out:           out,
		styles:        NewStyles(out),
		showAgent:     showAgent,
		now:           time.Now,
	}
}

func (o *watchObserver) line(label, body string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintf(o.out, "%s %s %s\n", o.styles.Muted.Render(o.now().Format("15:04:05")), label, body)
}

func (o *watchObserver) OnConnect(hello json.RawMessage) {
	o.readyObserver.OnConnect(hello)
	o.line(o.styles.Connected.Render("connected"), truncate(string(hello), 160))
}

func (o *watchObserver) OnDisconnect(code int, reason string) {
	o.line(o.styles.Offline.Render("disconnected"), fmt.Sprintf("code=%d reason=%q", code, reason))
}

func (o *watchObserver) OnEvent(ev *protocol.Event) {
	seq := "-"
	if n, ok := ev.Sequence(); ok {
		seq = fmt.Sprintf("%d", n)
	}
	o.line(o.styles.EventName.Render(ev.Event), fmt.Sprintf("seq=%s %s", seq, truncate(string(ev.Payload), 160)))
}

func (o *watchObserver) OnAgentStream(payload json.RawMessage) {
	if !o.showAgent {
		return
	}
	var p protocol.AgentPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		o.line(o.styles.EventName.Render(protocol.EventAgent), truncate(string(payload), 160))
		return
	}
	o.line(o.styles.EventName.Render(protocol.EventAgent), fmt.Sprintf("run=%s stream=%s %s", p.RunID, p.Stream, truncate(string(payload), 120)))
}

func (o *watchObserver) OnError(err error) {
	o.line(o.styles.Error.Render("error"), err.Error())
}
