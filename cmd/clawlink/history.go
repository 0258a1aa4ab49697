package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"clawlink/internal/config"
	"clawlink/internal/transcript"
)

type historyOptions struct {
	session string
	source  string
	outcome string
	limit   int
	search  string
	asJSON  bool
}

var (
	histOpts       historyOptions
	pruneOlderThan time.Duration
	pruneCompact   bool
)

var historyCmd = &cobra.Command{
	Use:   "history [id]",
	Short: "Show recorded runs from the local transcript",
	Long: `Show recorded runs from the local transcript, newest first. With an id,
print that run in full. With --search, rank runs by full-text match on the
message and response.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return withTranscript(cfg, func(store *transcript.Store) error {
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid run id %q", args[0])
				}
				return showEntry(cmd.Context(), store, id, histOpts.asJSON, out)
			}
			return listHistory(cmd.Context(), store, histOpts, out)
		})
	},
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete recorded runs older than a duration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if pruneOlderThan <= 0 {
			return fmt.Errorf("--older-than must be positive")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return withTranscript(cfg, func(store *transcript.Store) error {
			n, err := store.Prune(cmd.Context(), time.Now().Add(-pruneOlderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d run(s)\n", n)
			if !pruneCompact || n == 0 {
				return nil
			}
			reclaimed, err := store.Compact(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Compacted transcript, %.1f KB reclaimed\n", float64(reclaimed)/1024)
			return nil
		})
	},
}

var historyBackupCmd = &cobra.Command{
	Use:   "backup <file>",
	Short: "Write a consistent copy of the transcript database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return withTranscript(cfg, func(store *transcript.Store) error {
			if err := store.Backup(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Transcript backed up to %s\n", args[0])
			return nil
		})
	},
}

func init() {
	f := historyCmd.Flags()
	f.StringVarP(&histOpts.session, "session", "s", "", "only runs for this session key")
	f.StringVar(&histOpts.source, "source", "", `only runs from this source ("cli" or "schedule:<id>")`)
	f.StringVar(&histOpts.outcome, "outcome", "", "only runs with this outcome (completed, timeout, cancelled, failed)")
	f.IntVarP(&histOpts.limit, "limit", "n", transcript.DefaultListLimit, "maximum number of runs")
	f.StringVar(&histOpts.search, "search", "", "full-text query over messages and responses")
	f.BoolVar(&histOpts.asJSON, "json", false, "print as JSON")

	historyPruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 30*24*time.Hour, "age of runs to delete")

	historyPruneCmd.Flags().BoolVar(&pruneCompact, "compact", true, "vacuum the database after deleting")

	historyCmd.AddCommand(historyPruneCmd, historyBackupCmd)
	rootCmd.AddCommand(historyCmd)
}

func withTranscript(cfg *config.Config, fn func(*transcript.Store) error) error {
	path, err := cfg.TranscriptPath()
	if err != nil {
		return err
	}
	store, err := transcript.NewStore(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func listHistory(ctx context.Context, store *transcript.Store, o historyOptions, out io.Writer) error {
	var (
		entries []transcript.Entry
		err     error
	)
	if o.search != "" {
		entries, err = store.Search(ctx, o.search, o.limit)
	} else {
		entries, err = store.List(ctx, transcript.Filter{
			SessionKey: o.session,
			Source:     o.source,
			Outcome:    transcript.Outcome(o.outcome),
			Limit:      o.limit,
		})
	}
	if err != nil {
		return err
	}

	if o.asJSON {
		if entries == nil {
			entries = []transcript.Entry{}
		}
		return writeJSON(out, entries)
	}
	if len(entries) == 0 {
		_, err := fmt.Fprintln(out, "No runs recorded.")
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tSESSION\tSOURCE\tOUTCOME\tDURATION\tMESSAGE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID,
			e.StartedAt.Local().Format("2006-01-02 15:04"),
			e.SessionKey,
			e.Source,
			e.Outcome,
			e.Duration().Round(100*time.Millisecond),
			truncate(oneLine(e.Message), 48),
		)
	}
	return tw.Flush()
}

func showEntry(ctx context.Context, store *transcript.Store, id int64, asJSON bool, out io.Writer) error {
	e, err := store.Get(ctx, id)
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(out, e)
	}

	styles := NewStyles(out)
	field := func(label, value string) {
		if value != "" {
			fmt.Fprintf(out, "%s %s\n", styles.Label.Render(label), value)
		}
	}
	field("Run:", e.RunID)
	field("Session:", e.SessionKey)
	field("Source:", e.Source)
	field("Outcome:", string(e.Outcome))
	field("Error:", e.Error)
	field("Started:", e.StartedAt.Local().Format(time.RFC1123))
	field("Duration:", e.Duration().Round(time.Millisecond).String())
	fmt.Fprintf(out, "\n%s\n%s\n", styles.Label.Render("Message:"), e.Message)
	fmt.Fprintf(out, "\n%s\n%s\n", styles.Label.Render("Response:"), e.Response)
	return nil
}
