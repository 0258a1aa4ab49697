package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/semaphore"

	"clawlink/internal/client"
	"clawlink/internal/config"
	"clawlink/internal/scheduler"
	"clawlink/internal/transcript"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Send configured prompts on cron schedules",
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured schedules and their next run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		sched, err := buildScheduler(cfg, nil)
		if err != nil {
			return err
		}
		return printJobs(cmd.OutOrStdout(), sched.ListJobs(), cfg.GetLocation())
	},
}

var scheduleRunCmd = &cobra.Command{
	Use:   "run <id>",
	Short: "Run one schedule now, enabled or not",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		rt, err := newScheduleRuntime(ctx, cfg, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer rt.close()
		return rt.sched.RunNow(ctx, args[0])
	},
}

var scheduleServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run enabled schedules until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		rt, err := newScheduleRuntime(ctx, cfg, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer rt.close()

		st := rt.sched.Status()
		if st.EnabledJobs == 0 {
			return fmt.Errorf("no enabled schedules in config")
		}
		rt.sched.Start()
		<-ctx.Done()
		log.Printf("[Scheduler] Shutting down")
		return nil
	},
}

func init() {
	scheduleCmd.AddCommand(scheduleListCmd, scheduleRunCmd, scheduleServeCmd)
	rootCmd.AddCommand(scheduleCmd)
}

// jobsFromConfig converts configured schedules into scheduler jobs
func jobsFromConfig(schedules []config.ScheduleConfig) []scheduler.Job {
	jobs := make([]scheduler.Job, 0, len(schedules))
	for _, s := range schedules {
		jobs = append(jobs, scheduler.Job{
			ID:         s.ID,
			Name:       s.Name,
			Schedule:   s.Schedule,
			Prompt:     s.Prompt,
			SessionKey: s.SessionKey,
			Enabled:    s.Enabled,
		})
	}
	return jobs
}

// buildScheduler registers every configured schedule with executor
func buildScheduler(cfg *config.Config, executor scheduler.JobExecutor) (*scheduler.Scheduler, error) {
	sched := scheduler.New(cfg.GetLocation(), executor)
	for _, job := range jobsFromConfig(cfg.Schedules) {
		if err := sched.AddJob(job); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", job.ID, err)
		}
	}
	return sched, nil
}

// scheduleRuntime is a connected client plus a scheduler whose jobs send
// their prompt through it
type scheduleRuntime struct {
	client *client.Client
	store  *transcript.Store
	sched  *scheduler.Scheduler
}

func newScheduleRuntime(ctx context.Context, cfg *config.Config, out io.Writer) (*scheduleRuntime, error) {
	rt := &scheduleRuntime{}
	c, err := dialConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt.client = c

	store, err := openTranscript(cfg)
	if err != nil {
		log.Printf("[Transcript] Disabled: %v", err)
	}
	rt.store = store

	sched, err := buildScheduler(cfg, jobExecutor(cfg, c, store, out))
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.sched = sched
	return rt, nil
}

func (rt *scheduleRuntime) close() {
	if rt.sched != nil {
		rt.sched.Stop()
	}
	if rt.client != nil {
		rt.client.Stop()
	}
	if rt.store != nil {
		rt.store.Close()
	}
}

// jobExecutor sends a job's prompt. Jobs are serialized so that only one run
// is in flight on the client at a time; a job still waiting when ctx ends
// gives up without sending.
func jobExecutor(cfg *config.Config, c *client.Client, store *transcript.Store, out io.Writer) scheduler.JobExecutor {
	sem := semaphore.NewWeighted(1)
	styles := NewStyles(out)

	return func(ctx context.Context, job scheduler.Job) error {
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer sem.Release(1)

		opts := messageOptions(cfg)
		if job.SessionKey != "" {
			opts.SessionKey = job.SessionKey
		}

		runCtx, release := abortOnDone(ctx, c, nil)
		defer release()

		res := executeRun(runCtx, c, store, runRequest{
			Message: job.Prompt,
			Source:  "schedule:" + job.ID,
			Options: opts,
		})

		fmt.Fprintf(out, "%s %s\n", styles.Label.Render("["+job.ID+"]"), styles.Muted.Render(string(res.Outcome)))
		if res.Response != "" {
			fmt.Fprintln(out, res.Response)
		}
		return res.err
	}
}

func printJobs(w io.Writer, jobs []scheduler.Job, loc *time.Location) error {
	if len(jobs) == 0 {
		_, err := fmt.Fprintln(w, "No schedules configured.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSCHEDULE\tENABLED\tNEXT RUN\tPROMPT")
	for _, job := range jobs {
		next := "-"
		if job.Enabled && job.NextRun != nil {
			next = job.NextRun.In(loc).Format("2006-01-02 15:04:05 MST")
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n", job.ID, job.Schedule, job.Enabled, next, truncate(job.Prompt, 40))
	}
	return tw.Flush()
}
