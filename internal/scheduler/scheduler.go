// Package scheduler fires agent prompts on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrJobRunning is returned by RunNow when the job is already executing
var ErrJobRunning = errors.New("job is already running")

// JobExecutor is called when a job fires
type JobExecutor func(ctx context.Context, job Job) error

// Job is a scheduled prompt
type Job struct {
	ID         string     `json:"id"`
	Name       string     `json:"name,omitempty"`
	Schedule   string     `json:"schedule"` // 5 or 6 field cron expression, or a descriptor like @hourly
	Prompt     string     `json:"prompt"`
	SessionKey string     `json:"session_key,omitempty"`
	Enabled    bool       `json:"enabled"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	NextRun    *time.Time `json:"next_run,omitempty"`
	RunCount   int        `json:"run_count"`
	LastError  string     `json:"last_error,omitempty"`

	entryID cron.EntryID
	running bool
}

// Status summarizes the scheduler
type Status struct {
	TotalJobs   int `json:"total_jobs"`
	EnabledJobs int `json:"enabled_jobs"`
	CronEntries int `json:"cron_entries"`
	Running     int `json:"running"`
}

// parser accepts an optional leading seconds field and @descriptors
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule validates a cron expression
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// Scheduler runs jobs in-process on a robfig/cron clock
type Scheduler struct {
	cron     *cron.Cron
	jobs     map[string]*Job
	executor JobExecutor
	mu       sync.RWMutex
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a scheduler evaluating expressions in loc
func New(loc *time.Location, executor JobExecutor) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	ctx, cancel := context.WithCancel(context.Background())
	logger := cron.PrintfLogger(log.New(log.Writer(), "[Scheduler] ", log.Flags()))

	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(logger)),
		),
		jobs:     make(map[string]*Job),
		executor: executor,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start starts the cron clock
func (s *Scheduler) Start() {
	s.cron.Start()

	s.mu.RLock()
	total, enabled := len(s.jobs), s.countEnabled()
	s.mu.RUnlock()
	log.Printf("[Scheduler] Started with %d jobs (%d enabled)", total, enabled)
}

// Stop stops the clock, cancels running jobs, and waits for them to return
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	log.Printf("[Scheduler] Stopped")
}

// AddJob validates and registers a job, scheduling it when enabled
func (s *Scheduler) AddJob(job Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if _, err := ParseSchedule(job.Schedule); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}

	j := job
	j.entryID = 0
	j.running = false
	if j.Enabled {
		if err := s.scheduleLocked(&j); err != nil {
			return err
		}
	}
	s.jobs[j.ID] = &j
	return nil
}

// RemoveJob unschedules and forgets a job
func (s *Scheduler) RemoveJob(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return fmt.Errorf("job %s not found", jobID)
	}
	if job.entryID != 0 {
		s.cron.Remove(job.entryID)
	}
	delete(s.jobs, jobID)
	return nil
}

// GetJob returns a copy of a job
func (s *Scheduler) GetJob(jobID string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return Job{}, fmt.Errorf("job %s not found", jobID)
	}
	return *job, nil
}

// ListJobs returns copies of all jobs ordered by ID
func (s *Scheduler) ListJobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].ID < jobs[k].ID })
	return jobs
}

// EnableJob schedules a disabled job
func (s *Scheduler) EnableJob(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return fmt.Errorf("job %s not found", jobID)
	}
	if job.Enabled {
		return nil
	}
	if err := s.scheduleLocked(job); err != nil {
		return err
	}
	job.Enabled = true
	return nil
}

// DisableJob unschedules a job but keeps it registered
func (s *Scheduler) DisableJob(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return fmt.Errorf("job %s not found", jobID)
	}
	if job.entryID != 0 {
		s.cron.Remove(job.entryID)
		job.entryID = 0
	}
	job.Enabled = false
	job.NextRun = nil
	return nil
}

// RunNow executes a job immediately and waits for it, enabled or not
func (s *Scheduler) RunNow(ctx context.Context, jobID string) error {
	s.mu.RLock()
	_, exists := s.jobs[jobID]
	s.mu.RUnlock()
	if !exists {
		return fmt.Errorf("job %s not found", jobID)
	}
	return s.execute(ctx, jobID)
}

// Status returns scheduler counters
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		TotalJobs:   len(s.jobs),
		EnabledJobs: s.countEnabled(),
		CronEntries: len(s.cron.Entries()),
	}
	for _, job := range s.jobs {
		if job.running {
			st.Running++
		}
	}
	return st
}

// scheduleLocked adds job to the cron clock. Caller holds s.mu.
func (s *Scheduler) scheduleLocked(job *Job) error {
	if job.entryID != 0 {
		s.cron.Remove(job.entryID)
	}

	id := job.ID
	entryID, err := s.cron.AddFunc(job.Schedule, func() {
		if err := s.execute(s.ctx, id); err != nil && !errors.Is(err, ErrJobRunning) {
			log.Printf("[Scheduler] Job %s failed: %v", id, err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job: %w", err)
	}
	job.entryID = entryID
	s.refreshNextLocked(job)

	log.Printf("[Scheduler] Scheduled job: %s (%s) - next run: %v", job.ID, job.Name, job.NextRun)
	return nil
}

func (s *Scheduler) refreshNextLocked(job *Job) {
	if job.entryID == 0 {
		return
	}
	entry := s.cron.Entry(job.entryID)
	if entry.Next.IsZero() {
		// the clock has not started; compute from the schedule
		if entry.Schedule == nil {
			return
		}
		next := entry.Schedule.Next(time.Now())
		job.NextRun = &next
		return
	}
	next := entry.Next
	job.NextRun = &next
}

// execute runs one job, skipping it if a previous execution is still going.
// The gateway tracks a single current run per client, so overlapping runs of
// the same prompt are never useful.
func (s *Scheduler) execute(ctx context.Context, jobID string) error {
	s.mu.Lock()
	job, exists := s.jobs[jobID]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("job %s not found", jobID)
	}
	if job.running {
		s.mu.Unlock()
		log.Printf("[Scheduler] Skipping job %s: previous run still in progress", jobID)
		return ErrJobRunning
	}
	job.running = true
	now := time.Now()
	job.LastRun = &now
	job.RunCount++
	snapshot := *job
	s.mu.Unlock()

	log.Printf("[Scheduler] Executing job: %s (%s)", snapshot.ID, snapshot.Name)

	var err error
	if s.executor != nil {
		err = s.executor(ctx, snapshot)
	}

	s.mu.Lock()
	job.running = false
	if err != nil {
		job.LastError = err.Error()
	} else {
		job.LastError = ""
	}
	s.refreshNextLocked(job)
	s.mu.Unlock()

	if err != nil {
		return err
	}
	log.Printf("[Scheduler] Job %s completed", jobID)
	return nil
}

func (s *Scheduler) countEnabled() int {
	n := 0
	for _, job := range s.jobs {
		if job.Enabled {
			n++
		}
	}
	return n
}
