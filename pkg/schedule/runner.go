// Package schedule runs maintenance jobs against the bridge on cron
// schedules
package schedule

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/mscrnt/vidbridge/pkg/engine"
	"github.com/robfig/cron/v3"
)

// Executor runs a command on the goroutine that owns the engine
type Executor interface {
	Do(ctx context.Context, fn func(*engine.Engine) error) error
}

// Pruner deletes history recorded before a cutoff
type Pruner interface {
	Prune(before time.Time) (int64, error)
}

// DefaultJobTimeout bounds how long a job waits for the engine loop
const DefaultJobTimeout = time.Minute

type entry struct {
	id     cron.EntryID
	status JobStatus
}

// Runner manages scheduled jobs
type Runner struct {
	cron    *cron.Cron
	exec    Executor
	pruner  Pruner
	jobs    map[string]*entry
	mu      sync.RWMutex
	logger  *log.Logger
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewRunner creates a runner submitting engine work to exec. pruner may be
// nil when no history is kept, in which case prune jobs fail.
func NewRunner(exec Executor, pruner Pruner, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Runner{
		cron:    cron.New(cron.WithParser(parser)),
		exec:    exec,
		pruner:  pruner,
		jobs:    make(map[string]*entry),
		logger:  logger,
		timeout: DefaultJobTimeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add registers a job. Disabled jobs are kept but never scheduled.
func (r *Runner) Add(job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.Name]; exists {
		return fmt.Errorf("job %s already registered", job.Name)
	}

	e := &entry{status: JobStatus{Job: job}}
	if job.Enabled {
		id, err := r.cron.AddFunc(job.CronExpr, r.createJob(job.Name))
		if err != nil {
			return fmt.Errorf("failed to add cron job: %w", err)
		}
		e.id = id
		r.logger.Printf("Registered job '%s' (%s) with cron expression: %s", job.Name, job.Action, job.CronExpr)
	}
	r.jobs[job.Name] = e
	return nil
}

// Remove unregisters a job
func (r *Runner) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, exists := r.jobs[name]; exists {
		if e.id != 0 {
			r.cron.Remove(e.id)
		}
		delete(r.jobs, name)
		r.logger.Printf("Unregistered job %s", name)
	}
}

// Start starts the scheduler
func (r *Runner) Start() {
	r.cron.Start()

	r.mu.RLock()
	n := 0
	for _, e := range r.jobs {
		if e.id != 0 {
			n++
		}
	}
	r.mu.RUnlock()
	r.logger.Printf("Scheduler started with %d active jobs", n)
}

// Stop stops the scheduler and waits for running jobs
func (r *Runner) Stop() {
	r.logger.Println("Stopping scheduler...")

	r.cancel()
	ctx := r.cron.Stop()

	select {
	case <-ctx.Done():
	case <-time.After(r.timeout + time.Second):
		r.logger.Println("Timeout waiting for jobs to complete")
	}

	r.logger.Println("Scheduler stopped")
}

// RunNow runs a registered job immediately, enabled or not
func (r *Runner) RunNow(ctx context.Context, name string) error {
	if r.ctx.Err() != nil {
		return fmt.Errorf("scheduler stopped")
	}

	r.mu.RLock()
	e, ok := r.jobs[name]
	var job Job
	if ok {
		job = e.status.Job
	}
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %s not found", name)
	}
	return r.execute(ctx, job)
}

// ListJobs returns the registered jobs sorted by name
func (r *Runner) ListJobs() []JobStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]JobStatus, 0, len(r.jobs))
	for _, e := range r.jobs {
		s := e.status
		if e.id != 0 {
			s.Next = r.cron.Entry(e.id).Next
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job.Name < out[j].Job.Name })
	return out
}

func (r *Runner) createJob(name string) func() {
	return func() {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		r.mu.RLock()
		e, ok := r.jobs[name]
		var job Job
		if ok {
			job = e.status.Job
		}
		r.mu.RUnlock()
		if !ok {
			return
		}

		r.logger.Printf("Executing scheduled job: %s", name)
		if err := r.execute(r.ctx, job); err != nil {
			r.logger.Printf("Failed to execute job %s: %v", name, err)
		}
	}
}

func (r *Runner) execute(parent context.Context, job Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in job %s: %v", job.Name, p)
			r.logger.Printf("%v", err)
		}
		r.finish(job.Name, err)
	}()

	ctx, cancel := context.WithTimeout(parent, r.timeout)
	defer cancel()

	switch job.Action {
	case ActionResync:
		return r.exec.Do(ctx, func(e *engine.Engine) error {
			_, err := e.CommitSync()
			return err
		})
	case ActionRetime:
		return r.exec.Do(ctx, func(e *engine.Engine) error {
			o := e.Retime()
			if !o.Sync.Committed {
				return fmt.Errorf("sync not acknowledged (reg %02x)", o.Sync.Status)
			}
			return nil
		})
	case ActionPreset:
		return r.exec.Do(ctx, func(e *engine.Engine) error {
			_, err := e.ApplyPreset(job.PresetID)
			return err
		})
	case ActionPrune:
		if r.pruner == nil {
			return fmt.Errorf("no history store to prune")
		}
		n, err := r.pruner.Prune(time.Now().Add(-job.MaxAge))
		if err != nil {
			return fmt.Errorf("failed to prune history: %w", err)
		}
		r.logger.Printf("Pruned %d history rows older than %v", n, job.MaxAge)
		return nil
	default:
		return fmt.Errorf("unknown action %q", job.Action)
	}
}

func (r *Runner) finish(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[name]
	if !ok {
		return
	}
	now := time.Now()
	e.status.LastRun = &now
	e.status.Runs++
	e.status.LastErr = ""
	if err != nil {
		e.status.LastErr = err.Error()
	}
}
