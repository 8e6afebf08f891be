package schedule

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/mscrnt/vidbridge/pkg/engine"
	"github.com/mscrnt/vidbridge/pkg/sim"
)

// directExecutor runs commands on the calling goroutine
type directExecutor struct {
	e     *engine.Engine
	calls int
}

func (d *directExecutor) Do(ctx context.Context, fn func(*engine.Engine) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.calls++
	return fn(d.e)
}

type fakePruner struct {
	before time.Time
	n      int64
	err    error
}

func (p *fakePruner) Prune(before time.Time) (int64, error) {
	p.before = before
	return p.n, p.err
}

func newTestRunner(t *testing.T, opts ...sim.Option) (*Runner, *sim.Bridge, *directExecutor, *fakePruner) {
	t.Helper()
	b := sim.New(opts...)
	logger := log.New(io.Discard, "", 0)
	cfg := engine.DefaultConfig()
	cfg.SyncBudget = 50
	cfg.FlybackBudget = 50
	cfg.Logger = logger
	exec := &directExecutor{e: engine.New(b.Source, b.Output, cfg)}
	pruner := &fakePruner{n: 7}
	return NewRunner(exec, pruner, logger), b, exec, pruner
}

func TestJobValidate(t *testing.T) {
	tests := []struct {
		name    string
		job     Job
		wantErr string
	}{
		{"resync", Job{Name: "a", CronExpr: "*/5 * * * *", Action: ActionResync}, ""},
		{"descriptor", Job{Name: "a", CronExpr: "@hourly", Action: ActionRetime}, ""},
		{"preset", Job{Name: "a", CronExpr: "0 3 * * *", Action: ActionPreset, PresetID: 23}, ""},
		{"prune", Job{Name: "a", CronExpr: "0 3 * * *", Action: ActionPrune, MaxAge: time.Hour}, ""},
		{"no name", Job{CronExpr: "* * * * *", Action: ActionResync}, "name"},
		{"bad cron", Job{Name: "a", CronExpr: "every minute", Action: ActionResync}, "cron"},
		{"seconds field", Job{Name: "a", CronExpr: "0 * * * * *", Action: ActionResync}, "cron"},
		{"bad action", Job{Name: "a", CronExpr: "* * * * *", Action: "reboot"}, "unknown action"},
		{"prune without age", Job{Name: "a", CronExpr: "* * * * *", Action: ActionPrune}, "max_age"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestJobNext(t *testing.T) {
	j := Job{Name: "a", CronExpr: "30 2 * * *", Action: ActionResync}
	from := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	next, err := j.Next(from)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2024, 5, 2, 2, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}
}

func TestRunnerAddRemove(t *testing.T) {
	r, _, _, _ := newTestRunner(t)

	if err := r.Add(Job{Name: "sync", CronExpr: "@every 1h", Action: ActionResync, Enabled: true}); err != nil {
		t.Fatal(err)
	}
	if err := r.Add(Job{Name: "prune", CronExpr: "0 4 * * *", Action: ActionPrune, MaxAge: 24 * time.Hour}); err != nil {
		t.Fatal(err)
	}
	if err := r.Add(Job{Name: "sync", CronExpr: "@hourly", Action: ActionResync}); err == nil {
		t.Error("duplicate job accepted")
	}
	if err := r.Add(Job{Name: "bad", CronExpr: "nope", Action: ActionResync}); err == nil {
		t.Error("invalid job accepted")
	}

	jobs := r.ListJobs()
	if len(jobs) != 2 || jobs[0].Job.Name != "prune" || jobs[1].Job.Name != "sync" {
		t.Fatalf("ListJobs = %+v", jobs)
	}
	if len(r.cron.Entries()) != 1 {
		t.Errorf("%d cron entries, want 1 (disabled job not scheduled)", len(r.cron.Entries()))
	}

	r.Remove("sync")
	if len(r.ListJobs()) != 1 || len(r.cron.Entries()) != 0 {
		t.Error("Remove left the job registered")
	}
}

func TestRunNowResync(t *testing.T) {
	r, b, exec, _ := newTestRunner(t)
	if err := r.Add(Job{Name: "sync", CronExpr: "@hourly", Action: ActionResync}); err != nil {
		t.Fatal(err)
	}

	if err := r.RunNow(context.Background(), "sync"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if exec.calls != 1 || b.Syncs() != 1 {
		t.Errorf("calls = %d, syncs = %d", exec.calls, b.Syncs())
	}

	st := r.ListJobs()[0]
	if st.Runs != 1 || st.LastRun == nil || st.LastErr != "" {
		t.Errorf("status = %+v", st)
	}
}

func TestRunNowResyncTimeout(t *testing.T) {
	r, _, _, _ := newTestRunner(t, sim.WithAckDelay(-1))
	if err := r.Add(Job{Name: "sync", CronExpr: "@hourly", Action: ActionResync}); err != nil {
		t.Fatal(err)
	}

	if err := r.RunNow(context.Background(), "sync"); err == nil {
		t.Fatal("expected sync timeout")
	}
	if st := r.ListJobs()[0]; st.LastErr == "" {
		t.Error("failure not recorded in job status")
	}
}

func TestRunNowRetimeAndPreset(t *testing.T) {
	r, b, _, _ := newTestRunner(t)
	if err := b.SetMode("640x480x4"); err != nil {
		t.Fatal(err)
	}
	_ = r.Add(Job{Name: "retime", CronExpr: "@hourly", Action: ActionRetime})
	_ = r.Add(Job{Name: "preset", CronExpr: "@hourly", Action: ActionPreset, PresetID: 23})
	_ = r.Add(Job{Name: "missing", CronExpr: "@hourly", Action: ActionPreset, PresetID: 99})

	if err := r.RunNow(context.Background(), "retime"); err != nil {
		t.Fatalf("retime: %v", err)
	}
	if got := b.Latched().ResX; got != 640 {
		t.Errorf("latched xres = %d, want 640", got)
	}

	if err := r.RunNow(context.Background(), "preset"); err != nil {
		t.Fatalf("preset: %v", err)
	}
	if got := b.Latched().ResX; got != 1152 {
		t.Errorf("latched xres = %d, want 1152", got)
	}

	if err := r.RunNow(context.Background(), "missing"); err == nil {
		t.Error("unknown preset did not fail")
	}
	if err := r.RunNow(context.Background(), "nope"); err == nil {
		t.Error("unknown job did not fail")
	}
}

func TestRunNowPrune(t *testing.T) {
	r, _, _, pruner := newTestRunner(t)
	_ = r.Add(Job{Name: "prune", CronExpr: "@daily", Action: ActionPrune, MaxAge: 48 * time.Hour})

	start := time.Now()
	if err := r.RunNow(context.Background(), "prune"); err != nil {
		t.Fatal(err)
	}
	cutoff := start.Add(-48 * time.Hour)
	if d := pruner.before.Sub(cutoff); d < 0 || d > time.Minute {
		t.Errorf("prune cutoff = %v, want about %v", pruner.before, cutoff)
	}

	pruner.err = errors.New("disk full")
	if err := r.RunNow(context.Background(), "prune"); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("err = %v", err)
	}
	if st := r.ListJobs()[0]; st.Runs != 2 {
		t.Errorf("runs = %d, want 2", st.Runs)
	}
}

func TestRunnerStartStop(t *testing.T) {
	r, _, _, _ := newTestRunner(t)
	_ = r.Add(Job{Name: "sync", CronExpr: "@every 1h", Action: ActionResync, Enabled: true})
	r.Start()

	jobs := r.ListJobs()
	if jobs[0].Next.IsZero() {
		t.Error("enabled job has no next run time")
	}

	r.Stop()
	if err := r.RunNow(context.Background(), "sync"); err == nil {
		t.Error("RunNow after Stop should fail on the cancelled context")
	}
}
