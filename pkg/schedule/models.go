package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Action is what a scheduled job does
type Action string

const (
	// ActionResync repeats the sync handshake so a missed sync is retried
	ActionResync Action = "resync"

	// ActionRetime decodes the source and reprograms the output
	ActionRetime Action = "retime"

	// ActionPreset applies a fixed preset
	ActionPreset Action = "preset"

	// ActionPrune deletes history older than the job's MaxAge
	ActionPrune Action = "prune"
)

// Job is a scheduled maintenance task
type Job struct {
	Name     string        `yaml:"name" json:"name"`
	CronExpr string        `yaml:"cron" json:"cron_expr"`
	Action   Action        `yaml:"action" json:"action"`
	PresetID int           `yaml:"preset,omitempty" json:"preset_id,omitempty"`
	MaxAge   time.Duration `yaml:"max_age,omitempty" json:"max_age,omitempty"`
	Enabled  bool          `yaml:"enabled" json:"enabled"`
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks a job definition
func (j Job) Validate() error {
	if j.Name == "" {
		return fmt.Errorf("job name cannot be empty")
	}
	if _, err := parser.Parse(j.CronExpr); err != nil {
		return fmt.Errorf("job %s: invalid cron expression: %w", j.Name, err)
	}
	switch j.Action {
	case ActionResync, ActionRetime, ActionPreset:
	case ActionPrune:
		if j.MaxAge <= 0 {
			return fmt.Errorf("job %s: prune needs a positive max_age", j.Name)
		}
	default:
		return fmt.Errorf("job %s: unknown action %q", j.Name, j.Action)
	}
	return nil
}

// Next returns the next time the job is due after t
func (j Job) Next(t time.Time) (time.Time, error) {
	s, err := parser.Parse(j.CronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return s.Next(t), nil
}

// JobStatus is the state of a registered job
type JobStatus struct {
	Job     Job        `json:"job"`
	Next    time.Time  `json:"next"`
	LastRun *time.Time `json:"last_run,omitempty"`
	LastErr string     `json:"last_error,omitempty"`
	Runs    int        `json:"runs"`
}
