package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/scottgal/flowforge/internal/ferrors"
)

// Callable is resolved from a TaskRecord's CallableReference and invoked by
// the monitor loop at BACKGROUND priority.
type Callable func(ctx context.Context) error

// CallableResolver maps a task's CallableReference to an executable
// function (e.g. "workflow:<id>" -> run that workflow through the
// Workflow Executor, kept outside this package to avoid an import cycle).
type CallableResolver func(reference string) (Callable, error)

const maxConsecutiveFailures = 5

// TaskRecord is a persistent cron-scheduled task (spec §4.9).
type TaskRecord struct {
	Name                  string    `yaml:"name"`
	Description           string    `yaml:"description,omitempty"`
	CronExpression        string    `yaml:"cron_expression"`
	NaturalLanguageSource string    `yaml:"natural_language_source,omitempty"`
	CallableReference     string    `yaml:"callable_reference"`
	Enabled               bool      `yaml:"enabled"`
	RunCount              int       `yaml:"run_count"`
	ErrorCount            int       `yaml:"error_count"`
	ConsecutiveFailures   int       `yaml:"consecutive_failures"`
	LastRun               time.Time `yaml:"last_run,omitempty"`
	NextRun               time.Time `yaml:"next_run"`
	SkippedRuns           int       `yaml:"skipped_runs"`

	schedule cron.Schedule
}

// NewTask builds a TaskRecord from a standard 5-field cron expression,
// computing its first NextRun.
func NewTask(name, description, cronExpr, callableRef string) (*TaskRecord, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.CodeInvalidCronExpression, "invalid cron expression", err)
	}
	return &TaskRecord{
		Name:              name,
		Description:       description,
		CronExpression:    cronExpr,
		CallableReference: callableRef,
		Enabled:           true,
		NextRun:           schedule.Next(time.Now()),
		schedule:          schedule,
	}, nil
}

// NewTaskFromNaturalLanguage parses a best-effort natural-language schedule
// (spec §4.9: `"every sunday at noon"`) into a standard cron expression
// before delegating to NewTask.
func NewTaskFromNaturalLanguage(name, description, nl, callableRef string) (*TaskRecord, error) {
	cronExpr, err := ParseNaturalLanguageSchedule(nl)
	if err != nil {
		return nil, err
	}
	t, err := NewTask(name, description, cronExpr, callableRef)
	if err != nil {
		return nil, err
	}
	t.NaturalLanguageSource = nl
	return t, nil
}

// rehydrateSchedule recompiles t.schedule from t.CronExpression after a
// load from persistence, where the unexported cron.Schedule is not
// serialized.
func (t *TaskRecord) rehydrateSchedule() error {
	schedule, err := cron.ParseStandard(t.CronExpression)
	if err != nil {
		return ferrors.Wrap(ferrors.CodeInvalidCronExpression, "invalid cron expression for task "+t.Name, err)
	}
	t.schedule = schedule
	return nil
}

// due reports whether the task should run as of now (spec §4.9: "next_run
// <= now and enabled").
func (t *TaskRecord) due(now time.Time) bool {
	return t.Enabled && !t.NextRun.After(now)
}

// recordSuccess advances NextRun and resets the failure streak.
func (t *TaskRecord) recordSuccess(now time.Time) {
	t.RunCount++
	t.ConsecutiveFailures = 0
	t.LastRun = now
	t.NextRun = t.schedule.Next(now)
}

// recordFailure advances NextRun, counts the failure, and auto-disables
// the task after maxConsecutiveFailures (spec §4.9).
func (t *TaskRecord) recordFailure(now time.Time) {
	t.RunCount++
	t.ErrorCount++
	t.ConsecutiveFailures++
	t.LastRun = now
	t.NextRun = t.schedule.Next(now)
	if t.ConsecutiveFailures >= maxConsecutiveFailures {
		t.Enabled = false
	}
}
