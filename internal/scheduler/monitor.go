package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/scottgal/flowforge/internal/ferrors"
	"github.com/scottgal/flowforge/internal/memory"
	"github.com/scottgal/flowforge/internal/telemetry"
)

// MonitorOptions configures Monitor's polling cadence.
type MonitorOptions struct {
	TickInterval time.Duration
}

func (o *MonitorOptions) setDefaults() {
	if o.TickInterval <= 0 {
		o.TickInterval = 30 * time.Second
	}
}

// Monitor ticks on an interval, submitting every due, enabled task in store
// to sched at BACKGROUND priority (spec §4.9), resolving each task's
// callable through resolve. When a workflow is active it defers rather than
// drops: the task's SkippedRuns is incremented and it is retried next tick.
type Monitor struct {
	store   *TaskStore
	sched   *Scheduler
	mem     *memory.Memory
	resolve CallableResolver
	opts    MonitorOptions
	logger  telemetry.Logger
}

// MonitorOption configures a Monitor at construction.
type MonitorOption func(*Monitor)

// WithMonitorLogger attaches a structured logger.
func WithMonitorLogger(l telemetry.Logger) MonitorOption {
	return func(m *Monitor) { m.logger = l }
}

// WithTickInterval overrides the default 30s polling cadence.
func WithTickInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) { m.opts.TickInterval = d }
}

// NewMonitor builds a Monitor over store, dispatching due tasks through
// sched and mirroring successful task definitions into mem as KindPlan
// artifacts.
func NewMonitor(store *TaskStore, sched *Scheduler, mem *memory.Memory, resolve CallableResolver, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		store:   store,
		sched:   sched,
		mem:     mem,
		resolve: resolve,
		logger:  telemetry.NewNoopLogger(),
	}
	m.opts.setDefaults()
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run polls until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.opts.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	now := time.Now()
	m.sched.mu.Lock()
	workflowsActive := len(m.sched.activeWorkflows) > 0
	m.sched.mu.Unlock()
	for _, task := range m.store.List() {
		if !task.due(now) {
			continue
		}
		if workflowsActive {
			task.SkippedRuns++
			m.logger.Info(ctx, "scheduler: task deferred while a workflow is active", "task", task.Name)
			m.persistTask(ctx, task)
			continue
		}

		callable, err := m.resolve(task.CallableReference)
		if err != nil {
			m.logger.Error(ctx, "scheduler: unresolvable callable", "task", task.Name, "reference", task.CallableReference, "error", err.Error())
			task.recordFailure(now)
			m.persistTask(ctx, task)
			continue
		}

		jobTask := task
		job := Job{
			ID:       fmt.Sprintf("task:%s:%d", jobTask.Name, now.UnixNano()),
			Priority: PriorityBackground,
			Run: func() error {
				runErr := callable(ctx)
				ran := time.Now()
				if runErr != nil {
					jobTask.recordFailure(ran)
					if !jobTask.Enabled {
						disabled := ferrors.New(ferrors.CodeTaskDisabledByConsecutiveFailures, "task disabled after repeated failures")
						m.logger.Warn(ctx, "scheduler: "+disabled.Error(), "task", jobTask.Name, "consecutive_failures", jobTask.ConsecutiveFailures)
					}
				} else {
					jobTask.recordSuccess(ran)
				}
				m.persistTask(ctx, jobTask)
				if runErr == nil {
					m.mirrorToMemory(ctx, jobTask)
				}
				return runErr
			},
		}

		if err := m.sched.Submit(job); err != nil {
			// Scheduler-level backpressure (queue full): skip this tick,
			// try again next time rather than dropping the run.
			jobTask.SkippedRuns++
			m.logger.Warn(ctx, "scheduler: task deferred", "task", jobTask.Name, "error", err.Error())
			m.persistTask(ctx, jobTask)
		}
	}
}

func (m *Monitor) persistTask(ctx context.Context, task *TaskRecord) {
	if err := m.store.save(); err != nil {
		m.logger.Error(ctx, "scheduler: failed to persist task store", "task", task.Name, "error", err.Error())
	}
}

func (m *Monitor) mirrorToMemory(ctx context.Context, task *TaskRecord) {
	if m.mem == nil {
		return
	}
	_, err := m.mem.Store(ctx, memory.Artifact{
		Kind:        memory.KindPlan,
		Name:        task.Name,
		Description: task.Description,
		Content:     task.CronExpression,
		Metadata: map[string]any{
			"callable_reference":      task.CallableReference,
			"natural_language_source": task.NaturalLanguageSource,
			"run_count":               task.RunCount,
		},
	})
	if err != nil {
		m.logger.Error(ctx, "scheduler: failed to mirror task into memory", "task", task.Name, "error", err.Error())
	}
}
