package scheduler

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scottgal/flowforge/internal/ferrors"
	"github.com/scottgal/flowforge/internal/telemetry"
)

// Options configures a Scheduler.
type Options struct {
	Workers               int
	MaxQueueSize          int
	BackgroundSettleDelay time.Duration
	BackgroundThrottle    time.Duration
	ReducedLowConcurrency int
}

func (o *Options) setDefaults() {
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.MaxQueueSize <= 0 {
		o.MaxQueueSize = 1000
	}
	if o.BackgroundSettleDelay <= 0 {
		o.BackgroundSettleDelay = 5 * time.Second
	}
	if o.ReducedLowConcurrency <= 0 {
		o.ReducedLowConcurrency = 1
	}
}

// Scheduler is the multi-level priority queue described by spec §4.9.
type Scheduler struct {
	opts   Options
	logger telemetry.Logger

	mu              sync.Mutex
	queues          map[Priority][]Job
	activeWorkflows map[string]bool
	emptySince      time.Time
	lastBackground  time.Time

	runningLow int32

	wake chan struct{}
	wg   sync.WaitGroup
}

// Option configures a Scheduler at construction.
type Option func(*Scheduler)

// WithLogger attaches a structured logger.
func WithLogger(l telemetry.Logger) Option { return func(s *Scheduler) { s.logger = l } }

// New constructs a Scheduler with opts.setDefaults applied.
func New(opts Options, options ...Option) *Scheduler {
	opts.setDefaults()
	s := &Scheduler{
		opts:            opts,
		logger:          telemetry.NewNoopLogger(),
		queues:          map[Priority][]Job{},
		activeWorkflows: map[string]bool{},
		emptySince:      time.Now(),
		wake:            make(chan struct{}, 1),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Submit enqueues job, rejecting with CodeQueueFull when the scheduler's
// total queued depth is at capacity (spec §4.9).
func (s *Scheduler) Submit(job Job) error {
	s.mu.Lock()
	total := 0
	for _, q := range s.queues {
		total += len(q)
	}
	if total >= s.opts.MaxQueueSize {
		s.mu.Unlock()
		return ferrors.New(ferrors.CodeQueueFull, "scheduler queue is at capacity")
	}
	s.queues[job.Priority] = append(s.queues[job.Priority], job)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// BeginWorkflow marks workflowID active, pausing BACKGROUND work until
// EndWorkflow empties the active set (spec §4.9 workflow-awareness).
func (s *Scheduler) BeginWorkflow(workflowID string) {
	s.mu.Lock()
	s.activeWorkflows[workflowID] = true
	s.mu.Unlock()
}

// EndWorkflow clears workflowID from the active set. When the set becomes
// empty, BACKGROUND work resumes after Options.BackgroundSettleDelay.
func (s *Scheduler) EndWorkflow(workflowID string) {
	s.mu.Lock()
	delete(s.activeWorkflows, workflowID)
	if len(s.activeWorkflows) == 0 {
		s.emptySince = time.Now()
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run starts Options.Workers worker goroutines and blocks until ctx is
// cancelled, at which point all workers drain in-flight jobs and return.
func (s *Scheduler) Run(ctx context.Context) {
	for i := 0; i < s.opts.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	s.wg.Wait()
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		job, low, ok := s.dequeue()
		if ok {
			s.runJob(job, low)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runJob(job Job, isLow bool) {
	if isLow {
		atomic.AddInt32(&s.runningLow, 1)
		defer atomic.AddInt32(&s.runningLow, -1)
	}
	start := time.Now()
	err := job.Run()
	s.logger.Info(context.Background(), "scheduler: job completed",
		"job_id", job.ID, "priority", int(job.Priority), "duration_ms", time.Since(start).Milliseconds(), "error", errString(err))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// dequeue pops the highest-priority eligible job, honoring BACKGROUND
// pausing, the settle delay, the background throttle, and LOW's reduced
// concurrency while workflows are active (spec §4.9).
func (s *Scheduler) dequeue() (Job, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	priorities := append([]Priority(nil), allPriorities...)
	sort.Slice(priorities, func(i, j int) bool { return priorities[i] < priorities[j] })

	workflowsActive := len(s.activeWorkflows) > 0

	for _, p := range priorities {
		q := s.queues[p]
		if len(q) == 0 {
			continue
		}
		switch p {
		case PriorityBackground:
			if workflowsActive {
				continue
			}
			if time.Since(s.emptySince) < s.opts.BackgroundSettleDelay {
				continue
			}
			if s.opts.BackgroundThrottle > 0 && time.Since(s.lastBackground) < s.opts.BackgroundThrottle {
				continue
			}
			job := q[0]
			s.queues[p] = q[1:]
			s.lastBackground = time.Now()
			return job, false, true
		case PriorityLow:
			if workflowsActive && int(atomic.LoadInt32(&s.runningLow)) >= s.opts.ReducedLowConcurrency {
				continue
			}
			job := q[0]
			s.queues[p] = q[1:]
			return job, true, true
		default:
			job := q[0]
			s.queues[p] = q[1:]
			return job, false, true
		}
	}
	return Job{}, false, false
}

// QueueDepths returns the current per-priority queue lengths, for
// observability.
func (s *Scheduler) QueueDepths() map[Priority]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Priority]int, len(s.queues))
	for p, q := range s.queues {
		out[p] = len(q)
	}
	return out
}
