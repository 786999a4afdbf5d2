// Package scheduler implements the Task Scheduler (spec §4.9): a
// multi-level priority queue with workflow-aware throttling of background
// work, a bounded worker pool, and cron-scheduled recurring tasks.
package scheduler

// Priority levels, smaller is more urgent (spec §4.9).
type Priority int

const (
	PriorityCritical   Priority = 0
	PriorityHigh       Priority = 10
	PriorityNormal     Priority = 50
	PriorityLow        Priority = 90
	PriorityBackground Priority = 100
)

var allPriorities = []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow, PriorityBackground}

// Job is one unit of work submitted to the scheduler.
type Job struct {
	ID       string
	Priority Priority
	Run      func() error
}
