// Package queue provides the pending-work queues drained by each build iteration
package queue

import (
	"context"
	"sync"

	"github.com/poltergeist/packer-driver/pkg/types"
)

// ChangeQueue is an ordered buffer of pending asset changes. Drain swaps the
// buffer out atomically so changes pushed during a build iteration land in a
// fresh buffer and are never processed twice.
type ChangeQueue struct {
	mu      sync.Mutex
	changes []types.AssetChange
}

// NewChangeQueue creates an empty change queue
func NewChangeQueue() *ChangeQueue {
	return &ChangeQueue{}
}

// Push appends changes in order
func (q *ChangeQueue) Push(changes ...types.AssetChange) {
	if len(changes) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.changes = append(q.changes, changes...)
}

// Drain returns every queued change and leaves the queue empty
func (q *ChangeQueue) Drain() []types.AssetChange {
	q.mu.Lock()
	defer q.mu.Unlock()
	drained := q.changes
	q.changes = nil
	return drained
}

// Len returns the number of queued changes
func (q *ChangeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.changes)
}

// Snapshot returns a copy of the queued changes without draining them
func (q *ChangeQueue) Snapshot() []types.AssetChange {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]types.AssetChange, len(q.changes))
	copy(out, q.changes)
	return out
}

// Task is deferred work executed at the start of the next build iteration
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// TaskQueue holds before-build tasks deferred while a build was running
type TaskQueue struct {
	mu    sync.Mutex
	tasks []Task
}

// NewTaskQueue creates an empty task queue
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{}
}

// Push appends a task
func (q *TaskQueue) Push(task Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
}

// Drain returns every queued task and leaves the queue empty
func (q *TaskQueue) Drain() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	drained := q.tasks
	q.tasks = nil
	return drained
}

// Len returns the number of queued tasks
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
