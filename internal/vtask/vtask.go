// Package vtask implements the visual task scheduler: every long-running
// operation the daemon performs (a modpack install, a Java discovery
// sweep) registers as a Task with one or more weighted Subtasks, and a
// caller can poll or subscribe to its Progress without knowing anything
// about the operation's internals.
package vtask

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"project-tachyon/internal/invalidation"
)

// ProgressKind distinguishes the three shapes progress can take.
type ProgressKind int

const (
	// Indeterminate means work is happening but its extent is unknown.
	Indeterminate ProgressKind = iota
	// Known means a fractional completion value (0..1) is available.
	Known
	// Failed means the task ended in error.
	Failed
)

// Progress is the top-level state of a Task.
type Progress struct {
	Kind     ProgressKind
	Fraction float32 // valid when Kind == Known
	Err      error   // valid when Kind == Failed
}

// SubtaskProgressKind distinguishes how a Subtask reports its own progress.
type SubtaskProgressKind int

const (
	SubtaskDownload SubtaskProgressKind = iota
	SubtaskItem
	SubtaskOpaque
)

// SubtaskProgress mirrors the three ways a unit of work reports progress.
type SubtaskProgress struct {
	Kind       SubtaskProgressKind
	Downloaded uint64 // SubtaskDownload
	Total      uint64 // SubtaskDownload
	Current    uint32 // SubtaskItem
	ItemsTotal uint32 // SubtaskItem
	Complete   bool   // SubtaskOpaque
}

// Subtask is one weighted unit of work inside a Task.
type Subtask struct {
	Name     string
	Weight   float32
	Progress SubtaskProgress
}

// Task is one entry in the scheduler: a named operation with an overall
// Progress derived from its Subtasks' weighted completion.
type Task struct {
	ID       int32
	Name     string
	Progress Progress

	mu        sync.Mutex
	subtasks  []*Subtask
	cancel    context.CancelFunc
	ctx       context.Context
	createdAt time.Time
	doneAt    time.Time
}

// Context returns the task's cancellation context.
func (t *Task) Context() context.Context { return t.ctx }

// Cancel requests cooperative cancellation of the task.
func (t *Task) Cancel() {
	if t.cancel != nil {
		t.cancel()
	}
}

// AddSubtask registers a new weighted subtask and returns a handle to
// update its progress.
func (t *Task) AddSubtask(name string, weight float32) *Subtask {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := &Subtask{Name: name, Weight: weight}
	t.subtasks = append(t.subtasks, st)
	return st
}

// SetDownloadProgress updates a subtask's progress as a byte count and
// recomputes the task's overall weighted fraction.
func (t *Task) SetDownloadProgress(st *Subtask, downloaded, total uint64) {
	t.mu.Lock()
	st.Progress = SubtaskProgress{Kind: SubtaskDownload, Downloaded: downloaded, Total: total}
	t.mu.Unlock()
	t.recompute()
}

// SetItemProgress updates a subtask's progress as a discrete item count.
func (t *Task) SetItemProgress(st *Subtask, current, total uint32) {
	t.mu.Lock()
	st.Progress = SubtaskProgress{Kind: SubtaskItem, Current: current, ItemsTotal: total}
	t.mu.Unlock()
	t.recompute()
}

// SetOpaqueProgress marks a subtask whose extent can't be expressed as
// bytes or item counts (e.g. a manifest resolution, an archive
// extraction) as either still running or done. An opaque subtask
// contributes nothing to the task's weighted fraction until complete
// is true, at which point it contributes its full weight.
func (t *Task) SetOpaqueProgress(st *Subtask, complete bool) {
	t.mu.Lock()
	st.Progress = SubtaskProgress{Kind: SubtaskOpaque, Complete: complete}
	t.mu.Unlock()
	t.recompute()
}

func (t *Task) recompute() {
	t.mu.Lock()
	var weightedDone, weightedTotal float64
	for _, st := range t.subtasks {
		w := float64(st.Weight)
		if w <= 0 {
			w = 1
		}
		weightedTotal += w

		switch st.Progress.Kind {
		case SubtaskDownload:
			if st.Progress.Total > 0 {
				weightedDone += w * float64(st.Progress.Downloaded) / float64(st.Progress.Total)
			}
		case SubtaskItem:
			if st.Progress.ItemsTotal > 0 {
				weightedDone += w * float64(st.Progress.Current) / float64(st.Progress.ItemsTotal)
			}
		case SubtaskOpaque:
			if st.Progress.Complete {
				weightedDone += w
			}
		}
	}
	var fraction float32
	if weightedTotal > 0 {
		fraction = float32(weightedDone / weightedTotal)
	}
	t.Progress = Progress{Kind: Known, Fraction: fraction}
	t.mu.Unlock()
}

// Fail marks the task as failed.
func (t *Task) Fail(err error) {
	t.mu.Lock()
	t.Progress = Progress{Kind: Failed, Err: err}
	t.doneAt = time.Now()
	t.mu.Unlock()
}

// Complete marks the task as fully done.
func (t *Task) Complete() {
	t.mu.Lock()
	t.Progress = Progress{Kind: Known, Fraction: 1}
	t.doneAt = time.Now()
	t.mu.Unlock()
}

// Subtasks returns a snapshot copy of the task's current subtasks.
func (t *Task) Subtasks() []Subtask {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Subtask, len(t.subtasks))
	for i, st := range t.subtasks {
		out[i] = *st
	}
	return out
}

func (t *Task) finished() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.doneAt.IsZero()
}

// Manager is the task registry: it assigns monotonic ids, tracks every
// live and recently-finished task, and evicts finished tasks after a
// retention window.
type Manager struct {
	bus       *invalidation.Bus
	nextID    atomic.Int32
	mu        sync.Mutex
	tasks     map[int32]*Task
	retention time.Duration
}

// NewManager creates a Manager publishing task-lifecycle events to bus.
func NewManager(bus *invalidation.Bus) *Manager {
	m := &Manager{
		bus:       bus,
		tasks:     make(map[int32]*Task),
		retention: 5 * time.Minute,
	}
	go m.reapLoop()
	return m
}

// New registers and returns a new Task under the given parent context.
func (m *Manager) New(ctx context.Context, name string) *Task {
	id := m.nextID.Add(1)
	taskCtx, cancel := context.WithCancel(ctx)
	t := &Task{
		ID:        id,
		Name:      name,
		Progress:  Progress{Kind: Indeterminate},
		ctx:       taskCtx,
		cancel:    cancel,
		createdAt: time.Now(),
	}

	m.mu.Lock()
	m.tasks[id] = t
	m.mu.Unlock()

	m.publish(t)
	return t
}

// Publish re-broadcasts the current state of a task; callers invoke this
// after mutating task/subtask progress to notify subscribers.
func (m *Manager) Publish(t *Task) {
	m.publish(t)
}

func (m *Manager) publish(t *Task) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(invalidation.Event{Topic: "task.progress", Payload: t})
}

// Get returns a task by id.
func (m *Manager) Get(id int32) (*Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	return t, ok
}

// List returns every tracked task, live and recently-finished.
func (m *Manager) List() []*Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t)
	}
	return out
}

func (m *Manager) reapLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		m.reapOnce()
	}
}

func (m *Manager) reapOnce() {
	cutoff := time.Now().Add(-m.retention)
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.tasks {
		t.mu.Lock()
		done := !t.doneAt.IsZero() && t.doneAt.Before(cutoff)
		t.mu.Unlock()
		if done {
			delete(m.tasks, id)
		}
	}
}

// ErrTaskNotFound is returned when a task id has no registered task.
var ErrTaskNotFound = fmt.Errorf("task not found")
