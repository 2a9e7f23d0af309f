package scan

import (
	"sync"

	"go.uber.org/zap"
)

// AdmitResult is the admission controller's decision for a new run.
type AdmitResult int

// Admission decisions.
const (
	// Started means the run got a slot and its start function was invoked.
	Started AdmitResult = iota
	// Queued means the run is waiting; it starts when a slot frees up.
	Queued
)

// Admission caps how many runs execute at once, process-wide. Excess runs
// wait in submission order and are promoted FIFO as running scans complete
// or are cancelled. Cancelling a queued run removes it without ever
// starting it.
type Admission struct {
	mu      sync.Mutex
	max     int
	running map[string]struct{}
	waiting []waitingRun
	logger  *zap.Logger
}

type waitingRun struct {
	id    string
	start func()
}

// NewAdmission builds a controller allowing max concurrent runs
// (minimum 1).
func NewAdmission(max int, logger *zap.Logger) *Admission {
	if max < 1 {
		max = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Admission{
		max:     max,
		running: make(map[string]struct{}),
		logger:  logger,
	}
}

// TryStart either starts the run immediately on its own goroutine or
// queues it. start must eventually call Complete with the same runID.
func (a *Admission) TryStart(runID string, start func()) AdmitResult {
	a.mu.Lock()
	if len(a.running) < a.max {
		a.running[runID] = struct{}{}
		a.mu.Unlock()
		go start()
		return Started
	}
	a.waiting = append(a.waiting, waitingRun{id: runID, start: start})
	queued := len(a.waiting)
	a.mu.Unlock()
	a.logger.Info("run queued for admission",
		zap.String("run_id", runID),
		zap.Int("position", queued))
	return Queued
}

// Complete releases runID's slot and promotes the oldest waiting run, if
// any. Safe to call for runs that were queued and never started.
func (a *Admission) Complete(runID string) {
	a.mu.Lock()
	delete(a.running, runID)
	var next *waitingRun
	if len(a.waiting) > 0 && len(a.running) < a.max {
		next = &a.waiting[0]
		a.waiting = a.waiting[1:]
		a.running[next.id] = struct{}{}
	}
	a.mu.Unlock()
	if next != nil {
		a.logger.Info("promoting queued run", zap.String("run_id", next.id))
		go next.start()
	}
}

// Withdraw removes a still-queued run so it never starts. It reports
// whether the run was found in the queue.
func (a *Admission) Withdraw(runID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, w := range a.waiting {
		if w.id == runID {
			a.waiting = append(a.waiting[:i], a.waiting[i+1:]...)
			return true
		}
	}
	return false
}

// RunningCount reports how many runs hold slots.
func (a *Admission) RunningCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.running)
}

// WaitingCount reports how many runs are queued.
func (a *Admission) WaitingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.waiting)
}
