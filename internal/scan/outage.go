package scan

import (
	"sync"
	"time"

	"github.com/oversightlabs/parlscan/internal/parliament"
)

// Retry schedule for classifier outages. Waits double each round and cap
// at five minutes; after the final round outstanding items are written off
// as permanent failures so the run can still complete.
const (
	maxRetryRounds = 4
	baseRetryWait  = 30 * time.Second
	maxRetryWait   = 300 * time.Second
)

// retryWait returns the pause before retry round n (0-based).
func retryWait(round int) time.Duration {
	if round < 0 {
		round = 0
	}
	wait := baseRetryWait << uint(round)
	if wait > maxRetryWait || wait <= 0 {
		wait = maxRetryWait
	}
	return wait
}

// outage coordinates the pause state shared by all classification workers.
// Once one worker sees a persistent API failure it pauses the run; the
// others divert their items here instead of burning calls into a dead
// service. The pipeline drains the deferred list in retry rounds after the
// main queue empties.
type outage struct {
	mu       sync.Mutex
	paused   bool
	reason   string
	deferred []*parliament.Contribution
}

// Pause enters the paused state. The first reason wins; later calls while
// already paused are no-ops so the original cause is preserved.
func (o *outage) Pause(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.paused {
		return
	}
	o.paused = true
	o.reason = reason
}

// Resume clears the paused state ahead of a retry round.
func (o *outage) Resume() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paused = false
	o.reason = ""
}

// Paused reports whether workers should divert instead of classifying.
func (o *outage) Paused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

// Reason returns the failure description recorded at pause time.
func (o *outage) Reason() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.reason
}

// Defer parks a contribution for a later retry round.
func (o *outage) Defer(c *parliament.Contribution) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deferred = append(o.deferred, c)
}

// TakeDeferred removes and returns everything parked so far.
func (o *outage) TakeDeferred() []*parliament.Contribution {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.deferred
	o.deferred = nil
	return out
}

// DeferredCount reports how many items are parked.
func (o *outage) DeferredCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.deferred)
}
