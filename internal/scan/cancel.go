package scan

import "sync"

// CancelToken is a cooperative cancellation flag shared by everything a
// single run spawns. Workers poll Cancelled at their dispatch boundaries
// rather than being torn down mid-request, so in-flight fetches and
// classifications finish and get persisted.
type CancelToken struct {
	once sync.Once
	done chan struct{}
}

// NewCancelToken returns a token in the not-cancelled state.
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancel flips the token. Idempotent.
func (t *CancelToken) Cancel() {
	t.once.Do(func() { close(t.done) })
}

// Cancelled reports whether Cancel has been called.
func (t *CancelToken) Cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed on cancellation, for use in selects.
func (t *CancelToken) Done() <-chan struct{} {
	return t.done
}
