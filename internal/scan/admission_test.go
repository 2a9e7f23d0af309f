package scan

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAdmissionStartsUnderLimit(t *testing.T) {
	t.Parallel()
	a := NewAdmission(2, zap.NewNop())

	started := make(chan string, 2)
	require.Equal(t, Started, a.TryStart("one", func() { started <- "one" }))
	require.Equal(t, Started, a.TryStart("two", func() { started <- "two" }))
	require.Equal(t, 2, a.RunningCount())

	got := map[string]bool{<-started: true, <-started: true}
	require.True(t, got["one"] && got["two"])
}

func TestAdmissionQueuesAndPromotesFIFO(t *testing.T) {
	t.Parallel()
	a := NewAdmission(1, zap.NewNop())

	var mu sync.Mutex
	var order []string
	record := func(id string) func() {
		return func() {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
		}
	}

	waitFor := func(n int) {
		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(order) == n
		}, time.Second, 5*time.Millisecond)
	}

	require.Equal(t, Started, a.TryStart("first", record("first")))
	waitFor(1)
	require.Equal(t, Queued, a.TryStart("second", record("second")))
	require.Equal(t, Queued, a.TryStart("third", record("third")))
	require.Equal(t, 2, a.WaitingCount())

	a.Complete("first")
	waitFor(2)
	a.Complete("second")
	waitFor(3)
	a.Complete("third")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"first", "second", "third"}, order)
}

func TestAdmissionWithdrawQueuedRun(t *testing.T) {
	t.Parallel()
	a := NewAdmission(1, zap.NewNop())

	ran := make(chan struct{}, 1)
	require.Equal(t, Started, a.TryStart("running", func() {}))
	require.Equal(t, Queued, a.TryStart("doomed", func() { ran <- struct{}{} }))

	require.True(t, a.Withdraw("doomed"))
	require.False(t, a.Withdraw("doomed"))
	a.Complete("running")

	select {
	case <-ran:
		t.Fatal("withdrawn run should never start")
	case <-time.After(50 * time.Millisecond):
	}
	require.Zero(t, a.RunningCount())
	require.Zero(t, a.WaitingCount())
}

func TestAdmissionMinimumOfOne(t *testing.T) {
	t.Parallel()
	a := NewAdmission(0, nil)
	require.Equal(t, Started, a.TryStart("solo", func() {}))
}
