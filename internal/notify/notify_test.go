package notify_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/oversightlabs/parlscan/internal/notify"
	"github.com/oversightlabs/parlscan/internal/notify/memory"
	"github.com/oversightlabs/parlscan/internal/scan"
)

func TestRunFinishedPublishesEvent(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	events := notify.NewEvents(pub, "scan-events", zap.NewNop())

	require.NoError(t, events.RunFinished(context.Background(), "run-1", scan.StatusCompleted))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "scan-events", msgs[0].Topic)

	evt, ok := msgs[0].Payload.(notify.RunEvent)
	require.True(t, ok)
	require.Equal(t, "run-1", evt.RunID)
	require.Equal(t, "completed", evt.Status)
	require.False(t, evt.FinishedAt.IsZero())
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, any) (string, error) {
	return "", errors.New("broker down")
}

func (failingPublisher) Close() error { return nil }

func TestRunFinishedPropagatesPublishError(t *testing.T) {
	t.Parallel()

	events := notify.NewEvents(failingPublisher{}, "scan-events", nil)
	err := events.RunFinished(context.Background(), "run-1", scan.StatusError)
	require.ErrorContains(t, err, "broker down")
}
