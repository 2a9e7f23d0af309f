// Package notify publishes scan lifecycle events for downstream consumers
// (alerting, digests, reindexing).
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/oversightlabs/parlscan/internal/scan"
)

// Publisher abstracts the message transport so the application can run
// against Google Cloud Pub/Sub or an in-memory recorder.
type Publisher interface {
	// Publish sends a JSON-encodable payload to the named topic and
	// returns the server-assigned message ID.
	Publish(ctx context.Context, topic string, payload any) (string, error)

	// Close cleans up any client connections and resources.
	Close() error
}

// RunEvent is the payload published when a scan reaches a terminal state.
type RunEvent struct {
	RunID      string    `json:"run_id"`
	Status     string    `json:"status"`
	FinishedAt time.Time `json:"finished_at"`
}

// Events adapts a Publisher to the runner's notification hook.
type Events struct {
	pub    Publisher
	topic  string
	logger *zap.Logger
}

// NewEvents wires an Events emitter for the given topic.
func NewEvents(pub Publisher, topic string, logger *zap.Logger) *Events {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Events{pub: pub, topic: topic, logger: logger}
}

// RunFinished publishes the terminal status of a run.
func (e *Events) RunFinished(ctx context.Context, runID string, status scan.Status) error {
	id, err := e.pub.Publish(ctx, e.topic, RunEvent{
		RunID:      runID,
		Status:     string(status),
		FinishedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	e.logger.Debug("run event published",
		zap.String("run_id", runID),
		zap.String("message_id", id))
	return nil
}
