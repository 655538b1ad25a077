package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/syntrixbase/docsync/pkg/model"
)

// Forwarder publishes replay outcomes. It satisfies the engine's listener
// interface.
type Forwarder struct {
	pub     Publisher
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewForwarder wraps pub. Each publish is bounded by timeout.
func NewForwarder(pub Publisher, timeout time.Duration, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Forwarder{
		pub:     pub,
		timeout: timeout,
		logger:  logger.With("component", "event-forwarder"),
		now:     time.Now,
	}
}

// OnOperationResult publishes result. Failures are logged; a lost event never
// affects the local replay state.
func (f *Forwarder) OnOperationResult(result model.OperationResult) {
	evt := NewEvent(result, f.now())
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	if err := f.pub.Publish(ctx, evt); err != nil {
		f.logger.Warn("Failed to publish operation event",
			"operation", evt.Operation, "partition", evt.Partition, "id", evt.DocumentID, "error", err)
	}
}
