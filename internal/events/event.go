// Package events publishes the terminal outcome of replayed pending
// operations to in-process subscribers or a NATS JetStream stream.
package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/syntrixbase/docsync/pkg/model"
)

// Event is the published form of a model.OperationResult.
type Event struct {
	ID         string    `json:"id"`
	Operation  string    `json:"operation"`
	Partition  string    `json:"partition"`
	DocumentID string    `json:"documentId"`
	ETag       string    `json:"eTag,omitempty"`
	Error      string    `json:"error,omitempty"`
	Time       time.Time `json:"time"`
}

// NewEvent builds an event for a replay outcome.
func NewEvent(result model.OperationResult, now time.Time) Event {
	evt := Event{
		ID:         uuid.NewString(),
		Operation:  result.Operation.String(),
		Partition:  result.Partition,
		DocumentID: result.DocumentID,
		Time:       now.UTC(),
	}
	if result.Metadata != nil {
		evt.ETag = result.Metadata.ETag
		if evt.Partition == "" {
			evt.Partition = result.Metadata.Partition
		}
		if evt.DocumentID == "" {
			evt.DocumentID = result.Metadata.ID
		}
	}
	if result.Err != nil {
		evt.Error = result.Err.Error()
	}
	return evt
}

// Failed reports whether the operation was abandoned.
func (e Event) Failed() bool {
	return e.Error != ""
}

// Subject returns the subject suffix for the event, e.g. "create" or "delete.failed".
func (e Event) Subject() string {
	op := strings.ToLower(e.Operation)
	if op == "" {
		op = "unknown"
	}
	if e.Failed() {
		return op + ".failed"
	}
	return op
}

// Marshal encodes the event as JSON.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// nopPublisher discards events.
type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }
func (nopPublisher) Close() error                         { return nil }
