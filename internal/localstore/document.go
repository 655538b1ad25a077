package localstore

import (
	"encoding/json"
	"time"

	"github.com/syntrixbase/docsync/pkg/model"
)

// LocalDocument is one persisted row of a document table.
type LocalDocument struct {
	Table     string
	Partition string
	ID        string
	// Document is the serialized remote envelope.
	Document         json.RawMessage
	ETag             string
	ExpirationTime   int64
	DownloadTime     int64
	OperationTime    int64
	PendingOperation model.PendingOperation

	// rawOperation keeps the stored marker for values this version cannot parse.
	rawOperation string
}

// IsExpired reports whether the row outlived its time-to-live at now.
func (d *LocalDocument) IsExpired(now time.Time) bool {
	return model.IsExpired(d.ExpirationTime, now)
}

// RawOperation returns the pending marker as stored.
func (d *LocalDocument) RawOperation() string {
	if d.rawOperation != "" {
		return d.rawOperation
	}
	return d.PendingOperation.String()
}

// Key identifies the row across tables of the same account.
func (d *LocalDocument) Key() string {
	return d.Partition + ":" + d.ID
}

// ToDocument decodes the stored envelope into a document served from the device cache.
func (d *LocalDocument) ToDocument() *model.Document {
	doc := &model.Document{
		ID:               d.ID,
		Partition:        d.Partition,
		ETag:             d.ETag,
		FromDeviceCache:  true,
		PendingOperation: d.PendingOperation,
	}
	if len(d.Document) == 0 {
		return doc
	}
	var env model.Envelope
	if err := json.Unmarshal(d.Document, &env); err != nil {
		doc.Err = model.NewDataError("failed to deserialize cached document", err)
		return doc
	}
	parsed := env.ToDocument()
	doc.Value = parsed.Value
	doc.LastUpdated = parsed.LastUpdated
	if doc.ETag == "" {
		doc.ETag = parsed.ETag
	}
	return doc
}

func encodeEnvelope(doc *model.Document) (json.RawMessage, error) {
	return json.Marshal(model.NewEnvelope(doc))
}
