package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Document is a single document as seen by callers of the data operations.
//
//	Value holds the user's JSON body; use Decode or DecodeAs to read it.
//	FromDeviceCache is set when the result was served or written locally.
//	Err is set on list items that could not be parsed; siblings are unaffected.
type Document struct {
	ID               string
	Partition        string
	ETag             string
	LastUpdated      time.Time
	Value            json.RawMessage
	FromDeviceCache  bool
	PendingOperation PendingOperation
	Err              error
}

// Decode unmarshals the document body into v.
func (d *Document) Decode(v any) error {
	if d.Err != nil {
		return d.Err
	}
	if len(d.Value) == 0 {
		return errors.New("document has no body")
	}
	if err := json.Unmarshal(d.Value, v); err != nil {
		return fmt.Errorf("failed to deserialize document %s: %w", d.ID, err)
	}
	return nil
}

// DecodeAs unmarshals the document body into a new T.
func DecodeAs[T any](d *Document) (T, error) {
	var v T
	err := d.Decode(&v)
	return v, err
}

// Metadata returns the identifying fields of the document.
func (d *Document) Metadata() DocumentMetadata {
	return DocumentMetadata{Partition: d.Partition, ID: d.ID, ETag: d.ETag}
}

// DocumentMetadata identifies a document version without its body.
type DocumentMetadata struct {
	Partition string `json:"partition"`
	ID        string `json:"id"`
	ETag      string `json:"eTag,omitempty"`
}

// Envelope is the remote store's JSON representation of a document.
type Envelope struct {
	Document     json.RawMessage `json:"document"`
	ID           string          `json:"id"`
	PartitionKey string          `json:"PartitionKey"`
	ETag         string          `json:"_etag,omitempty"`
	Timestamp    int64           `json:"_ts,omitempty"`
}

// NewEnvelope builds the request body for a create or replace call.
func NewEnvelope(d *Document) Envelope {
	env := Envelope{
		Document:     d.Value,
		ID:           d.ID,
		PartitionKey: d.Partition,
		ETag:         d.ETag,
	}
	if !d.LastUpdated.IsZero() {
		env.Timestamp = d.LastUpdated.Unix()
	}
	return env
}

// ToDocument converts a decoded envelope.
func (e Envelope) ToDocument() *Document {
	doc := &Document{
		ID:        e.ID,
		Partition: e.PartitionKey,
		ETag:      e.ETag,
		Value:     e.Document,
	}
	if e.Timestamp > 0 {
		doc.LastUpdated = time.Unix(e.Timestamp, 0).UTC()
	}
	if string(doc.Value) == "null" {
		doc.Value = nil
	}
	return doc
}

// ParseEnvelope parses one remote document.
func ParseEnvelope(payload []byte) (*Document, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("failed to deserialize document: %w", err)
	}
	if env.ID == "" {
		return nil, errors.New("failed to deserialize document: missing id")
	}
	return env.ToDocument(), nil
}

// Page is one page of a list result.
type Page struct {
	Items []Document
	// Err is set when the whole page failed.
	Err error
}

// ParsePage parses a list response. A malformed item yields a Document with
// Err set; a malformed page yields an error.
func ParsePage(payload []byte) (*Page, error) {
	var raw struct {
		Documents []json.RawMessage `json:"Documents"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("failed to deserialize page: %w", err)
	}
	page := &Page{Items: make([]Document, 0, len(raw.Documents))}
	for _, item := range raw.Documents {
		doc, err := ParseEnvelope(item)
		if err != nil {
			page.Items = append(page.Items, Document{Err: err})
			continue
		}
		page.Items = append(page.Items, *doc)
	}
	return page, nil
}

// OperationResult reports the terminal outcome of a replayed pending operation.
type OperationResult struct {
	Operation PendingOperation
	// Metadata is set on success.
	Metadata *DocumentMetadata
	// Partition and DocumentID always identify the replayed row.
	Partition  string
	DocumentID string
	Err        error
}
