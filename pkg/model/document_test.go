package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type note struct {
	Title   string    `json:"title"`
	Created Timestamp `json:"created"`
}

func TestTimestamp_RoundTrip(t *testing.T) {
	created := NewTimestamp(time.Date(2019, 3, 14, 15, 9, 26, 535_897_932, time.FixedZone("X", 3600)))

	data, err := json.Marshal(note{Title: "a", Created: created})
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"a","created":"2019-03-14T14:09:26.535Z"}`, string(data))

	var back note
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, created.Equal(back.Created.Time))
	assert.Equal(t, created, back.Created)
}

func TestTimestamp_Unmarshal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{"millis", `"2020-01-02T03:04:05.006Z"`, time.Date(2020, 1, 2, 3, 4, 5, 6_000_000, time.UTC), false},
		{"rfc3339 offset", `"2020-01-02T04:04:05+01:00"`, time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC), false},
		{"null", `null`, time.Time{}, false},
		{"number", `12`, time.Time{}, true},
		{"garbage", `"yesterday"`, time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts Timestamp
			err := json.Unmarshal([]byte(tt.input), &ts)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(ts.Time))
		})
	}
}

func TestParseEnvelope(t *testing.T) {
	doc, err := ParseEnvelope([]byte(`{"document":{"title":"x"},"id":"d1","PartitionKey":"readonly","_etag":"e1","_ts":1550000000}`))
	require.NoError(t, err)
	assert.Equal(t, "d1", doc.ID)
	assert.Equal(t, "readonly", doc.Partition)
	assert.Equal(t, "e1", doc.ETag)
	assert.Equal(t, int64(1550000000), doc.LastUpdated.Unix())

	n, err := DecodeAs[note](doc)
	require.NoError(t, err)
	assert.Equal(t, "x", n.Title)

	_, err = ParseEnvelope([]byte(`{"document":{}}`))
	assert.Error(t, err)

	_, err = ParseEnvelope([]byte(`not json`))
	assert.Error(t, err)
}

func TestNewEnvelope(t *testing.T) {
	env := NewEnvelope(&Document{ID: "a", Partition: "user-1", Value: json.RawMessage(`{"k":1}`)})
	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"document":{"k":1},"id":"a","PartitionKey":"user-1"}`, string(data))
}

func TestParsePage_BadItemDoesNotFailSiblings(t *testing.T) {
	page, err := ParsePage([]byte(`{"Documents":[
		{"document":{"title":"ok"},"id":"a","PartitionKey":"readonly","_etag":"1"},
		{"document":{"title":"no id"}},
		{"document":{"title":"ok2"},"id":"c","PartitionKey":"readonly","_etag":"3"}
	]}`))
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	assert.NoError(t, page.Items[0].Err)
	assert.Error(t, page.Items[1].Err)
	assert.NoError(t, page.Items[2].Err)
	assert.Equal(t, "c", page.Items[2].ID)

	var n note
	assert.Error(t, page.Items[1].Decode(&n))

	_, err = ParsePage([]byte(`{"Documents":`))
	assert.Error(t, err)
}

