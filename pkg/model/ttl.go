package model

import "time"

// TimeToLive is the device cache duration in seconds.
type TimeToLive int64

const (
	// TTLInfinite keeps documents in the device cache forever.
	TTLInfinite TimeToLive = -1
	// TTLNoCache disables the device cache for the operation.
	TTLNoCache TimeToLive = 0
	// TTLDefault caches documents for one day.
	TTLDefault TimeToLive = 86400
)

// NeverExpires is the expiration value stored for TTLInfinite.
const NeverExpires int64 = -1

// ExpiresAt returns the expiration in unix milliseconds, or NeverExpires.
func (t TimeToLive) ExpiresAt(now time.Time) int64 {
	if t == TTLInfinite {
		return NeverExpires
	}
	return now.Add(time.Duration(t) * time.Second).UnixMilli()
}

// IsExpired reports whether an expiration stored in unix milliseconds has passed.
func IsExpired(expiration int64, now time.Time) bool {
	if expiration == NeverExpires {
		return false
	}
	return now.UnixMilli() >= expiration
}

// ReadOptions controls caching of documents returned by read and list.
type ReadOptions struct {
	// TTL is applied to documents cached by the read. Nil means TTLDefault.
	TTL *TimeToLive
}

// WriteOptions controls caching of documents written by create, replace and delete.
type WriteOptions struct {
	// TTL is applied to the written document. Nil means TTLDefault.
	TTL *TimeToLive
}

// TTLOf returns the effective time-to-live of a possibly nil option.
func TTLOf(ttl *TimeToLive) TimeToLive {
	if ttl == nil {
		return TTLDefault
	}
	return *ttl
}

// WithTTL returns a pointer for use in ReadOptions and WriteOptions.
func WithTTL(ttl TimeToLive) *TimeToLive {
	return &ttl
}

// Effective returns the read time-to-live.
func (o ReadOptions) Effective() TimeToLive { return TTLOf(o.TTL) }

// Effective returns the write time-to-live.
func (o WriteOptions) Effective() TimeToLive { return TTLOf(o.TTL) }
