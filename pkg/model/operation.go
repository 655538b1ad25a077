package model

import "strings"

// PendingOperation marks a local mutation not yet confirmed by the remote store.
type PendingOperation int

const (
	OpNone PendingOperation = iota
	OpCreate
	OpReplace
	OpDelete
	// OpUnsupported is any stored marker this version does not understand.
	OpUnsupported
)

// ParsePendingOperation maps the stored column value to an operation.
// Empty means no pending operation.
func ParsePendingOperation(s string) PendingOperation {
	switch strings.ToUpper(s) {
	case "":
		return OpNone
	case "CREATE":
		return OpCreate
	case "REPLACE":
		return OpReplace
	case "DELETE":
		return OpDelete
	default:
		return OpUnsupported
	}
}

func (o PendingOperation) String() string {
	switch o {
	case OpNone:
		return ""
	case OpCreate:
		return "CREATE"
	case OpReplace:
		return "REPLACE"
	case OpDelete:
		return "DELETE"
	default:
		return "UNSUPPORTED"
	}
}

// IsPending reports whether a mutation is waiting for replay.
func (o PendingOperation) IsPending() bool {
	return o != OpNone
}
