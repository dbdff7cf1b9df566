package couchpush

import (
	"encoding/json"
	stderrs "errors"
	"fmt"
)

// Error kinds.
const (
	KindInvalidTarget   = "invalid_target"
	KindNoDatabase      = "no_database"
	KindMissingID       = "missing_id"
	KindStoreUnprepared = "store_unprepared"
	KindFetchFailed     = "fetch_failed"
	KindWriteConflict   = "write_conflict"
	KindWriteFailed     = "write_failed"
	KindCompileFailed   = "compile_failed"
	KindWatchFailed     = "watch_failed"

	// KindUnknown is reported for errors that are not *Error values.
	KindUnknown = "unknown_error"
)

// Error is a terminal push error.
// It marshals to JSON as {"error": kind, "reason": reason}.
type Error struct {
	Kind   string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Error  string `json:"error"`
		Reason string `json:"reason"`
	}{
		Error:  e.Kind,
		Reason: e.Reason,
	})
}

func newError(kind string, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...), Err: err}
}

// InvalidTarget reports a target that cannot be resolved to a store.
func InvalidTarget(target string, err error) *Error {
	return newError(KindInvalidTarget, err, "Not a valid database: %s", target)
}

// NoDatabase reports a target that resolves to a store but names no database.
func NoDatabase(target string) *Error {
	return newError(KindNoDatabase, nil, "Not a database: %s", target)
}

// MissingID reports a compiled document with no _id.
func MissingID() *Error {
	return newError(KindMissingID, nil, "Missing _id property")
}

// StoreUnprepared reports a failure to prepare the store.
func StoreUnprepared(err error) *Error {
	return newError(KindStoreUnprepared, err, "%s", err)
}

// FetchFailed reports a failure, other than not-found, reading a document.
func FetchFailed(id string, err error) *Error {
	return newError(KindFetchFailed, err, "fetching %s: %s", id, err)
}

// WriteConflict reports a write rejected for a stale revision token.
func WriteConflict(id string, err error) *Error {
	return newError(KindWriteConflict, err, "Document update conflict: %s", id)
}

// WriteFailed reports any other write failure.
func WriteFailed(id string, err error) *Error {
	return newError(KindWriteFailed, err, "writing %s: %s", id, err)
}

// CompileFailed reports a failure producing the candidate document.
func CompileFailed(err error) *Error {
	return newError(KindCompileFailed, err, "%s", err)
}

// WatchFailed reports a failure subscribing to changes in source.
func WatchFailed(source string, err error) *Error {
	return newError(KindWatchFailed, err, "watching %s: %s", source, err)
}

// AsError converts err to an *Error.
// An *Error anywhere in err's chain is returned as-is;
// any other error is wrapped with kind KindUnknown.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrs.As(err, &e) {
		return e
	}
	return newError(KindUnknown, err, "%s", err)
}

// KindOf returns the kind of err
// ("" for nil, KindUnknown for errors that are not *Error values).
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	return AsError(err).Kind
}
