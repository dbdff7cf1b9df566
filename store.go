package couchpush

import (
	"context"
	"errors"
)

// Getter is a read-only Store (qv).
type Getter interface {
	// Get gets the current version of the document with the given id.
	// It returns ErrNotFound if there is no such document.
	Get(ctx context.Context, id string) (*Doc, error)
}

// Store is a document store.
// It holds JSON documents, indexed by id,
// each with an optional set of named binary attachments.
//
// A write must carry the document's current revision token in Doc.Rev,
// or no revision token if the document does not yet exist.
// Otherwise the write fails with ErrConflict.
// A successful write returns the document's new revision token.
//
// A written document's attachment map is authoritative:
// a previously stored attachment whose name is missing from it is dropped.
// An entry with Stub set keeps the stored attachment of that name
// (and it is an error, ErrMissingStub, if there is none).
type Store interface {
	Getter

	// Put writes a document whose new attachments, if any,
	// appear in its attachment map as inline base64 data.
	Put(ctx context.Context, doc Doc) (rev string, err error)

	// PutMultipart writes a document together with the binary content of some attachments.
	// Each of atts is stored under its name,
	// whether or not doc's attachment map mentions it.
	PutMultipart(ctx context.Context, doc Doc, atts []Attachment) (rev string, err error)
}

// Ensurer is a Store that knows how to prepare itself for use,
// e.g. by creating a database, some tables, or a bucket.
type Ensurer interface {
	Ensure(context.Context) error
}

// AttachmentGetter is a Store that can produce the content of a stored attachment.
type AttachmentGetter interface {
	GetAttachment(ctx context.Context, id, name string) ([]byte, error)
}

var (
	// ErrNotFound is the error returned
	// when a Getter tries to access a non-existent document or attachment.
	ErrNotFound = errors.New("not found")

	// ErrConflict is the error returned
	// when a write presents a stale or missing revision token.
	ErrConflict = errors.New("conflict")

	// ErrMissingStub is the error returned
	// when a write refers to a stored attachment that does not exist.
	ErrMissingStub = errors.New("stub refers to missing attachment")
)
