package couchpush

import (
	"context"
	stderrs "errors"
)

// Syncer pushes documents into a store,
// writing only when something differs from what is already there.
type Syncer struct {
	s Store
	w Writer
}

// NewSyncer produces a new Syncer writing to s with w.
func NewSyncer(s Store, w Writer) *Syncer {
	return &Syncer{s: s, w: w}
}

// Store is the store that sy writes to.
func (sy *Syncer) Store() Store { return sy.s }

// Mode is the attachment mode of sy's Writer.
func (sy *Syncer) Mode() Mode { return sy.w.Mode() }

// Sync pushes doc, with attachments atts, into the store.
// It fetches the existing version of the document exactly once,
// and writes at most once.
//
// A document with no id is a MissingID error and no store calls are made.
// Errors from the store are returned as *Error values
// of kind fetch_failed, write_conflict, or write_failed.
func (sy *Syncer) Sync(ctx context.Context, doc Doc, atts []Attachment) (*Result, error) {
	if doc.ID == "" {
		return nil, MissingID()
	}

	existing, err := sy.s.Get(ctx, doc.ID)
	if stderrs.Is(err, ErrNotFound) {
		existing = nil
	} else if err != nil {
		return nil, FetchFailed(doc.ID, err)
	}

	doc, pending, err := Reconcile(sy.w.Mode(), doc, atts, existing)
	if err != nil {
		return nil, CompileFailed(err)
	}

	if existing != nil {
		doc.Rev = existing.Rev
		if Unchanged(doc, existing, pending) {
			return &Result{OK: true, ID: doc.ID, Rev: existing.Rev, Unchanged: true}, nil
		}
	} else {
		doc.Rev = ""
	}

	rev, err := sy.w.Write(ctx, sy.s, doc, pending)
	if stderrs.Is(err, ErrConflict) {
		return nil, WriteConflict(doc.ID, err)
	}
	if err != nil {
		return nil, WriteFailed(doc.ID, err)
	}

	return &Result{OK: true, ID: doc.ID, Rev: rev}, nil
}
