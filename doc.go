// Package couchpush pushes a compiled document,
// with its attachments,
// into a CouchDB-style document store,
// writing only when something actually changed.
//
// A document store holds JSON documents indexed by their _id.
// Every successful write assigns the document a new revision token,
// and a write must present the current revision token
// (or none, for a document that does not yet exist)
// or it is rejected as a conflict.
// Attachments are binary payloads stored alongside a document.
// The store describes each one with a small "stub":
// its content type, its length,
// and a digest of its content
// (md5, base64-encoded, and prefixed with "md5-").
//
// Pushing a document goes like this.
// First the existing document, if any, is fetched.
// Then each candidate attachment is digested
// and compared with the stub of the same name in the existing document.
// An attachment whose digest matches is not sent again;
// instead the candidate refers to the stored stub,
// and the store keeps its own copy.
// Next the candidate, now carrying the existing revision token,
// is compared field by field with the existing document.
// If nothing differs and no attachment remains to be sent,
// the push is a no-op.
// Otherwise the candidate is written.
//
// There are two ways to write attachments.
// In inline mode they travel inside the JSON document as base64 strings.
// In multipart mode the JSON document is followed by one binary part per attachment.
// A Writer encapsulates the choice.
//
// Store backends live in subpackages of store.
// The push subpackage ties compilation, synchronization, and file watching together.
package couchpush
