package couchpush

import "context"

// Writer is a strategy for writing a reconciled document to a store.
type Writer interface {
	// Mode is the attachment mode the writer expects Reconcile to have used.
	Mode() Mode

	// Write writes doc, plus the content of the attachments in pending,
	// and returns the new revision token.
	Write(ctx context.Context, s Store, doc Doc, pending []Attachment) (string, error)
}

// InlineWriter writes documents whose new attachments travel as inline base64 data.
type InlineWriter struct{}

var _ Writer = InlineWriter{}

// Mode implements Writer.
func (InlineWriter) Mode() Mode { return Inline }

// Write implements Writer.
// The pending attachments are already in doc's attachment map.
func (InlineWriter) Write(ctx context.Context, s Store, doc Doc, _ []Attachment) (string, error) {
	return s.Put(ctx, doc)
}

// MultipartWriter writes documents followed by the binary content of their new attachments.
type MultipartWriter struct{}

var _ Writer = MultipartWriter{}

// Mode implements Writer.
func (MultipartWriter) Mode() Mode { return Multipart }

// Write implements Writer.
// With nothing pending it is a plain Put.
func (MultipartWriter) Write(ctx context.Context, s Store, doc Doc, pending []Attachment) (string, error) {
	if len(pending) == 0 {
		return s.Put(ctx, doc)
	}
	return s.PutMultipart(ctx, doc, pending)
}

// WriterFor returns the Writer for the given mode.
func WriterFor(mode Mode) Writer {
	if mode == Multipart {
		return MultipartWriter{}
	}
	return InlineWriter{}
}
