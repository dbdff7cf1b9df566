package couchpush

import (
	"encoding/base64"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"
)

// Reconcile works out which of a candidate document's attachments
// need to be transmitted to the store,
// given the existing version of the document (nil if there is none).
//
// An attachment is identical to a stored one
// if the stored document has an attachment of the same name
// whose digest matches the digest of the candidate's decoded content.
// Identical attachments are not transmitted again.
// Instead the returned document refers to the stored stub,
// and the store keeps its own copy.
//
// In Inline mode the candidate's attachments are the inline entries in doc's attachment map
// (plus atts, which are first folded into the map).
// Each identical entry is replaced in the map by the stored stub.
// The returned list holds the decoded content of the remaining inline entries,
// which stay in the map.
//
// In Multipart mode the candidate's attachments are atts.
// Each identical one is left out of the returned list
// and its stored stub is added to the returned document's attachment map.
//
// Neither doc nor atts nor existing is modified.
func Reconcile(mode Mode, doc Doc, atts []Attachment, existing *Doc) (Doc, []Attachment, error) {
	var stored map[string]Stub
	if existing != nil {
		stored = existing.Attachments
	}

	identical := func(name string, data []byte) (Stub, bool) {
		old, ok := stored[name]
		if !ok || old.Digest != Digest(data) {
			return Stub{}, false
		}
		return old, true
	}

	var (
		out     Doc
		pending []Attachment
	)

	switch mode {
	case Inline:
		out = WithInlineAttachments(doc, atts).Clone()
		for _, name := range out.AttachmentNames() {
			stub := out.Attachments[name]
			if stub.Stub || stub.Follows {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(stub.Data)
			if err != nil {
				return Doc{}, nil, errors.Wrapf(err, "decoding attachment %s", name)
			}
			if old, ok := identical(name, data); ok {
				out.Attachments[name] = old
				continue
			}
			pending = append(pending, Attachment{Name: name, ContentType: stub.ContentType, Data: data})
		}

	case Multipart:
		out = doc.Clone()
		for _, a := range atts {
			if old, ok := identical(a.Name, a.Data); ok {
				if out.Attachments == nil {
					out.Attachments = make(map[string]Stub)
				}
				out.Attachments[a.Name] = old
				continue
			}
			pending = append(pending, a)
		}

	default:
		return Doc{}, nil, errors.Errorf("unknown mode %d", mode)
	}

	return out, pending, nil
}

// Unchanged tells whether writing doc would be a no-op,
// given the existing version of the document (nil if there is none)
// and the attachments Reconcile found still needed transmitting.
//
// Revision tokens do not participate in the comparison.
// Nil and empty maps compare equal.
func Unchanged(doc Doc, existing *Doc, pending []Attachment) bool {
	if existing == nil || len(pending) > 0 {
		return false
	}
	return cmp.Equal(doc, *existing, cmpopts.EquateEmpty(), cmpopts.IgnoreFields(Doc{}, "Rev"))
}
