package couchpush

import (
	"encoding/base64"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
)

type (
	// Doc is a JSON document.
	// The reserved keys _id, _rev, and _attachments have their own fields;
	// every other top-level key is in Fields.
	Doc struct {
		ID          string
		Rev         string
		Fields      map[string]interface{}
		Attachments map[string]Stub
	}

	// Stub is one entry in a document's _attachments map.
	// A stored document's entries have Stub set
	// and carry the store's digest, length, and revpos.
	// An entry being written either is such a stub
	// (meaning "keep the stored attachment"),
	// or has inline base64 Data,
	// or has Follows set
	// (meaning the content arrives in a separate part of a multipart write).
	// Encoding and EncodedLength are reported by CouchDB for bodies it stores compressed;
	// Digest and Length always describe the decoded content.
	Stub struct {
		ContentType   string `json:"content_type,omitempty"`
		Digest        string `json:"digest,omitempty"`
		Length        int64  `json:"length,omitempty"`
		RevPos        int    `json:"revpos,omitempty"`
		Encoding      string `json:"encoding,omitempty"`
		EncodedLength int64  `json:"encoded_length,omitempty"`
		Stub          bool   `json:"stub,omitempty"`
		Follows       bool   `json:"follows,omitempty"`
		Data          string `json:"data,omitempty"`
	}

	// Attachment is the decoded content of a named attachment.
	Attachment struct {
		Name        string
		ContentType string
		Data        []byte
	}

	// Result is the outcome of a successful push.
	Result struct {
		OK        bool   `json:"ok"`
		ID        string `json:"id"`
		Rev       string `json:"rev"`
		Unchanged bool   `json:"unchanged,omitempty"`
	}

	// Mode tells how attachments travel to the store.
	Mode int
)

const (
	// Inline mode carries attachments as base64 data inside the document.
	Inline Mode = iota

	// Multipart mode sends attachments as separate binary parts after the document.
	Multipart
)

func (m Mode) String() string {
	switch m {
	case Inline:
		return "inline"
	case Multipart:
		return "multipart"
	}
	return "unknown"
}

// ModeFor returns Multipart if multipart is true and Inline otherwise.
func ModeFor(multipart bool) Mode {
	if multipart {
		return Multipart
	}
	return Inline
}

// MarshalJSON implements json.Marshaler.
func (d Doc) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(d.Fields)+3)
	for k, v := range d.Fields {
		m[k] = v
	}
	if d.ID != "" {
		m["_id"] = d.ID
	}
	if d.Rev != "" {
		m["_rev"] = d.Rev
	}
	if len(d.Attachments) > 0 {
		m["_attachments"] = d.Attachments
	}
	return json.Marshal(m)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Doc) UnmarshalJSON(b []byte) error {
	var m map[string]json.RawMessage
	err := json.Unmarshal(b, &m)
	if err != nil {
		return err
	}

	*d = Doc{}
	for k, raw := range m {
		switch k {
		case "_id":
			err = json.Unmarshal(raw, &d.ID)
		case "_rev":
			err = json.Unmarshal(raw, &d.Rev)
		case "_attachments":
			err = json.Unmarshal(raw, &d.Attachments)
		default:
			var v interface{}
			err = json.Unmarshal(raw, &v)
			if d.Fields == nil {
				d.Fields = make(map[string]interface{})
			}
			d.Fields[k] = v
		}
		if err != nil {
			return errors.Wrapf(err, "decoding %s", k)
		}
	}
	return nil
}

// Clone returns a copy of d whose Fields and Attachments maps may be modified
// without affecting d.
// Field values themselves are shared.
func (d Doc) Clone() Doc {
	out := Doc{ID: d.ID, Rev: d.Rev}
	if d.Fields != nil {
		out.Fields = make(map[string]interface{}, len(d.Fields))
		for k, v := range d.Fields {
			out.Fields[k] = v
		}
	}
	if d.Attachments != nil {
		out.Attachments = make(map[string]Stub, len(d.Attachments))
		for k, v := range d.Attachments {
			out.Attachments[k] = v
		}
	}
	return out
}

// AttachmentNames returns the names in d's attachment map, sorted.
func (d Doc) AttachmentNames() []string {
	names := make([]string, 0, len(d.Attachments))
	for name := range d.Attachments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WithInlineAttachments returns a copy of doc with each of atts added to its attachment map
// as an inline base64 entry.
func WithInlineAttachments(doc Doc, atts []Attachment) Doc {
	if len(atts) == 0 {
		return doc
	}
	out := doc.Clone()
	if out.Attachments == nil {
		out.Attachments = make(map[string]Stub, len(atts))
	}
	for _, a := range atts {
		out.Attachments[a.Name] = Stub{
			ContentType: a.ContentType,
			Data:        base64.StdEncoding.EncodeToString(a.Data),
		}
	}
	return out
}
