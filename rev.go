package couchpush

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// RevNum parses the generation number at the front of a revision token.
// It is 0 for the empty token and for tokens it cannot parse.
func RevNum(rev string) int {
	if idx := strings.IndexByte(rev, '-'); idx >= 0 {
		rev = rev[:idx]
	}
	n, err := strconv.Atoi(rev)
	if err != nil {
		return 0
	}
	return n
}

// NextRev computes the revision token for doc replacing the revision prevRev
// (which is empty for a new document).
// It has the form N-H,
// where N is one more than prevRev's generation number
// and H is the hex MD5 hash of the document's JSON with prevRev in place.
func NextRev(prevRev string, doc Doc) (string, error) {
	doc.Rev = prevRev
	j, err := json.Marshal(doc)
	if err != nil {
		return "", errors.Wrap(err, "marshaling doc")
	}
	return fmt.Sprintf("%d-%x", RevNum(prevRev)+1, md5.Sum(j)), nil
}

// Commit does the revision bookkeeping for a store writing doc,
// plus the attachment content in atts,
// over prev, the currently stored version (nil if there is none).
//
// It returns the document to store,
// with its new revision token and a complete set of attachment stubs,
// and the attachment bodies that must be stored alongside it.
// A stored stub's body is not among them; the store already has it.
//
// It is ErrConflict if doc.Rev is not prev's revision token
// (or is non-empty when prev is nil).
func Commit(prev *Doc, doc Doc, atts []Attachment) (Doc, []Attachment, error) {
	var prevRev string
	if prev != nil {
		prevRev = prev.Rev
	}
	if doc.Rev != prevRev {
		return Doc{}, nil, errors.Wrapf(ErrConflict, "document %s has rev %q, write has %q", doc.ID, prevRev, doc.Rev)
	}

	var (
		revpos  = RevNum(prevRev) + 1
		out     = doc.Clone()
		bodies  []Attachment
		content = make(map[string]Attachment, len(atts))
	)
	for _, a := range atts {
		content[a.Name] = a
	}

	out.Attachments = make(map[string]Stub, len(doc.Attachments)+len(atts))

	add := func(name, contentType string, data []byte) {
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		out.Attachments[name] = Stub{
			ContentType: contentType,
			Digest:      Digest(data),
			Length:      int64(len(data)),
			RevPos:      revpos,
			Stub:        true,
		}
		bodies = append(bodies, Attachment{Name: name, ContentType: contentType, Data: data})
	}

	for _, name := range doc.AttachmentNames() {
		stub := doc.Attachments[name]
		switch {
		case stub.Follows:
			a, ok := content[name]
			if !ok {
				return Doc{}, nil, errors.Errorf("attachment %s follows, but no content supplied", name)
			}
			ct := stub.ContentType
			if ct == "" {
				ct = a.ContentType
			}
			add(name, ct, a.Data)

		case stub.Stub:
			if _, ok := content[name]; ok {
				// Content supplied for a stub replaces it.
				continue
			}
			var (
				old Stub
				ok  bool
			)
			if prev != nil {
				old, ok = prev.Attachments[name]
			}
			if !ok {
				return Doc{}, nil, errors.Wrapf(ErrMissingStub, "attachment %s", name)
			}
			out.Attachments[name] = old

		default:
			data, err := base64.StdEncoding.DecodeString(stub.Data)
			if err != nil {
				return Doc{}, nil, errors.Wrapf(err, "decoding attachment %s", name)
			}
			add(name, stub.ContentType, data)
		}
	}

	for _, a := range atts {
		if stub, ok := doc.Attachments[a.Name]; ok && !stub.Stub {
			continue
		}
		add(a.Name, a.ContentType, a.Data)
	}

	rev, err := NextRev(prevRev, out)
	if err != nil {
		return Doc{}, nil, err
	}
	out.Rev = rev

	return out, bodies, nil
}
