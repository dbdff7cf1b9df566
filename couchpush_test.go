package couchpush

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWithInlineAttachments(t *testing.T) {
	doc := Doc{
		ID:          "doc1",
		Fields:      map[string]interface{}{"title": "xyzzy"},
		Attachments: map[string]Stub{"a.txt": stored("text/plain", "aaa", 1)},
	}
	atts := []Attachment{
		{Name: "b.txt", ContentType: "text/plain", Data: []byte("bbb")},
		{Name: "c.bin", ContentType: "application/octet-stream", Data: []byte{0, 1, 2}},
	}

	got := WithInlineAttachments(doc, atts)

	want := Doc{
		ID:     "doc1",
		Fields: map[string]interface{}{"title": "xyzzy"},
		Attachments: map[string]Stub{
			"a.txt": stored("text/plain", "aaa", 1),
			"b.txt": inline("text/plain", "bbb"),
			"c.bin": inline("application/octet-stream", "\x00\x01\x02"),
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if len(doc.Attachments) != 1 {
		t.Errorf("input doc modified: got %d attachments, want 1", len(doc.Attachments))
	}

	if diff := cmp.Diff(doc, WithInlineAttachments(doc, nil)); diff != "" {
		t.Errorf("no attachments: mismatch (-want +got):\n%s", diff)
	}
}

func TestModeFor(t *testing.T) {
	if m := ModeFor(false); m != Inline {
		t.Errorf("got %s, want %s", m, Inline)
	}
	if m := ModeFor(true); m != Multipart {
		t.Errorf("got %s, want %s", m, Multipart)
	}
}
