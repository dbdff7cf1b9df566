package testutil

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/couchpush"
)

// ReadWrite permits testing a Store implementation
// by writing a document through several revisions,
// with attachments added, kept, replaced, and dropped along the way,
// and reading it back after each write to make sure it's right.
//
// The store must not already contain a document with the given id.
func ReadWrite(ctx context.Context, t *testing.T, store couchpush.Store, id string) {
	if _, err := store.Get(ctx, id); !errors.Is(err, couchpush.ErrNotFound) {
		t.Fatalf("got error %v getting nonexistent doc, want ErrNotFound", err)
	}

	var (
		hello = []byte("hello")
		blob  = []byte{0, 1, 2, 3, 254, 255}
	)

	// Revision 1: a new doc with one inline attachment.
	doc := couchpush.Doc{
		ID: id,
		Fields: map[string]interface{}{
			"title": "xyzzy",
			"count": float64(7),
			"tags":  []interface{}{"a", "b"},
			"nested": map[string]interface{}{
				"ok": true,
			},
		},
		Attachments: map[string]couchpush.Stub{
			"hello.txt": {
				ContentType: "text/plain",
				Data:        base64.StdEncoding.EncodeToString(hello),
			},
		},
	}
	rev1, err := store.Put(ctx, doc)
	if err != nil {
		t.Fatal(err)
	}
	if n := couchpush.RevNum(rev1); n != 1 {
		t.Errorf("got rev %s, want generation 1", rev1)
	}

	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	want := couchpush.Doc{
		ID:     id,
		Rev:    rev1,
		Fields: doc.Fields,
		Attachments: map[string]couchpush.Stub{
			"hello.txt": {
				ContentType: "text/plain",
				Digest:      couchpush.Digest(hello),
				Length:      int64(len(hello)),
				RevPos:      1,
				Stub:        true,
			},
		},
	}
	if diff := cmp.Diff(want, *got); diff != "" {
		t.Fatalf("mismatch after first write (-want +got):\n%s", diff)
	}

	// A write without the current rev conflicts.
	if _, err = store.Put(ctx, doc); !errors.Is(err, couchpush.ErrConflict) {
		t.Errorf("got error %v writing without rev, want ErrConflict", err)
	}
	stale := doc.Clone()
	stale.Rev = "1-00000000000000000000000000000000"
	if _, err = store.Put(ctx, stale); !errors.Is(err, couchpush.ErrConflict) {
		t.Errorf("got error %v writing with stale rev, want ErrConflict", err)
	}

	// Revision 2: keep hello.txt via its stub, add blob.bin as a separate part.
	doc2 := got.Clone()
	doc2.Fields["title"] = "plugh"
	rev2, err := store.PutMultipart(ctx, doc2, []couchpush.Attachment{{
		Name:        "blob.bin",
		ContentType: "application/octet-stream",
		Data:        blob,
	}})
	if err != nil {
		t.Fatal(err)
	}
	if n := couchpush.RevNum(rev2); n != 2 {
		t.Errorf("got rev %s, want generation 2", rev2)
	}

	got, err = store.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	want.Rev = rev2
	want.Fields = doc2.Fields
	want.Attachments = map[string]couchpush.Stub{
		"hello.txt": want.Attachments["hello.txt"],
		"blob.bin": {
			ContentType: "application/octet-stream",
			Digest:      couchpush.Digest(blob),
			Length:      int64(len(blob)),
			RevPos:      2,
			Stub:        true,
		},
	}
	if diff := cmp.Diff(want, *got); diff != "" {
		t.Fatalf("mismatch after second write (-want +got):\n%s", diff)
	}

	if ag, ok := store.(couchpush.AttachmentGetter); ok {
		for name, data := range map[string][]byte{"hello.txt": hello, "blob.bin": blob} {
			gotData, err := ag.GetAttachment(ctx, id, name)
			if err != nil {
				t.Fatalf("getting attachment %s: %s", name, err)
			}
			if !bytes.Equal(gotData, data) {
				t.Errorf("attachment %s: got %x, want %x", name, gotData, data)
			}
		}
		if _, err = ag.GetAttachment(ctx, id, "nonexistent"); !errors.Is(err, couchpush.ErrNotFound) {
			t.Errorf("got error %v getting nonexistent attachment, want ErrNotFound", err)
		}
	}

	// A stub naming an attachment the store does not have is an error.
	bogus := got.Clone()
	bogus.Attachments["bogus"] = couchpush.Stub{Stub: true, Digest: couchpush.Digest([]byte("bogus"))}
	if _, err = store.Put(ctx, bogus); err == nil {
		t.Error("got no error writing stub for missing attachment")
	}

	// Revision 3: drop hello.txt.
	doc3 := got.Clone()
	delete(doc3.Attachments, "hello.txt")
	rev3, err := store.Put(ctx, doc3)
	if err != nil {
		t.Fatal(err)
	}

	got, err = store.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	want.Rev = rev3
	delete(want.Attachments, "hello.txt")
	if diff := cmp.Diff(want, *got); diff != "" {
		t.Fatalf("mismatch after third write (-want +got):\n%s", diff)
	}
}
