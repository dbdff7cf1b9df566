package file

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/couchpush"
	"github.com/bobg/couchpush/testutil"
)

func TestStore(t *testing.T) {
	dirname, err := os.MkdirTemp("", "filestore")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dirname)

	testutil.ReadWrite(context.Background(), t, New(dirname), "doc/with/slashes")
}

func TestRevisions(t *testing.T) {
	dirname, err := os.MkdirTemp("", "filestore")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dirname)

	testutil.Revisions(context.Background(), t, New(dirname), "rev")
}

func TestBodyFiles(t *testing.T) {
	ctx := context.Background()
	s := New(t.TempDir())

	data := []byte("hello, world")
	path := s.bodypath(couchpush.Digest(data))
	dir := filepath.Dir(path)

	// A partial body left behind by an interrupted write.
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	leftover := filepath.Join(dir, "body-leftover.tmp")
	if err := os.WriteFile(leftover, data[:5], 0644); err != nil {
		t.Fatal(err)
	}

	att := couchpush.Attachment{Name: "hello.txt", ContentType: "text/plain", Data: data}
	if _, err := s.PutMultipart(ctx, couchpush.Doc{ID: "doc1"}, []couchpush.Attachment{att}); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetAttachment(ctx, "doc1", "hello.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("got %q, want %q", got, data)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	want := []string{"body-leftover.tmp", filepath.Base(path)}
	sort.Strings(want)
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("files in %s mismatch (-want +got):\n%s", dir, diff)
	}
}
