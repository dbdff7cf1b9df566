package compile

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/couchpush"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func testDir(t *testing.T) string {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"_id":                         "mydoc\n",
		"_rev":                        "3-abc\n",
		"title.txt":                   "Hello\n\n",
		"count.json":                  "42",
		"views/by_name/map.js":        "function(doc) { emit(doc.name) }\n",
		".hidden":                     "secret",
		"_attachments/index.html":     "<h1>hi</h1>",
		"_attachments/img/logo.png":   "\x89PNG",
		"_attachments/data.xyzzy":     "plugh",
		"_attachments/.DS_Store":      "junk",
		"_attachments/.git/something": "junk",
	})
	return dir
}

var wantFields = map[string]interface{}{
	"title": "Hello\n",
	"count": float64(42),
	"views": map[string]interface{}{
		"by_name": map[string]interface{}{
			"map": "function(doc) { emit(doc.name) }",
		},
	},
}

var wantAtts = []couchpush.Attachment{
	{Name: "data.xyzzy", ContentType: "application/octet-stream", Data: []byte("plugh")},
	{Name: "img/logo.png", ContentType: "image/png", Data: []byte("\x89PNG")},
	{Name: "index.html", ContentType: "text/html", Data: []byte("<h1>hi</h1>")},
}

func TestCompileDirMultipart(t *testing.T) {
	doc, atts, err := Compile(testDir(t), Options{Multipart: true})
	if err != nil {
		t.Fatal(err)
	}
	want := couchpush.Doc{ID: "mydoc", Fields: wantFields}
	if diff := cmp.Diff(want, doc); diff != "" {
		t.Errorf("doc mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantAtts, atts); diff != "" {
		t.Errorf("attachments mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileDirInline(t *testing.T) {
	doc, atts, err := Compile(testDir(t), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(atts) != 0 {
		t.Errorf("got %d attachments in list, want 0", len(atts))
	}
	want := couchpush.Doc{
		ID:          "mydoc",
		Fields:      wantFields,
		Attachments: make(map[string]couchpush.Stub),
	}
	for _, a := range wantAtts {
		want.Attachments[a.Name] = couchpush.Stub{
			ContentType: a.ContentType,
			Data:        base64.StdEncoding.EncodeToString(a.Data),
		}
	}
	if diff := cmp.Diff(want, doc); diff != "" {
		t.Errorf("doc mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileJSONFile(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"doc.json": `{
			"_id": "fromjson",
			"_rev": "1-abc",
			"a": [1, 2],
			"_attachments": {
				"x.txt": {"content_type": "text/plain", "data": "aGVsbG8="}
			}
		}`,
	})
	source := filepath.Join(dir, "doc.json")

	doc, atts, err := Compile(source, Options{Multipart: true})
	if err != nil {
		t.Fatal(err)
	}
	want := couchpush.Doc{
		ID:     "fromjson",
		Fields: map[string]interface{}{"a": []interface{}{float64(1), float64(2)}},
	}
	if diff := cmp.Diff(want, doc); diff != "" {
		t.Errorf("doc mismatch (-want +got):\n%s", diff)
	}
	wantAtts := []couchpush.Attachment{{Name: "x.txt", ContentType: "text/plain", Data: []byte("hello")}}
	if diff := cmp.Diff(wantAtts, atts); diff != "" {
		t.Errorf("attachments mismatch (-want +got):\n%s", diff)
	}

	doc, atts, err = Compile(source, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(atts) != 0 {
		t.Errorf("got %d attachments in list, want 0", len(atts))
	}
	want.Attachments = map[string]couchpush.Stub{
		"x.txt": {ContentType: "text/plain", Data: "aGVsbG8="},
	}
	if diff := cmp.Diff(want, doc); diff != "" {
		t.Errorf("inline doc mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileNoID(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"name": "anonymous"})

	doc, _, err := Compile(dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if doc.ID != "" {
		t.Errorf("got id %q, want none", doc.ID)
	}
}

func TestCompileErrors(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"bad.json":      "{",
		"array.json":    "[1, 2]",
		"baddir/x.json": "nope",
	})

	for _, source := range []string{
		filepath.Join(dir, "nonexistent"),
		filepath.Join(dir, "bad.json"),
		filepath.Join(dir, "array.json"),
		filepath.Join(dir, "baddir"),
	} {
		if _, _, err := Compile(source, Options{}); err == nil {
			t.Errorf("got no error compiling %s", source)
		}
	}
}

func TestContentType(t *testing.T) {
	cases := map[string]string{
		"a.html":   "text/html",
		"b/c.json": "application/json",
		"d.png":    "image/png",
		"noext":    "application/octet-stream",
		"e.xyzzy":  "application/octet-stream",
	}
	for name, want := range cases {
		if got := ContentType(name); got != want {
			t.Errorf("ContentType(%q) = %q, want %q", name, got, want)
		}
	}
}
