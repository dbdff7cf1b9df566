// Package compile turns a source file or directory into a document and its attachments.
//
// A source that is a file must hold a JSON object, which is the document.
//
// A source that is a directory is compiled entry by entry.
// Each entry becomes a field named by its base name without extension:
// a .json file is parsed as JSON,
// any other file becomes a string (with one trailing newline removed),
// and a subdirectory becomes a nested object compiled the same way.
// A top-level directory named _attachments instead supplies attachments,
// one per file beneath it,
// named by the file's slash-separated path relative to _attachments.
// Names beginning with "." are skipped.
//
// The document's _rev, if any, is dropped.
package compile

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/bobg/couchpush"
)

// Options control compilation.
type Options struct {
	// Multipart causes attachments to be returned as a list of decoded attachments
	// instead of being placed in the document as inline base64 data.
	Multipart bool
}

// Mode is the couchpush.Mode corresponding to o.
func (o Options) Mode() couchpush.Mode {
	return couchpush.ModeFor(o.Multipart)
}

const attachmentsDir = "_attachments"

// Compile compiles source into a document and a list of attachments.
// In inline mode the list is empty
// and the attachments are in the document's attachment map as base64 data.
// In multipart mode the attachment map holds no inline data
// and the attachments are in the list, sorted by name.
//
// Compile does not check that the document has an id.
func Compile(source string, opts Options) (couchpush.Doc, []couchpush.Attachment, error) {
	info, err := os.Stat(source)
	if err != nil {
		return couchpush.Doc{}, nil, errors.Wrapf(err, "statting %s", source)
	}

	var (
		obj  map[string]interface{}
		atts []couchpush.Attachment
	)
	if info.IsDir() {
		obj, atts, err = compileDir(source)
	} else {
		obj, err = compileJSONFile(source)
	}
	if err != nil {
		return couchpush.Doc{}, nil, err
	}

	delete(obj, "_rev")

	// Normalize by round-tripping through JSON.
	j, err := json.Marshal(obj)
	if err != nil {
		return couchpush.Doc{}, nil, errors.Wrap(err, "encoding document")
	}
	var doc couchpush.Doc
	if err = json.Unmarshal(j, &doc); err != nil {
		return couchpush.Doc{}, nil, errors.Wrap(err, "decoding document")
	}

	// Inline attachments from a JSON source.
	for _, name := range doc.AttachmentNames() {
		stub := doc.Attachments[name]
		if stub.Stub || stub.Follows {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(stub.Data)
		if err != nil {
			return couchpush.Doc{}, nil, errors.Wrapf(err, "decoding attachment %s", name)
		}
		delete(doc.Attachments, name)
		atts = append(atts, couchpush.Attachment{Name: name, ContentType: stub.ContentType, Data: data})
	}
	if len(doc.Attachments) == 0 {
		doc.Attachments = nil
	}
	sort.Slice(atts, func(i, j int) bool { return atts[i].Name < atts[j].Name })

	if opts.Multipart {
		return doc, atts, nil
	}
	return couchpush.WithInlineAttachments(doc, atts), nil, nil
}

func compileJSONFile(filename string) (map[string]interface{}, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", filename)
	}
	var obj map[string]interface{}
	if err = json.Unmarshal(b, &obj); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", filename)
	}
	if obj == nil {
		return nil, errors.Errorf("%s does not contain a JSON object", filename)
	}
	return obj, nil
}

func compileDir(dir string) (map[string]interface{}, []couchpush.Attachment, error) {
	var atts []couchpush.Attachment
	obj, err := compileObj(dir, func(name string) (bool, error) {
		if name != attachmentsDir {
			return false, nil
		}
		var err error
		atts, err = readAttachments(filepath.Join(dir, name))
		return true, err
	})
	return obj, atts, err
}

// compileObj compiles the directory dir into an object.
// The special function, if non-nil, is called on each subdirectory name
// and reports whether it handled that subdirectory itself.
func compileObj(dir string, special func(string) (bool, error)) (map[string]interface{}, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "reading dir %s", dir)
	}

	obj := make(map[string]interface{})
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		full := filepath.Join(dir, name)

		if entry.IsDir() {
			if special != nil {
				handled, err := special(name)
				if err != nil {
					return nil, err
				}
				if handled {
					continue
				}
			}
			sub, err := compileObj(full, nil)
			if err != nil {
				return nil, err
			}
			obj[name] = sub
			continue
		}

		var (
			ext = filepath.Ext(name)
			key = strings.TrimSuffix(name, ext)
		)
		b, err := os.ReadFile(full)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", full)
		}
		if ext == ".json" {
			var v interface{}
			if err = json.Unmarshal(b, &v); err != nil {
				return nil, errors.Wrapf(err, "parsing %s", full)
			}
			obj[key] = v
			continue
		}
		b = bytes.TrimSuffix(b, []byte("\n"))
		obj[key] = string(b)
	}

	return obj, nil
}

func readAttachments(dir string) ([]couchpush.Attachment, error) {
	var atts []couchpush.Attachment
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return errors.Wrapf(err, "computing name of %s", p)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return errors.Wrapf(err, "reading %s", p)
		}
		name := filepath.ToSlash(rel)
		atts = append(atts, couchpush.Attachment{
			Name:        name,
			ContentType: ContentType(name),
			Data:        data,
		})
		return nil
	})
	return atts, errors.Wrapf(err, "reading attachments in %s", dir)
}

// ContentType guesses the content type of a file from its name,
// without parameters.
// The default is application/octet-stream.
func ContentType(name string) string {
	t := mime.TypeByExtension(path.Ext(name))
	if t == "" {
		return "application/octet-stream"
	}
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		return mt
	}
	return t
}
