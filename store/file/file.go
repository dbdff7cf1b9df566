// Package file implements a document store as a file hierarchy.
package file

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/bobg/flock"
	"github.com/pkg/errors"

	"github.com/bobg/couchpush"
	"github.com/bobg/couchpush/store"
)

var (
	_ couchpush.Store            = &Store{}
	_ couchpush.Ensurer          = &Store{}
	_ couchpush.AttachmentGetter = &Store{}
)

// Store is a file-based implementation of a document store.
// Each document is a JSON file under root/docs,
// named by the hex encoding of its id.
// Attachment bodies are files under root/bodies,
// named by the hex encoding of their digests.
//
// Writes are serialized by a lock file,
// so multiple processes may share a root.
type Store struct {
	root    string
	flocker flock.Locker
}

// New produces a new Store storing data beneath `root`.
func New(root string) *Store {
	return &Store{root: root}
}

func (s *Store) docpath(id string) string {
	return filepath.Join(s.root, "docs", hex.EncodeToString([]byte(id))+".json")
}

func (s *Store) bodypath(digest string) string {
	k := couchpush.DigestKey(digest)
	return filepath.Join(s.root, "bodies", k[:2], k)
}

func (s *Store) lockpath() string {
	return filepath.Join(s.root, "lock")
}

// Ensure creates the directories of the store.
func (s *Store) Ensure(context.Context) error {
	for _, dir := range []string{filepath.Join(s.root, "docs"), filepath.Join(s.root, "bodies")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "ensuring path %s exists", dir)
		}
	}
	return nil
}

// Get gets the document with the given id.
func (s *Store) Get(_ context.Context, id string) (*couchpush.Doc, error) {
	path := s.docpath(id)
	j, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, couchpush.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	var doc couchpush.Doc
	err = json.Unmarshal(j, &doc)
	return &doc, errors.Wrapf(err, "decoding %s", path)
}

// GetAttachment gets the content of the named attachment of the document with the given id.
func (s *Store) GetAttachment(ctx context.Context, id, name string) ([]byte, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	stub, ok := doc.Attachments[name]
	if !ok {
		return nil, couchpush.ErrNotFound
	}
	path := s.bodypath(stub.Digest)
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, couchpush.ErrNotFound
	}
	return b, errors.Wrapf(err, "opening %s", path)
}

// Put writes a document with inline attachments.
func (s *Store) Put(ctx context.Context, doc couchpush.Doc) (string, error) {
	return s.PutMultipart(ctx, doc, nil)
}

// PutMultipart writes a document plus attachment content.
func (s *Store) PutMultipart(ctx context.Context, doc couchpush.Doc, atts []couchpush.Attachment) (string, error) {
	if err := s.Ensure(ctx); err != nil {
		return "", err
	}

	if err := s.flocker.Lock(s.lockpath()); err != nil {
		return "", errors.Wrap(err, "locking store")
	}
	defer s.flocker.Unlock(s.lockpath())

	prev, err := s.Get(ctx, doc.ID)
	if errors.Is(err, couchpush.ErrNotFound) {
		prev = nil
	} else if err != nil {
		return "", err
	}

	stored, bodies, err := couchpush.Commit(prev, doc, atts)
	if err != nil {
		return "", err
	}

	for _, b := range bodies {
		if err = s.putBody(b.Data); err != nil {
			return "", err
		}
	}

	j, err := json.Marshal(stored)
	if err != nil {
		return "", errors.Wrapf(err, "encoding %s", doc.ID)
	}

	// Readers never see a partial doc.
	path := s.docpath(doc.ID)
	tmp := path + ".tmp"
	if err = os.WriteFile(tmp, j, 0644); err != nil {
		return "", errors.Wrapf(err, "writing %s", tmp)
	}
	if err = os.Rename(tmp, path); err != nil {
		return "", errors.Wrapf(err, "renaming %s", tmp)
	}

	return stored.Rev, nil
}

// File lock must be held.
func (s *Store) putBody(data []byte) error {
	var (
		path = s.bodypath(couchpush.Digest(data))
		dir  = filepath.Dir(path)
	)

	if _, err := os.Stat(path); err == nil {
		return nil
	}

	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return errors.Wrapf(err, "ensuring path %s exists", dir)
	}

	f, err := os.CreateTemp(dir, "body-*.tmp")
	if err != nil {
		return errors.Wrapf(err, "creating temp file in %s", dir)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err = f.Write(data); err != nil {
		f.Close()
		return errors.Wrapf(err, "writing data to %s", tmp)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", tmp)
	}

	// Only complete bodies appear under their digest names.
	return errors.Wrapf(os.Rename(tmp, path), "renaming %s", tmp)
}

func init() {
	store.Register("file", func(_ context.Context, conf map[string]interface{}) (couchpush.Store, error) {
		root, ok := conf["root"].(string)
		if !ok {
			u, err := store.URL(conf)
			if err != nil {
				return nil, errors.New(`missing "root" parameter`)
			}
			root = u.Path
		}
		if root == "" {
			return nil, couchpush.NoDatabase("file:")
		}
		return New(root), nil
	}, "file")
}
