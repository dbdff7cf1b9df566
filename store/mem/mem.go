// Package mem implements an in-memory document store.
package mem

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"github.com/bobg/couchpush"
	"github.com/bobg/couchpush/store"
)

var (
	_ couchpush.Store            = &Store{}
	_ couchpush.AttachmentGetter = &Store{}
)

// Store is a memory-based implementation of a document store.
// Documents are kept in JSON form,
// so a document read back is a deep copy of the one written.
type Store struct {
	mu     sync.Mutex
	docs   map[string][]byte // id -> doc JSON
	bodies map[string][]byte // digest -> attachment content
}

// New produces a new Store.
func New() *Store {
	return &Store{
		docs:   make(map[string][]byte),
		bodies: make(map[string][]byte),
	}
}

// Get gets the document with the given id.
func (s *Store) Get(_ context.Context, id string) (*couchpush.Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(id)
}

// Caller must obtain a lock.
func (s *Store) get(id string) (*couchpush.Doc, error) {
	j, ok := s.docs[id]
	if !ok {
		return nil, couchpush.ErrNotFound
	}
	var doc couchpush.Doc
	err := json.Unmarshal(j, &doc)
	return &doc, errors.Wrapf(err, "decoding %s", id)
}

// GetAttachment gets the content of the named attachment of the document with the given id.
func (s *Store) GetAttachment(_ context.Context, id, name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.get(id)
	if err != nil {
		return nil, err
	}
	stub, ok := doc.Attachments[name]
	if !ok {
		return nil, couchpush.ErrNotFound
	}
	b, ok := s.bodies[stub.Digest]
	if !ok {
		return nil, couchpush.ErrNotFound
	}
	return b, nil
}

// Put writes a document with inline attachments.
func (s *Store) Put(ctx context.Context, doc couchpush.Doc) (string, error) {
	return s.PutMultipart(ctx, doc, nil)
}

// PutMultipart writes a document plus attachment content.
func (s *Store) PutMultipart(_ context.Context, doc couchpush.Doc, atts []couchpush.Attachment) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.get(doc.ID)
	if errors.Is(err, couchpush.ErrNotFound) {
		prev = nil
	} else if err != nil {
		return "", err
	}

	stored, bodies, err := couchpush.Commit(prev, doc, atts)
	if err != nil {
		return "", err
	}

	j, err := json.Marshal(stored)
	if err != nil {
		return "", errors.Wrapf(err, "encoding %s", doc.ID)
	}
	for _, b := range bodies {
		s.bodies[couchpush.Digest(b.Data)] = b.Data
	}
	s.docs[doc.ID] = j

	return stored.Rev, nil
}

// Len tells how many documents are in the store.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

func init() {
	store.Register("mem", func(context.Context, map[string]interface{}) (couchpush.Store, error) {
		return New(), nil
	}, "mem")
}
