// Package lru implements a document store that acts as a least-recently-used cache for a nested document store.
package lru

import (
	"context"
	"io"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/bobg/couchpush"
	"github.com/bobg/couchpush/store"
)

var (
	_ couchpush.Store            = &Store{}
	_ couchpush.Ensurer          = &Store{}
	_ couchpush.AttachmentGetter = &Store{}
)

// Store implements a memory-based least-recently-used cache for a document store.
// It caches documents by id.
// Writes pass through to the underlying store
// and evict the written document both before and after the nested write,
// so a read racing with the write cannot leave the old revision cached.
type Store struct {
	c *lru.Cache // id -> couchpush.Doc
	s couchpush.Store
}

// New produces a new Store backed by `s` and caching up to `size` documents.
func New(s couchpush.Store, size int) (*Store, error) {
	c, err := lru.New(size)
	return &Store{s: s, c: c}, err
}

// Get gets the document with the given id.
func (s *Store) Get(ctx context.Context, id string) (*couchpush.Doc, error) {
	if got, ok := s.c.Get(id); ok {
		doc := got.(couchpush.Doc).Clone()
		return &doc, nil
	}
	doc, err := s.s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.c.Add(id, doc.Clone())
	return doc, nil
}

// Put writes a document through to the nested store.
func (s *Store) Put(ctx context.Context, doc couchpush.Doc) (string, error) {
	s.c.Remove(doc.ID)
	defer s.c.Remove(doc.ID)
	return s.s.Put(ctx, doc)
}

// PutMultipart writes a document through to the nested store.
func (s *Store) PutMultipart(ctx context.Context, doc couchpush.Doc, atts []couchpush.Attachment) (string, error) {
	s.c.Remove(doc.ID)
	defer s.c.Remove(doc.ID)
	return s.s.PutMultipart(ctx, doc, atts)
}

// Ensure prepares the nested store, if it knows how.
func (s *Store) Ensure(ctx context.Context) error {
	if e, ok := s.s.(couchpush.Ensurer); ok {
		return e.Ensure(ctx)
	}
	return nil
}

// GetAttachment gets attachment content from the nested store.
func (s *Store) GetAttachment(ctx context.Context, id, name string) ([]byte, error) {
	if g, ok := s.s.(couchpush.AttachmentGetter); ok {
		return g.GetAttachment(ctx, id, name)
	}
	return nil, couchpush.ErrNotFound
}

// Close closes the nested store, if it can be closed.
func (s *Store) Close() error {
	if c, ok := s.s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Len tells how many documents are cached.
func (s *Store) Len() int {
	return s.c.Len()
}

func init() {
	store.Register("lru", func(ctx context.Context, conf map[string]interface{}) (couchpush.Store, error) {
		size, ok := store.Int(conf, "size")
		if !ok {
			return nil, errors.New(`missing "size" parameter`)
		}
		nestedStore, err := store.Nested(ctx, conf)
		if err != nil {
			return nil, err
		}
		return New(nestedStore, size)
	})
}
