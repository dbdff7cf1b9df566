// Package logging implements a store that delegates everything to a nested store,
// logging operations as they happen.
package logging

import (
	"context"
	"io"
	"log"

	"github.com/bobg/couchpush"
	"github.com/bobg/couchpush/store"
)

var (
	_ couchpush.Store            = &Store{}
	_ couchpush.Ensurer          = &Store{}
	_ couchpush.AttachmentGetter = &Store{}
)

type Store struct {
	s couchpush.Store
}

func New(s couchpush.Store) *Store {
	return &Store{s: s}
}

func (s *Store) Get(ctx context.Context, id string) (*couchpush.Doc, error) {
	doc, err := s.s.Get(ctx, id)
	if err != nil {
		log.Printf("ERROR Get %s: %s", id, err)
	} else {
		log.Printf("Get %s, rev=%s, %d attachment(s)", id, doc.Rev, len(doc.Attachments))
	}
	return doc, err
}

func (s *Store) Put(ctx context.Context, doc couchpush.Doc) (string, error) {
	rev, err := s.s.Put(ctx, doc)
	if err != nil {
		log.Printf("ERROR in Put %s (rev %q): %s", doc.ID, doc.Rev, err)
	} else {
		log.Printf("Put %s, rev %q -> %s", doc.ID, doc.Rev, rev)
	}
	return rev, err
}

func (s *Store) PutMultipart(ctx context.Context, doc couchpush.Doc, atts []couchpush.Attachment) (string, error) {
	rev, err := s.s.PutMultipart(ctx, doc, atts)
	if err != nil {
		log.Printf("ERROR in PutMultipart %s (rev %q, %d part(s)): %s", doc.ID, doc.Rev, len(atts), err)
	} else {
		log.Printf("PutMultipart %s, rev %q -> %s, %d part(s)", doc.ID, doc.Rev, rev, len(atts))
		for _, a := range atts {
			log.Printf("  %s (%s, %d bytes)", a.Name, a.ContentType, len(a.Data))
		}
	}
	return rev, err
}

func (s *Store) Ensure(ctx context.Context) error {
	e, ok := s.s.(couchpush.Ensurer)
	if !ok {
		return nil
	}
	err := e.Ensure(ctx)
	if err != nil {
		log.Printf("ERROR in Ensure: %s", err)
	} else {
		log.Print("Ensure")
	}
	return err
}

func (s *Store) GetAttachment(ctx context.Context, id, name string) ([]byte, error) {
	g, ok := s.s.(couchpush.AttachmentGetter)
	if !ok {
		log.Printf("ERROR GetAttachment %s/%s: nested store is a %T", id, name, s.s)
		return nil, couchpush.ErrNotFound
	}
	b, err := g.GetAttachment(ctx, id, name)
	if err != nil {
		log.Printf("ERROR GetAttachment %s/%s: %s", id, name, err)
	} else {
		log.Printf("GetAttachment %s/%s, %d bytes", id, name, len(b))
	}
	return b, err
}

func (s *Store) Close() error {
	if c, ok := s.s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func init() {
	store.Register("logging", func(ctx context.Context, conf map[string]interface{}) (couchpush.Store, error) {
		nestedStore, err := store.Nested(ctx, conf)
		if err != nil {
			return nil, err
		}
		return New(nestedStore), nil
	})
}
