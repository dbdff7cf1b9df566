// Package redis implements a document store on Redis.
package redis

import (
	"context"
	"encoding/json"
	stderrs "errors"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/bobg/couchpush"
	"github.com/bobg/couchpush/store"
)

var (
	_ couchpush.Store            = &Store{}
	_ couchpush.Ensurer          = &Store{}
	_ couchpush.AttachmentGetter = &Store{}
)

// Store is a Redis-based document store.
// All keys begin with a name prefix,
// so several stores can share one Redis database.
// A document lives at NAME:doc:ID as JSON,
// and attachment content at NAME:body:DIGEST.
//
// Writes use WATCH/MULTI/EXEC,
// so one that races with another fails with couchpush.ErrConflict.
type Store struct {
	rdb  *redis.Client
	name string
}

// New produces a new Store using rdb, with keys prefixed by name.
func New(rdb *redis.Client, name string) *Store {
	return &Store{rdb: rdb, name: name}
}

func (s *Store) docKey(id string) string {
	return s.name + ":doc:" + id
}

func (s *Store) bodyKey(digest string) string {
	return s.name + ":body:" + couchpush.DigestKey(digest)
}

// Ensure checks the connection.
func (s *Store) Ensure(ctx context.Context) error {
	return errors.Wrap(s.rdb.Ping(ctx).Err(), "pinging redis")
}

// Close closes the client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Get gets the document with the given id.
func (s *Store) Get(ctx context.Context, id string) (*couchpush.Doc, error) {
	return getDoc(ctx, s.rdb, s.docKey(id))
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getDoc(ctx context.Context, c stringGetter, key string) (*couchpush.Doc, error) {
	j, err := c.Get(ctx, key).Bytes()
	if stderrs.Is(err, redis.Nil) {
		return nil, couchpush.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "getting %s", key)
	}
	var doc couchpush.Doc
	err = json.Unmarshal(j, &doc)
	return &doc, errors.Wrapf(err, "decoding %s", key)
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
	key := s.bodyKey(stub.Digest)
	b, err := s.rdb.Get(ctx, key).Bytes()
	if stderrs.Is(err, redis.Nil) {
		return nil, couchpush.ErrNotFound
	}
	return b, errors.Wrapf(err, "getting %s", key)
}

// Put writes a document with inline attachments.
func (s *Store) Put(ctx context.Context, doc couchpush.Doc) (string, error) {
	return s.PutMultipart(ctx, doc, nil)
}

// PutMultipart writes a document plus attachment content.
func (s *Store) PutMultipart(ctx context.Context, doc couchpush.Doc, atts []couchpush.Attachment) (string, error) {
	var (
		key = s.docKey(doc.ID)
		rev string
	)

	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		prev, err := getDoc(ctx, tx, key)
		if stderrs.Is(err, couchpush.ErrNotFound) {
			prev = nil
		} else if err != nil {
			return err
		}

		stored, bodies, err := couchpush.Commit(prev, doc, atts)
		if err != nil {
			return err
		}

		j, err := json.Marshal(stored)
		if err != nil {
			return errors.Wrapf(err, "encoding %s", doc.ID)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, b := range bodies {
				pipe.SetNX(ctx, s.bodyKey(couchpush.Digest(b.Data)), b.Data, 0)
			}
			pipe.Set(ctx, key, j, 0)
			return nil
		})
		if err != nil {
			return err
		}

		rev = stored.Rev
		return nil
	}, key)

	if stderrs.Is(err, redis.TxFailedErr) {
		return "", errors.Wrapf(couchpush.ErrConflict, "doc %s", doc.ID)
	}
	if err != nil {
		return "", err
	}
	return rev, nil
}

func init() {
	store.Register("redis", func(ctx context.Context, conf map[string]interface{}) (couchpush.Store, error) {
		u, err := store.URL(conf)
		if err != nil {
			return nil, err
		}

		// redis://[:PASSWORD@]HOST[:PORT][/DB]?name=NAME
		q := u.Query()
		name := q.Get("name")
		if name == "" {
			return nil, couchpush.NoDatabase(u.Redacted())
		}
		q.Del("name")
		u.RawQuery = q.Encode()

		opts, err := redis.ParseURL(u.String())
		if err != nil {
			return nil, couchpush.InvalidTarget(u.Redacted(), err)
		}
		return New(redis.NewClient(opts), name), nil
	}, "redis")
}
