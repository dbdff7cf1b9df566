// Package mongo implements a document store on MongoDB.
// Attachment bodies go either to a second MongoDB collection
// or to a MinIO (S3-compatible) bucket.
package mongo

import (
	"context"
	"encoding/json"
	stderrs "errors"
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bobg/couchpush"
	"github.com/bobg/couchpush/store"
)

var (
	_ couchpush.Store            = &Store{}
	_ couchpush.Ensurer          = &Store{}
	_ couchpush.AttachmentGetter = &Store{}
)

// Store is a MongoDB-based document store.
// Each document is a record in a collection
// holding the document's id, its revision token, and its JSON encoding.
// Updates match on the revision token,
// so a write that raced with another one fails with couchpush.ErrConflict.
type Store struct {
	client *mongo.Client
	docs   *mongo.Collection
	bodies Bodies
}

// Bodies stores attachment content by digest.
type Bodies interface {
	Get(ctx context.Context, digest string) ([]byte, error)
	Put(ctx context.Context, digest, contentType string, data []byte) error
	Ensure(ctx context.Context) error
}

type record struct {
	ID   string `bson:"_id"`
	Rev  string `bson:"rev"`
	Body string `bson:"body"`
}

// New produces a new Store keeping documents in docs and attachment content in bodies.
// The client, if non-nil, is disconnected by Close.
func New(client *mongo.Client, docs *mongo.Collection, bodies Bodies) *Store {
	return &Store{client: client, docs: docs, bodies: bodies}
}

// Ensure checks the database connection and prepares the body store.
func (s *Store) Ensure(ctx context.Context) error {
	if s.client != nil {
		if err := s.client.Ping(ctx, nil); err != nil {
			return errors.Wrap(err, "pinging mongo")
		}
	}
	return s.bodies.Ensure(ctx)
}

// Close disconnects the client.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(context.Background())
}

// Get gets the document with the given id.
func (s *Store) Get(ctx context.Context, id string) (*couchpush.Doc, error) {
	var rec record
	err := s.docs.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if stderrs.Is(err, mongo.ErrNoDocuments) {
		return nil, couchpush.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "finding %s", id)
	}
	var doc couchpush.Doc
	err = json.Unmarshal([]byte(rec.Body), &doc)
	return &doc, errors.Wrapf(err, "decoding %s", id)
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
	return s.bodies.Get(ctx, stub.Digest)
}

// Put writes a document with inline attachments.
func (s *Store) Put(ctx context.Context, doc couchpush.Doc) (string, error) {
	return s.PutMultipart(ctx, doc, nil)
}

// PutMultipart writes a document plus attachment content.
func (s *Store) PutMultipart(ctx context.Context, doc couchpush.Doc, atts []couchpush.Attachment) (string, error) {
	prev, err := s.Get(ctx, doc.ID)
	if stderrs.Is(err, couchpush.ErrNotFound) {
		prev = nil
	} else if err != nil {
		return "", err
	}

	stored, bodies, err := couchpush.Commit(prev, doc, atts)
	if err != nil {
		return "", err
	}

	for _, b := range bodies {
		if err = s.bodies.Put(ctx, couchpush.Digest(b.Data), b.ContentType, b.Data); err != nil {
			return "", errors.Wrapf(err, "storing content of attachment %s", b.Name)
		}
	}

	j, err := json.Marshal(stored)
	if err != nil {
		return "", errors.Wrapf(err, "encoding %s", doc.ID)
	}
	rec := record{ID: doc.ID, Rev: stored.Rev, Body: string(j)}

	if prev == nil {
		_, err = s.docs.InsertOne(ctx, rec)
		if mongo.IsDuplicateKeyError(err) {
			return "", errors.Wrapf(couchpush.ErrConflict, "doc %s", doc.ID)
		}
		if err != nil {
			return "", errors.Wrapf(err, "inserting %s", doc.ID)
		}
		return stored.Rev, nil
	}

	res, err := s.docs.ReplaceOne(ctx, bson.M{"_id": doc.ID, "rev": prev.Rev}, rec)
	if err != nil {
		return "", errors.Wrapf(err, "replacing %s", doc.ID)
	}
	if res.MatchedCount == 0 {
		return "", errors.Wrapf(couchpush.ErrConflict, "doc %s", doc.ID)
	}
	return stored.Rev, nil
}

// CollectionBodies keeps attachment content in a MongoDB collection,
// one record per digest.
type CollectionBodies struct {
	c *mongo.Collection
}

var _ Bodies = CollectionBodies{}

// NewCollectionBodies produces a CollectionBodies using collection c.
func NewCollectionBodies(c *mongo.Collection) CollectionBodies {
	return CollectionBodies{c: c}
}

type bodyRecord struct {
	Digest      string `bson:"_id"`
	ContentType string `bson:"content_type"`
	Data        []byte `bson:"data"`
}

// Get implements Bodies.
func (b CollectionBodies) Get(ctx context.Context, digest string) ([]byte, error) {
	var rec bodyRecord
	err := b.c.FindOne(ctx, bson.M{"_id": digest}).Decode(&rec)
	if stderrs.Is(err, mongo.ErrNoDocuments) {
		return nil, couchpush.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "finding body %s", digest)
	}
	if rec.Data == nil {
		rec.Data = []byte{}
	}
	return rec.Data, nil
}

// Put implements Bodies.
func (b CollectionBodies) Put(ctx context.Context, digest, contentType string, data []byte) error {
	_, err := b.c.InsertOne(ctx, bodyRecord{Digest: digest, ContentType: contentType, Data: data})
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

// Ensure implements Bodies.
func (CollectionBodies) Ensure(context.Context) error { return nil }

func init() {
	store.Register("mongo", func(ctx context.Context, conf map[string]interface{}) (couchpush.Store, error) {
		u, err := store.URL(conf)
		if err != nil {
			return nil, err
		}

		// mongodb://HOST/DATABASE?collection=COLLECTION
		var (
			dbName         = strings.Trim(u.Path, "/")
			q              = u.Query()
			collName       = q.Get("collection")
			bodiesCollName = q.Get("bodies")
		)
		if dbName == "" {
			return nil, couchpush.NoDatabase(u.Redacted())
		}
		if collName == "" {
			collName = "docs"
		}
		if bodiesCollName == "" {
			bodiesCollName = collName + "_bodies"
		}
		q.Del("collection")
		q.Del("bodies")
		u.RawQuery = q.Encode()
		u.Path = "/"

		client, err := mongo.Connect(ctx, options.Client().ApplyURI(u.String()))
		if err != nil {
			return nil, errors.Wrap(err, "connecting to mongo")
		}
		db := client.Database(dbName)

		var bodies Bodies = NewCollectionBodies(db.Collection(bodiesCollName))
		if mconf, ok := conf["minio"].(map[string]interface{}); ok {
			bodies, err = minioBodiesFromConf(mconf)
			if err != nil {
				return nil, errors.Wrap(err, "configuring minio")
			}
		}

		return New(client, db.Collection(collName), bodies), nil
	}, "mongodb")
}
