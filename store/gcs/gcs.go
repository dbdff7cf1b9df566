// Package gcs implements a document store on Google Cloud Storage.
package gcs

import (
	"context"
	"encoding/hex"
	"encoding/json"
	stderrs "errors"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/bobg/couchpush"
	"github.com/bobg/couchpush/store"
)

var (
	_ couchpush.Store            = &Store{}
	_ couchpush.Ensurer          = &Store{}
	_ couchpush.AttachmentGetter = &Store{}
)

// Store is a Google Cloud Storage-based implementation of a document store.
// Each document is an object named "d:" plus the hex encoding of its id.
// Each attachment body is an object named "b:" plus the hex encoding of its digest.
//
// Optimistic concurrency uses object generation numbers:
// a document is only overwritten if its generation has not changed since it was read.
type Store struct {
	bucket  *storage.BucketHandle
	project string
}

// New produces a new Store.
// If project is non-empty,
// Ensure creates the bucket in that project if it does not exist.
func New(bucket *storage.BucketHandle, project string) *Store {
	return &Store{bucket: bucket, project: project}
}

// Ensure makes sure the bucket exists.
func (s *Store) Ensure(ctx context.Context) error {
	_, err := s.bucket.Attrs(ctx)
	if stderrs.Is(err, storage.ErrBucketNotExist) && s.project != "" {
		err = s.bucket.Create(ctx, s.project, nil)
		return errors.Wrapf(err, "creating bucket in project %s", s.project)
	}
	return errors.Wrap(err, "getting bucket attrs")
}

// Get gets the document with the given id.
func (s *Store) Get(ctx context.Context, id string) (*couchpush.Doc, error) {
	doc, _, err := s.get(ctx, id)
	return doc, err
}

func (s *Store) get(ctx context.Context, id string) (*couchpush.Doc, int64, error) {
	name := docObjName(id)
	b, gen, err := s.read(ctx, name)
	if err != nil {
		return nil, 0, err
	}
	var doc couchpush.Doc
	err = json.Unmarshal(b, &doc)
	return &doc, gen, errors.Wrapf(err, "decoding object %s", name)
}

func (s *Store) read(ctx context.Context, name string) ([]byte, int64, error) {
	r, err := s.bucket.Object(name).NewReader(ctx)
	if stderrs.Is(err, storage.ErrObjectNotExist) {
		return nil, 0, couchpush.ErrNotFound
	}
	if err != nil {
		return nil, 0, errors.Wrapf(err, "reading info of object %s", name)
	}
	defer r.Close()

	b := make([]byte, r.Attrs.Size)
	_, err = io.ReadFull(r, b)
	return b, r.Attrs.Generation, errors.Wrapf(err, "reading contents of object %s", name)
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
	b, _, err := s.read(ctx, bodyObjName(stub.Digest))
	return b, err
}

// Put writes a document with inline attachments.
func (s *Store) Put(ctx context.Context, doc couchpush.Doc) (string, error) {
	return s.PutMultipart(ctx, doc, nil)
}

// PutMultipart writes a document plus attachment content.
func (s *Store) PutMultipart(ctx context.Context, doc couchpush.Doc, atts []couchpush.Attachment) (string, error) {
	prev, gen, err := s.get(ctx, doc.ID)
	if stderrs.Is(err, couchpush.ErrNotFound) {
		prev = nil
	} else if err != nil {
		return "", err
	}

	stored, bodies, err := couchpush.Commit(prev, doc, atts)
	if err != nil {
		return "", err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, b := range bodies {
		b := b
		g.Go(func() error {
			name := bodyObjName(couchpush.Digest(b.Data))
			err := s.write(gctx, name, storage.Conditions{DoesNotExist: true}, b.ContentType, b.Data)
			if isPreconditionFailed(err) {
				// Already stored.
				return nil
			}
			return err
		})
	}
	if err = g.Wait(); err != nil {
		return "", errors.Wrap(err, "writing attachment bodies")
	}

	j, err := json.Marshal(stored)
	if err != nil {
		return "", errors.Wrapf(err, "encoding %s", doc.ID)
	}

	cond := storage.Conditions{DoesNotExist: true}
	if prev != nil {
		cond = storage.Conditions{GenerationMatch: gen}
	}
	err = s.write(ctx, docObjName(doc.ID), cond, "application/json", j)
	if isPreconditionFailed(err) {
		return "", errors.Wrapf(couchpush.ErrConflict, "doc %s", doc.ID)
	}
	if err != nil {
		return "", err
	}

	return stored.Rev, nil
}

func (s *Store) write(ctx context.Context, name string, cond storage.Conditions, contentType string, data []byte) error {
	w := s.bucket.Object(name).If(cond).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		w.Close()
		return errors.Wrapf(err, "writing object %s", name)
	}
	return errors.Wrapf(w.Close(), "closing object %s", name)
}

func isPreconditionFailed(err error) bool {
	var e *googleapi.Error
	return stderrs.As(err, &e) && e.Code == http.StatusPreconditionFailed
}

func docObjName(id string) string {
	return "d:" + hex.EncodeToString([]byte(id))
}

func bodyObjName(digest string) string {
	return "b:" + couchpush.DigestKey(digest)
}

func init() {
	store.Register("gcs", func(ctx context.Context, conf map[string]interface{}) (couchpush.Store, error) {
		var (
			creds, _      = conf["creds"].(string)
			bucketName, _ = conf["bucket"].(string)
			project, _    = conf["project"].(string)
		)
		if u, err := store.URL(conf); err == nil {
			// gs://BUCKET?creds=FILE&project=PROJECT
			bucketName = u.Host
			if v := u.Query().Get("creds"); v != "" {
				creds = v
			}
			if v := u.Query().Get("project"); v != "" {
				project = v
			}
		}
		if bucketName == "" {
			return nil, couchpush.NoDatabase("gs:")
		}

		var options []option.ClientOption
		if creds != "" {
			options = append(options, option.WithCredentialsFile(creds))
		}
		c, err := storage.NewClient(ctx, options...)
		if err != nil {
			return nil, errors.Wrap(err, "creating cloud storage client")
		}
		return New(c.Bucket(bucketName), project), nil
	}, "gs")
}
