// Package sqldb implements a document store on a SQL database.
// It is the common part of the sqlite3 and pg stores,
// which supply their own schemas and drivers.
//
// The schema must define these tables
// (the column types may vary by dialect):
//
//	docs (id TEXT PRIMARY KEY, rev TEXT, body <bytes>)
//	attachments (doc_id TEXT, name TEXT, content_type TEXT, digest TEXT, length INTEGER, revpos INTEGER, PRIMARY KEY (doc_id, name))
//	bodies (digest TEXT PRIMARY KEY, data <bytes>)
//
// The body column holds the JSON encoding of a document's fields,
// excluding _id, _rev, and _attachments.
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrs "errors"

	"github.com/bobg/sqlutil"
	"github.com/pkg/errors"

	"github.com/bobg/couchpush"
)

var (
	_ couchpush.Store            = &Store{}
	_ couchpush.Ensurer          = &Store{}
	_ couchpush.AttachmentGetter = &Store{}
)

// Store is a SQL-based document store.
type Store struct {
	db     *sql.DB
	schema string
}

// New produces a new Store using `db` for storage.
// The schema is executed by Ensure.
func New(db *sql.DB, schema string) *Store {
	return &Store{db: db, schema: schema}
}

// DB is the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ensure creates the store's tables if they do not exist.
func (s *Store) Ensure(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.schema)
	return errors.Wrap(err, "creating tables")
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get gets the document with the given id.
func (s *Store) Get(ctx context.Context, id string) (*couchpush.Doc, error) {
	const q = `SELECT rev, body FROM docs WHERE id = $1`

	var (
		rev  string
		body []byte
	)
	err := s.db.QueryRowContext(ctx, q, id).Scan(&rev, &body)
	if stderrs.Is(err, sql.ErrNoRows) {
		return nil, couchpush.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "querying doc %s", id)
	}

	doc := &couchpush.Doc{ID: id, Rev: rev}
	if err = json.Unmarshal(body, &doc.Fields); err != nil {
		return nil, errors.Wrapf(err, "decoding doc %s", id)
	}

	const q2 = `SELECT name, content_type, digest, length, revpos FROM attachments WHERE doc_id = $1`

	err = sqlutil.ForQueryRows(ctx, s.db, q2, id, func(name, contentType, digest string, length int64, revpos int) {
		if doc.Attachments == nil {
			doc.Attachments = make(map[string]couchpush.Stub)
		}
		doc.Attachments[name] = couchpush.Stub{
			ContentType: contentType,
			Digest:      digest,
			Length:      length,
			RevPos:      revpos,
			Stub:        true,
		}
	})
	return doc, errors.Wrap(err, "querying attachments")
}

// GetAttachment gets the content of the named attachment of the document with the given id.
func (s *Store) GetAttachment(ctx context.Context, id, name string) ([]byte, error) {
	const q = `SELECT bodies.data FROM attachments JOIN bodies ON attachments.digest = bodies.digest
		WHERE attachments.doc_id = $1 AND attachments.name = $2`

	var data []byte
	err := s.db.QueryRowContext(ctx, q, id, name).Scan(&data)
	if stderrs.Is(err, sql.ErrNoRows) {
		return nil, couchpush.ErrNotFound
	}
	return data, errors.Wrapf(err, "querying attachment %s of %s", name, id)
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

	body, err := json.Marshal(stored.Fields)
	if err != nil {
		return "", errors.Wrapf(err, "encoding %s", doc.ID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback()

	var res sql.Result
	if prev == nil {
		const q = `INSERT INTO docs (id, rev, body) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`
		res, err = tx.ExecContext(ctx, q, doc.ID, stored.Rev, body)
	} else {
		const q = `UPDATE docs SET rev = $1, body = $2 WHERE id = $3 AND rev = $4`
		res, err = tx.ExecContext(ctx, q, stored.Rev, body, doc.ID, prev.Rev)
	}
	if err != nil {
		return "", errors.Wrapf(err, "writing doc %s", doc.ID)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return "", errors.Wrap(err, "counting affected rows")
	}
	if aff == 0 {
		// Someone else wrote the doc since it was read.
		return "", errors.Wrapf(couchpush.ErrConflict, "doc %s", doc.ID)
	}

	const delq = `DELETE FROM attachments WHERE doc_id = $1`
	if _, err = tx.ExecContext(ctx, delq, doc.ID); err != nil {
		return "", errors.Wrap(err, "deleting old attachment stubs")
	}

	const stubq = `INSERT INTO attachments (doc_id, name, content_type, digest, length, revpos) VALUES ($1, $2, $3, $4, $5, $6)`
	for name, stub := range stored.Attachments {
		_, err = tx.ExecContext(ctx, stubq, doc.ID, name, stub.ContentType, stub.Digest, stub.Length, stub.RevPos)
		if err != nil {
			return "", errors.Wrapf(err, "inserting stub for attachment %s", name)
		}
	}

	const bodyq = `INSERT INTO bodies (digest, data) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	for _, b := range bodies {
		if _, err = tx.ExecContext(ctx, bodyq, couchpush.Digest(b.Data), b.Data); err != nil {
			return "", errors.Wrapf(err, "inserting content of attachment %s", b.Name)
		}
	}

	return stored.Rev, errors.Wrap(tx.Commit(), "committing transaction")
}
