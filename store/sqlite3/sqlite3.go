// Package sqlite3 implements a document store on a Sqlite database.
package sqlite3

import (
	"context"
	"database/sql"

	_ "github.com/mattn/go-sqlite3" // register the sqlite3 type for sql.Open
	"github.com/pkg/errors"

	"github.com/bobg/couchpush"
	"github.com/bobg/couchpush/store"
	"github.com/bobg/couchpush/store/sqldb"
)

var _ couchpush.Store = &Store{}

// Store is a Sqlite-based document store.
type Store struct {
	*sqldb.Store
}

// Schema is the SQL that New executes.
// It creates the `docs`, `attachments`, and `bodies` tables if they do not exist.
// (If they do exist, they must have the columns, constraints, and indexing described here.)
const Schema = `
CREATE TABLE IF NOT EXISTS docs (
  id TEXT PRIMARY KEY NOT NULL,
  rev TEXT NOT NULL,
  body BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS attachments (
  doc_id TEXT NOT NULL,
  name TEXT NOT NULL,
  content_type TEXT NOT NULL,
  digest TEXT NOT NULL,
  length INTEGER NOT NULL,
  revpos INTEGER NOT NULL,
  PRIMARY KEY (doc_id, name)
);

CREATE TABLE IF NOT EXISTS bodies (
  digest TEXT PRIMARY KEY NOT NULL,
  data BLOB NOT NULL
);
`

// New produces a new Store using `db` for storage.
// It expects to create tables `docs`, `attachments`, and `bodies`,
// or for those tables already to exist with the correct schema.
// (See variable Schema.)
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	s := &Store{Store: sqldb.New(db, Schema)}
	return s, s.Ensure(ctx)
}

func init() {
	store.Register("sqlite3", func(ctx context.Context, conf map[string]interface{}) (couchpush.Store, error) {
		conn, ok := conf["conn"].(string)
		if !ok {
			u, err := store.URL(conf)
			if err != nil {
				return nil, errors.New(`missing "conn" parameter`)
			}
			conn = u.Path
			if conn == "" {
				conn = u.Opaque
			}
		}
		if conn == "" {
			return nil, couchpush.NoDatabase("sqlite3:")
		}
		db, err := sql.Open("sqlite3", conn)
		if err != nil {
			return nil, errors.Wrap(err, "opening db")
		}
		return New(ctx, db)
	}, "sqlite3")
}
