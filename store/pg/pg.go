// Package pg implements a document store on a Postgresql database.
package pg

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/bobg/couchpush"
	"github.com/bobg/couchpush/store"
	"github.com/bobg/couchpush/store/sqldb"
)

var _ couchpush.Store = &Store{}

// Store is a Postgresql-based document store.
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
  body BYTEA NOT NULL
);

CREATE TABLE IF NOT EXISTS attachments (
  doc_id TEXT NOT NULL,
  name TEXT NOT NULL,
  content_type TEXT NOT NULL,
  digest TEXT NOT NULL,
  length BIGINT NOT NULL,
  revpos INTEGER NOT NULL,
  PRIMARY KEY (doc_id, name)
);

CREATE TABLE IF NOT EXISTS bodies (
  digest TEXT PRIMARY KEY NOT NULL,
  data BYTEA NOT NULL
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
	store.Register("pg", func(ctx context.Context, conf map[string]interface{}) (couchpush.Store, error) {
		conn, ok := conf["conn"].(string)
		if !ok {
			u, err := store.URL(conf)
			if err != nil {
				return nil, errors.New(`missing "conn" parameter`)
			}
			if strings.Trim(u.Path, "/") == "" {
				return nil, couchpush.NoDatabase(u.Redacted())
			}
			conn = u.String()
		}
		db, err := sql.Open("postgres", conn)
		if err != nil {
			return nil, errors.Wrap(err, "opening db")
		}
		return New(ctx, db)
	}, "postgres", "postgresql")
}
