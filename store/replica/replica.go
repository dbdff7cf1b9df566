// Package replica implements a document store that mirrors writes to other stores.
package replica

import (
	"context"
	"io"
	"log"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/bobg/couchpush"
	"github.com/bobg/couchpush/queue"
	"github.com/bobg/couchpush/store"
)

var (
	_ couchpush.Store            = &Store{}
	_ couchpush.Ensurer          = &Store{}
	_ couchpush.AttachmentGetter = &Store{}
)

// Store is a document store that delegates reads and writes to a primary store
// and mirrors each successful write to two sets of replica stores.
//
// Revision tokens are the primary's.
// Each replica keeps its own,
// and a mirror write is a push through a couchpush.Syncer,
// so a replica that already has the document's content is not written to.
//
// One set of replicas is synchronous:
// all of them are brought up to date before a write returns,
// and an error from any causes the write to fail
// (though the primary keeps the new revision).
// The other set is asynchronous:
// a write queues the document for mirroring and does not wait.
// Asynchronous mirroring happens one document at a time,
// in write order,
// and errors are logged.
type Store struct {
	primary couchpush.Store
	sync    []*couchpush.Syncer
	async   []*couchpush.Syncer
	q       *queue.Queue[string]
}

// New produces a new Store.
// If there are asynchronous replicas,
// a goroutine is launched to mirror to them;
// Close stops it after it catches up.
//
// A primary that holds attachments must be a couchpush.AttachmentGetter
// so their content can be mirrored.
func New(primary couchpush.Store, sync, async []couchpush.Store) *Store {
	result := &Store{primary: primary}
	for _, s := range sync {
		result.sync = append(result.sync, couchpush.NewSyncer(s, couchpush.MultipartWriter{}))
	}
	for _, s := range async {
		result.async = append(result.async, couchpush.NewSyncer(s, couchpush.MultipartWriter{}))
	}
	if len(result.async) > 0 {
		result.q = queue.New(result.mirrorAsync, func(id string, err error) {
			if err != nil {
				log.Printf("ERROR mirroring %s to async replicas: %s", id, err)
			}
		})
	}
	return result
}

// Get implements couchpush.Getter.
func (s *Store) Get(ctx context.Context, id string) (*couchpush.Doc, error) {
	return s.primary.Get(ctx, id)
}

// GetAttachment implements couchpush.AttachmentGetter.
func (s *Store) GetAttachment(ctx context.Context, id, name string) ([]byte, error) {
	ag, ok := s.primary.(couchpush.AttachmentGetter)
	if !ok {
		return nil, errors.New("primary store cannot get attachments")
	}
	return ag.GetAttachment(ctx, id, name)
}

// Put implements couchpush.Store.
func (s *Store) Put(ctx context.Context, doc couchpush.Doc) (string, error) {
	rev, err := s.primary.Put(ctx, doc)
	if err != nil {
		return "", err
	}
	return rev, s.mirror(ctx, doc.ID)
}

// PutMultipart implements couchpush.Store.
func (s *Store) PutMultipart(ctx context.Context, doc couchpush.Doc, atts []couchpush.Attachment) (string, error) {
	rev, err := s.primary.PutMultipart(ctx, doc, atts)
	if err != nil {
		return "", err
	}
	return rev, s.mirror(ctx, doc.ID)
}

func (s *Store) mirror(ctx context.Context, id string) error {
	if s.q != nil {
		s.q.Push(id)
	}
	if len(s.sync) == 0 {
		return nil
	}

	doc, atts, err := s.snapshot(ctx, id)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for i, sy := range s.sync {
		i, sy := i, sy
		g.Go(func() error {
			_, err := sy.Sync(ctx, doc, atts)
			return errors.Wrapf(err, "mirroring %s to sync replica %d", id, i)
		})
	}
	return g.Wait()
}

func (s *Store) mirrorAsync(id string) error {
	ctx := context.Background()

	doc, atts, err := s.snapshot(ctx, id)
	if err != nil {
		return err
	}
	for i, sy := range s.async {
		if _, err := sy.Sync(ctx, doc, atts); err != nil {
			return errors.Wrapf(err, "async replica %d", i)
		}
	}
	return nil
}

// snapshot reads the current version of a document from the primary,
// with the content of all its attachments,
// in a form ready to push to a replica.
func (s *Store) snapshot(ctx context.Context, id string) (couchpush.Doc, []couchpush.Attachment, error) {
	doc, err := s.primary.Get(ctx, id)
	if err != nil {
		return couchpush.Doc{}, nil, errors.Wrapf(err, "reading %s from primary", id)
	}

	var atts []couchpush.Attachment
	for _, name := range doc.AttachmentNames() {
		data, err := s.GetAttachment(ctx, id, name)
		if err != nil {
			return couchpush.Doc{}, nil, errors.Wrapf(err, "reading attachment %s of %s from primary", name, id)
		}
		atts = append(atts, couchpush.Attachment{
			Name:        name,
			ContentType: doc.Attachments[name].ContentType,
			Data:        data,
		})
	}

	out := doc.Clone()
	out.Rev = ""
	out.Attachments = nil
	return out, atts, nil
}

// Ensure prepares the primary and all replicas.
func (s *Store) Ensure(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, st := range s.all() {
		if e, ok := st.(couchpush.Ensurer); ok {
			g.Go(func() error { return e.Ensure(ctx) })
		}
	}
	return g.Wait()
}

// Close waits for asynchronous mirroring to catch up,
// then closes the primary and all replicas that are io.Closers.
func (s *Store) Close() error {
	if s.q != nil {
		s.q.Close()
	}
	var result error
	for _, st := range s.all() {
		if c, ok := st.(io.Closer); ok {
			if err := c.Close(); err != nil && result == nil {
				result = err
			}
		}
	}
	return result
}

func (s *Store) all() []couchpush.Store {
	result := []couchpush.Store{s.primary}
	for _, sy := range s.sync {
		result = append(result, sy.Store())
	}
	for _, sy := range s.async {
		result = append(result, sy.Store())
	}
	return result
}

func nestedList(ctx context.Context, conf map[string]interface{}, key string) ([]couchpush.Store, error) {
	items, ok := conf[key].([]interface{})
	if !ok {
		return nil, nil
	}
	var result []couchpush.Store
	for _, item := range items {
		nested, ok := item.(map[string]interface{})
		if !ok {
			return nil, errors.Errorf(`%q item is not an object`, key)
		}
		s, err := store.FromConfig(ctx, nested)
		if err != nil {
			return nil, errors.Wrapf(err, "creating nested %s store", key)
		}
		result = append(result, s)
	}
	return result, nil
}

func init() {
	store.Register("replica", func(ctx context.Context, conf map[string]interface{}) (couchpush.Store, error) {
		primaryConf, ok := conf["primary"].(map[string]interface{})
		if !ok {
			return nil, errors.New(`missing "primary" parameter`)
		}
		primary, err := store.FromConfig(ctx, primaryConf)
		if err != nil {
			return nil, errors.Wrap(err, "creating primary store")
		}

		syncStores, err := nestedList(ctx, conf, "sync")
		if err != nil {
			return nil, err
		}
		asyncStores, err := nestedList(ctx, conf, "async")
		if err != nil {
			return nil, err
		}

		return New(primary, syncStores, asyncStores), nil
	})
}
