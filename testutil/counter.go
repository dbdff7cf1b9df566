package testutil

import (
	"context"
	"sync"

	"github.com/bobg/couchpush"
)

var _ couchpush.Store = &Counter{}

// Counter is a Store that counts the calls made to a nested Store
// and remembers the arguments of the last write.
type Counter struct {
	couchpush.Store

	mu                     sync.Mutex
	gets, puts, multiparts int
	lastDoc                couchpush.Doc
	lastAtts               []couchpush.Attachment
}

// NewCounter produces a new Counter wrapping s.
func NewCounter(s couchpush.Store) *Counter {
	return &Counter{Store: s}
}

// Get implements couchpush.Getter.
func (c *Counter) Get(ctx context.Context, id string) (*couchpush.Doc, error) {
	c.mu.Lock()
	c.gets++
	c.mu.Unlock()
	return c.Store.Get(ctx, id)
}

// Put implements couchpush.Store.
func (c *Counter) Put(ctx context.Context, doc couchpush.Doc) (string, error) {
	c.mu.Lock()
	c.puts++
	c.lastDoc, c.lastAtts = doc, nil
	c.mu.Unlock()
	return c.Store.Put(ctx, doc)
}

// PutMultipart implements couchpush.Store.
func (c *Counter) PutMultipart(ctx context.Context, doc couchpush.Doc, atts []couchpush.Attachment) (string, error) {
	c.mu.Lock()
	c.multiparts++
	c.lastDoc, c.lastAtts = doc, atts
	c.mu.Unlock()
	return c.Store.PutMultipart(ctx, doc, atts)
}

// Counts reports the number of Get, Put, and PutMultipart calls.
func (c *Counter) Counts() (gets, puts, multiparts int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gets, c.puts, c.multiparts
}

// Writes reports the total number of Put and PutMultipart calls.
func (c *Counter) Writes() int {
	_, p, m := c.Counts()
	return p + m
}

// Last reports the arguments of the most recent write.
func (c *Counter) Last() (couchpush.Doc, []couchpush.Attachment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastDoc, c.lastAtts
}

// Reset zeroes the counts.
func (c *Counter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets, c.puts, c.multiparts = 0, 0, 0
}
