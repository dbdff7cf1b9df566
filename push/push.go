// Package push compiles a document from a source path and pushes it into a store,
// once or every time the source changes.
package push

import (
	"context"
	"io"
	"log"
	"sync"

	"github.com/bobg/couchpush"
	"github.com/bobg/couchpush/compile"
	"github.com/bobg/couchpush/queue"
	"github.com/bobg/couchpush/store"
	"github.com/bobg/couchpush/watch"
)

// Callback receives the outcome of the first push.
// Exactly one of its arguments is non-nil.
type Callback func(*couchpush.Result, error)

// Observer receives the outcome of each push triggered by a change in watch mode.
type Observer interface {
	Observe(ctx context.Context, res *couchpush.Result, err error)
}

// ObserverFunc is a function implementing Observer.
type ObserverFunc func(context.Context, *couchpush.Result, error)

// Observe implements Observer.
func (f ObserverFunc) Observe(ctx context.Context, res *couchpush.Result, err error) {
	f(ctx, res, err)
}

// LogObserver is an Observer that writes each outcome to the log.
type LogObserver struct{}

// Observe implements Observer.
func (LogObserver) Observe(_ context.Context, res *couchpush.Result, err error) {
	switch {
	case err != nil:
		log.Printf("ERROR pushing: %s", err)
	case res.Unchanged:
		log.Printf("%s unchanged (rev %s)", res.ID, res.Rev)
	default:
		log.Printf("pushed %s (rev %s)", res.ID, res.Rev)
	}
}

// CompileFunc produces a candidate document and its attachments from a source path.
type CompileFunc func(source string, opts compile.Options) (couchpush.Doc, []couchpush.Attachment, error)

// Options control a push.
type Options struct {
	// Watch keeps pushing every time the source changes.
	Watch bool

	// Multipart sends new attachments as separate binary parts
	// instead of inline base64 data.
	Multipart bool

	// Observer receives the outcome of each push after the first in watch mode.
	// The default is LogObserver.
	Observer Observer

	// Compile produces the document to push.
	// The default is compile.Compile.
	Compile CompileFunc

	// Changes, if non-nil, is used in watch mode in place of a filesystem watcher on the source.
	Changes <-chan watch.Event
}

// Run pushes the document compiled from source into the store at target.
// The outcome of the first push goes to cb,
// which is called exactly once.
//
// The store is prepared, if it is a couchpush.Ensurer, before anything else.
// Failure to open or prepare the store is reported to cb
// and nothing more is done.
//
// Without opts.Watch, Run returns after calling cb,
// and the error it returns is the one given to cb.
//
// With opts.Watch, Run then keeps pushing after every change to source,
// one push at a time,
// reporting each outcome to opts.Observer.
// A failed push does not stop the watch.
// Run returns when ctx is canceled or opts.Changes is closed.
func Run(ctx context.Context, target, source string, opts Options, cb Callback) error {
	s, err := store.Open(ctx, target)
	if err != nil {
		if couchpush.KindOf(err) == couchpush.KindUnknown {
			err = couchpush.InvalidTarget(target, err)
		}
		cb(nil, err)
		return err
	}
	if c, ok := s.(io.Closer); ok {
		defer c.Close()
	}
	return RunStore(ctx, s, source, opts, cb)
}

// RunStore is like Run but pushes into an already-open store.
func RunStore(ctx context.Context, s couchpush.Store, source string, opts Options, cb Callback) error {
	if e, ok := s.(couchpush.Ensurer); ok {
		if err := e.Ensure(ctx); err != nil {
			err = couchpush.StoreUnprepared(err)
			cb(nil, err)
			return err
		}
	}

	p := &pusher{
		sy:      couchpush.NewSyncer(s, couchpush.WriterFor(couchpush.ModeFor(opts.Multipart))),
		source:  source,
		compile: opts.Compile,
		multi:   opts.Multipart,
	}
	if p.compile == nil {
		p.compile = compile.Compile
	}

	if !opts.Watch {
		res, err := p.push(ctx)
		cb(res, err)
		return err
	}

	// Subscribe before the first push so no change is missed.
	changes := opts.Changes
	if changes == nil {
		w, err := watch.New(source)
		if err != nil {
			e := couchpush.WatchFailed(source, err)
			cb(nil, e)
			return e
		}
		defer w.Close()
		changes = w.Events()
	}

	observer := opts.Observer
	if observer == nil {
		observer = LogObserver{}
	}

	var once sync.Once
	first := func(res *couchpush.Result, err error) {
		once.Do(func() { cb(res, err) })
	}

	// The first push goes through the queue too,
	// so a change arriving during it waits its turn.
	q := queue.New(func(r run) error {
		res, err := p.push(ctx)
		if r.first {
			first(res, err)
		} else {
			observer.Observe(ctx, res, err)
		}
		return err
	}, nil)

	q.Push(run{first: true})

	for {
		select {
		case <-ctx.Done():
			q.Stop()
			first(nil, ctx.Err())
			return nil

		case ev, ok := <-changes:
			if !ok {
				q.Close()
				return nil
			}
			q.Push(run{ev: ev})
		}
	}
}

type run struct {
	first bool
	ev    watch.Event
}

type pusher struct {
	sy      *couchpush.Syncer
	source  string
	compile CompileFunc
	multi   bool
}

func (p *pusher) push(ctx context.Context) (*couchpush.Result, error) {
	doc, atts, err := p.compile(p.source, compile.Options{Multipart: p.multi})
	if err != nil {
		return nil, couchpush.CompileFailed(err)
	}
	if doc.ID == "" {
		return nil, couchpush.MissingID()
	}
	return p.sy.Sync(ctx, doc, atts)
}
