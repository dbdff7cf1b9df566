package push

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/bobg/couchpush"
	"github.com/bobg/couchpush/compile"
	_ "github.com/bobg/couchpush/store/couch"
	"github.com/bobg/couchpush/store/mem"
	"github.com/bobg/couchpush/testutil"
	"github.com/bobg/couchpush/watch"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func sourceDir(t *testing.T) string {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"_id":                "doc1\n",
		"title":              "xyzzy\n",
		"_attachments/a.txt": "aaa",
		"_attachments/b.txt": "bbb",
		"_attachments/c.txt": "ccc",
	})
	return dir
}

// pushOnce runs a non-watch push and returns what the callback got.
func pushOnce(ctx context.Context, t *testing.T, s couchpush.Store, source string, opts Options) (*couchpush.Result, error) {
	var (
		calls int
		res   *couchpush.Result
		err   error
	)
	retErr := RunStore(ctx, s, source, opts, func(r *couchpush.Result, e error) {
		calls++
		res, err = r, e
	})
	if calls != 1 {
		t.Fatalf("got %d callback calls, want 1", calls)
	}
	if retErr != err {
		t.Errorf("Run returned %v, callback got %v", retErr, err)
	}
	return res, err
}

func TestMissingID(t *testing.T) {
	ctx := context.Background()
	c := testutil.NewCounter(mem.New())

	opts := Options{
		Compile: func(string, compile.Options) (couchpush.Doc, []couchpush.Attachment, error) {
			return couchpush.Doc{Fields: map[string]interface{}{"x": "y"}}, nil, nil
		},
	}
	_, err := pushOnce(ctx, t, c, "ignored", opts)
	if k := couchpush.KindOf(err); k != couchpush.KindMissingID {
		t.Errorf("got error kind %q, want %q", k, couchpush.KindMissingID)
	}
	gets, puts, multiparts := c.Counts()
	if gets+puts+multiparts != 0 {
		t.Errorf("got %d gets, %d puts, %d multipart puts; want none", gets, puts, multiparts)
	}
}

func TestCompileFailed(t *testing.T) {
	ctx := context.Background()
	c := testutil.NewCounter(mem.New())

	_, err := pushOnce(ctx, t, c, filepath.Join(t.TempDir(), "nonexistent"), Options{})
	if k := couchpush.KindOf(err); k != couchpush.KindCompileFailed {
		t.Errorf("got error kind %q, want %q", k, couchpush.KindCompileFailed)
	}
	if n := c.Writes(); n != 0 {
		t.Errorf("got %d writes, want 0", n)
	}
}

func TestWatchFailed(t *testing.T) {
	ctx := context.Background()
	c := testutil.NewCounter(mem.New())

	_, err := pushOnce(ctx, t, c, filepath.Join(t.TempDir(), "nonexistent"), Options{Watch: true})
	if k := couchpush.KindOf(err); k != couchpush.KindWatchFailed {
		t.Errorf("got error kind %q, want %q", k, couchpush.KindWatchFailed)
	}
	if n := c.Writes(); n != 0 {
		t.Errorf("got %d writes, want 0", n)
	}
}

func TestPushTwice(t *testing.T) {
	for _, multipart := range []bool{false, true} {
		t.Run(couchpush.ModeFor(multipart).String(), func(t *testing.T) {
			var (
				ctx    = context.Background()
				s      = mem.New()
				c      = testutil.NewCounter(s)
				source = sourceDir(t)
				opts   = Options{Multipart: multipart}
			)

			// The document does not exist yet.
			res, err := pushOnce(ctx, t, c, source, opts)
			if err != nil {
				t.Fatal(err)
			}
			if res.Unchanged {
				t.Error("first push reported unchanged")
			}
			if n := couchpush.RevNum(res.Rev); n != 1 {
				t.Errorf("got rev %s, want generation 1", res.Rev)
			}
			if n := c.Writes(); n != 1 {
				t.Errorf("got %d writes, want 1", n)
			}
			for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
				if _, err := s.GetAttachment(ctx, "doc1", name); err != nil {
					t.Errorf("getting attachment %s: %s", name, err)
				}
			}

			// Nothing changed.
			c.Reset()
			res2, err := pushOnce(ctx, t, c, source, opts)
			if err != nil {
				t.Fatal(err)
			}
			want := &couchpush.Result{OK: true, ID: "doc1", Rev: res.Rev, Unchanged: true}
			if diff := cmp.Diff(want, res2); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
			gets, puts, multiparts := c.Counts()
			if gets != 1 || puts != 0 || multiparts != 0 {
				t.Errorf("got %d gets, %d puts, %d multipart puts; want 1, 0, 0", gets, puts, multiparts)
			}
		})
	}
}

// One of three attachments changes;
// only it is transmitted.
func TestOneAttachmentChanged(t *testing.T) {
	var (
		ctx    = context.Background()
		s      = mem.New()
		c      = testutil.NewCounter(s)
		source = sourceDir(t)
		opts   = Options{Multipart: true}
	)

	res, err := pushOnce(ctx, t, c, source, opts)
	if err != nil {
		t.Fatal(err)
	}

	writeFiles(t, source, map[string]string{"_attachments/b.txt": "BBB"})

	c.Reset()
	res2, err := pushOnce(ctx, t, c, source, opts)
	if err != nil {
		t.Fatal(err)
	}
	if res2.Unchanged {
		t.Error("got unchanged after attachment change")
	}
	if res2.Rev == res.Rev {
		t.Errorf("rev did not change from %s", res.Rev)
	}

	_, puts, multiparts := c.Counts()
	if puts != 0 || multiparts != 1 {
		t.Fatalf("got %d puts, %d multipart puts; want 0, 1", puts, multiparts)
	}
	doc, atts := c.Last()
	if len(atts) != 1 || atts[0].Name != "b.txt" || string(atts[0].Data) != "BBB" {
		t.Errorf("got transmitted attachments %+v, want only b.txt", atts)
	}

	var refs []string
	for name, stub := range doc.Attachments {
		if !stub.Stub {
			t.Errorf("attachment %s is not a stub", name)
		}
		refs = append(refs, name)
	}
	sort.Strings(refs)
	if diff := cmp.Diff([]string{"a.txt", "c.txt"}, refs); diff != "" {
		t.Errorf("referenced attachments mismatch (-want +got):\n%s", diff)
	}

	got, err := s.GetAttachment(ctx, "doc1", "b.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "BBB" {
		t.Errorf("got b.txt = %q, want BBB", got)
	}
}

type failingEnsurer struct {
	couchpush.Store
}

func (failingEnsurer) Ensure(context.Context) error {
	return errors.New("no such database")
}

func TestEnsureFailure(t *testing.T) {
	ctx := context.Background()
	c := testutil.NewCounter(mem.New())

	_, err := pushOnce(ctx, t, failingEnsurer{Store: c}, sourceDir(t), Options{})
	if k := couchpush.KindOf(err); k != couchpush.KindStoreUnprepared {
		t.Errorf("got error kind %q, want %q", k, couchpush.KindStoreUnprepared)
	}
	gets, puts, multiparts := c.Counts()
	if gets+puts+multiparts != 0 {
		t.Errorf("got %d gets, %d puts, %d multipart puts; want none", gets, puts, multiparts)
	}
}

func TestRunTargets(t *testing.T) {
	ctx := context.Background()
	source := sourceDir(t)

	cases := []struct {
		target   string
		wantKind string
	}{
		{target: "mem:", wantKind: ""},
		{target: "nosuchscheme://host/db", wantKind: couchpush.KindInvalidTarget},
		{target: "no scheme", wantKind: couchpush.KindInvalidTarget},
		{target: "http://localhost:5984", wantKind: couchpush.KindNoDatabase},
	}
	for _, tc := range cases {
		t.Run(tc.target, func(t *testing.T) {
			var calls int
			err := Run(ctx, tc.target, source, Options{}, func(res *couchpush.Result, err error) {
				calls++
				if err == nil && res == nil {
					t.Error("callback got neither result nor error")
				}
			})
			if calls != 1 {
				t.Errorf("got %d callback calls, want 1", calls)
			}
			if k := couchpush.KindOf(err); k != tc.wantKind {
				t.Errorf("got error kind %q (%v), want %q", k, err, tc.wantKind)
			}
		})
	}
}

type outcome struct {
	res *couchpush.Result
	err error
}

func TestWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		s        = mem.New()
		source   = sourceDir(t)
		changes  = make(chan watch.Event)
		observed = make(chan outcome, 10)
		firstCh  = make(chan outcome, 1)
		runErr   = make(chan error, 1)
	)

	opts := Options{
		Watch:   true,
		Changes: changes,
		Observer: ObserverFunc(func(_ context.Context, res *couchpush.Result, err error) {
			observed <- outcome{res: res, err: err}
		}),
	}
	go func() {
		runErr <- RunStore(ctx, s, source, opts, func(res *couchpush.Result, err error) {
			firstCh <- outcome{res: res, err: err}
		})
	}()

	first := <-firstCh
	if first.err != nil {
		t.Fatal(first.err)
	}

	// A change to the source produces a new revision.
	writeFiles(t, source, map[string]string{"title": "plugh\n"})
	changes <- watch.Event{Path: filepath.Join(source, "title")}
	o := <-observed
	if o.err != nil {
		t.Fatal(o.err)
	}
	if o.res.Unchanged || couchpush.RevNum(o.res.Rev) != 2 {
		t.Errorf("got %+v after change, want a generation-2 write", o.res)
	}

	// A notification with no real change is a no-op.
	changes <- watch.Event{Path: filepath.Join(source, "title")}
	o = <-observed
	if o.err != nil {
		t.Fatal(o.err)
	}
	if !o.res.Unchanged {
		t.Errorf("got %+v, want unchanged", o.res)
	}

	// A failed push does not stop the watch.
	if err := os.Remove(filepath.Join(source, "_id")); err != nil {
		t.Fatal(err)
	}
	changes <- watch.Event{Path: filepath.Join(source, "_id")}
	o = <-observed
	if k := couchpush.KindOf(o.err); k != couchpush.KindMissingID {
		t.Errorf("got error kind %q, want %q", k, couchpush.KindMissingID)
	}

	writeFiles(t, source, map[string]string{"_id": "doc1\n", "title": "quux\n"})
	changes <- watch.Event{Path: filepath.Join(source, "_id")}
	o = <-observed
	if o.err != nil {
		t.Fatal(o.err)
	}
	if couchpush.RevNum(o.res.Rev) != 3 {
		t.Errorf("got rev %s, want generation 3", o.res.Rev)
	}

	cancel()
	if err := <-runErr; err != nil {
		t.Errorf("got error %v from Run after cancel", err)
	}
}

// Changes arriving during a push are all handled afterwards,
// one at a time.
func TestWatchBurst(t *testing.T) {
	var (
		ctx      = context.Background()
		changes  = make(chan watch.Event)
		release  = make(chan struct{})
		inFlight int32
		overlaps int32
		runs     int32
		observed int32
	)

	compileFn := func(string, compile.Options) (couchpush.Doc, []couchpush.Attachment, error) {
		if atomic.AddInt32(&inFlight, 1) > 1 {
			atomic.AddInt32(&overlaps, 1)
		}
		defer atomic.AddInt32(&inFlight, -1)

		n := atomic.AddInt32(&runs, 1)
		if n == 1 {
			<-release
		}
		return couchpush.Doc{ID: "doc1", Fields: map[string]interface{}{"n": float64(n)}}, nil, nil
	}

	opts := Options{
		Watch:   true,
		Changes: changes,
		Compile: compileFn,
		Observer: ObserverFunc(func(context.Context, *couchpush.Result, error) {
			atomic.AddInt32(&observed, 1)
		}),
	}

	done := make(chan error)
	go func() {
		done <- RunStore(ctx, mem.New(), "ignored", opts, func(*couchpush.Result, error) {})
	}()

	for i := 0; i < 3; i++ {
		changes <- watch.Event{}
	}
	close(release)
	close(changes)

	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if runs != 4 {
		t.Errorf("got %d runs, want 4", runs)
	}
	if observed != 3 {
		t.Errorf("got %d observed outcomes, want 3", observed)
	}
	if overlaps != 0 {
		t.Errorf("got %d overlapping runs", overlaps)
	}
}
