// Package watch reports changes to a file or directory tree.
package watch

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/rjeczalik/notify"
)

// Event is a change to a path beneath the watched root.
type Event struct {
	Path string
	Op   string
}

// Watcher delivers an Event for each change beneath a root.
// The existing contents of the root produce no events.
type Watcher struct {
	root   string
	fsch   chan notify.EventInfo
	events chan Event

	once sync.Once
	done chan struct{}
	wg   sync.WaitGroup
}

// New starts watching path.
// If path is a directory,
// the whole tree beneath it is watched.
func New(path string) (*Watcher, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "statting %s", path)
	}

	pattern := path
	if info.IsDir() {
		pattern = filepath.Join(path, "...")
	}

	w := &Watcher{
		root:   path,
		fsch:   make(chan notify.EventInfo, 100),
		events: make(chan Event),
		done:   make(chan struct{}),
	}

	if err = notify.Watch(pattern, w.fsch, notify.All); err != nil {
		return nil, errors.Wrapf(err, "watching %s", pattern)
	}

	w.wg.Add(1)
	go w.run()

	return w, nil
}

func (w *Watcher) run() {
	defer w.wg.Done()
	defer close(w.events)

	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.fsch:
			if !ok {
				return
			}
			select {
			case <-w.done:
				return
			case w.events <- Event{Path: ev.Path(), Op: ev.Event().String()}:
			}
		}
	}
}

// Root is the watched path.
func (w *Watcher) Root() string { return w.root }

// Events is the channel of changes.
// It is closed after Close.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Close stops watching.
// It is safe to call more than once.
func (w *Watcher) Close() error {
	w.once.Do(func() {
		notify.Stop(w.fsch)
		close(w.done)
	})
	w.wg.Wait()
	return nil
}
