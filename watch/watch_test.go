package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "before.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	w, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err = os.WriteFile(filepath.Join(dir, "after.txt"), []byte("y"), 0644); err != nil {
		t.Fatal(err)
	}

	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-w.Events():
			if !ok {
				t.Fatal("events channel closed")
			}
			if filepath.Base(ev.Path) == "after.txt" {
				return
			}
			if filepath.Base(ev.Path) == "before.txt" {
				t.Errorf("got event %s for preexisting file", ev.Op)
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestClose(t *testing.T) {
	w, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err = w.Close(); err != nil {
		t.Fatal(err)
	}
	if err = w.Close(); err != nil {
		t.Fatal(err)
	}
	for range w.Events() {
	}
}

func TestNonexistent(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("got no error watching nonexistent path")
	}
}
