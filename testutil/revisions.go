package testutil

import (
	"context"
	"fmt"
	"testing"
	"testing/quick"

	"github.com/bobg/couchpush"
)

// Revisions writes a random sequence of versions of a document to a store
// and makes sure each write advances the revision generation by one
// and that the last write is what comes back from Get.
// Each call to the quick.Check helper uses a fresh document id beginning with prefix.
func Revisions(ctx context.Context, t *testing.T, store couchpush.Store, prefix string) {
	var n int
	f := func(values []string) bool {
		n++
		id := fmt.Sprintf("%s-%d", prefix, n)

		var rev string
		for i, v := range values {
			doc := couchpush.Doc{
				ID:     id,
				Rev:    rev,
				Fields: map[string]interface{}{"value": v},
			}
			newRev, err := store.Put(ctx, doc)
			if err != nil {
				t.Logf("writing version %d of %s: %s", i, id, err)
				return false
			}
			if got := couchpush.RevNum(newRev); got != i+1 {
				t.Logf("version %d of %s has rev %s", i, id, newRev)
				return false
			}
			rev = newRev
		}
		if len(values) == 0 {
			return true
		}

		got, err := store.Get(ctx, id)
		if err != nil {
			t.Logf("getting %s: %s", id, err)
			return false
		}
		if got.Rev != rev {
			t.Logf("got rev %s for %s, want %s", got.Rev, id, rev)
			return false
		}
		if got.Fields["value"] != values[len(values)-1] {
			t.Logf("got value %v for %s, want %s", got.Fields["value"], id, values[len(values)-1])
			return false
		}
		return true
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 20}); err != nil {
		t.Error(err)
	}
}
