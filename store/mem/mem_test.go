package mem

import (
	"context"
	"testing"

	"github.com/bobg/couchpush/testutil"
)

func TestStore(t *testing.T) {
	testutil.ReadWrite(context.Background(), t, New(), "doc1")
}

func TestRevisions(t *testing.T) {
	testutil.Revisions(context.Background(), t, New(), "rev")
}
