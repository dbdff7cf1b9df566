package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bobg/couchpush/testutil"
)

const addrVar = "COUCHPUSH_REDIS_TESTING_ADDR"

func TestStore(t *testing.T) {
	withStore(t, func(ctx context.Context, s *Store) {
		testutil.ReadWrite(ctx, t, s, "doc1")
	})
}

func TestRevisions(t *testing.T) {
	withStore(t, func(ctx context.Context, s *Store) {
		testutil.Revisions(ctx, t, s, "rev")
	})
}

func withStore(t *testing.T, f func(context.Context, *Store)) {
	addr := os.Getenv(addrVar)
	if addr == "" {
		t.Skipf("to run %s, set %s to the address of a Redis server", t.Name(), addrVar)
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	ctx := context.Background()
	s := New(rdb, fmt.Sprintf("couchpushtest%d", time.Now().UnixNano()))
	if err := s.Ensure(ctx); err != nil {
		t.Fatal(err)
	}

	f(ctx, s)
}
