package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"github.com/bobg/couchpush"
)

type recorder struct {
	msgs   []kafka.Message
	closed bool
}

func (r *recorder) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	r.msgs = append(r.msgs, msgs...)
	return nil
}

func (r *recorder) Close() error {
	r.closed = true
	return nil
}

func TestObserve(t *testing.T) {
	var (
		ctx = context.Background()
		now = time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
		rec = new(recorder)
		o   = &Observer{w: rec, now: func() time.Time { return now }}
	)

	o.Observe(ctx, &couchpush.Result{OK: true, ID: "doc1", Rev: "1-abc"}, nil)
	o.Observe(ctx, nil, couchpush.MissingID())
	o.Observe(ctx, nil, errors.New("boom"))

	if len(rec.msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(rec.msgs))
	}

	if got := string(rec.msgs[0].Key); got != "doc1" {
		t.Errorf("got key %q, want doc1", got)
	}
	if rec.msgs[1].Key != nil {
		t.Errorf("got key %q for error, want none", rec.msgs[1].Key)
	}

	cases := []map[string]interface{}{
		{
			"result": map[string]interface{}{"ok": true, "id": "doc1", "rev": "1-abc"},
			"time":   "2020-01-02T03:04:05Z",
		},
		{
			"error": map[string]interface{}{"error": "missing_id", "reason": "Missing _id property"},
			"time":  "2020-01-02T03:04:05Z",
		},
		{
			"error": map[string]interface{}{"error": "unknown_error", "reason": "boom"},
			"time":  "2020-01-02T03:04:05Z",
		},
	}
	for i, want := range cases {
		var got map[string]interface{}
		if err := json.Unmarshal(rec.msgs[i].Value, &got); err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("message %d mismatch (-want +got):\n%s", i, diff)
		}
		if !rec.msgs[i].Time.Equal(now) {
			t.Errorf("message %d: got time %s, want %s", i, rec.msgs[i].Time, now)
		}
	}

	if err := o.Close(); err != nil {
		t.Fatal(err)
	}
	if !rec.closed {
		t.Error("writer not closed")
	}
}
