package couchpush

import (
	"encoding/json"
	"errors"
	"testing"

	pkgerrors "github.com/pkg/errors"
)

func TestErrorJSON(t *testing.T) {
	cases := []struct {
		err  *Error
		want string
	}{
		{err: MissingID(), want: `{"error":"missing_id","reason":"Missing _id property"}`},
		{err: NoDatabase("http://localhost:5984"), want: `{"error":"no_database","reason":"Not a database: http://localhost:5984"}`},
		{err: InvalidTarget("::", nil), want: `{"error":"invalid_target","reason":"Not a valid database: ::"}`},
		{err: WriteConflict("doc1", ErrConflict), want: `{"error":"write_conflict","reason":"Document update conflict: doc1"}`},
	}
	for _, tc := range cases {
		got, err := json.Marshal(tc.err)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != tc.want {
			t.Errorf("got %s, want %s", got, tc.want)
		}
	}
}

func TestErrorString(t *testing.T) {
	if got, want := MissingID().Error(), "missing_id: Missing _id property"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestErrorChain(t *testing.T) {
	err := WriteConflict("doc1", pkgerrors.Wrap(ErrConflict, "putting doc1"))
	if !errors.Is(err, ErrConflict) {
		t.Error("ErrConflict not found in chain")
	}

	wrapped := pkgerrors.Wrap(FetchFailed("doc1", errors.New("timeout")), "pushing")
	if k := KindOf(wrapped); k != KindFetchFailed {
		t.Errorf("got kind %q, want %q", k, KindFetchFailed)
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{err: nil, want: ""},
		{err: errors.New("boom"), want: KindUnknown},
		{err: StoreUnprepared(errors.New("boom")), want: KindStoreUnprepared},
		{err: CompileFailed(errors.New("boom")), want: KindCompileFailed},
		{err: WriteFailed("doc1", errors.New("boom")), want: KindWriteFailed},
		{err: WatchFailed("src", errors.New("boom")), want: KindWatchFailed},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Errorf("KindOf(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}

	if AsError(nil) != nil {
		t.Error("AsError(nil) is not nil")
	}
	if got := AsError(errors.New("boom")).Reason; got != "boom" {
		t.Errorf("got reason %q, want boom", got)
	}
}
