package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/bobg/couchpush"
)

type fakeStore struct {
	couchpush.Store
	conf map[string]interface{}
}

func init() {
	Register("fake", func(_ context.Context, conf map[string]interface{}) (couchpush.Store, error) {
		return &fakeStore{conf: conf}, nil
	}, "fake", "fakes")
}

func TestCreate(t *testing.T) {
	ctx := context.Background()

	s, err := Create(ctx, "fake", map[string]interface{}{"x": "y"})
	if err != nil {
		t.Fatal(err)
	}
	if got := s.(*fakeStore).conf["x"]; got != "y" {
		t.Errorf("got conf x = %v, want y", got)
	}

	_, err = Create(ctx, "nosuchtype", nil)
	if k := couchpush.KindOf(err); k != couchpush.KindInvalidTarget {
		t.Errorf("got error kind %q, want %q", k, couchpush.KindInvalidTarget)
	}
}

func TestFromConfig(t *testing.T) {
	ctx := context.Background()

	if _, err := FromConfig(ctx, map[string]interface{}{"type": "fake"}); err != nil {
		t.Fatal(err)
	}
	if _, err := FromConfig(ctx, map[string]interface{}{}); err == nil {
		t.Error("got no error for config without type")
	}

	s, err := Nested(ctx, map[string]interface{}{
		"type":   "wrapper",
		"nested": map[string]interface{}{"type": "fake", "z": "w"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := s.(*fakeStore).conf["z"]; got != "w" {
		t.Errorf("got nested conf z = %v, want w", got)
	}
	if _, err = Nested(ctx, map[string]interface{}{"type": "wrapper"}); err == nil {
		t.Error("got no error for missing nested config")
	}
	if _, err = Nested(ctx, map[string]interface{}{"nested": map[string]interface{}{}}); err == nil {
		t.Error("got no error for nested config without type")
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	for _, target := range []string{"fake://host/db", "fakes:opaque"} {
		s, err := Open(ctx, target)
		if err != nil {
			t.Fatalf("opening %s: %s", target, err)
		}
		conf := s.(*fakeStore).conf
		if conf["type"] != "fake" || conf["url"] != target {
			t.Errorf("opening %s: got conf %v", target, conf)
		}
		u, err := URL(conf)
		if err != nil {
			t.Fatal(err)
		}
		if u.String() != target {
			t.Errorf("got URL %s, want %s", u, target)
		}
	}

	for _, target := range []string{"", "no-scheme", "nosuch://host/db", "%zz"} {
		_, err := Open(ctx, target)
		if k := couchpush.KindOf(err); k != couchpush.KindInvalidTarget {
			t.Errorf("opening %q: got error kind %q, want %q", target, k, couchpush.KindInvalidTarget)
		}
	}
}

func TestInt(t *testing.T) {
	conf := map[string]interface{}{
		"int":     17,
		"int64":   int64(18),
		"float64": float64(19),
		"number":  json.Number("20"),
		"bad":     json.Number("2.5"),
		"string":  "21",
	}
	cases := []struct {
		key    string
		want   int
		wantOK bool
	}{
		{key: "int", want: 17, wantOK: true},
		{key: "int64", want: 18, wantOK: true},
		{key: "float64", want: 19, wantOK: true},
		{key: "number", want: 20, wantOK: true},
		{key: "bad", wantOK: false},
		{key: "string", wantOK: false},
		{key: "missing", wantOK: false},
	}
	for _, tc := range cases {
		got, ok := Int(conf, tc.key)
		if ok != tc.wantOK || (ok && got != tc.want) {
			t.Errorf("Int(%s) = %d, %v; want %d, %v", tc.key, got, ok, tc.want, tc.wantOK)
		}
	}
}
