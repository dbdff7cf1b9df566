// Package store is a registry of document-store backends.
//
// Backends register a Factory under a type name in an init function,
// and optionally claim one or more URL schemes.
// A caller can then create a store from a config map
// (whose "type" entry names the backend)
// or from a target URL
// (whose scheme selects the backend and which is passed along as the "url" entry).
package store

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/pkg/errors"

	"github.com/bobg/couchpush"
)

// Factory creates a store from a config map.
type Factory func(context.Context, map[string]interface{}) (couchpush.Store, error)

var (
	registry = make(map[string]Factory)
	schemes  = make(map[string]string)
)

// Register registers a Factory under a type name.
// Any schemes given are mapped to the same type for Open.
func Register(key string, f Factory, scheme ...string) {
	registry[key] = f
	for _, s := range scheme {
		schemes[s] = key
	}
}

// Create creates a store of the registered type key.
func Create(ctx context.Context, key string, conf map[string]interface{}) (couchpush.Store, error) {
	f, ok := registry[key]
	if !ok {
		return nil, couchpush.InvalidTarget(key, errors.Errorf("key %s not found in registry", key))
	}
	return f(ctx, conf)
}

// FromConfig creates a store from a config map whose "type" entry names a registered type.
func FromConfig(ctx context.Context, conf map[string]interface{}) (couchpush.Store, error) {
	typ, ok := conf["type"].(string)
	if !ok {
		return nil, errors.New(`missing "type" parameter`)
	}
	return Create(ctx, typ, conf)
}

// Nested creates the store described by conf's "nested" entry.
// It is for backends that wrap other backends.
func Nested(ctx context.Context, conf map[string]interface{}) (couchpush.Store, error) {
	nested, ok := conf["nested"].(map[string]interface{})
	if !ok {
		return nil, errors.New(`missing "nested" parameter`)
	}
	if _, ok := nested["type"].(string); !ok {
		return nil, errors.New(`"nested" parameter missing "type"`)
	}
	s, err := FromConfig(ctx, nested)
	return s, errors.Wrap(err, "creating nested store")
}

// Open creates a store from a target URL.
// The URL's scheme selects the backend.
// An unparseable URL or an unclaimed scheme is an invalid_target error.
func Open(ctx context.Context, target string) (couchpush.Store, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, couchpush.InvalidTarget(target, err)
	}
	if u.Scheme == "" {
		return nil, couchpush.InvalidTarget(target, nil)
	}
	typ, ok := schemes[u.Scheme]
	if !ok {
		return nil, couchpush.InvalidTarget(target, nil)
	}
	return Create(ctx, typ, map[string]interface{}{
		"type": typ,
		"url":  target,
	})
}

// URL parses the "url" entry of conf.
func URL(conf map[string]interface{}) (*url.URL, error) {
	s, ok := conf["url"].(string)
	if !ok {
		return nil, errors.New(`missing "url" parameter`)
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil, couchpush.InvalidTarget(s, err)
	}
	return u, nil
}

// Int gets an integer from conf,
// which may hold it as a float64 or json.Number if conf came from JSON.
func Int(conf map[string]interface{}, key string) (int, bool) {
	switch v := conf[key].(type) {
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}
