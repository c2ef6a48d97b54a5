// Package store describes the object store holding uploaded CAR archives.
package store

import (
	"context"
	"errors"
	"io"
	"iter"
	"strings"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("object not found")

// Object describes a stored archive.
type Object struct {
	Key  string
	Size int64
}

// Store is a bucket of objects addressed by slash separated keys.
type Store interface {
	// Bucket names the bucket, used when reporting archive locations.
	Bucket() string
	// List yields every object whose key starts with prefix, in lexicographic
	// key order. Iteration stops at the first error.
	List(ctx context.Context, prefix string) iter.Seq2[Object, error]
	// Head returns the object stored under key, or ErrNotFound.
	Head(ctx context.Context, key string) (Object, error)
	// Get opens the object stored under key for reading, or returns
	// ErrNotFound.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// IsCAR reports whether key names a CAR archive.
func IsCAR(key string) bool {
	return strings.HasSuffix(key, ".car")
}

// Location formats an object as bucket/key.
func Location(s Store, key string) string {
	return s.Bucket() + "/" + key
}

// ListCARs collects the CAR archives under prefix.
func ListCARs(ctx context.Context, s Store, prefix string) ([]Object, error) {
	var out []Object
	for obj, err := range s.List(ctx, prefix) {
		if err != nil {
			return nil, err
		}
		if IsCAR(obj.Key) {
			out = append(out, obj)
		}
	}
	return out, nil
}
