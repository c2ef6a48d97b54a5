// Package fsstore implements [store.Store] over an afero filesystem, where
// the filesystem root is the bucket and keys are slash separated paths.
package fsstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/afero"

	"github.com/storacha/linkdex/pkg/store"
)

var log = logging.Logger("pkg/store/fsstore")

// DefaultPageSize matches the S3 ListObjectsV2 page size.
const DefaultPageSize = 1000

type Store struct {
	fs       afero.Fs
	bucket   string
	pageSize int
}

var _ store.Store = (*Store)(nil)

type Option func(*Store)

// WithPageSize sets how many keys are fetched per listing page.
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// New creates a store for bucket backed by fsys, whose root holds the
// bucket's keys.
func New(fsys afero.Fs, bucket string, opts ...Option) *Store {
	s := &Store{fs: fsys, bucket: bucket, pageSize: DefaultPageSize}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ErrInvalidBucket is returned by Open for bucket names that are not a single
// path element.
var ErrInvalidBucket = errors.New("invalid bucket name")

// Open creates a store for bucket in the OS directory root/bucket, creating
// it if needed. The bucket must name a directory directly below root.
func Open(root, bucket string, opts ...Option) (*Store, error) {
	if !validBucket(bucket) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBucket, bucket)
	}
	dir := filepath.Join(root, bucket)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating bucket directory %s: %w", dir, err)
	}
	return New(afero.NewBasePathFs(afero.NewOsFs(), dir), bucket, opts...), nil
}

func validBucket(bucket string) bool {
	if bucket == "" || bucket == "." || bucket == ".." {
		return false
	}
	if strings.ContainsAny(bucket, `/\`) || strings.ContainsRune(bucket, 0) {
		return false
	}
	return filepath.Base(bucket) == bucket
}

func (s *Store) Bucket() string {
	return s.bucket
}

func (s *Store) List(ctx context.Context, prefix string) iter.Seq2[store.Object, error] {
	return func(yield func(store.Object, error) bool) {
		after := ""
		for {
			if err := ctx.Err(); err != nil {
				yield(store.Object{}, err)
				return
			}
			page, err := s.page(prefix, after)
			if err != nil {
				yield(store.Object{}, fmt.Errorf("listing %q in %s: %w", prefix, s.bucket, err))
				return
			}
			log.Debugw("listed page", "bucket", s.bucket, "prefix", prefix, "after", after, "count", len(page))
			for _, obj := range page {
				if !yield(obj, nil) {
					return
				}
			}
			if len(page) < s.pageSize {
				return
			}
			after = page[len(page)-1].Key
		}
	}
}

// page returns up to pageSize objects under prefix with keys strictly after
// the given key, in key order.
func (s *Store) page(prefix, after string) ([]store.Object, error) {
	dir := "/"
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		dir = "/" + prefix[:i]
	}
	var out []store.Object
	err := afero.Walk(s.fs, dir, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		key := strings.TrimPrefix(filepath.ToSlash(p), "/")
		if !strings.HasPrefix(key, prefix) || key <= after {
			return nil
		}
		out = append(out, store.Object{Key: key, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b store.Object) int { return strings.Compare(a.Key, b.Key) })
	if len(out) > s.pageSize {
		out = out[:s.pageSize]
	}
	return out, nil
}

func (s *Store) Head(ctx context.Context, key string) (store.Object, error) {
	info, err := s.fs.Stat(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return store.Object{}, fmt.Errorf("%s/%s: %w", s.bucket, key, store.ErrNotFound)
		}
		return store.Object{}, fmt.Errorf("stat %s/%s: %w", s.bucket, key, err)
	}
	if info.IsDir() {
		return store.Object{}, fmt.Errorf("%s/%s: %w", s.bucket, key, store.ErrNotFound)
	}
	return store.Object{Key: key, Size: info.Size()}, nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := s.fs.Open(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s/%s: %w", s.bucket, key, store.ErrNotFound)
		}
		return nil, fmt.Errorf("opening %s/%s: %w", s.bucket, key, err)
	}
	return f, nil
}

// Put writes an object, creating intermediate directories.
func (s *Store) Put(ctx context.Context, key string, r io.Reader) error {
	p := s.path(key)
	if err := s.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", key, err)
	}
	f, err := s.fs.Create(p)
	if err != nil {
		return fmt.Errorf("creating %s/%s: %w", s.bucket, key, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("writing %s/%s: %w", s.bucket, key, err)
	}
	return f.Close()
}

func (s *Store) path(key string) string {
	return "/" + strings.TrimPrefix(key, "/")
}
