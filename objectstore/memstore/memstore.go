// Package memstore is an in-memory objectstore.Store used by tests,
// mirroring the fake backends under Prysm's shared/testutil.
package memstore

import (
	"context"
	"strconv"
	"sync"

	"github.com/prysmaticlabs/dna/dnaerr"
	"github.com/prysmaticlabs/dna/objectstore"
)

type entry struct {
	etag objectstore.ETag
	data []byte
}

// Store is a goroutine-safe, in-memory implementation of
// objectstore.Store. It never persists to disk and is intended only
// for unit and integration tests.
type Store struct {
	mu      sync.RWMutex
	objects map[string]entry
	buckets map[string]bool
	seq     uint64
}

func New() *Store {
	return &Store{
		objects: make(map[string]entry),
		buckets: make(map[string]bool),
	}
}

func (s *Store) CreateBucket(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets[name] = true
	return nil
}

func (s *Store) Put(_ context.Context, key string, data []byte, opts objectstore.PutOptions) (objectstore.ETag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.objects[key]
	if opts.IfNoneMatch == "*" && exists {
		return "", dnaerr.Newf(dnaerr.Precondition, "memstore: key %q already exists", key)
	}
	if opts.IfMatch != "" {
		if !exists {
			return "", dnaerr.Newf(dnaerr.Precondition, "memstore: key %q does not exist for if-match", key)
		}
		if cur.etag != opts.IfMatch {
			return "", dnaerr.Newf(dnaerr.Precondition, "memstore: etag mismatch for key %q", key)
		}
	}

	s.seq++
	etag := objectstore.ETag(strconv.FormatUint(s.seq, 10))
	cp := append([]byte(nil), data...)
	s.objects[key] = entry{etag: etag, data: cp}
	return etag, nil
}

func (s *Store) Get(_ context.Context, key string, opts objectstore.GetOptions) (objectstore.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.objects[key]
	if !ok {
		return objectstore.Object{}, dnaerr.Newf(dnaerr.NotFound, "memstore: key %q not found", key)
	}
	if opts.IfNoneMatch != "" && opts.IfNoneMatch == e.etag {
		return objectstore.Object{}, objectstore.ErrNotModified
	}
	cp := append([]byte(nil), e.data...)
	return objectstore.Object{ETag: e.etag, Data: cp}, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return dnaerr.Newf(dnaerr.NotFound, "memstore: key %q not found", key)
	}
	delete(s.objects, key)
	return nil
}

// Keys returns every key currently stored with the given prefix, used
// by tests asserting on compactor/ingestor behavior without a real
// list API (spec.md's object store interface intentionally has no
// List operation; readers already know the keys they need).
func (s *Store) Keys(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for k := range s.objects {
		if len(prefix) == 0 || (len(k) >= len(prefix) && k[:len(prefix)] == prefix) {
			out = append(out, k)
		}
	}
	return out
}
