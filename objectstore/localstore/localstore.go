// Package localstore implements objectstore.Store on the local
// filesystem, for single-node deployments and development. There is no
// third-party driver for "plain local disk" anywhere in the reference
// corpus, so this uses only os/io — the ambient-stdlib exception noted
// in DESIGN.md.
package localstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/prysmaticlabs/dna/dnaerr"
	"github.com/prysmaticlabs/dna/objectstore"
)

// Store writes each key as a file under root, with the directory
// structure mirroring the key's slash-delimited components.
type Store struct {
	root string
	mu   sync.Mutex
}

func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, dnaerr.Wrapf(err, dnaerr.Fatal, "localstore: create root %q", root)
	}
	return &Store{root: root}, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *Store) CreateBucket(_ context.Context, name string) error {
	return os.MkdirAll(filepath.Join(s.root, name), 0o755)
}

func (s *Store) Put(_ context.Context, key string, data []byte, opts objectstore.PutOptions) (objectstore.ETag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.path(key)
	_, statErr := os.Stat(p)
	exists := statErr == nil

	if opts.IfNoneMatch == "*" && exists {
		return "", dnaerr.Newf(dnaerr.Precondition, "localstore: key %q already exists", key)
	}
	if opts.IfMatch != "" {
		if !exists {
			return "", dnaerr.Newf(dnaerr.Precondition, "localstore: key %q does not exist for if-match", key)
		}
		cur, err := etagOf(p)
		if err != nil {
			return "", dnaerr.Wrapf(err, dnaerr.Transient, "localstore: read current etag for %q", key)
		}
		if cur != opts.IfMatch {
			return "", dnaerr.Newf(dnaerr.Precondition, "localstore: etag mismatch for key %q", key)
		}
	}

	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", dnaerr.Wrapf(err, dnaerr.Fatal, "localstore: mkdir for %q", key)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", dnaerr.Wrapf(err, dnaerr.Transient, "localstore: write %q", key)
	}
	if err := os.Rename(tmp, p); err != nil {
		return "", dnaerr.Wrapf(err, dnaerr.Transient, "localstore: rename into place %q", key)
	}

	etag, err := etagOf(p)
	if err != nil {
		return "", dnaerr.Wrapf(err, dnaerr.Transient, "localstore: etag after write %q", key)
	}
	return etag, nil
}

func (s *Store) Get(_ context.Context, key string, opts objectstore.GetOptions) (objectstore.Object, error) {
	p := s.path(key)
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return objectstore.Object{}, dnaerr.Newf(dnaerr.NotFound, "localstore: key %q not found", key)
		}
		return objectstore.Object{}, dnaerr.Wrapf(err, dnaerr.Transient, "localstore: read %q", key)
	}
	etag := etagOfBytes(data)
	if opts.IfNoneMatch != "" && opts.IfNoneMatch == etag {
		return objectstore.Object{}, objectstore.ErrNotModified
	}
	return objectstore.Object{ETag: etag, Data: data}, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	p := s.path(key)
	if err := os.Remove(p); err != nil {
		if errIsNotExist(err) {
			return dnaerr.Newf(dnaerr.NotFound, "localstore: key %q not found", key)
		}
		return dnaerr.Wrapf(err, dnaerr.Transient, "localstore: delete %q", key)
	}
	return nil
}

func errIsNotExist(err error) bool {
	var pe *fs.PathError
	if perr, ok := err.(*fs.PathError); ok {
		pe = perr
	}
	return pe != nil && os.IsNotExist(pe.Err)
}

func etagOf(path string) (objectstore.ETag, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return etagOfBytes(data), nil
}

func etagOfBytes(data []byte) objectstore.ETag {
	sum := sha256.Sum256(data)
	return objectstore.ETag(hex.EncodeToString(sum[:]))
}
