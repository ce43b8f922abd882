// Package objectstore abstracts a key -> bytes blob store with
// conditional writes and etags, per spec.md §4.1. Concrete drivers live
// in subpackages: memstore (tests), localstore (filesystem), s3store,
// and azurestore.
package objectstore

import (
	"context"
	"errors"
)

// ETag identifies a specific revision of an object, opaque to callers.
type ETag string

// PutOptions carries the optional conditional-write preconditions from
// spec.md §4.1.
type PutOptions struct {
	// IfMatch requires the object's current etag to equal this value.
	IfMatch ETag
	// IfNoneMatch, when set to "*", requires the object to not exist yet.
	IfNoneMatch string
}

// GetOptions carries the optional conditional-read precondition.
type GetOptions struct {
	// IfNoneMatch, when set, causes Get to return ErrNotModified if the
	// object's current etag equals this value.
	IfNoneMatch ETag
}

// Object is the result of a successful Get.
type Object struct {
	ETag ETag
	Data []byte
}

// Store is the four-operation object store interface from spec.md
// §4.1. Implementations must return errors classified with package
// dnaerr: dnaerr.NotFound for a missing key, dnaerr.Precondition for a
// failed conditional write, dnaerr.Transient for retryable network
// failures.
type Store interface {
	Put(ctx context.Context, key string, data []byte, opts PutOptions) (ETag, error)
	Get(ctx context.Context, key string, opts GetOptions) (Object, error)
	// Delete removes key. A missing key is non-fatal: implementations
	// return dnaerr.NotFound but callers are expected to ignore it.
	Delete(ctx context.Context, key string) error
	CreateBucket(ctx context.Context, name string) error
}

// ErrNotModified is returned by Get when the caller's IfNoneMatch etag
// is still current.
var ErrNotModified = errors.New("object not modified")

// IsNotModified reports whether err is ErrNotModified.
func IsNotModified(err error) bool { return errors.Is(err, ErrNotModified) }
