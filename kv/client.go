// Package kv abstracts the strongly-consistent metadata store used for
// the canonical chain log, compaction pointers, and leader election
// (spec.md §4.2, §5, §7). Concrete drivers live in subpackages: memkv
// (tests), boltkv (go.etcd.io/bbolt) and etcdkv
// (go.etcd.io/etcd/client/v3).
package kv

import (
	"context"
	"errors"
)

// KeyValue is one entry returned by GetPrefix, carrying the revision it
// was last modified at so callers can build compare-and-swap
// transactions against it.
type KeyValue struct {
	Key      string
	Value    []byte
	Revision int64
}

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("kv: key not found")

// PutAndDelete describes one atomic transaction: every Puts entry is
// written and every Deletes entry is removed, or none are, used by the
// compactor to advance its segmented/grouped pointer atomically with
// deleting the blocks/segments it just subsumed.
type PutAndDelete struct {
	Puts    map[string][]byte
	Deletes []string
}

// WatchEvent is one change observed by WatchPrefix.
type WatchEvent struct {
	Key      string
	Value    []byte
	Revision int64
	Deleted  bool
}

// Lock is a held distributed lock, released by calling Unlock. The
// etcdkv driver also releases it when its session lease expires; the
// memkv and boltkv drivers release it only on Unlock.
type Lock interface {
	// Key returns the actual key the lock was acquired under (drivers
	// may suffix it with a lease id).
	Key() string
	Unlock(ctx context.Context) error
}

// Client is the metadata store abstraction from spec.md §4.2.
type Client interface {
	Get(ctx context.Context, key string) (KeyValue, error)
	Put(ctx context.Context, key string, value []byte) error
	GetPrefix(ctx context.Context, prefix string) ([]KeyValue, error)
	TxnPutAndDelete(ctx context.Context, txn PutAndDelete) error
	// WatchPrefix streams changes under prefix starting after
	// fromRevision (0 means "from now"). The memkv and boltkv drivers
	// ignore fromRevision and always watch from now, dropping events
	// when the returned channel's buffer is full. The returned channel
	// is closed when ctx is done.
	WatchPrefix(ctx context.Context, prefix string, fromRevision int64) (<-chan WatchEvent, error)
	// Lock blocks until it acquires an exclusive lock on key, or ctx is
	// done. ttl bounds how long the lock survives without a keep-alive
	// (drivers that don't need one, like memkv, may ignore it).
	Lock(ctx context.Context, key string, ttl int64) (Lock, error)
}

// IsNotFound reports whether err is ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
