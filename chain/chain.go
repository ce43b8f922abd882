// Package chain implements the canonical chain log (spec.md §4.4): an
// authoritative, append-only-except-for-reorg record of
// number->(hash,parent_hash,status), backed by objectstore.Store under
// chain/{NNNNNNNNNN}.
//
// Grounded on Prysm's beacon-chain/db/kv bucket + in-process cache
// pattern and on original_source/node/src/db/chain_tracker.rs.
package chain

import (
	"context"
	"encoding/binary"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/prysmaticlabs/dna/cursor"
	"github.com/prysmaticlabs/dna/dnaerr"
	"github.com/prysmaticlabs/dna/objectstore"
)

var log = logrus.WithField("prefix", "chain")

// Status is one canonical chain entry's place in the chain.
type Status uint8

const (
	Pending Status = iota
	Accepted
	Finalized
	Rejected
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Accepted:
		return "accepted"
	case Finalized:
		return "finalized"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Entry is one canonical chain log record for a single block height.
type Entry struct {
	Number     uint64
	Hash       []byte
	ParentHash []byte
	Status     Status
}

// Cursor returns the (number, hash) cursor this entry identifies.
func (e Entry) Cursor() cursor.Cursor {
	return cursor.New(e.Number, e.Hash)
}

const defaultRecentCacheSize = 64

// Log is the canonical chain log, backed by an object store.
type Log struct {
	store     objectstore.Store
	recent    *lru.Cache
	mu        sync.Mutex
	headCache *Entry
}

// New constructs a Log over store, with an in-memory LRU cache of up to
// recentSize recently used entries for O(1) reorg detection (0 uses the
// default of 64).
func New(store objectstore.Store, recentSize int) (*Log, error) {
	if recentSize <= 0 {
		recentSize = defaultRecentCacheSize
	}
	cache, err := lru.New(recentSize)
	if err != nil {
		return nil, dnaerr.Wrap(err, dnaerr.Fatal, "chain: create recent-entries cache")
	}
	return &Log{store: store, recent: cache}, nil
}

// Append writes one entry and bumps the object's etag. The write is
// conditional on the entry's own key: with an empty expectEtag it
// succeeds only if nothing is stored at e.Number yet, otherwise only if
// the entry stored at e.Number carries expectEtag. The previous head
// entry's etag is not checked. A failed condition means another writer
// raced us, which spec.md §4.5 treats as fatal (at most one ingestor
// leader should ever be writing).
func (l *Log) Append(ctx context.Context, e Entry, expectEtag objectstore.ETag) (objectstore.ETag, error) {
	data := encodeEntry(e)
	opts := objectstore.PutOptions{}
	if expectEtag == "" {
		opts.IfNoneMatch = "*"
	} else {
		opts.IfMatch = expectEtag
	}

	etag, err := l.store.Put(ctx, objectstore.ChainEntryKey(e.Number), data, opts)
	if err != nil {
		return "", errors.Wrapf(err, "chain: append entry at height %d", e.Number)
	}

	l.mu.Lock()
	l.recent.Add(e.Number, e)
	if l.headCache == nil || e.Number >= l.headCache.Number {
		cp := e
		l.headCache = &cp
	}
	l.mu.Unlock()

	log.WithFields(logrus.Fields{"number": e.Number, "status": e.Status.String()}).Debug("appended chain entry")
	return etag, nil
}

// Get returns the entry at number, or dnaerr.NotFound if none exists.
func (l *Log) Get(ctx context.Context, number uint64) (Entry, error) {
	l.mu.Lock()
	if v, ok := l.recent.Get(number); ok {
		l.mu.Unlock()
		return v.(Entry), nil
	}
	l.mu.Unlock()

	obj, err := l.store.Get(ctx, objectstore.ChainEntryKey(number), objectstore.GetOptions{})
	if err != nil {
		return Entry{}, errors.Wrapf(err, "chain: get entry at height %d", number)
	}
	e, err := decodeEntry(obj.Data)
	if err != nil {
		return Entry{}, dnaerr.Wrapf(err, dnaerr.Fatal, "chain: decode entry at height %d", number)
	}

	l.mu.Lock()
	l.recent.Add(number, e)
	l.mu.Unlock()
	return e, nil
}

// GetAtOrBefore walks backward from number until it finds an existing
// entry, per spec.md §4.4's get_at_or_before. It returns dnaerr.NotFound
// if no entry exists at or below number.
func (l *Log) GetAtOrBefore(ctx context.Context, number uint64) (Entry, error) {
	for n := number; ; {
		e, err := l.Get(ctx, n)
		if err == nil {
			return e, nil
		}
		if !dnaerr.Is(err, dnaerr.NotFound) {
			return Entry{}, err
		}
		if n == 0 {
			return Entry{}, dnaerr.Newf(dnaerr.NotFound, "chain: no entry at or before %d", number)
		}
		n--
	}
}

// RewriteFrom writes entries, which MUST be contiguous starting at
// number, overwriting whatever was previously stored at those heights.
// It returns the count of entries whose hash differs from what was
// stored before, used by the ingestor both for telemetry and to
// compute the invalidate cursor sent to chainview subscribers.
func (l *Log) RewriteFrom(ctx context.Context, number uint64, entries []Entry) (int, error) {
	changed := 0
	for i, e := range entries {
		if e.Number != number+uint64(i) {
			return changed, dnaerr.Newf(dnaerr.BadInput, "chain: rewrite_from entries must be contiguous from %d", number)
		}

		prior, err := l.Get(ctx, e.Number)
		hashChanged := true
		if err == nil {
			hashChanged = string(prior.Hash) != string(e.Hash)
		} else if !dnaerr.Is(err, dnaerr.NotFound) {
			return changed, err
		}

		if _, err := l.store.Put(ctx, objectstore.ChainEntryKey(e.Number), encodeEntry(e), objectstore.PutOptions{}); err != nil {
			return changed, errors.Wrapf(err, "chain: rewrite entry at height %d", e.Number)
		}

		l.mu.Lock()
		l.recent.Add(e.Number, e)
		if l.headCache == nil || e.Number >= l.headCache.Number {
			cp := e
			l.headCache = &cp
		}
		l.mu.Unlock()

		if hashChanged {
			changed++
		}
	}
	log.WithFields(logrus.Fields{"from": number, "count": len(entries), "changed": changed}).Info("rewrote canonical chain entries")
	return changed, nil
}

func encodeEntry(e Entry) []byte {
	buf := make([]byte, 0, 8+1+1+len(e.Hash)+1+len(e.ParentHash))
	var numBytes [8]byte
	binary.BigEndian.PutUint64(numBytes[:], e.Number)
	buf = append(buf, numBytes[:]...)
	buf = append(buf, byte(e.Status))
	buf = append(buf, byte(len(e.Hash)))
	buf = append(buf, e.Hash...)
	buf = append(buf, byte(len(e.ParentHash)))
	buf = append(buf, e.ParentHash...)
	return buf
}

func decodeEntry(b []byte) (Entry, error) {
	if len(b) < 10 {
		return Entry{}, errors.New("chain: truncated entry")
	}
	number := binary.BigEndian.Uint64(b[0:8])
	status := Status(b[8])
	hashLen := int(b[9])
	off := 10
	if off+hashLen > len(b) {
		return Entry{}, errors.New("chain: truncated entry hash")
	}
	hash := append([]byte(nil), b[off:off+hashLen]...)
	off += hashLen
	if off >= len(b) {
		return Entry{}, errors.New("chain: truncated entry parent-hash length")
	}
	parentLen := int(b[off])
	off++
	if off+parentLen > len(b) {
		return Entry{}, errors.New("chain: truncated entry parent hash")
	}
	parentHash := append([]byte(nil), b[off:off+parentLen]...)

	return Entry{Number: number, Hash: hash, ParentHash: parentHash, Status: status}, nil
}
