// Package ingestion implements the leader-elected block ingestor actor
// from spec.md §4.5: acquire the ingestion lock, follow the provider's
// chain head, detect and recover from reorgs, and append to the
// canonical chain log.
//
// Grounded on Prysm's beacon-chain/powchain eth1 follower service
// (log_processing.go, block_reader.go: "follow remote chain head,
// detect reorgs, persist") and
// original_source/dna/evm/src/ingestion/chain_tracker.rs for the
// reorg-walk semantics.
package ingestion

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/prysmaticlabs/dna/chain"
	"github.com/prysmaticlabs/dna/cursor"
	"github.com/prysmaticlabs/dna/dnaerr"
	"github.com/prysmaticlabs/dna/fragment"
	"github.com/prysmaticlabs/dna/kv"
	"github.com/prysmaticlabs/dna/objectstore"
	"github.com/prysmaticlabs/dna/provider"
)

var log = logrus.WithField("prefix", "ingestion")

// KV key names under the configured prefix, per spec.md §6.
const (
	KeyStartingBlock = "ingestion/starting_block"
	KeyFinalized     = "ingestion/finalized"
	KeyIngested      = "ingestion/ingested"
	KeyLock          = "lock/ingestion"
)

// Config parameterizes one ingestor run.
type Config struct {
	// StartingBlock seeds ingestion/starting_block the first time the
	// actor runs against a fresh deployment; persisted state wins on
	// every subsequent restart.
	StartingBlock uint64
	LockTTLSeconds int64
	PollInterval   time.Duration
	Timeout        time.Duration
}

func (c Config) withDefaults() Config {
	if c.LockTTLSeconds == 0 {
		c.LockTTLSeconds = 15
	}
	if c.PollInterval == 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// StateKind is the coarse lifecycle phase reported on the SnapshotChange feed.
type StateKind int

const (
	Started StateKind = iota
	StateChanged
	BlockIngested
)

// SnapshotChange is one event published by the ingestor's event feed,
// supplementing spec.md §4.5 per
// original_source/common/src/ingestion/event.rs so the compactor and
// cmd/dna dbg tooling can subscribe without polling the KV store.
type SnapshotChange struct {
	Kind   StateKind
	Cursor cursor.Cursor
}

// Ingestor is the leader-elected block ingestor actor.
type Ingestor struct {
	cfg      Config
	store    objectstore.Store
	kvClient kv.Client
	prov     provider.Provider
	log      *chain.Log

	// holderID identifies this process in logs when it holds (or loses)
	// the ingestion lock, so an operator can tell which replica was
	// leading across a failover.
	holderID string

	subsMu sync.Mutex
	subs   []chan SnapshotChange
}

func New(cfg Config, store objectstore.Store, kvClient kv.Client, prov provider.Provider, clog *chain.Log) *Ingestor {
	return &Ingestor{cfg: cfg.withDefaults(), store: store, kvClient: kvClient, prov: prov, log: clog, holderID: uuid.NewString()}
}

// Subscribe returns a channel receiving every SnapshotChange this
// ingestor publishes, until ctx is done.
func (in *Ingestor) Subscribe(ctx context.Context) <-chan SnapshotChange {
	ch := make(chan SnapshotChange, 32)
	in.subsMu.Lock()
	in.subs = append(in.subs, ch)
	in.subsMu.Unlock()
	go func() {
		<-ctx.Done()
		in.subsMu.Lock()
		defer in.subsMu.Unlock()
		for i, existing := range in.subs {
			if existing == ch {
				in.subs = append(in.subs[:i], in.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

func (in *Ingestor) publish(ev SnapshotChange) {
	in.subsMu.Lock()
	defer in.subsMu.Unlock()
	for _, ch := range in.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Run acquires the ingestion lock and blocks, following the chain head
// until ctx is cancelled or the lock's keep-alive fails.
func (in *Ingestor) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	lock, err := in.kvClient.Lock(runCtx, KeyLock, in.cfg.LockTTLSeconds)
	if err != nil {
		return errors.Wrap(err, "ingestion: acquire leader lock")
	}
	log.WithFields(logrus.Fields{"holder": in.holderID, "key": lock.Key()}).Info("acquired ingestion leader lock")
	defer lock.Unlock(context.Background())

	keepAliveFailed := make(chan struct{})
	go in.keepAlive(runCtx, lock, keepAliveFailed)

	in.publish(SnapshotChange{Kind: Started})

	if err := in.initialize(runCtx); err != nil {
		return errors.Wrap(err, "ingestion: initialize")
	}

	for {
		select {
		case <-runCtx.Done():
			return runCtx.Err()
		case <-keepAliveFailed:
			return dnaerr.New(dnaerr.Transient, "ingestion: lock keep-alive failed, ceding leadership")
		default:
		}

		if err := in.followOnce(runCtx); err != nil {
			if dnaerr.Is(err, dnaerr.Fatal) {
				return err
			}
			log.WithError(err).Warn("follow loop iteration failed, will retry")
		}

		select {
		case <-runCtx.Done():
			return runCtx.Err()
		case <-time.After(in.cfg.PollInterval):
		}
	}
}

// alive is implemented by drivers whose lock can observe its own lease
// expiring out from under it (etcdkv's concurrency.Session does, via
// Session.Done()); drivers that renew transparently need not implement
// it, in which case keepAlive degrades to "watch ctx only".
type alive interface {
	Alive() <-chan struct{}
}

func (in *Ingestor) keepAlive(ctx context.Context, lock kv.Lock, failed chan<- struct{}) {
	a, ok := lock.(alive)
	if !ok {
		return
	}
	select {
	case <-ctx.Done():
	case <-a.Alive():
		close(failed)
	}
}

func (in *Ingestor) initialize(ctx context.Context) error {
	if _, err := in.kvClient.Get(ctx, KeyStartingBlock); kv.IsNotFound(err) {
		if err := in.kvClient.Put(ctx, KeyStartingBlock, encodeUint64(in.cfg.StartingBlock)); err != nil {
			return err
		}
	}

	head, err := in.localHead(ctx)
	if err == nil {
		log.WithField("number", head.Number).Info("resuming ingestion from persisted head")
		return nil
	}
	if !dnaerr.Is(err, dnaerr.NotFound) {
		return err
	}

	finalized, err := in.prov.GetFinalizedCursor(ctx)
	if err != nil {
		return errors.Wrap(err, "ingestion: bootstrap from provider finalized cursor")
	}
	info, err := in.prov.GetBlockInfoByNumber(ctx, finalized.Number)
	if err != nil {
		return errors.Wrap(err, "ingestion: fetch bootstrap block info")
	}
	if _, err := in.log.Append(ctx, chain.Entry{
		Number:     info.Cursor.Number,
		Hash:       info.Cursor.Hash,
		ParentHash: info.ParentHash,
		Status:     chain.Finalized,
	}, ""); err != nil {
		return errors.Wrap(err, "ingestion: append bootstrap entry")
	}
	if err := in.kvClient.Put(ctx, KeyIngested, encodeUint64(info.Cursor.Number)); err != nil {
		return errors.Wrap(err, "ingestion: record bootstrap ingested pointer")
	}
	log.WithField("number", info.Cursor.Number).Info("bootstrapped canonical chain from provider finalized block")
	return nil
}

func (in *Ingestor) localHead(ctx context.Context) (chain.Entry, error) {
	kvv, err := in.kvClient.Get(ctx, KeyIngested)
	if err != nil {
		if kv.IsNotFound(err) {
			return chain.Entry{}, dnaerr.Wrap(err, dnaerr.NotFound, "ingestion: no local head recorded")
		}
		return chain.Entry{}, dnaerr.Wrap(err, dnaerr.Transient, "ingestion: read ingested pointer")
	}
	number := decodeUint64(kvv.Value)
	return in.log.Get(ctx, number)
}

func (in *Ingestor) followOnce(ctx context.Context) error {
	var providerHead, providerFinalized cursor.Cursor
	err := backoff.Retry(func() error {
		var err error
		providerHead, err = in.prov.GetHeadCursor(ctx)
		if err != nil {
			return err
		}
		providerFinalized, err = in.prov.GetFinalizedCursor(ctx)
		return err
	}, retryPolicy(ctx, in.cfg.Timeout))
	if err != nil {
		return dnaerr.Wrap(err, dnaerr.Transient, "ingestion: fetch provider head/finalized")
	}

	localHead, err := in.localHead(ctx)
	if err != nil {
		return err
	}

	for localHead.Number < providerHead.Number {
		nextNumber := localHead.Number + 1

		var info provider.BlockInfo
		err := backoff.Retry(func() error {
			var err error
			info, err = in.prov.GetBlockInfoByNumber(ctx, nextNumber)
			return err
		}, retryPolicy(ctx, in.cfg.Timeout))
		if err != nil {
			return dnaerr.Wrap(err, dnaerr.Transient, "ingestion: fetch block info")
		}

		if !bytes.Equal(info.ParentHash, localHead.Hash) {
			if err := in.recoverFromReorg(ctx, localHead.Number); err != nil {
				return errors.Wrap(err, "ingestion: reorg recovery")
			}
			localHead, err = in.localHead(ctx)
			if err != nil {
				return err
			}
			continue
		}

		if err := in.ingestAndAppend(ctx, nextNumber, chain.Accepted); err != nil {
			return err
		}
		localHead, err = in.localHead(ctx)
		if err != nil {
			return err
		}
	}

	if providerFinalized.Number > 0 {
		if err := in.kvClient.Put(ctx, KeyFinalized, encodeUint64(providerFinalized.Number)); err != nil {
			return errors.Wrap(err, "ingestion: advance finalized pointer")
		}
	}
	return nil
}

func (in *Ingestor) ingestAndAppend(ctx context.Context, number uint64, status chain.Status) error {
	info, block, err := in.prov.IngestBlockByNumber(ctx, number)
	if err != nil {
		return dnaerr.Wrap(err, dnaerr.Transient, "ingestion: ingest block by number")
	}

	key := objectstore.BlockKey(info.Cursor.Number, info.Cursor.HashHex())
	data := fragment.MarshalBlock(block)
	if _, err := in.store.Put(ctx, key, data, objectstore.PutOptions{IfNoneMatch: "*"}); err != nil {
		if !dnaerr.Is(err, dnaerr.Precondition) {
			return dnaerr.Wrap(err, dnaerr.Transient, "ingestion: write single-block blob")
		}
	}

	// This height has never been written before (it is one past the
	// prior local head), so the append is conditional on it not
	// existing yet: a Precondition failure here means another writer
	// raced us, which spec.md §4.5 treats as fatal.
	if _, err := in.log.Append(ctx, chain.Entry{
		Number:     info.Cursor.Number,
		Hash:       info.Cursor.Hash,
		ParentHash: info.ParentHash,
		Status:     status,
	}, ""); err != nil {
		if dnaerr.Is(err, dnaerr.Precondition) {
			return dnaerr.Newf(dnaerr.Fatal, "ingestion: concurrent canonical-chain writer detected: %v", err)
		}
		return err
	}

	if err := in.kvClient.Put(ctx, KeyIngested, encodeUint64(info.Cursor.Number)); err != nil {
		return errors.Wrap(err, "ingestion: update ingested pointer")
	}

	in.publish(SnapshotChange{Kind: BlockIngested, Cursor: info.Cursor})
	return nil
}

// recoverFromReorg implements spec.md §4.5's reorg-recovery algorithm:
// walk backward from h until the provider's hash at some height k
// matches our stored hash, mark (k, h] Rejected, then re-ingest (k,
// head] with fresh Accepted entries.
func (in *Ingestor) recoverFromReorg(ctx context.Context, h uint64) error {
	log.WithField("height", h).Warn("parent hash mismatch detected, starting reorg recovery")

	k := h
	for k > 0 {
		stored, err := in.log.Get(ctx, k)
		if err != nil {
			return err
		}
		info, err := in.prov.GetBlockInfoByNumber(ctx, k)
		if err != nil {
			return dnaerr.Wrap(err, dnaerr.Transient, "ingestion: fetch provider block during reorg walk")
		}
		if bytes.Equal(info.Cursor.Hash, stored.Hash) {
			break
		}
		k--
	}

	var rejected []chain.Entry
	for n := k + 1; n <= h; n++ {
		e, err := in.log.Get(ctx, n)
		if err != nil {
			return err
		}
		e.Status = chain.Rejected
		rejected = append(rejected, e)
	}
	if len(rejected) > 0 {
		if _, err := in.log.RewriteFrom(ctx, k+1, rejected); err != nil {
			return err
		}
	}

	if err := in.kvClient.Put(ctx, KeyIngested, encodeUint64(k)); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{"fork_point": k, "rejected_through": h}).Info("reorg fork point found, re-ingesting")

	for n := k + 1; ; n++ {
		head, err := in.localHead(ctx)
		if err != nil {
			return err
		}
		providerHead, err := in.prov.GetHeadCursor(ctx)
		if err != nil {
			return dnaerr.Wrap(err, dnaerr.Transient, "ingestion: fetch provider head during reorg re-ingest")
		}
		if head.Number >= providerHead.Number {
			return nil
		}
		if err := in.ingestAndAppend(ctx, n, chain.Accepted); err != nil {
			return err
		}
	}
}

func retryPolicy(ctx context.Context, timeout time.Duration) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = timeout
	return backoff.WithContext(b, ctx)
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	return buf
}

func decodeUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
