// Package chainview implements the read-only chain-state facade from
// spec.md §4.7: a single sync loop that keeps an immutable snapshot of
// head/finalized/segmented/grouped/starting_block current by watching
// the metadata store, and broadcasts a ChainChange stream to the
// streaming package's Live-state subscribers.
//
// Grounded on original_source/common/src/chain_view (mod.rs names the
// ChainView/ChainViewSyncService/CanonicalCursor split this package
// follows, and metrics.rs names the up/head/finalized/segmented/grouped
// gauges) and on Prysm's beacon-chain/blockchain head-tracking +
// broadcast pattern.
package chainview

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/prysmaticlabs/dna/chain"
	"github.com/prysmaticlabs/dna/compaction"
	"github.com/prysmaticlabs/dna/cursor"
	"github.com/prysmaticlabs/dna/dnaerr"
	"github.com/prysmaticlabs/dna/ingestion"
	"github.com/prysmaticlabs/dna/kv"
)

var log = logrus.WithField("prefix", "chainview")

// ChangeKind distinguishes the four ChainChange variants from spec.md
// §4.7.
type ChangeKind int

const (
	Initialize ChangeKind = iota
	NewHead
	NewFinalized
	Invalidate
)

// ChainChange is one event on the ChainView broadcast stream. Which
// fields are populated depends on Kind: Initialize carries both Head
// and Finalized, NewHead and Invalidate carry Cursor, NewFinalized
// carries Finalized.
type ChainChange struct {
	Kind      ChangeKind
	Head      cursor.Cursor
	Finalized cursor.Cursor
	Cursor    cursor.Cursor
}

// snapshot is the immutable state swapped under atomic.Pointer on every
// update; readers never see a partially-updated view.
type snapshot struct {
	head          cursor.Cursor
	finalized     cursor.Cursor
	segmented     uint64
	grouped       uint64
	startingBlock uint64
}

// Metrics mirrors the Rust ChainViewMetrics gauges (up, head, finalized,
// segmented, grouped), exposed via prometheus instead of
// apibara_observability.
type Metrics struct {
	Up        prometheus.Gauge
	Head      prometheus.Gauge
	Finalized prometheus.Gauge
	Segmented prometheus.Gauge
	Grouped   prometheus.Gauge
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		Up: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dna_chain_view_up",
			Help: "1 if the chain view sync loop is running.",
		}),
		Head: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dna_chain_view_head",
			Help: "Chain view's head block number.",
		}),
		Finalized: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dna_chain_view_finalized",
			Help: "Chain view's finalized block number.",
		}),
		Segmented: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dna_chain_view_segmented",
			Help: "Chain view's segmented block number.",
		}),
		Grouped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dna_chain_view_grouped",
			Help: "Chain view's grouped block number.",
		}),
	}
	if registerer != nil {
		registerer.MustRegister(m.Up, m.Head, m.Finalized, m.Segmented, m.Grouped)
	}
	return m
}

// ChainView is a read-only facade over the canonical chain's current
// state, kept current by a single background sync loop (Run). Multiple
// readers may call its accessor methods and Subscribe concurrently.
type ChainView struct {
	chainLog *chain.Log
	kvClient kv.Client
	metrics  *Metrics

	current atomic.Pointer[snapshot]

	subsMu sync.Mutex
	subs   []chan ChainChange
}

func New(chainLog *chain.Log, kvClient kv.Client, metrics *Metrics) *ChainView {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &ChainView{chainLog: chainLog, kvClient: kvClient, metrics: metrics}
}

// Subscribe returns a channel receiving every ChainChange this view
// publishes, until ctx is done. The first message delivered is always
// Initialize, reflecting whatever state Run has loaded by the time of
// the call.
func (cv *ChainView) Subscribe(ctx context.Context) <-chan ChainChange {
	ch := make(chan ChainChange, 32)
	cv.subsMu.Lock()
	cv.subs = append(cv.subs, ch)
	cv.subsMu.Unlock()

	if snap := cv.current.Load(); snap != nil {
		ch <- ChainChange{Kind: Initialize, Head: snap.head, Finalized: snap.finalized}
	}

	go func() {
		<-ctx.Done()
		cv.subsMu.Lock()
		defer cv.subsMu.Unlock()
		for i, existing := range cv.subs {
			if existing == ch {
				cv.subs = append(cv.subs[:i], cv.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

func (cv *ChainView) publish(ev ChainChange) {
	cv.subsMu.Lock()
	defer cv.subsMu.Unlock()
	for _, ch := range cv.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Head returns the most recently observed canonical head cursor, or the
// zero cursor if Run has not completed its initial load yet.
func (cv *ChainView) Head() cursor.Cursor {
	if snap := cv.current.Load(); snap != nil {
		return snap.head
	}
	return cursor.Cursor{}
}

// Finalized returns the most recently observed finalized cursor, or the
// zero cursor before the initial load.
func (cv *ChainView) Finalized() cursor.Cursor {
	if snap := cv.current.Load(); snap != nil {
		return snap.finalized
	}
	return cursor.Cursor{}
}

// Segmented returns the highest block number folded into a segment, or
// 0 before the initial load.
func (cv *ChainView) Segmented() uint64 {
	if snap := cv.current.Load(); snap != nil {
		return snap.segmented
	}
	return 0
}

// Grouped returns the highest block number folded into a group, or 0
// before the initial load.
func (cv *ChainView) Grouped() uint64 {
	if snap := cv.current.Load(); snap != nil {
		return snap.grouped
	}
	return 0
}

// StartingBlock returns the configured ingestion starting height, or 0
// before the initial load.
func (cv *ChainView) StartingBlock() uint64 {
	if snap := cv.current.Load(); snap != nil {
		return snap.startingBlock
	}
	return 0
}

// GetCanonical returns the canonical cursor at number, per spec.md
// §4.7. Blocks folded into a segment or group still have exactly one
// canonical hash recorded in the chain log, so no branch on Segmented
// is needed beyond the head bound.
func (cv *ChainView) GetCanonical(ctx context.Context, number uint64) (cursor.Cursor, error) {
	snap := cv.current.Load()
	if snap == nil {
		return cursor.Cursor{}, dnaerr.Newf(dnaerr.NotFound, "chainview: view not initialized yet")
	}
	if number > snap.head.Number {
		return cursor.Cursor{}, dnaerr.Newf(dnaerr.NotFound, "chainview: %d is beyond head %d", number, snap.head.Number)
	}
	e, err := cv.chainLog.Get(ctx, number)
	if err != nil {
		return cursor.Cursor{}, err
	}
	return e.Cursor(), nil
}

// Run loads the initial snapshot, publishes Initialize, then watches
// the metadata store for changes until ctx is done.
func (cv *ChainView) Run(ctx context.Context) error {
	snap, err := cv.load(ctx)
	if err != nil {
		return errors.Wrap(err, "chainview: load initial snapshot")
	}
	cv.current.Store(snap)
	cv.reportMetrics(snap)
	cv.metrics.Up.Set(1)
	defer cv.metrics.Up.Set(0)

	cv.publish(ChainChange{Kind: Initialize, Head: snap.head, Finalized: snap.finalized})

	events, err := cv.kvClient.WatchPrefix(ctx, "", 0)
	if err != nil {
		return errors.Wrap(err, "chainview: watch metadata prefix")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := cv.handle(ctx, ev); err != nil {
				log.WithError(err).WithField("key", ev.Key).Warn("failed to apply metadata change")
			}
		}
	}
}

func (cv *ChainView) load(ctx context.Context) (*snapshot, error) {
	ingested, err := cv.readUint64(ctx, ingestion.KeyIngested)
	if err != nil {
		return nil, err
	}
	finalizedNumber, err := cv.readUint64(ctx, ingestion.KeyFinalized)
	if err != nil {
		return nil, err
	}
	segmented, err := cv.readUint64(ctx, compaction.KeySegmented)
	if err != nil {
		return nil, err
	}
	grouped, err := cv.readUint64(ctx, compaction.KeyGrouped)
	if err != nil {
		return nil, err
	}
	startingBlock, err := cv.readUint64(ctx, ingestion.KeyStartingBlock)
	if err != nil {
		return nil, err
	}

	head, err := cv.cursorAt(ctx, ingested)
	if err != nil {
		return nil, err
	}
	finalized, err := cv.cursorAt(ctx, finalizedNumber)
	if err != nil {
		return nil, err
	}

	return &snapshot{
		head:          head,
		finalized:     finalized,
		segmented:     segmented,
		grouped:       grouped,
		startingBlock: startingBlock,
	}, nil
}

func (cv *ChainView) cursorAt(ctx context.Context, number uint64) (cursor.Cursor, error) {
	e, err := cv.chainLog.Get(ctx, number)
	if err != nil {
		if dnaerr.Is(err, dnaerr.NotFound) {
			return cursor.NewFinalized(number), nil
		}
		return cursor.Cursor{}, err
	}
	return e.Cursor(), nil
}

// handle applies one watched metadata change to the current snapshot,
// copy-on-write, and publishes the corresponding ChainChange.
func (cv *ChainView) handle(ctx context.Context, ev kv.WatchEvent) error {
	prev := cv.current.Load()
	next := *prev

	switch ev.Key {
	case ingestion.KeyIngested:
		newHead := decodeUint64(ev.Value)
		c, err := cv.cursorAt(ctx, newHead)
		if err != nil {
			return err
		}
		if newHead < prev.head.Number {
			// The ingested pointer only ever moves backward when the
			// ingestor has just rewritten history during reorg
			// recovery (ingestion.recoverFromReorg sets it to the
			// fork point before re-ingesting forward), so this is the
			// from_cursor a reorg invalidates from.
			next.head = c
			cv.current.Store(&next)
			cv.publish(ChainChange{Kind: Invalidate, Cursor: c})
			return nil
		}
		next.head = c
		cv.current.Store(&next)
		cv.metrics.Head.Set(float64(c.Number))
		cv.publish(ChainChange{Kind: NewHead, Cursor: c})

	case ingestion.KeyFinalized:
		newFinalized := decodeUint64(ev.Value)
		c, err := cv.cursorAt(ctx, newFinalized)
		if err != nil {
			return err
		}
		next.finalized = c
		cv.current.Store(&next)
		cv.metrics.Finalized.Set(float64(c.Number))
		cv.publish(ChainChange{Kind: NewFinalized, Finalized: c})

	case compaction.KeySegmented:
		next.segmented = decodeUint64(ev.Value)
		cv.current.Store(&next)
		cv.metrics.Segmented.Set(float64(next.segmented))

	case compaction.KeyGrouped:
		next.grouped = decodeUint64(ev.Value)
		cv.current.Store(&next)
		cv.metrics.Grouped.Set(float64(next.grouped))

	case ingestion.KeyStartingBlock:
		next.startingBlock = decodeUint64(ev.Value)
		cv.current.Store(&next)
	}
	return nil
}

func (cv *ChainView) reportMetrics(snap *snapshot) {
	cv.metrics.Head.Set(float64(snap.head.Number))
	cv.metrics.Finalized.Set(float64(snap.finalized.Number))
	cv.metrics.Segmented.Set(float64(snap.segmented))
	cv.metrics.Grouped.Set(float64(snap.grouped))
}

func (cv *ChainView) readUint64(ctx context.Context, key string) (uint64, error) {
	kvv, err := cv.kvClient.Get(ctx, key)
	if err != nil {
		if kv.IsNotFound(err) {
			return 0, nil
		}
		return 0, errors.Wrapf(err, "chainview: read %q", key)
	}
	return decodeUint64(kvv.Value), nil
}

func decodeUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
