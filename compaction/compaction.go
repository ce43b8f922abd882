// Package compaction implements the segment/group compactor from
// spec.md §4.6: aggregates finalized single blocks into fixed-size,
// immutable segments with merged bitmap indexes, then aggregates
// segments into groups with block-granular merged indexes.
//
// Grounded on Prysm's beacon-chain/archiver (periodic aggregation of
// finalized state into archived objects) and
// original_source/dna/evm/src/segment/write/{single,group_builder,index}.rs.
package compaction

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/prysmaticlabs/dna/chain"
	"github.com/prysmaticlabs/dna/cursor"
	"github.com/prysmaticlabs/dna/dnaerr"
	"github.com/prysmaticlabs/dna/fragment"
	"github.com/prysmaticlabs/dna/kv"
	"github.com/prysmaticlabs/dna/objectstore"
)

var log = logrus.WithField("prefix", "compaction")

const (
	// KeySegmented and KeyGrouped are the commit-barrier pointers from
	// spec.md §4.6/§6.
	KeySegmented = "compaction/segmented"
	KeyGrouped   = "compaction/grouped"
)

// Config parameterizes one compactor run. Both are fixed per
// deployment per spec.md §4.6.
type Config struct {
	SegmentSize  uint64
	GroupSize    uint64
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval == 0 {
		c.PollInterval = 2 * time.Second
	}
	return c
}

// Stats exposes compactor progress via Prometheus, supplementing
// spec.md §4.6 per Prysm's shared/prometheus + prombbolt instrumentation
// pattern (the teacher instruments its bbolt store; this instruments
// the object store client the same way).
type Stats struct {
	SegmentsWritten prometheus.Counter
	GroupsWritten   prometheus.Counter
	BytesWritten    prometheus.Counter
	BlocksPruned    prometheus.Counter
}

func NewStats(registerer prometheus.Registerer) *Stats {
	s := &Stats{
		SegmentsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dna_compaction_segments_written_total",
			Help: "Number of segments written by the compactor.",
		}),
		GroupsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dna_compaction_groups_written_total",
			Help: "Number of segment groups written by the compactor.",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dna_compaction_bytes_written_total",
			Help: "Total bytes written to the object store by the compactor.",
		}),
		BlocksPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dna_compaction_blocks_pruned_total",
			Help: "Number of single-block blobs deleted after segmenting.",
		}),
	}
	if registerer != nil {
		registerer.MustRegister(s.SegmentsWritten, s.GroupsWritten, s.BytesWritten, s.BlocksPruned)
	}
	return s
}

// Compactor runs the segment/group build loop. It runs independently
// of the ingestor; its writes are content-deterministic so it never
// needs the leader lock (spec.md §5 "Leader election").
type Compactor struct {
	cfg      Config
	store    objectstore.Store
	kvClient kv.Client
	chainLog *chain.Log
	// fragments lists every fragment kind a chain plugin declares, used
	// to re-group single blocks into per-fragment segment blobs.
	fragments []fragment.FragmentInfo
	stats     *Stats
}

func New(cfg Config, store objectstore.Store, kvClient kv.Client, chainLog *chain.Log, fragments []fragment.FragmentInfo, stats *Stats) *Compactor {
	if stats == nil {
		stats = NewStats(nil)
	}
	return &Compactor{cfg: cfg.withDefaults(), store: store, kvClient: kvClient, chainLog: chainLog, fragments: fragments, stats: stats}
}

// Run executes the compaction loop until ctx is done.
func (c *Compactor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		didWork, err := c.Tick(ctx)
		if err != nil {
			log.WithError(err).Warn("compaction tick failed, will retry")
		}
		if !didWork {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.PollInterval):
			}
		}
	}
}

// Tick runs one iteration of the compaction loop: build the next
// segment if finalized has advanced far enough, then the next group
// if one is due. It returns whether it did any work, so Run can back
// off when there is nothing to compact yet.
func (c *Compactor) Tick(ctx context.Context) (bool, error) {
	segmented, segmentedSet, err := c.readUint64(ctx, KeySegmented)
	if err != nil {
		return false, err
	}
	finalized, _, err := c.readUint64(ctx, "ingestion/finalized")
	if err != nil {
		return false, err
	}
	startingBlock, _, err := c.readUint64(ctx, "ingestion/starting_block")
	if err != nil {
		return false, err
	}

	// s = segmented + 1, except on a fresh deployment where nothing has
	// been segmented yet: there segmented has no persisted value at
	// all (0 is a legitimate segmented height when starting_block is
	// 0), so the first segment starts at starting_block.
	s := startingBlock
	if segmentedSet {
		s = segmented + 1
	}
	if s+c.cfg.SegmentSize-1 > finalized {
		return false, nil
	}

	if err := c.buildSegment(ctx, s); err != nil {
		return false, errors.Wrapf(err, "compaction: build segment at %d", s)
	}
	newSegmented := s + c.cfg.SegmentSize - 1
	if err := c.kvClient.Put(ctx, KeySegmented, encodeUint64(newSegmented)); err != nil {
		return false, errors.Wrap(err, "compaction: advance segmented pointer")
	}
	c.stats.SegmentsWritten.Inc()

	c.pruneSingleBlocks(ctx, s, newSegmented)

	span := c.cfg.SegmentSize * c.cfg.GroupSize
	if span > 0 && (newSegmented-startingBlock+1)%span == 0 {
		groupStart := newSegmented - span + 1
		if err := c.buildGroup(ctx, groupStart); err != nil {
			return false, errors.Wrapf(err, "compaction: build group at %d", groupStart)
		}
		if err := c.kvClient.Put(ctx, KeyGrouped, encodeUint64(newSegmented)); err != nil {
			return false, errors.Wrap(err, "compaction: advance grouped pointer")
		}
		c.stats.GroupsWritten.Inc()
	}

	return true, nil
}

// buildSegment implements spec.md §4.6 steps 2-4: read segment_size
// single blocks, re-group their records by fragment kind, shift each
// block's positional bitmap index into segment-relative positions, and
// write one blob per fragment kind plus the merged segment index.
func (c *Compactor) buildSegment(ctx context.Context, s uint64) error {
	firstEntry, err := c.chainLog.Get(ctx, s)
	if err != nil {
		return err
	}
	firstCursor := cursor.New(firstEntry.Number, firstEntry.Hash)

	perFragment := make(map[fragment.FragmentID][]fragment.SegmentBlockRecords)
	segmentIndex := fragment.NewIndexGroup()
	segmentJoins := fragment.NewJoinGroup()
	// positionBase tracks, per fragment kind, how many of that
	// fragment's records have been seen in prior blocks of this
	// segment — each fragment's index positions are local to that
	// fragment's own record stream, not to the block as a whole.
	positionBase := make(map[fragment.FragmentID]uint64)

	for i := uint64(0); i < c.cfg.SegmentSize; i++ {
		number := s + i
		entry, err := c.chainLog.Get(ctx, number)
		if err != nil {
			return err
		}
		obj, err := c.store.Get(ctx, objectstore.BlockKey(number, hexHash(entry.Hash)), objectstore.GetOptions{})
		if err != nil {
			return err
		}
		view, err := fragment.OpenBlock(obj.Data)
		if err != nil {
			return err
		}

		recordCounts := make(map[fragment.FragmentID]int, len(c.fragments)+1)
		perFragment[fragment.HeaderFragmentID] = append(perFragment[fragment.HeaderFragmentID], fragment.SegmentBlockRecords{
			BlockNumber: number,
			Records:     [][]byte{view.HeaderBytes()},
		})
		for _, fi := range c.fragments {
			records, err := view.Body(fi.ID)
			if err != nil {
				return err
			}
			perFragment[fi.ID] = append(perFragment[fi.ID], fragment.SegmentBlockRecords{
				BlockNumber: number,
				Records:     records,
			})
			recordCounts[fi.ID] = len(records)
		}

		blockIndexes, err := view.Indexes()
		if err != nil {
			return err
		}
		for _, named := range blockIndexes.All() {
			shifted, err := named.Index.Shift(uint32(positionBase[named.FragmentID]))
			if err != nil {
				return err
			}
			existing := segmentIndex.Get(named.FragmentID, named.IndexID)
			merged, err := existing.Union(shifted)
			if err != nil {
				return err
			}
			segmentIndex.Add(named.FragmentID, named.IndexID, merged)
		}
		blockJoins, err := view.Joins()
		if err != nil {
			return err
		}
		for _, fj := range blockJoins {
			for targetID, j := range fj.Joins {
				shifted := j.Shift(uint32(positionBase[fj.FragmentID]), uint32(positionBase[targetID]))
				merged, err := segmentJoins.Get(fj.FragmentID, targetID).Merge(shifted)
				if err != nil {
					return err
				}
				segmentJoins.Set(fj.FragmentID, targetID, merged)
			}
		}

		for id, n := range recordCounts {
			positionBase[id] += uint64(n)
		}
	}

	allFragments := append([]fragment.FragmentInfo{{ID: fragment.HeaderFragmentID, Name: fragment.HeaderFragmentName}}, c.fragments...)
	for _, fi := range allFragments {
		blob := fragment.MarshalSegmentFragment(&fragment.SegmentFragment{
			FirstBlock: firstCursor,
			FragmentID: fi.ID,
			Blocks:     perFragment[fi.ID],
		})
		key := objectstore.SegmentFragmentKey(s, fi.Name)
		if _, err := c.store.Put(ctx, key, blob, objectstore.PutOptions{IfNoneMatch: "*"}); err != nil {
			if !dnaerr.Is(err, dnaerr.Precondition) {
				return err
			}
			// spec.md §4.6 idempotency: a prior partial write is
			// tolerated because segments are content-deterministic.
		}
		c.stats.BytesWritten.Add(float64(len(blob)))
	}

	indexBlob := fragment.MarshalSegmentIndex(&fragment.SegmentIndex{FirstBlock: firstCursor, Indexes: segmentIndex})
	indexKey := objectstore.SegmentFragmentKey(s, fragment.IndexFragmentName)
	if _, err := c.store.Put(ctx, indexKey, indexBlob, objectstore.PutOptions{IfNoneMatch: "*"}); err != nil {
		if !dnaerr.Is(err, dnaerr.Precondition) {
			return err
		}
	}
	c.stats.BytesWritten.Add(float64(len(indexBlob)))

	joinsBlob := fragment.MarshalSegmentJoins(&fragment.SegmentJoins{FirstBlock: firstCursor, Joins: segmentJoins})
	joinsKey := objectstore.SegmentFragmentKey(s, fragment.JoinsFragmentName)
	if _, err := c.store.Put(ctx, joinsKey, joinsBlob, objectstore.PutOptions{IfNoneMatch: "*"}); err != nil {
		if !dnaerr.Is(err, dnaerr.Precondition) {
			return err
		}
	}
	c.stats.BytesWritten.Add(float64(len(joinsBlob)))
	return nil
}

// pruneSingleBlocks deletes the single-block blobs now superseded by a
// segment (spec.md §4.6 step 5). A missing blob is not an error.
func (c *Compactor) pruneSingleBlocks(ctx context.Context, from, to uint64) {
	for n := from; n <= to; n++ {
		entry, err := c.chainLog.Get(ctx, n)
		if err != nil {
			continue
		}
		key := objectstore.BlockKey(n, hexHash(entry.Hash))
		if err := c.store.Delete(ctx, key); err == nil {
			c.stats.BlocksPruned.Inc()
		}
	}
}

// buildGroup implements spec.md §4.6 step 6: merge the last group_size
// segments' IndexGroup into a single block-granular IndexGroup.
func (c *Compactor) buildGroup(ctx context.Context, groupStart uint64) error {
	firstEntry, err := c.chainLog.Get(ctx, groupStart)
	if err != nil {
		return err
	}
	firstCursor := cursor.New(firstEntry.Number, firstEntry.Hash)

	merged := fragment.NewIndexGroup()
	for i := uint64(0); i < c.cfg.GroupSize; i++ {
		segStart := groupStart + i*c.cfg.SegmentSize
		blockOffset := uint32(i * c.cfg.SegmentSize)

		obj, err := c.store.Get(ctx, objectstore.SegmentFragmentKey(segStart, fragment.IndexFragmentName), objectstore.GetOptions{})
		if err != nil {
			return err
		}
		segIndex, err := fragment.OpenSegmentIndex(obj.Data)
		if err != nil {
			return err
		}

		// Per fragment kind, translate "record position within
		// segment" into "block position within segment" using that
		// fragment's own per-block record counts, then shift into
		// group-relative block numbers (spec.md §4.6 step 6: group
		// bitmaps key BLOCK numbers, not record positions).
		boundaries := make(map[fragment.FragmentID][]uint32)
		for _, fi := range c.fragments {
			bounds, err := c.recordBoundaries(ctx, segStart, fi.Name)
			if err != nil {
				return err
			}
			boundaries[fi.ID] = bounds
		}

		for _, named := range segIndex.Indexes.All() {
			bounds, ok := boundaries[named.FragmentID]
			if !ok {
				continue
			}
			blockLevel, err := recordIndexToBlockIndex(named.Index, bounds, blockOffset)
			if err != nil {
				return err
			}
			existing := merged.Get(named.FragmentID, named.IndexID)
			union, err := existing.Union(blockLevel)
			if err != nil {
				return err
			}
			merged.Add(named.FragmentID, named.IndexID, union)
		}
	}

	blob := fragment.MarshalGroup(&fragment.Group{FirstBlock: firstCursor, Indexes: merged})
	key := objectstore.GroupKey(groupStart)
	if _, err := c.store.Put(ctx, key, blob, objectstore.PutOptions{IfNoneMatch: "*"}); err != nil {
		if !dnaerr.Is(err, dnaerr.Precondition) {
			return err
		}
	}
	c.stats.BytesWritten.Add(float64(len(blob)))
	return nil
}

// recordBoundaries returns the prefix-sum record-count boundaries for
// one fragment kind within segment segStart: boundaries[p] is the
// first record position belonging to block p, and boundaries[len] is
// the total record count, so a record at global position r belongs to
// the block p where boundaries[p] <= r < boundaries[p+1].
func (c *Compactor) recordBoundaries(ctx context.Context, segStart uint64, fragmentName string) ([]uint32, error) {
	obj, err := c.store.Get(ctx, objectstore.SegmentFragmentKey(segStart, fragmentName), objectstore.GetOptions{})
	if err != nil {
		return nil, err
	}
	view, err := fragment.OpenSegmentFragment(obj.Data)
	if err != nil {
		return nil, err
	}
	bounds := make([]uint32, view.BlockCount()+1)
	var total uint32
	for p := 0; p < view.BlockCount(); p++ {
		bounds[p] = total
		records, err := view.RecordsAt(p)
		if err != nil {
			return nil, err
		}
		total += uint32(len(records))
	}
	bounds[view.BlockCount()] = total
	return bounds, nil
}

// recordIndexToBlockIndex converts idx's record-position bitmaps into
// block-position bitmaps using bounds, then shifts every resulting
// block position by blockOffset.
func recordIndexToBlockIndex(idx *fragment.Index, bounds []uint32, blockOffset uint32) (*fragment.Index, error) {
	builder := fragment.NewBitmapIndexBuilder()
	for _, key := range idx.Keys() {
		bm, err := idx.Get(key)
		if err != nil {
			return nil, err
		}
		if bm == nil {
			continue
		}
		it := bm.Iterator()
		for it.HasNext() {
			pos := it.Next()
			block := blockForPosition(bounds, pos)
			builder.Insert(key, block+blockOffset)
		}
	}
	return builder.Build()
}

// blockForPosition finds p such that bounds[p] <= pos < bounds[p+1],
// via binary search over the sorted prefix sums.
func blockForPosition(bounds []uint32, pos uint32) uint32 {
	lo, hi := 0, len(bounds)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if bounds[mid] <= pos {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return uint32(lo)
}

// readUint64 returns the decoded value, whether the key was present at
// all, and any error. Callers that need to special-case "never
// written" versus "written as zero" (see Tick's segmented pointer) must
// check found rather than treating 0 as absence.
func (c *Compactor) readUint64(ctx context.Context, key string) (uint64, bool, error) {
	kvv, err := c.kvClient.Get(ctx, key)
	if err != nil {
		if kv.IsNotFound(err) {
			return 0, false, nil
		}
		return 0, false, errors.Wrapf(err, "compaction: read %q", key)
	}
	return decodeUint64(kvv.Value), true, nil
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

func hexHash(h []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(h)*2)
	for i, b := range h {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return string(out)
}
