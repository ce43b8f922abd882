// Package scanner implements the three-mode evaluation pipeline from
// spec.md §4.9: group-level prune, segment scan, and single-block scan,
// all driven by the filter model in package filter.
//
// Grounded on original_source/common/src/data_stream/{scanner,filter}.rs
// for the FilterMatch/SendData shapes, and on go-ethereum's
// core/bloombits matcher/scheduler/fetcher pipeline for the
// prune-then-fetch concurrency shape — ScanGroup runs the segment scans
// for the blocks that survive the group prune concurrently, one goroutine
// per segment, via golang.org/x/sync/errgroup rather than hand-rolled
// goroutines and a WaitGroup.
package scanner

import (
	"context"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/dgraph-io/ristretto"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/prysmaticlabs/dna/cursor"
	"github.com/prysmaticlabs/dna/filter"
	"github.com/prysmaticlabs/dna/fragment"
	"github.com/prysmaticlabs/dna/objectstore"
)

// MatchedRecord is one record that survived filter evaluation, annotated
// with the filter ids that matched it (spec.md §4.9: "filters append
// filter_id lists to each emitted record so the client can route").
type MatchedRecord struct {
	FragmentID fragment.FragmentID
	Position   uint32
	Data       []byte
	FilterIDs  []uint32
}

// SendData is one emitted batch: everything the stream service needs to
// send a client for one block, in fragment/original-insertion order.
type SendData struct {
	Cursor    cursor.Cursor
	EndCursor cursor.Cursor
	Header    []byte
	Records   []MatchedRecord
}

// Scanner evaluates BlockFilters against segments, groups, and
// individual blocks.
type Scanner struct {
	store       objectstore.Store
	segmentSize uint64
	fragments   []fragment.FragmentInfo
	cache       *ristretto.Cache
}

// New constructs a Scanner. cache may be nil, in which case every blob
// is re-fetched from the object store on each access.
func New(store objectstore.Store, segmentSize uint64, fragments []fragment.FragmentInfo, cache *ristretto.Cache) *Scanner {
	return &Scanner{store: store, segmentSize: segmentSize, fragments: fragments, cache: cache}
}

// NewCache builds the default segment/group blob cache (spec.md §4.9,
// domain stack: dgraph-io/ristretto), sized for maxCost bytes of
// cached blobs.
func NewCache(maxCost int64) (*ristretto.Cache, error) {
	return ristretto.NewCache(&ristretto.Config{
		NumCounters: maxCost / 100, // ~100 bytes/blob cost estimate, ristretto's own sizing heuristic
		MaxCost:     maxCost,
		BufferItems: 64,
	})
}

func (s *Scanner) nameFor(id fragment.FragmentID) (string, bool) {
	if id == fragment.HeaderFragmentID {
		return fragment.HeaderFragmentName, true
	}
	for _, fi := range s.fragments {
		if fi.ID == id {
			return fi.Name, true
		}
	}
	return "", false
}

func (s *Scanner) getBlob(ctx context.Context, key string) ([]byte, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			return v.([]byte), nil
		}
	}
	obj, err := s.store.Get(ctx, key, objectstore.GetOptions{})
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(key, obj.Data, int64(len(obj.Data)))
	}
	return obj.Data, nil
}

func (s *Scanner) getGroup(ctx context.Context, groupStart uint64) (*fragment.GroupView, error) {
	data, err := s.getBlob(ctx, objectstore.GroupKey(groupStart))
	if err != nil {
		return nil, err
	}
	return fragment.OpenGroup(data)
}

func (s *Scanner) getSegmentIndex(ctx context.Context, segStart uint64) (*fragment.SegmentIndex, error) {
	data, err := s.getBlob(ctx, objectstore.SegmentFragmentKey(segStart, fragment.IndexFragmentName))
	if err != nil {
		return nil, err
	}
	return fragment.OpenSegmentIndex(data)
}

func (s *Scanner) getSegmentJoins(ctx context.Context, segStart uint64) (*fragment.SegmentJoins, error) {
	data, err := s.getBlob(ctx, objectstore.SegmentFragmentKey(segStart, fragment.JoinsFragmentName))
	if err != nil {
		return nil, err
	}
	return fragment.OpenSegmentJoins(data)
}

func (s *Scanner) getSegmentFragment(ctx context.Context, segStart uint64, fragmentID fragment.FragmentID) (*fragment.SegmentFragmentView, error) {
	name, ok := s.nameFor(fragmentID)
	if !ok {
		return nil, errors.Errorf("scanner: unknown fragment id %d", fragmentID)
	}
	data, err := s.getBlob(ctx, objectstore.SegmentFragmentKey(segStart, name))
	if err != nil {
		return nil, err
	}
	return fragment.OpenSegmentFragment(data)
}

// allFilters flattens a BlockFilter's per-fragment map into one slice,
// since filter.Filter already carries its own FragmentID and
// filter.EvaluateAll/Evaluate only need a flat list.
func allFilters(bf filter.BlockFilter) []filter.Filter {
	var out []filter.Filter
	for _, fs := range bf.Filters {
		out = append(out, fs...)
	}
	return out
}

// PruneGroup implements spec.md §4.9's group-level prune: given a
// group's merged, block-granular IndexGroup, return the set of block
// positions (relative to the group's first block) that MAY contain a
// match. A position is pruned out iff, for every filter, at least one
// condition's bitmap misses it entirely — which is exactly
// filter.EvaluateAll's AND-within-filter/OR-across-filters semantics
// applied to a block-granular index instead of a record-granular one.
func (s *Scanner) PruneGroup(ctx context.Context, groupStart uint64, bf filter.BlockFilter) (*roaring.Bitmap, error) {
	group, err := s.getGroup(ctx, groupStart)
	if err != nil {
		return nil, errors.Wrapf(err, "scanner: open group at %d", groupStart)
	}
	match, err := filter.EvaluateAll(allFilters(bf), group.Indexes())
	if err != nil {
		return nil, errors.Wrap(err, "scanner: evaluate group-level filters")
	}
	surviving := roaring.New()
	for pos := range match {
		surviving.Add(pos)
	}
	return surviving, nil
}

// recordBoundaries returns the prefix-sum record-count boundaries for
// one fragment's segment blob: a record at segment-global position r
// belongs to the block at position p where bounds[p] <= r < bounds[p+1].
func recordBoundaries(view *fragment.SegmentFragmentView) ([]uint32, error) {
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

// ScanSegment implements spec.md §4.9's segment scan. surviving, if
// non-nil, restricts evaluation to those block positions (as produced
// by PruneGroup); nil means "scan every block in the segment" (the case
// when a candidate range starts mid-segment, below the grouped
// pointer, per spec.md §4.10's "skip group prune" transition).
func (s *Scanner) ScanSegment(ctx context.Context, segStart uint64, surviving *roaring.Bitmap, bf filter.BlockFilter) ([]SendData, error) {
	headerView, err := s.getSegmentFragment(ctx, segStart, fragment.HeaderFragmentID)
	if err != nil {
		return nil, errors.Wrap(err, "scanner: open segment header")
	}
	segIndex, err := s.getSegmentIndex(ctx, segStart)
	if err != nil {
		return nil, errors.Wrap(err, "scanner: open segment index")
	}

	// Referenced fragment kinds: every fragment a filter targets, plus
	// every join target, so joined records can be dereferenced below.
	referenced := map[fragment.FragmentID]bool{}
	hasJoins := false
	for fragID, fs := range bf.Filters {
		referenced[fragID] = true
		for _, f := range fs {
			for _, j := range f.Joins {
				referenced[j] = true
				hasJoins = true
			}
		}
	}

	var segJoins *fragment.JoinGroup
	if hasJoins {
		sj, err := s.getSegmentJoins(ctx, segStart)
		if err != nil {
			return nil, errors.Wrap(err, "scanner: open segment joins")
		}
		segJoins = sj.Joins
	}

	views := make(map[fragment.FragmentID]*fragment.SegmentFragmentView, len(referenced))
	bounds := make(map[fragment.FragmentID][]uint32, len(referenced))
	matches := make(map[fragment.FragmentID]filter.FilterMatch, len(referenced))
	for fragID := range referenced {
		view, err := s.getSegmentFragment(ctx, segStart, fragID)
		if err != nil {
			return nil, errors.Wrapf(err, "scanner: open segment fragment %d", fragID)
		}
		views[fragID] = view
		b, err := recordBoundaries(view)
		if err != nil {
			return nil, err
		}
		bounds[fragID] = b

		m, err := filter.EvaluateAll(bf.Filters[fragID], segIndex.Indexes)
		if err != nil {
			return nil, errors.Wrapf(err, "scanner: evaluate segment filters for fragment %d", fragID)
		}
		matches[fragID] = m
	}

	blockCount := headerView.BlockCount()
	var out []SendData
	for p := 0; p < blockCount; p++ {
		if surviving != nil && !surviving.Contains(uint32(p)) {
			continue
		}
		headerRecords, err := headerView.RecordsAt(p)
		if err != nil {
			return nil, err
		}
		var header []byte
		if len(headerRecords) > 0 {
			header = headerRecords[0]
		}
		blockNumber := headerView.BlockNumberAt(p)

		data := SendData{
			Cursor: cursor.New(blockNumber, nil),
		}
		if bf.AlwaysIncludeHeader {
			data.Header = header
		}

		for fragID := range referenced {
			b := bounds[fragID]
			start, end := b[p], b[p+1]
			if start == end {
				continue
			}
			view := views[fragID]
			records, err := view.RecordsAt(p)
			if err != nil {
				return nil, err
			}
			m := matches[fragID]
			var matchedGlobalPos []uint32
			for localPos, rec := range records {
				globalPos := start + uint32(localPos)
				ids, ok := m[globalPos]
				if !ok {
					continue
				}
				filterIDs := make([]uint32, 0, len(ids))
				for id := range ids {
					filterIDs = append(filterIDs, id)
				}
				data.Records = append(data.Records, MatchedRecord{
					FragmentID: fragID,
					Position:   uint32(localPos),
					Data:       rec,
					FilterIDs:  filterIDs,
				})
				matchedGlobalPos = append(matchedGlobalPos, globalPos)
			}

			if segJoins == nil || len(matchedGlobalPos) == 0 {
				continue
			}
			for _, f := range bf.Filters[fragID] {
				for _, targetID := range f.Joins {
					join := segJoins.Get(fragID, targetID)
					if join == nil {
						continue
					}
					targetBounds, ok := bounds[targetID]
					if !ok {
						continue
					}
					targetStart := targetBounds[p]
					targetRecords, err := views[targetID].RecordsAt(p)
					if err != nil {
						return nil, err
					}
					for _, sourcePos := range matchedGlobalPos {
						data.appendSegmentJoined(join, targetID, sourcePos, targetStart, targetRecords)
					}
				}
			}
		}
		out = append(out, data)
	}
	return out, nil
}

// ScanGroup fans PruneGroup's surviving block positions out to
// per-segment ScanSegment calls concurrently, one goroutine per
// constituent segment, matching go-ethereum's bloombits
// matcher/scheduler/fetcher concurrency shape.
func (s *Scanner) ScanGroup(ctx context.Context, groupStart uint64, groupSize uint64, bf filter.BlockFilter) ([]SendData, error) {
	surviving, err := s.PruneGroup(ctx, groupStart, bf)
	if err != nil {
		return nil, err
	}

	results := make([][]SendData, groupSize)
	g, gctx := errgroup.WithContext(ctx)
	for i := uint64(0); i < groupSize; i++ {
		i := i
		g.Go(func() error {
			segStart := groupStart + i*s.segmentSize
			offset := uint32(i * s.segmentSize)
			segSurviving := shiftDown(surviving, offset, uint32((i+1)*s.segmentSize))
			if segSurviving.IsEmpty() {
				return nil
			}
			res, err := s.ScanSegment(gctx, segStart, segSurviving, bf)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []SendData
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// shiftDown returns the subset of bm in [lo, hi) re-keyed to start at 0.
func shiftDown(bm *roaring.Bitmap, lo, hi uint32) *roaring.Bitmap {
	out := roaring.New()
	it := bm.Iterator()
	for it.HasNext() {
		v := it.Next()
		if v < lo || v >= hi {
			continue
		}
		out.Add(v - lo)
	}
	return out
}

// ScanSingleBlock implements spec.md §4.9's single-block scan for the
// tail above segmented: evaluate the block's own inline IndexGroup and
// body fragments, the same condition/join logic as the segment scan.
func (s *Scanner) ScanSingleBlock(ctx context.Context, view *fragment.BlockView, cur cursor.Cursor, bf filter.BlockFilter) (SendData, error) {
	indexes, err := view.Indexes()
	if err != nil {
		return SendData{}, err
	}

	data := SendData{Cursor: cur}
	if bf.AlwaysIncludeHeader {
		data.Header = view.HeaderBytes()
	}

	for fragID, fs := range bf.Filters {
		records, err := view.Body(fragID)
		if err != nil {
			return SendData{}, err
		}
		m, err := filter.EvaluateAll(fs, indexes)
		if err != nil {
			return SendData{}, err
		}
		for pos, ids := range m {
			if int(pos) >= len(records) {
				continue
			}
			filterIDs := make([]uint32, 0, len(ids))
			for id := range ids {
				filterIDs = append(filterIDs, id)
			}
			data.Records = append(data.Records, MatchedRecord{
				FragmentID: fragID,
				Position:   pos,
				Data:       records[pos],
				FilterIDs:  filterIDs,
			})
		}

		for _, f := range fs {
			for _, joinTarget := range f.Joins {
				join, err := view.Join(fragID, joinTarget)
				if err != nil || join == nil {
					continue
				}
				targetRecords, err := view.Body(joinTarget)
				if err != nil {
					return SendData{}, err
				}
				for pos := range m {
					data.appendJoined(join, joinTarget, pos, targetRecords)
				}
			}
		}
	}
	return data, nil
}

// appendSegmentJoined dereferences a segment-level join, whose keys and
// values are both segment-global positions: targetStart converts the
// joined target position back into an index into targetRecords, which
// only holds the current block's records.
func (d *SendData) appendSegmentJoined(join *fragment.Join, targetID fragment.FragmentID, sourcePos, targetStart uint32, targetRecords [][]byte) {
	switch join.Kind {
	case fragment.JoinToOne:
		if v, ok := join.GetOne(sourcePos); ok {
			if local := int(v) - int(targetStart); local >= 0 && local < len(targetRecords) {
				d.Records = append(d.Records, MatchedRecord{FragmentID: targetID, Position: uint32(local), Data: targetRecords[local]})
			}
		}
	case fragment.JoinToMany:
		if bm, ok := join.GetMany(sourcePos); ok {
			it := bm.Iterator()
			for it.HasNext() {
				v := it.Next()
				if local := int(v) - int(targetStart); local >= 0 && local < len(targetRecords) {
					d.Records = append(d.Records, MatchedRecord{FragmentID: targetID, Position: uint32(local), Data: targetRecords[local]})
				}
			}
		}
	}
}

func (d *SendData) appendJoined(join *fragment.Join, targetID fragment.FragmentID, sourcePos uint32, targetRecords [][]byte) {
	switch join.Kind {
	case fragment.JoinToOne:
		if v, ok := join.GetOne(sourcePos); ok && int(v) < len(targetRecords) {
			d.Records = append(d.Records, MatchedRecord{FragmentID: targetID, Position: v, Data: targetRecords[v]})
		}
	case fragment.JoinToMany:
		if bm, ok := join.GetMany(sourcePos); ok {
			it := bm.Iterator()
			for it.HasNext() {
				v := it.Next()
				if int(v) < len(targetRecords) {
					d.Records = append(d.Records, MatchedRecord{FragmentID: targetID, Position: v, Data: targetRecords[v]})
				}
			}
		}
	}
}
