package fragment

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/prysmaticlabs/dna/cursor"
)

// IndexFragmentName is the reserved fragment name carrying a segment's
// merged IndexGroup, written alongside the per-fragment-kind blobs
// under the same first_block prefix (spec.md §4.1 / §4.6).
const IndexFragmentName = "index"

// HeaderFragmentName is the reserved fragment name carrying a segment's
// per-block header bytes, one record per block, so the scanner can
// recover a block's number and header without opening any other
// fragment kind (spec.md §4.9 "Open the segment/{s}/{header} blob").
const HeaderFragmentName = "header"

// SegmentBlockRecords holds one block's worth of records for a single
// fragment kind, as stored inside a segment fragment blob.
type SegmentBlockRecords struct {
	BlockNumber uint64
	Records     [][]byte
}

// SegmentFragment is `segment/{first_block}/{fragment_name}`: a
// contiguous run of segment_size blocks' worth of one fragment kind's
// records, in block-number order.
type SegmentFragment struct {
	FirstBlock cursor.Cursor
	FragmentID FragmentID
	Blocks     []SegmentBlockRecords
}

// MarshalSegmentFragment archives a segment fragment blob.
func MarshalSegmentFragment(s *SegmentFragment) []byte {
	w := newArchiveWriter()
	w.put("first_block", s.FirstBlock.Encode())
	w.put("fragment_id", []byte{s.FragmentID})

	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(len(s.Blocks)))
	for _, blk := range s.Blocks {
		binary.Write(&buf, binary.BigEndian, blk.BlockNumber)
		buf.Write(encodeRecords(blk.Records))
	}
	w.put("blocks", buf.Bytes())
	return w.finish(segmentMagic)
}

// SegmentFragmentView opens an archived segment fragment blob for read
// access without decoding every block's records up front.
type SegmentFragmentView struct {
	archive     *archiveView
	firstBlock  cursor.Cursor
	fragmentID  FragmentID
	blockOffsets []uint64 // block number per entry, in order
	blockBytes   [][]byte // raw per-block record bytes, sliced lazily
}

func OpenSegmentFragment(raw []byte) (*SegmentFragmentView, error) {
	a, err := openArchive(segmentMagic, raw)
	if err != nil {
		return nil, fmt.Errorf("fragment: open segment: %w", err)
	}
	fbBytes, ok := a.section("first_block")
	if !ok {
		return nil, fmt.Errorf("fragment: segment missing first_block section")
	}
	fb, _, err := cursor.Decode(fbBytes)
	if err != nil {
		return nil, err
	}
	idBytes, ok := a.section("fragment_id")
	if !ok || len(idBytes) != 1 {
		return nil, fmt.Errorf("fragment: segment missing fragment_id section")
	}
	blocksBytes, ok := a.section("blocks")
	if !ok {
		return nil, fmt.Errorf("fragment: segment missing blocks section")
	}

	r := bytes.NewReader(blocksBytes)
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, err
	}
	offsets := make([]uint64, count)
	raws := make([][]byte, count)
	for i := uint32(0); i < count; i++ {
		var num uint64
		if err := binary.Read(r, binary.BigEndian, &num); err != nil {
			return nil, err
		}
		offsets[i] = num
		// Peek the record-count/length-prefixed payload without
		// decoding records yet: re-read the same bytes decodeRecords
		// expects by tracking position.
		start := len(blocksBytes) - r.Len()
		var recCount uint32
		if err := binary.Read(r, binary.BigEndian, &recCount); err != nil {
			return nil, err
		}
		for j := uint32(0); j < recCount; j++ {
			var length uint32
			if err := binary.Read(r, binary.BigEndian, &length); err != nil {
				return nil, err
			}
			if _, err := r.Seek(int64(length), 1); err != nil {
				return nil, err
			}
		}
		end := len(blocksBytes) - r.Len()
		raws[i] = blocksBytes[start:end]
	}

	return &SegmentFragmentView{
		archive:      a,
		firstBlock:   fb,
		fragmentID:   idBytes[0],
		blockOffsets: offsets,
		blockBytes:   raws,
	}, nil
}

func (v *SegmentFragmentView) FirstBlock() cursor.Cursor { return v.firstBlock }
func (v *SegmentFragmentView) FragmentID() FragmentID    { return v.fragmentID }
func (v *SegmentFragmentView) BlockCount() int           { return len(v.blockOffsets) }

// RecordsAt returns the records for the block at the given position
// within the segment (0-based), decoding only that block's bytes.
func (v *SegmentFragmentView) RecordsAt(position int) ([][]byte, error) {
	if position < 0 || position >= len(v.blockBytes) {
		return nil, fmt.Errorf("fragment: segment position %d out of range [0,%d)", position, len(v.blockBytes))
	}
	return decodeRecords(v.blockBytes[position])
}

// BlockNumberAt returns the absolute block number at the given position.
func (v *SegmentFragmentView) BlockNumberAt(position int) uint64 {
	return v.blockOffsets[position]
}

// SegmentIndex is the segment-level IndexGroup, stored under the
// reserved "index" fragment name with positions re-keyed to "record
// position within segment" (spec.md §4.6 step 3).
type SegmentIndex struct {
	FirstBlock cursor.Cursor
	Indexes    *IndexGroup
}

func MarshalSegmentIndex(s *SegmentIndex) []byte {
	w := newArchiveWriter()
	w.put("first_block", s.FirstBlock.Encode())
	w.put("indexes", encodeIndexGroup(s.Indexes))
	return w.finish(segmentMagic)
}

// JoinsFragmentName is the reserved fragment name carrying a segment's
// merged join declarations, re-keyed to segment-local positions on both
// the source and target side, so the scanner can dereference joins at
// segment scope without opening every constituent block (spec.md §4.9
// step 3 "Dereference joins").
const JoinsFragmentName = "joins"

// SegmentJoins is the segment-level join set, stored under the reserved
// "joins" fragment name, mirroring SegmentIndex.
type SegmentJoins struct {
	FirstBlock cursor.Cursor
	Joins      *JoinGroup
}

func MarshalSegmentJoins(s *SegmentJoins) []byte {
	w := newArchiveWriter()
	w.put("first_block", s.FirstBlock.Encode())
	w.put("joins", encodeJoins(s.Joins.All()))
	return w.finish(segmentMagic)
}

func OpenSegmentJoins(raw []byte) (*SegmentJoins, error) {
	a, err := openArchive(segmentMagic, raw)
	if err != nil {
		return nil, fmt.Errorf("fragment: open segment joins: %w", err)
	}
	fbBytes, ok := a.section("first_block")
	if !ok {
		return nil, fmt.Errorf("fragment: segment joins missing first_block")
	}
	fb, _, err := cursor.Decode(fbBytes)
	if err != nil {
		return nil, err
	}
	g := NewJoinGroup()
	if joinBytes, ok := a.section("joins"); ok {
		entries, err := decodeJoins(joinBytes)
		if err != nil {
			return nil, err
		}
		for _, fj := range entries {
			for targetID, j := range fj.Joins {
				g.Set(fj.FragmentID, targetID, j)
			}
		}
	}
	return &SegmentJoins{FirstBlock: fb, Joins: g}, nil
}

func OpenSegmentIndex(raw []byte) (*SegmentIndex, error) {
	a, err := openArchive(segmentMagic, raw)
	if err != nil {
		return nil, fmt.Errorf("fragment: open segment index: %w", err)
	}
	fbBytes, ok := a.section("first_block")
	if !ok {
		return nil, fmt.Errorf("fragment: segment index missing first_block")
	}
	fb, _, err := cursor.Decode(fbBytes)
	if err != nil {
		return nil, err
	}
	idxBytes, ok := a.section("indexes")
	if !ok {
		return nil, fmt.Errorf("fragment: segment index missing indexes section")
	}
	g, err := decodeIndexGroup(idxBytes)
	if err != nil {
		return nil, err
	}
	return &SegmentIndex{FirstBlock: fb, Indexes: g}, nil
}
