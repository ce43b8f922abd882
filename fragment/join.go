package fragment

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
)

// JoinKind tags whether a join relates records one-to-one or one-to-many.
type JoinKind uint8

const (
	JoinToOne JoinKind = iota
	JoinToMany
)

// Join associates records in a source fragment with records in a target
// fragment, sorted by key so Get is a binary search (spec.md §4.3).
type Join struct {
	Kind      JoinKind
	TargetID  FragmentID
	keys      []uint32
	oneValues []uint32        // valid when Kind == JoinToOne, parallel to keys
	manyBM    []*roaring.Bitmap // valid when Kind == JoinToMany, parallel to keys
}

// JoinBuilder accumulates (source position -> target position(s)) pairs.
type JoinBuilder struct {
	kind     JoinKind
	targetID FragmentID
	one      map[uint32]uint32
	many     map[uint32]*roaring.Bitmap
}

func NewJoinToOneBuilder(targetID FragmentID) *JoinBuilder {
	return &JoinBuilder{kind: JoinToOne, targetID: targetID, one: make(map[uint32]uint32)}
}

func NewJoinToManyBuilder(targetID FragmentID) *JoinBuilder {
	return &JoinBuilder{kind: JoinToMany, targetID: targetID, many: make(map[uint32]*roaring.Bitmap)}
}

func (b *JoinBuilder) InsertOne(key, value uint32) {
	if b.kind != JoinToOne {
		panic("fragment: InsertOne on a to-many join builder")
	}
	b.one[key] = value
}

func (b *JoinBuilder) InsertMany(key, value uint32) {
	if b.kind != JoinToMany {
		panic("fragment: InsertMany on a to-one join builder")
	}
	bm, ok := b.many[key]
	if !ok {
		bm = roaring.New()
		b.many[key] = bm
	}
	bm.Add(value)
}

func (b *JoinBuilder) Build() (*Join, error) {
	switch b.kind {
	case JoinToOne:
		keys := make([]uint32, 0, len(b.one))
		for k := range b.one {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		values := make([]uint32, len(keys))
		for i, k := range keys {
			values[i] = b.one[k]
		}
		return &Join{Kind: JoinToOne, TargetID: b.targetID, keys: keys, oneValues: values}, nil
	case JoinToMany:
		keys := make([]uint32, 0, len(b.many))
		for k := range b.many {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		bms := make([]*roaring.Bitmap, len(keys))
		for i, k := range keys {
			bms[i] = b.many[k]
		}
		return &Join{Kind: JoinToMany, TargetID: b.targetID, keys: keys, manyBM: bms}, nil
	default:
		return nil, fmt.Errorf("fragment: unknown join kind %d", b.kind)
	}
}

// GetOne returns the single joined position for key, for a JoinToOne join.
func (j *Join) GetOne(key uint32) (uint32, bool) {
	i := sort.Search(len(j.keys), func(i int) bool { return j.keys[i] >= key })
	if i < len(j.keys) && j.keys[i] == key {
		return j.oneValues[i], true
	}
	return 0, false
}

// GetMany returns the bitmap of joined positions for key, for a JoinToMany join.
func (j *Join) GetMany(key uint32) (*roaring.Bitmap, bool) {
	i := sort.Search(len(j.keys), func(i int) bool { return j.keys[i] >= key })
	if i < len(j.keys) && j.keys[i] == key {
		return j.manyBM[i], true
	}
	return nil, false
}

// Encode serializes the join to a flat byte buffer: kind, target id,
// key count, keys, then either u32 values or length-prefixed bitmaps.
func (j *Join) Encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(j.Kind))
	buf.WriteByte(j.TargetID)
	writeU32(&buf, uint32(len(j.keys)))
	for _, k := range j.keys {
		writeU32(&buf, k)
	}
	switch j.Kind {
	case JoinToOne:
		for _, v := range j.oneValues {
			writeU32(&buf, v)
		}
	case JoinToMany:
		for _, bm := range j.manyBM {
			var bmBuf bytes.Buffer
			if _, err := bm.WriteTo(&bmBuf); err != nil {
				return nil, err
			}
			writeU32(&buf, uint32(bmBuf.Len()))
			buf.Write(bmBuf.Bytes())
		}
	}
	return buf.Bytes(), nil
}

// DecodeJoin is the inverse of Encode.
func DecodeJoin(b []byte) (*Join, error) {
	if len(b) < 2+4 {
		return nil, fmt.Errorf("fragment: truncated join")
	}
	kind := JoinKind(b[0])
	targetID := b[1]
	off := 2
	n, off2 := readU32(b, off)
	off = off2
	keys := make([]uint32, n)
	for i := range keys {
		v, o := readU32(b, off)
		keys[i] = v
		off = o
	}
	j := &Join{Kind: kind, TargetID: targetID, keys: keys}
	switch kind {
	case JoinToOne:
		values := make([]uint32, n)
		for i := range values {
			v, o := readU32(b, off)
			values[i] = v
			off = o
		}
		j.oneValues = values
	case JoinToMany:
		bms := make([]*roaring.Bitmap, n)
		for i := range bms {
			length, o := readU32(b, off)
			off = o
			bm := roaring.New()
			if _, err := bm.FromBuffer(b[off : off+int(length)]); err != nil {
				return nil, err
			}
			off += int(length)
			bms[i] = bm
		}
		j.manyBM = bms
	default:
		return nil, fmt.Errorf("fragment: unknown join kind %d", kind)
	}
	return j, nil
}

// Shift returns a copy of j with its source-side keys shifted by
// keyDelta and its target-side values shifted by valueDelta. Used by
// the compactor to re-key a block's joins into segment-relative
// positions, the same way Index.Shift re-keys bitmaps.
func (j *Join) Shift(keyDelta, valueDelta uint32) *Join {
	out := &Join{Kind: j.Kind, TargetID: j.TargetID, keys: make([]uint32, len(j.keys))}
	for i, k := range j.keys {
		out.keys[i] = k + keyDelta
	}
	switch j.Kind {
	case JoinToOne:
		out.oneValues = make([]uint32, len(j.oneValues))
		for i, v := range j.oneValues {
			out.oneValues[i] = v + valueDelta
		}
	case JoinToMany:
		out.manyBM = make([]*roaring.Bitmap, len(j.manyBM))
		for i, bm := range j.manyBM {
			shifted := roaring.New()
			it := bm.Iterator()
			for it.HasNext() {
				shifted.Add(it.Next() + valueDelta)
			}
			out.manyBM[i] = shifted
		}
	}
	return out
}

// Merge combines j and other, which must share a kind and target, into
// one join by concatenating their key ranges. Callers shift each
// block's join by that block's position base before merging, so the
// key ranges arrive already disjoint and sorted — no union-by-key is
// needed, unlike Index.Union.
func (j *Join) Merge(other *Join) (*Join, error) {
	if other == nil {
		return j, nil
	}
	if j == nil {
		return other, nil
	}
	if j.Kind != other.Kind || j.TargetID != other.TargetID {
		return nil, fmt.Errorf("fragment: merge join kind/target mismatch")
	}
	out := &Join{Kind: j.Kind, TargetID: j.TargetID}
	out.keys = append(append([]uint32{}, j.keys...), other.keys...)
	switch j.Kind {
	case JoinToOne:
		out.oneValues = append(append([]uint32{}, j.oneValues...), other.oneValues...)
	case JoinToMany:
		out.manyBM = append(append([]*roaring.Bitmap{}, j.manyBM...), other.manyBM...)
	}
	return out, nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	buf.WriteByte(byte(v >> 24))
	buf.WriteByte(byte(v >> 16))
	buf.WriteByte(byte(v >> 8))
	buf.WriteByte(byte(v))
}

func readU32(b []byte, off int) (uint32, int) {
	v := uint32(b[off])<<24 | uint32(b[off+1])<<16 | uint32(b[off+2])<<8 | uint32(b[off+3])
	return v, off + 4
}
