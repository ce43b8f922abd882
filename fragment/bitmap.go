package fragment

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
)

// IndexID is a small chain-defined integer identifying one index kind
// within a fragment (e.g. "log topic 0", "sender address"). Ids must
// stay stable across chain-plugin versions because they are persisted
// inside every segment and group blob.
type IndexID = uint8

// FragmentID is a small chain-defined integer identifying a fragment
// kind. The header fragment is always id 1, per spec.md §4.3.
type FragmentID = uint8

const HeaderFragmentID FragmentID = 1

// BitmapIndexBuilder accumulates positions under scalar keys while a
// block or segment is being written, then freezes into a sorted,
// serialized Index.
type BitmapIndexBuilder struct {
	byKey map[string]*roaring.Bitmap
	byRaw map[string]ScalarValue
}

func NewBitmapIndexBuilder() *BitmapIndexBuilder {
	return &BitmapIndexBuilder{
		byKey: make(map[string]*roaring.Bitmap),
		byRaw: make(map[string]ScalarValue),
	}
}

func (b *BitmapIndexBuilder) Insert(key ScalarValue, position uint32) {
	k := key.Key()
	bm, ok := b.byKey[k]
	if !ok {
		bm = roaring.New()
		b.byKey[k] = bm
		b.byRaw[k] = key
	}
	bm.Add(position)
}

// Build freezes the builder into an Index sorted by encoded key, so
// that a later reader can binary-search it without a full scan.
func (b *BitmapIndexBuilder) Build() (*Index, error) {
	keys := make([]string, 0, len(b.byKey))
	for k := range b.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	idx := &Index{}
	for _, k := range keys {
		bm := b.byKey[k]
		var buf bytes.Buffer
		if _, err := bm.WriteTo(&buf); err != nil {
			return nil, fmt.Errorf("fragment: serialize bitmap: %w", err)
		}
		idx.entries = append(idx.entries, indexEntry{
			key:   b.byRaw[k],
			bytes: buf.Bytes(),
		})
	}
	return idx, nil
}

type indexEntry struct {
	key   ScalarValue
	bytes []byte
}

// Index maps scalar keys to RoaringBitmaps of record positions. Lookups
// deserialize only the matched bitmap, never the whole index, matching
// the "deserialize_index<TI: TaggedIndex>" laziness spec.md §4.3 requires.
type Index struct {
	entries []indexEntry
}

// Get returns the bitmap stored under key, or nil if absent.
func (idx *Index) Get(key ScalarValue) (*roaring.Bitmap, error) {
	k := key.Key()
	for _, e := range idx.entries {
		if e.key.Key() == k {
			bm := roaring.New()
			if _, err := bm.FromBuffer(e.bytes); err != nil {
				return nil, fmt.Errorf("fragment: deserialize bitmap: %w", err)
			}
			return bm, nil
		}
	}
	return nil, nil
}

// Keys returns every key present in the index, in sorted (encoded) order.
func (idx *Index) Keys() []ScalarValue {
	out := make([]ScalarValue, len(idx.entries))
	for i, e := range idx.entries {
		out[i] = e.key
	}
	return out
}

// Shift returns a copy of idx with every bitmap value shifted by delta.
// Used by the compactor to re-key "position within block" bitmaps into
// "position within segment" (spec.md §4.6 step 3).
func (idx *Index) Shift(delta uint32) (*Index, error) {
	out := &Index{entries: make([]indexEntry, len(idx.entries))}
	for i, e := range idx.entries {
		bm, err := idx.Get(e.key)
		if err != nil {
			return nil, err
		}
		shifted := roaring.New()
		it := bm.Iterator()
		for it.HasNext() {
			shifted.Add(it.Next() + delta)
		}
		var buf bytes.Buffer
		if _, err := shifted.WriteTo(&buf); err != nil {
			return nil, err
		}
		out.entries[i] = indexEntry{key: e.key, bytes: buf.Bytes()}
	}
	return out, nil
}

// Union merges other into a fresh Index, OR-ing bitmaps that share a key.
func (idx *Index) Union(other *Index) (*Index, error) {
	merged := make(map[string]*roaring.Bitmap)
	raw := make(map[string]ScalarValue)
	for _, src := range []*Index{idx, other} {
		if src == nil {
			continue
		}
		for _, e := range src.entries {
			bm, err := src.Get(e.key)
			if err != nil {
				return nil, err
			}
			k := e.key.Key()
			if cur, ok := merged[k]; ok {
				cur.Or(bm)
			} else {
				merged[k] = bm
				raw[k] = e.key
			}
		}
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := &Index{}
	for _, k := range keys {
		var buf bytes.Buffer
		if _, err := merged[k].WriteTo(&buf); err != nil {
			return nil, err
		}
		out.entries = append(out.entries, indexEntry{key: raw[k], bytes: buf.Bytes()})
	}
	return out, nil
}

// NamedIndex pairs an Index with the (fragment, index) id it belongs to,
// the unit stored inside an IndexGroup.
type NamedIndex struct {
	FragmentID FragmentID
	IndexID    IndexID
	Index      *Index
}

// IndexGroup is the `Vec<Index>`-equivalent carried on every segment,
// group, and individual block (spec.md §4.3): the full set of bitmap
// indexes declared by the chain plugin, keyed by (fragment_id, index_id).
type IndexGroup struct {
	indexes []NamedIndex
}

func NewIndexGroup() *IndexGroup { return &IndexGroup{} }

func (g *IndexGroup) Add(fragmentID FragmentID, indexID IndexID, idx *Index) {
	g.indexes = append(g.indexes, NamedIndex{FragmentID: fragmentID, IndexID: indexID, Index: idx})
}

// Get returns only the requested index, never touching the others —
// the point of keeping the group as discrete entries rather than one
// big merged structure.
func (g *IndexGroup) Get(fragmentID FragmentID, indexID IndexID) *Index {
	for _, e := range g.indexes {
		if e.FragmentID == fragmentID && e.IndexID == indexID {
			return e.Index
		}
	}
	return nil
}

func (g *IndexGroup) All() []NamedIndex { return g.indexes }
