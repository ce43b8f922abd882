package fragment

import (
	"fmt"

	"github.com/prysmaticlabs/dna/cursor"
)

// Group is `group/{first_block}`: a merged IndexGroup whose bitmaps now
// key positions of BLOCKS within the group (group_size * segment_size
// blocks total), used to prune whole groups before opening any of
// their segments (spec.md §3, §4.9 "Group-level prune").
type Group struct {
	FirstBlock cursor.Cursor
	Indexes    *IndexGroup
}

func MarshalGroup(g *Group) []byte {
	w := newArchiveWriter()
	w.put("first_block", g.FirstBlock.Encode())
	w.put("indexes", encodeIndexGroup(g.Indexes))
	return w.finish(groupMagic)
}

// GroupView opens an archived group blob for read access.
type GroupView struct {
	firstBlock cursor.Cursor
	indexes    *IndexGroup
}

func OpenGroup(raw []byte) (*GroupView, error) {
	a, err := openArchive(groupMagic, raw)
	if err != nil {
		return nil, fmt.Errorf("fragment: open group: %w", err)
	}
	fbBytes, ok := a.section("first_block")
	if !ok {
		return nil, fmt.Errorf("fragment: group missing first_block")
	}
	fb, _, err := cursor.Decode(fbBytes)
	if err != nil {
		return nil, err
	}
	idxBytes, ok := a.section("indexes")
	if !ok {
		return nil, fmt.Errorf("fragment: group missing indexes section")
	}
	idx, err := decodeIndexGroup(idxBytes)
	if err != nil {
		return nil, err
	}
	return &GroupView{firstBlock: fb, indexes: idx}, nil
}

func (v *GroupView) FirstBlock() cursor.Cursor { return v.firstBlock }

// Index returns the merged, block-granular bitmap index for the given
// (fragment_id, index_id), or nil if the chain plugin never declared
// an index there.
func (v *GroupView) Index(fragmentID FragmentID, indexID IndexID) *Index {
	return v.indexes.Get(fragmentID, indexID)
}

func (v *GroupView) Indexes() *IndexGroup { return v.indexes }
