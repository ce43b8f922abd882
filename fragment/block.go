package fragment

import "fmt"

// MarshalBlock archives a single block into the self-describing layout
// every reader (compactor, scanner) opens with OpenBlock.
func MarshalBlock(b *Block) []byte {
	w := newArchiveWriter()
	w.put("header", b.Header.Data)
	for _, body := range b.Body {
		w.put(bodySectionName(body.ID), encodeRecords(body.Data))
	}
	w.put("indexes", encodeIndexGroup(b.Indexes))
	w.put("joins", encodeJoins(b.Joins))
	w.put("fragment_ids", encodeFragmentIDs(b.Body))
	return w.finish(blockMagic)
}

func bodySectionName(id FragmentID) string {
	return fmt.Sprintf("body:%d", id)
}

func encodeFragmentIDs(body []BodyFragment) []byte {
	out := make([]byte, len(body))
	for i, f := range body {
		out[i] = f.ID
	}
	return out
}

// BlockView opens an archived block for read access. Opening validates
// the section table once; every accessor after that slices directly
// into the backing buffer (for body records, via decodeRecords which
// only touches the requested fragment's section).
type BlockView struct {
	archive *archiveView
}

// OpenBlock validates raw and returns a view over it. It does not
// eagerly decode any fragment body, index, or join.
func OpenBlock(raw []byte) (*BlockView, error) {
	a, err := openArchive(blockMagic, raw)
	if err != nil {
		return nil, fmt.Errorf("fragment: open block: %w", err)
	}
	return &BlockView{archive: a}, nil
}

func (v *BlockView) HeaderBytes() []byte {
	b, _ := v.archive.section("header")
	return b
}

// FragmentIDs returns the ids of every body fragment present, without
// decoding any fragment's records.
func (v *BlockView) FragmentIDs() []FragmentID {
	b, ok := v.archive.section("fragment_ids")
	if !ok {
		return nil
	}
	return append([]FragmentID(nil), b...)
}

// Body decodes and returns the records for one fragment id. Other
// fragments' sections are never touched.
func (v *BlockView) Body(id FragmentID) ([][]byte, error) {
	b, ok := v.archive.section(bodySectionName(id))
	if !ok {
		return nil, nil
	}
	return decodeRecords(b)
}

// Indexes decodes the block's IndexGroup. Index bitmaps are themselves
// only deserialized when Get is called on the returned group.
func (v *BlockView) Indexes() (*IndexGroup, error) {
	b, ok := v.archive.section("indexes")
	if !ok {
		return NewIndexGroup(), nil
	}
	return decodeIndexGroup(b)
}

// Joins decodes the block's per-fragment join declarations.
func (v *BlockView) Joins() ([]FragmentJoins, error) {
	b, ok := v.archive.section("joins")
	if !ok {
		return nil, nil
	}
	return decodeJoins(b)
}

// Join returns the join from sourceID to targetID, or nil if none
// declared.
func (v *BlockView) Join(sourceID, targetID FragmentID) (*Join, error) {
	joins, err := v.Joins()
	if err != nil {
		return nil, err
	}
	for _, fj := range joins {
		if fj.FragmentID != sourceID {
			continue
		}
		if j, ok := fj.Joins[targetID]; ok {
			return j, nil
		}
	}
	return nil, nil
}
