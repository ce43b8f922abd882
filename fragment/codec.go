package fragment

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// encodeRecords length-prefixes each record and concatenates them,
// so BodyFragment data can live in one archive section while still
// letting a reader pull out a single record's bytes.
func encodeRecords(records [][]byte) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(len(records)))
	for _, r := range records {
		writeLenPrefixed(&buf, r)
	}
	return buf.Bytes()
}

func decodeRecords(b []byte) ([][]byte, error) {
	r := bytes.NewReader(b)
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	out := make([][]byte, n)
	for i := range out {
		var length uint32
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			return nil, err
		}
		rec := make([]byte, length)
		if _, err := r.Read(rec); err != nil {
			return nil, err
		}
		out[i] = rec
	}
	return out, nil
}

// encodeIndexGroup serializes every (fragment_id, index_id) -> Index
// entry after a leading entry count: fragment id, index id, key count,
// then for each key the length-prefixed scalar key bytes and the
// length-prefixed roaring-serialized bitmap.
func encodeIndexGroup(g *IndexGroup) []byte {
	var buf bytes.Buffer
	if g == nil {
		binary.Write(&buf, binary.BigEndian, uint32(0))
		return buf.Bytes()
	}
	entries := g.All()
	binary.Write(&buf, binary.BigEndian, uint32(len(entries)))
	for _, e := range entries {
		buf.WriteByte(e.FragmentID)
		buf.WriteByte(e.IndexID)
		keys := e.Index.entries
		binary.Write(&buf, binary.BigEndian, uint32(len(keys)))
		for _, k := range keys {
			writeLenPrefixed(&buf, k.key.Encode())
			writeLenPrefixed(&buf, k.bytes)
		}
	}
	return buf.Bytes()
}

func decodeIndexGroup(b []byte) (*IndexGroup, error) {
	r := bytes.NewReader(b)
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, err
	}
	g := NewIndexGroup()
	for i := uint32(0); i < count; i++ {
		var fragID, idxID [1]byte
		if _, err := r.Read(fragID[:]); err != nil {
			return nil, err
		}
		if _, err := r.Read(idxID[:]); err != nil {
			return nil, err
		}
		var keyCount uint32
		if err := binary.Read(r, binary.BigEndian, &keyCount); err != nil {
			return nil, err
		}
		idx := &Index{}
		for k := uint32(0); k < keyCount; k++ {
			keyBytes, err := readLenPrefixed(r)
			if err != nil {
				return nil, err
			}
			sv, _, err := DecodeScalarValue(keyBytes)
			if err != nil {
				return nil, err
			}
			bmBytes, err := readLenPrefixed(r)
			if err != nil {
				return nil, err
			}
			idx.entries = append(idx.entries, indexEntry{key: sv, bytes: bmBytes})
		}
		g.Add(fragID[0], idxID[0], idx)
	}
	return g, nil
}

func readLenPrefixed(r *bytes.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	if length > 0 {
		if _, err := r.Read(buf); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// encodeJoins serializes the per-fragment join declarations.
func encodeJoins(joins []FragmentJoins) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(len(joins)))
	for _, fj := range joins {
		buf.WriteByte(fj.FragmentID)
		binary.Write(&buf, binary.BigEndian, uint32(len(fj.Joins)))
		for targetID, j := range fj.Joins {
			buf.WriteByte(targetID)
			enc, err := j.Encode()
			if err != nil {
				// Encode only fails on I/O errors from an in-memory
				// buffer, which cannot happen.
				panic(fmt.Sprintf("fragment: encode join: %v", err))
			}
			writeLenPrefixed(&buf, enc)
		}
	}
	return buf.Bytes()
}

func decodeJoins(b []byte) ([]FragmentJoins, error) {
	r := bytes.NewReader(b)
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, err
	}
	out := make([]FragmentJoins, count)
	for i := range out {
		var fragID [1]byte
		if _, err := r.Read(fragID[:]); err != nil {
			return nil, err
		}
		var n uint32
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		joins := make(map[FragmentID]*Join, n)
		for k := uint32(0); k < n; k++ {
			var targetID [1]byte
			if _, err := r.Read(targetID[:]); err != nil {
				return nil, err
			}
			enc, err := readLenPrefixed(r)
			if err != nil {
				return nil, err
			}
			j, err := DecodeJoin(enc)
			if err != nil {
				return nil, err
			}
			joins[targetID[0]] = j
		}
		out[i] = FragmentJoins{FragmentID: fragID[0], Joins: joins}
	}
	return out, nil
}
