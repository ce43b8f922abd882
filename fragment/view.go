package fragment

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Blobs written by this package share one self-describing layout: a
// fixed magic + version, followed by a table of (offset, length) pairs
// for a small number of named sections, followed by the section bytes
// themselves. Opening a blob validates the table once (bounds only —
// Go's runtime already guarantees alignment); every accessor after that
// is a direct slice into the backing buffer, so unrelated fragments are
// never touched. This is the Go analogue of the rkyv zero-copy archive
// spec.md §4.3/§9 calls for: "validate once, read many, never the
// whole blob for one fragment."
const (
	blockMagic   uint32 = 0x444e_4142 // "DNAB"
	segmentMagic uint32 = 0x444e_4153 // "DNAS"
	groupMagic   uint32 = 0x444e_4147 // "DNAG"
	archiveVersion uint8 = 1
)

type section struct {
	name   string
	offset uint32
	length uint32
}

// archiveWriter builds the section table incrementally while callers
// append raw bytes for each named section.
type archiveWriter struct {
	sections []section
	body     bytes.Buffer
}

func newArchiveWriter() *archiveWriter { return &archiveWriter{} }

func (w *archiveWriter) put(name string, data []byte) {
	w.sections = append(w.sections, section{name: name, offset: uint32(w.body.Len()), length: uint32(len(data))})
	w.body.Write(data)
}

func (w *archiveWriter) finish(magic uint32) []byte {
	var head bytes.Buffer
	binary.Write(&head, binary.BigEndian, magic)
	head.WriteByte(archiveVersion)
	binary.Write(&head, binary.BigEndian, uint32(len(w.sections)))
	for _, s := range w.sections {
		writeLenPrefixed(&head, []byte(s.name))
		binary.Write(&head, binary.BigEndian, s.offset)
		binary.Write(&head, binary.BigEndian, s.length)
	}
	headerLen := uint32(head.Len()) + 4 // +4 for the headerLen field itself
	out := make([]byte, 0, int(headerLen)+w.body.Len())
	out = appendU32(out, headerLen)
	out = append(out, head.Bytes()...)
	out = append(out, w.body.Bytes()...)
	return out
}

func writeLenPrefixed(buf *bytes.Buffer, b []byte) {
	binary.Write(buf, binary.BigEndian, uint32(len(b)))
	buf.Write(b)
}

func appendU32(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

// archiveView opens a blob previously produced by archiveWriter,
// validating the section table's bounds once.
type archiveView struct {
	magic    uint32
	version  uint8
	sections map[string]section
	body     []byte
}

func openArchive(expectedMagic uint32, raw []byte) (*archiveView, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("fragment: blob too short for header length")
	}
	headerLen := binary.BigEndian.Uint32(raw[:4])
	if int(headerLen) > len(raw) {
		return nil, fmt.Errorf("fragment: corrupt blob: header length %d exceeds blob size %d", headerLen, len(raw))
	}
	r := bytes.NewReader(raw[4:headerLen])

	var magic uint32
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return nil, fmt.Errorf("fragment: reading magic: %w", err)
	}
	if magic != expectedMagic {
		return nil, fmt.Errorf("fragment: bad magic %#x, expected %#x", magic, expectedMagic)
	}
	version, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, err
	}
	sections := make(map[string]section, count)
	body := raw[headerLen:]
	for i := uint32(0); i < count; i++ {
		var nameLen uint32
		if err := binary.Read(r, binary.BigEndian, &nameLen); err != nil {
			return nil, err
		}
		nameBuf := make([]byte, nameLen)
		if _, err := r.Read(nameBuf); err != nil {
			return nil, err
		}
		var off, length uint32
		if err := binary.Read(r, binary.BigEndian, &off); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			return nil, err
		}
		if uint64(off)+uint64(length) > uint64(len(body)) {
			return nil, fmt.Errorf("fragment: corrupt blob: section %q out of bounds", nameBuf)
		}
		sections[string(nameBuf)] = section{name: string(nameBuf), offset: off, length: length}
	}
	return &archiveView{magic: magic, version: version, sections: sections, body: body}, nil
}

func (v *archiveView) section(name string) ([]byte, bool) {
	s, ok := v.sections[name]
	if !ok {
		return nil, false
	}
	return v.body[s.offset : s.offset+s.length], true
}
