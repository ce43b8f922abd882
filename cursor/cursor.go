// Package cursor defines the (number, hash) pair that identifies a
// specific block in the canonical chain, shared by every other package
// so none of them need to import each other just to talk about "where
// in the chain" something is.
package cursor

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Cursor is (number, hash) as described in spec.md §3. A zero-length
// hash marks a "finalized-only" cursor, used when only the height is
// meaningful (e.g. a starting cursor supplied before any block at that
// height has been observed).
type Cursor struct {
	Number uint64
	Hash   []byte
}

// NewFinalized returns a finalized-only cursor: a height with no hash.
func NewFinalized(number uint64) Cursor {
	return Cursor{Number: number}
}

// New returns a fully-qualified cursor.
func New(number uint64, hash []byte) Cursor {
	return Cursor{Number: number, Hash: hash}
}

// IsFinalizedOnly reports whether c carries no hash.
func (c Cursor) IsFinalizedOnly() bool { return len(c.Hash) == 0 }

// Equal reports whether two cursors refer to the same block: both
// fields must match exactly.
func (c Cursor) Equal(other Cursor) bool {
	if c.Number != other.Number {
		return false
	}
	if len(c.Hash) != len(other.Hash) {
		return false
	}
	for i := range c.Hash {
		if c.Hash[i] != other.Hash[i] {
			return false
		}
	}
	return true
}

// HashHex renders the hash as a 0x-prefixed hex string, or "0x0" when
// the cursor is finalized-only.
func (c Cursor) HashHex() string {
	if len(c.Hash) == 0 {
		return "0x0"
	}
	return "0x" + hex.EncodeToString(c.Hash)
}

// String renders a cursor as "number/0xHASH", the display form spec.md
// §3 mandates.
func (c Cursor) String() string {
	return formatCursor(c.Number, c.HashHex())
}

func formatCursor(number uint64, hash string) string {
	return itoa(number) + "/" + hash
}

// Encode writes a length-prefixed wire form: 8-byte number, then a
// 4-byte hash length and the hash bytes.
func (c Cursor) Encode() []byte {
	buf := make([]byte, 8+4+len(c.Hash))
	binary.BigEndian.PutUint64(buf[:8], c.Number)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(c.Hash)))
	copy(buf[12:], c.Hash)
	return buf
}

// Decode reads a cursor previously written by Encode, returning the
// number of bytes consumed.
func Decode(b []byte) (Cursor, int, error) {
	if len(b) < 12 {
		return Cursor{}, 0, fmt.Errorf("cursor: truncated cursor")
	}
	number := binary.BigEndian.Uint64(b[:8])
	hashLen := binary.BigEndian.Uint32(b[8:12])
	if len(b) < 12+int(hashLen) {
		return Cursor{}, 0, fmt.Errorf("cursor: truncated cursor hash")
	}
	hash := append([]byte(nil), b[12:12+hashLen]...)
	return Cursor{Number: number, Hash: hash}, 12 + int(hashLen), nil
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
