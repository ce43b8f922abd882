package beacon

import (
	"encoding/binary"
	"fmt"
)

// Transaction is the execution-payload transaction carried in a beacon
// block, reusing the from/to/create shape chain/evm indexes.
type Transaction struct {
	Hash [32]byte
	From [20]byte
	To   *[20]byte // nil for a contract-creation transaction
}

// ValidatorStatus mirrors the small set of lifecycle states a
// validator duty record reports.
type ValidatorStatus int32

const (
	ValidatorStatusActive ValidatorStatus = iota
	ValidatorStatusExiting
	ValidatorStatusExited
	ValidatorStatusSlashed
)

// Validator is one attesting/proposing validator duty record attached
// to this block.
type Validator struct {
	Index  uint64
	Status ValidatorStatus
}

// Blob is one EIP-4844 KZG blob sidecar for this block.
type Blob struct {
	Index            uint32
	Commitment       [48]byte
	TransactionIndex uint32 // position within Block.Transactions, the blob-carrying transaction
}

// Block is the provider's view of one beacon block: enough to derive
// every fragment and index this plugin declares.
type Block struct {
	Number       uint64
	Hash         [32]byte
	ParentHash   [32]byte
	Transactions []Transaction
	Validators   []Validator
	Blobs        []Blob
}

func encodeHeader(b Block) []byte {
	buf := make([]byte, 8+32+32)
	binary.BigEndian.PutUint64(buf[:8], b.Number)
	copy(buf[8:40], b.Hash[:])
	copy(buf[40:72], b.ParentHash[:])
	return buf
}

func encodeTransaction(tx Transaction) []byte {
	buf := make([]byte, 0, 32+20+1+20)
	buf = append(buf, tx.Hash[:]...)
	buf = append(buf, tx.From[:]...)
	if tx.To != nil {
		buf = append(buf, 1)
		buf = append(buf, tx.To[:]...)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

func decodeTransaction(b []byte) (Transaction, error) {
	if len(b) < 32+20+1 {
		return Transaction{}, fmt.Errorf("beacon: truncated transaction record")
	}
	var tx Transaction
	copy(tx.Hash[:], b[:32])
	copy(tx.From[:], b[32:52])
	if b[52] == 1 {
		if len(b) < 73 {
			return Transaction{}, fmt.Errorf("beacon: truncated transaction record")
		}
		var to [20]byte
		copy(to[:], b[53:73])
		tx.To = &to
	}
	return tx, nil
}

func encodeValidator(v Validator) []byte {
	buf := make([]byte, 9)
	binary.BigEndian.PutUint64(buf[:8], v.Index)
	buf[8] = byte(v.Status)
	return buf
}

func decodeValidator(b []byte) (Validator, error) {
	if len(b) != 9 {
		return Validator{}, fmt.Errorf("beacon: malformed validator record")
	}
	return Validator{Index: binary.BigEndian.Uint64(b[:8]), Status: ValidatorStatus(b[8])}, nil
}

func encodeBlob(b Blob) []byte {
	buf := make([]byte, 0, 4+48+4)
	var idxBuf [4]byte
	binary.BigEndian.PutUint32(idxBuf[:], b.Index)
	buf = append(buf, idxBuf[:]...)
	buf = append(buf, b.Commitment[:]...)
	var txBuf [4]byte
	binary.BigEndian.PutUint32(txBuf[:], b.TransactionIndex)
	buf = append(buf, txBuf[:]...)
	return buf
}

func decodeBlob(b []byte) (Blob, error) {
	if len(b) != 4+48+4 {
		return Blob{}, fmt.Errorf("beacon: malformed blob record")
	}
	var blob Blob
	blob.Index = binary.BigEndian.Uint32(b[:4])
	copy(blob.Commitment[:], b[4:52])
	blob.TransactionIndex = binary.BigEndian.Uint32(b[52:56])
	return blob, nil
}
