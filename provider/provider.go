// Package provider declares the chain-plugin-specific RPC client
// interface the ingestor consumes (spec.md §6). A concrete client
// implementation (JSON-RPC, REST, etc) is out of scope per spec.md §1;
// chain/evm/provider supplies a thin reference/test stub only.
package provider

import (
	"context"

	"github.com/prysmaticlabs/dna/cursor"
	"github.com/prysmaticlabs/dna/fragment"
)

// BlockInfo is the lightweight header-only view the ingestor uses to
// detect reorgs before paying the cost of downloading a full block.
type BlockInfo struct {
	Cursor     cursor.Cursor
	ParentHash []byte
}

// Provider is the per-chain-plugin RPC client surface from spec.md §6.
type Provider interface {
	GetHeadCursor(ctx context.Context) (cursor.Cursor, error)
	GetFinalizedCursor(ctx context.Context) (cursor.Cursor, error)
	GetBlockInfoByNumber(ctx context.Context, number uint64) (BlockInfo, error)
	IngestBlockByNumber(ctx context.Context, number uint64) (BlockInfo, *fragment.Block, error)
}
