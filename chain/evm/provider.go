package evm

import (
	"context"
	"sync"

	"github.com/prysmaticlabs/dna/cursor"
	"github.com/prysmaticlabs/dna/dnaerr"
	"github.com/prysmaticlabs/dna/fragment"
	"github.com/prysmaticlabs/dna/provider"
)

// MemoryProvider is a thin reference/test implementation of
// provider.Provider, backed by an in-memory map of blocks rather than
// a real go-ethereum JSON-RPC client: spec.md §1 scopes a production
// RPC client out, so this package only needs something the rest of
// the system can ingest from and exercise in tests.
type MemoryProvider struct {
	mu        sync.RWMutex
	blocks    map[uint64]*Block
	head      uint64
	finalized uint64
	ingestion *Ingestion
}

func NewMemoryProvider() *MemoryProvider {
	p := &MemoryProvider{blocks: make(map[uint64]*Block)}
	p.ingestion = NewIngestion(p)
	return p
}

// AddBlock stores b at b.Number, replacing any block already stored
// there, and moves the head to b.Number only when it is above the
// current head. Re-adding a block at an existing height with a
// different hash simulates a reorg.
func (p *MemoryProvider) AddBlock(b Block) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blocks[b.Number] = &b
	if b.Number > p.head {
		p.head = b.Number
	}
}

// SetFinalized advances the finalized pointer.
func (p *MemoryProvider) SetFinalized(number uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finalized = number
}

// BlockByNumber implements BlockSource for this provider's own
// Ingestion.
func (p *MemoryProvider) BlockByNumber(ctx context.Context, number uint64) (*Block, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, ok := p.blocks[number]
	if !ok {
		return nil, dnaerr.Newf(dnaerr.NotFound, "evm: no block at %d", number)
	}
	return b, nil
}

func (p *MemoryProvider) GetHeadCursor(ctx context.Context) (cursor.Cursor, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, ok := p.blocks[p.head]
	if !ok {
		return cursor.Cursor{}, dnaerr.New(dnaerr.NotFound, "evm: no head block ingested yet")
	}
	return cursor.New(b.Number, b.Hash[:]), nil
}

func (p *MemoryProvider) GetFinalizedCursor(ctx context.Context) (cursor.Cursor, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, ok := p.blocks[p.finalized]
	if !ok {
		return cursor.Cursor{}, dnaerr.New(dnaerr.NotFound, "evm: no finalized block ingested yet")
	}
	return cursor.New(b.Number, b.Hash[:]), nil
}

func (p *MemoryProvider) GetBlockInfoByNumber(ctx context.Context, number uint64) (provider.BlockInfo, error) {
	p.mu.RLock()
	b, ok := p.blocks[number]
	p.mu.RUnlock()
	if !ok {
		return provider.BlockInfo{}, dnaerr.Newf(dnaerr.NotFound, "evm: no block at %d", number)
	}
	return provider.BlockInfo{
		Cursor:     cursor.New(b.Number, b.Hash[:]),
		ParentHash: b.ParentHash[:],
	}, nil
}

func (p *MemoryProvider) IngestBlockByNumber(ctx context.Context, number uint64) (provider.BlockInfo, *fragment.Block, error) {
	info, err := p.GetBlockInfoByNumber(ctx, number)
	if err != nil {
		return provider.BlockInfo{}, nil, err
	}
	block, err := p.ingestion.IngestBlock(ctx, number)
	if err != nil {
		return provider.BlockInfo{}, nil, err
	}
	return info, block, nil
}
