// Package chainplugin declares the dispatch table a chain
// implementation (EVM, Beacon, ...) registers with the rest of the
// system: fragment id allocation, filter compilation, and block
// ingestion, per spec.md §6's "Chain plugin (consumed)" interface.
package chainplugin

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/prysmaticlabs/dna/filter"
	"github.com/prysmaticlabs/dna/fragment"
	"github.com/prysmaticlabs/dna/provider"
)

// BlockIngestion adapts a chain's provider into fragment.Block values,
// the unit the compactor and scanner operate on.
type BlockIngestion interface {
	// IngestBlock fetches and encodes the full block at number as a
	// fragment.Block, deriving its indexes and joins per the chain's
	// fragment declarations.
	IngestBlock(ctx context.Context, number uint64) (*fragment.Block, error)
}

// FilterFactory compiles raw, client-supplied filter bytes into
// BlockFilter values. The evm and beacon factories decode each blob as
// JSON; neither accepts protobuf-encoded filters. spec.md §4.8/§8 bounds the
// number of filters per request to 5; factories do not enforce that
// themselves, it is the rpc layer's job.
type FilterFactory interface {
	CreateBlockFilter(rawFilters [][]byte) ([]filter.BlockFilter, error)
}

// ChainPlugin is the per-chain dispatch table: a chain plugin declares
// its fragment layout, compiles client filters, and ingests blocks from
// its provider.
type ChainPlugin interface {
	// FragmentInfo returns the stable fragment-name-to-id mapping this
	// chain persists in every segment's indexes. Ids MUST NOT change
	// across versions of the same chain plugin.
	FragmentInfo() []fragment.FragmentInfo
	BlockFilterFactory() FilterFactory
	BlockIngestion() BlockIngestion
	Provider() provider.Provider
}

// Factory builds a ChainPlugin from its resolved provider, letting
// cmd/dna wire one plugin's Provider implementation without every
// plugin package needing to know about the others.
type Factory func(p provider.Provider) ChainPlugin

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register adds a chain plugin factory under name, so cmd/dna's
// --chain flag can select it by name instead of every binary needing
// to import every chain package directly. Panics on a duplicate name,
// the same guard database/sql drivers use for driver registration.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("chainplugin: Register called twice for %q", name))
	}
	registry[name] = factory
}

// Lookup returns the factory registered under name, if any.
func Lookup(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	factory, ok := registry[name]
	return factory, ok
}

// Names returns every registered chain plugin name, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
