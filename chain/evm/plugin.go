package evm

import (
	"github.com/prysmaticlabs/dna/chainplugin"
	"github.com/prysmaticlabs/dna/fragment"
	"github.com/prysmaticlabs/dna/provider"
)

// PluginName is the name cmd/dna's --chain flag selects to run this
// plugin.
const PluginName = "evm"

// Plugin is the chainplugin.ChainPlugin implementation for
// EVM-compatible chains.
type Plugin struct {
	ingestion *Ingestion
	prov      provider.Provider
}

// NewPlugin wraps prov (and the Ingestion it was itself built with, if
// it's a *MemoryProvider) into a ChainPlugin. For any other
// provider.Provider implementation, callers should pass its own
// BlockSource-backed Ingestion explicitly via NewPluginWithIngestion.
func NewPlugin(prov provider.Provider) chainplugin.ChainPlugin {
	if mp, ok := prov.(*MemoryProvider); ok {
		return &Plugin{ingestion: mp.ingestion, prov: prov}
	}
	return &Plugin{prov: prov}
}

// NewPluginWithIngestion builds a Plugin from an explicit Ingestion,
// for providers that don't embed one themselves.
func NewPluginWithIngestion(prov provider.Provider, ing *Ingestion) chainplugin.ChainPlugin {
	return &Plugin{ingestion: ing, prov: prov}
}

func (p *Plugin) FragmentInfo() []fragment.FragmentInfo { return FragmentInfo() }

func (p *Plugin) BlockFilterFactory() chainplugin.FilterFactory { return FilterFactory{} }

func (p *Plugin) BlockIngestion() chainplugin.BlockIngestion { return p.ingestion }

func (p *Plugin) Provider() provider.Provider { return p.prov }

func init() {
	chainplugin.Register(PluginName, NewPlugin)
}
