package chainplugin_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prysmaticlabs/dna/chainplugin"
	"github.com/prysmaticlabs/dna/provider"
)

func TestRegisterAndLookup(t *testing.T) {
	name := "test-chain-registry"
	chainplugin.Register(name, func(p provider.Provider) chainplugin.ChainPlugin {
		return nil
	})

	factory, ok := chainplugin.Lookup(name)
	require.True(t, ok)
	require.NotNil(t, factory)

	_, ok = chainplugin.Lookup("does-not-exist")
	require.False(t, ok)

	require.Contains(t, chainplugin.Names(), name)
}

func TestRegisterTwiceUnderSameNamePanics(t *testing.T) {
	name := "test-chain-registry-dup"
	chainplugin.Register(name, func(p provider.Provider) chainplugin.ChainPlugin { return nil })
	require.Panics(t, func() {
		chainplugin.Register(name, func(p provider.Provider) chainplugin.ChainPlugin { return nil })
	})
}
