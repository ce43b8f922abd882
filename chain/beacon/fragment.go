// Package beacon is a second reference chain plugin, for the
// consensus-layer beacon chain: it exists to prove the chainplugin
// dispatch table isn't EVM-specific. Its fragment layout is
// deliberately smaller than chain/evm's.
//
// Grounded on original_source/beaconchain/src/fragment.rs for the
// fragment/index id allocation and
// original_source/beaconchain/src/filter/{validator,blob}.rs for the
// condition/join shape.
package beacon

import "github.com/prysmaticlabs/dna/fragment"

const (
	TransactionFragmentID fragment.FragmentID = 2
	ValidatorFragmentID   fragment.FragmentID = 3
	BlobFragmentID        fragment.FragmentID = 4
)

const (
	TransactionFragmentName = "transaction"
	ValidatorFragmentName   = "validator"
	BlobFragmentName        = "blob"
)

const (
	IndexTransactionByFromAddress fragment.IndexID = 0
	IndexTransactionByToAddress   fragment.IndexID = 1
	IndexTransactionByCreate      fragment.IndexID = 2

	IndexValidatorByIndex  fragment.IndexID = 0
	IndexValidatorByStatus fragment.IndexID = 1

	// The blob fragment carries no index: it is only ever reached
	// through the blob->transaction join.
)

// FragmentInfo returns the stable fragment layout this plugin
// persists, satisfying chainplugin.ChainPlugin.FragmentInfo.
func FragmentInfo() []fragment.FragmentInfo {
	return []fragment.FragmentInfo{
		{ID: TransactionFragmentID, Name: TransactionFragmentName},
		{ID: ValidatorFragmentID, Name: ValidatorFragmentName},
		{ID: BlobFragmentID, Name: BlobFragmentName},
	}
}
