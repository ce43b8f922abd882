// Package evm is a reference chain plugin for EVM-compatible chains:
// it declares the fragment/index layout, compiles client filters, and
// ingests blocks from a provider.Provider, per spec.md §6's "Chain
// plugin (consumed)" interface.
//
// Grounded on original_source/evm/src/fragment.rs for the fragment and
// index id allocation and original_source/evm/src/filter/{transaction,
// withdrawal}.rs for the condition-building shape.
package evm

import "github.com/prysmaticlabs/dna/fragment"

// Fragment ids. Id 1 is always the header (fragment.HeaderFragmentID);
// these must never change once a chain plugin has shipped, since they
// are persisted inside every segment and group's indexes.
const (
	WithdrawalFragmentID fragment.FragmentID = 2
	TransactionFragmentID fragment.FragmentID = 3
	ReceiptFragmentID     fragment.FragmentID = 4
	LogFragmentID         fragment.FragmentID = 5
)

const (
	WithdrawalFragmentName  = "withdrawal"
	TransactionFragmentName = "transaction"
	ReceiptFragmentName     = "receipt"
	LogFragmentName         = "log"
)

// Index ids, scoped per fragment.
const (
	IndexWithdrawalByValidatorIndex fragment.IndexID = 0
	IndexWithdrawalByAddress        fragment.IndexID = 1

	IndexTransactionByFromAddress fragment.IndexID = 0
	IndexTransactionByToAddress   fragment.IndexID = 1
	IndexTransactionByCreate      fragment.IndexID = 2
	IndexTransactionByStatus      fragment.IndexID = 3

	// The receipt fragment carries no index, and IngestBlock writes no
	// receipt body and no join into or out of it.

	IndexLogByAddress           fragment.IndexID = 0
	IndexLogByTopic0            fragment.IndexID = 1
	IndexLogByTopic1            fragment.IndexID = 2
	IndexLogByTopic2            fragment.IndexID = 3
	IndexLogByTopic3            fragment.IndexID = 4
	IndexLogByTopicLength       fragment.IndexID = 5
	IndexLogByTransactionStatus fragment.IndexID = 6
)

// FragmentInfo returns the stable fragment layout this plugin persists,
// satisfying chainplugin.ChainPlugin.FragmentInfo.
func FragmentInfo() []fragment.FragmentInfo {
	return []fragment.FragmentInfo{
		{ID: WithdrawalFragmentID, Name: WithdrawalFragmentName},
		{ID: TransactionFragmentID, Name: TransactionFragmentName},
		{ID: ReceiptFragmentID, Name: ReceiptFragmentName},
		{ID: LogFragmentID, Name: LogFragmentName},
	}
}
