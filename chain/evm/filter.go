package evm

import (
	"encoding/json"

	"github.com/prysmaticlabs/dna/dnaerr"
	"github.com/prysmaticlabs/dna/filter"
	"github.com/prysmaticlabs/dna/fragment"
)

// TransactionStatusFilter mirrors apibara's TransactionStatusFilter
// enum: which receipt statuses a TransactionFilter accepts.
type TransactionStatusFilter int

const (
	TransactionStatusFilterSucceeded TransactionStatusFilter = iota
	TransactionStatusFilterReverted
	TransactionStatusFilterAll
)

// TransactionFilter is the wire shape of one transaction sub-filter,
// grounded on original_source/evm/src/filter/transaction.rs.
type TransactionFilter struct {
	ID     uint32                    `json:"id"`
	From   []byte                    `json:"from,omitempty"`
	To     []byte                    `json:"to,omitempty"`
	Create bool                      `json:"create,omitempty"`
	Status *TransactionStatusFilter  `json:"status,omitempty"`
	// IncludeLogs joins matched transactions to their emitted logs.
	IncludeLogs bool `json:"include_logs,omitempty"`
}

// LogFilter is the wire shape of one log sub-filter. Topics is matched
// positionally: Topics[0] is topic0, and so on; a nil entry means "any".
type LogFilter struct {
	ID      uint32   `json:"id"`
	Address []byte   `json:"address,omitempty"`
	Topics  [][]byte `json:"topics,omitempty"`
}

// WithdrawalFilter is the wire shape of one withdrawal sub-filter,
// grounded on original_source/evm/src/filter/withdrawal.rs.
type WithdrawalFilter struct {
	ID             uint32  `json:"id"`
	ValidatorIndex *uint32 `json:"validator_index,omitempty"`
	Address        []byte  `json:"address,omitempty"`
}

// RawFilter is the decoded form of one client-supplied filter blob:
// independent transaction/log/withdrawal sub-filters plus whether the
// header must always be included.
type RawFilter struct {
	AlwaysIncludeHeader bool               `json:"always_include_header,omitempty"`
	Transactions        []TransactionFilter `json:"transactions,omitempty"`
	Logs                []LogFilter         `json:"logs,omitempty"`
	Withdrawals         []WithdrawalFilter  `json:"withdrawals,omitempty"`
}

// FilterFactory compiles raw evm.RawFilter JSON blobs into
// filter.BlockFilter values, implementing chainplugin.FilterFactory.
type FilterFactory struct{}

func (FilterFactory) CreateBlockFilter(rawFilters [][]byte) ([]filter.BlockFilter, error) {
	out := make([]filter.BlockFilter, 0, len(rawFilters))
	for _, raw := range rawFilters {
		var rf RawFilter
		if err := json.Unmarshal(raw, &rf); err != nil {
			return nil, dnaerr.Wrap(err, dnaerr.BadInput, "evm: decode filter")
		}
		bf, err := compileRawFilter(rf)
		if err != nil {
			return nil, err
		}
		out = append(out, bf)
	}
	return out, nil
}

func compileRawFilter(rf RawFilter) (filter.BlockFilter, error) {
	bf := filter.BlockFilter{
		AlwaysIncludeHeader: rf.AlwaysIncludeHeader,
		Filters:             make(map[fragment.FragmentID][]filter.Filter),
	}

	for _, tf := range rf.Transactions {
		f, err := compileTransactionFilter(tf)
		if err != nil {
			return filter.BlockFilter{}, err
		}
		bf.Filters[TransactionFragmentID] = append(bf.Filters[TransactionFragmentID], f)
	}

	for _, lf := range rf.Logs {
		f, err := compileLogFilter(lf)
		if err != nil {
			return filter.BlockFilter{}, err
		}
		bf.Filters[LogFragmentID] = append(bf.Filters[LogFragmentID], f)
	}

	for _, wf := range rf.Withdrawals {
		f, err := compileWithdrawalFilter(wf)
		if err != nil {
			return filter.BlockFilter{}, err
		}
		bf.Filters[WithdrawalFragmentID] = append(bf.Filters[WithdrawalFragmentID], f)
	}

	return bf, nil
}

func compileTransactionFilter(tf TransactionFilter) (filter.Filter, error) {
	var conditions []filter.Condition

	if len(tf.From) > 0 {
		v, err := fragment.B160Value(tf.From)
		if err != nil {
			return filter.Filter{}, dnaerr.Wrap(err, dnaerr.BadInput, "evm: transaction filter from address")
		}
		conditions = append(conditions, filter.Condition{IndexID: IndexTransactionByFromAddress, Key: v})
	}

	if len(tf.To) > 0 {
		v, err := fragment.B160Value(tf.To)
		if err != nil {
			return filter.Filter{}, dnaerr.Wrap(err, dnaerr.BadInput, "evm: transaction filter to address")
		}
		conditions = append(conditions, filter.Condition{IndexID: IndexTransactionByToAddress, Key: v})
	}

	if tf.Create {
		conditions = append(conditions, filter.Condition{IndexID: IndexTransactionByCreate, Key: fragment.BoolValue(true)})
	}

	status := TransactionStatusFilterSucceeded
	if tf.Status != nil {
		status = *tf.Status
	}
	switch status {
	case TransactionStatusFilterAll:
		// no status condition
	case TransactionStatusFilterSucceeded:
		conditions = append(conditions, filter.Condition{IndexID: IndexTransactionByStatus, Key: fragment.Uint8Value(uint8(TransactionStatusSucceeded))})
	case TransactionStatusFilterReverted:
		conditions = append(conditions, filter.Condition{IndexID: IndexTransactionByStatus, Key: fragment.Uint8Value(uint8(TransactionStatusFailed))})
	default:
		return filter.Filter{}, dnaerr.Newf(dnaerr.BadInput, "evm: invalid transaction status in filter %d", tf.ID)
	}

	f := filter.Filter{FilterID: tf.ID, FragmentID: TransactionFragmentID, Conditions: conditions}
	if tf.IncludeLogs {
		f.Joins = append(f.Joins, LogFragmentID)
	}
	return f, nil
}

func compileLogFilter(lf LogFilter) (filter.Filter, error) {
	var conditions []filter.Condition

	if len(lf.Address) > 0 {
		v, err := fragment.B160Value(lf.Address)
		if err != nil {
			return filter.Filter{}, dnaerr.Wrap(err, dnaerr.BadInput, "evm: log filter address")
		}
		conditions = append(conditions, filter.Condition{IndexID: IndexLogByAddress, Key: v})
	}

	topicIndexes := []fragment.IndexID{IndexLogByTopic0, IndexLogByTopic1, IndexLogByTopic2, IndexLogByTopic3}
	for i, topic := range lf.Topics {
		if topic == nil {
			continue
		}
		if i >= len(topicIndexes) {
			return filter.Filter{}, dnaerr.Newf(dnaerr.BadInput, "evm: log filter %d has more than %d topics", lf.ID, len(topicIndexes))
		}
		v, err := fragment.B256Value(topic)
		if err != nil {
			return filter.Filter{}, dnaerr.Wrap(err, dnaerr.BadInput, "evm: log filter topic")
		}
		conditions = append(conditions, filter.Condition{IndexID: topicIndexes[i], Key: v})
	}

	return filter.Filter{
		FilterID:   lf.ID,
		FragmentID: LogFragmentID,
		Conditions: conditions,
		Joins:      []fragment.FragmentID{TransactionFragmentID},
	}, nil
}

func compileWithdrawalFilter(wf WithdrawalFilter) (filter.Filter, error) {
	var conditions []filter.Condition

	if wf.ValidatorIndex != nil {
		conditions = append(conditions, filter.Condition{IndexID: IndexWithdrawalByValidatorIndex, Key: fragment.Uint32Value(*wf.ValidatorIndex)})
	}

	if len(wf.Address) > 0 {
		v, err := fragment.B160Value(wf.Address)
		if err != nil {
			return filter.Filter{}, dnaerr.Wrap(err, dnaerr.BadInput, "evm: withdrawal filter address")
		}
		conditions = append(conditions, filter.Condition{IndexID: IndexWithdrawalByAddress, Key: v})
	}

	return filter.Filter{FilterID: wf.ID, FragmentID: WithdrawalFragmentID, Conditions: conditions}, nil
}
