package beacon

import (
	"encoding/json"

	"github.com/prysmaticlabs/dna/dnaerr"
	"github.com/prysmaticlabs/dna/filter"
	"github.com/prysmaticlabs/dna/fragment"
)

// ValidatorStatusFilter is the wire form of the status a ValidatorFilter
// accepts, distinct from the ValidatorStatus a Validator record carries
// so "unspecified" (match any) has its own value.
type ValidatorStatusFilter int32

const (
	ValidatorStatusFilterUnspecified ValidatorStatusFilter = iota
	ValidatorStatusFilterActive
	ValidatorStatusFilterExiting
	ValidatorStatusFilterExited
	ValidatorStatusFilterSlashed
)

// TransactionFilter is the wire shape of one execution-payload
// transaction sub-filter, grounded on
// original_source/beaconchain/src/filter/transaction.rs.
type TransactionFilter struct {
	ID     uint32 `json:"id"`
	From   []byte `json:"from,omitempty"`
	To     []byte `json:"to,omitempty"`
	Create bool   `json:"create,omitempty"`
}

// ValidatorFilter is the wire shape of one validator duty sub-filter,
// grounded on original_source/beaconchain/src/filter/validator.rs.
type ValidatorFilter struct {
	ID             uint32                 `json:"id"`
	ValidatorIndex *uint64                `json:"validator_index,omitempty"`
	Status         *ValidatorStatusFilter `json:"status,omitempty"`
}

// BlobFilter is the wire shape of one blob sidecar sub-filter. Per
// original_source/beaconchain/src/filter/blob.rs, a blob carries no
// indexable field of its own: the only thing a client can ask for is
// whether to also fetch the transaction it belongs to.
type BlobFilter struct {
	ID                uint32 `json:"id"`
	IncludeTransaction bool   `json:"include_transaction,omitempty"`
}

// RawFilter is the decoded form of one client-supplied filter blob.
type RawFilter struct {
	AlwaysIncludeHeader bool                `json:"always_include_header,omitempty"`
	Transactions        []TransactionFilter `json:"transactions,omitempty"`
	Validators          []ValidatorFilter   `json:"validators,omitempty"`
	Blobs               []BlobFilter        `json:"blobs,omitempty"`
}

// FilterFactory compiles raw beacon.RawFilter JSON blobs into
// filter.BlockFilter values, implementing chainplugin.FilterFactory.
type FilterFactory struct{}

func (FilterFactory) CreateBlockFilter(rawFilters [][]byte) ([]filter.BlockFilter, error) {
	out := make([]filter.BlockFilter, 0, len(rawFilters))
	for _, raw := range rawFilters {
		var rf RawFilter
		if err := json.Unmarshal(raw, &rf); err != nil {
			return nil, dnaerr.Wrap(err, dnaerr.BadInput, "beacon: decode filter")
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

	for _, vf := range rf.Validators {
		f, err := compileValidatorFilter(vf)
		if err != nil {
			return filter.BlockFilter{}, err
		}
		bf.Filters[ValidatorFragmentID] = append(bf.Filters[ValidatorFragmentID], f)
	}

	for _, blf := range rf.Blobs {
		bf.Filters[BlobFragmentID] = append(bf.Filters[BlobFragmentID], compileBlobFilter(blf))
	}

	return bf, nil
}

func compileTransactionFilter(tf TransactionFilter) (filter.Filter, error) {
	var conditions []filter.Condition

	if len(tf.From) > 0 {
		v, err := fragment.B160Value(tf.From)
		if err != nil {
			return filter.Filter{}, dnaerr.Wrap(err, dnaerr.BadInput, "beacon: transaction filter from address")
		}
		conditions = append(conditions, filter.Condition{IndexID: IndexTransactionByFromAddress, Key: v})
	}

	if len(tf.To) > 0 {
		v, err := fragment.B160Value(tf.To)
		if err != nil {
			return filter.Filter{}, dnaerr.Wrap(err, dnaerr.BadInput, "beacon: transaction filter to address")
		}
		conditions = append(conditions, filter.Condition{IndexID: IndexTransactionByToAddress, Key: v})
	}

	if tf.Create {
		conditions = append(conditions, filter.Condition{IndexID: IndexTransactionByCreate, Key: fragment.BoolValue(true)})
	}

	return filter.Filter{FilterID: tf.ID, FragmentID: TransactionFragmentID, Conditions: conditions}, nil
}

func compileValidatorFilter(vf ValidatorFilter) (filter.Filter, error) {
	var conditions []filter.Condition

	if vf.ValidatorIndex != nil {
		conditions = append(conditions, filter.Condition{IndexID: IndexValidatorByIndex, Key: fragment.Uint64Value(*vf.ValidatorIndex)})
	}

	if vf.Status != nil && *vf.Status != ValidatorStatusFilterUnspecified {
		var status ValidatorStatus
		switch *vf.Status {
		case ValidatorStatusFilterActive:
			status = ValidatorStatusActive
		case ValidatorStatusFilterExiting:
			status = ValidatorStatusExiting
		case ValidatorStatusFilterExited:
			status = ValidatorStatusExited
		case ValidatorStatusFilterSlashed:
			status = ValidatorStatusSlashed
		default:
			return filter.Filter{}, dnaerr.Newf(dnaerr.BadInput, "beacon: invalid validator status in filter %d", vf.ID)
		}
		conditions = append(conditions, filter.Condition{IndexID: IndexValidatorByStatus, Key: fragment.Uint8Value(uint8(status))})
	}

	return filter.Filter{FilterID: vf.ID, FragmentID: ValidatorFragmentID, Conditions: conditions}, nil
}

func compileBlobFilter(blf BlobFilter) filter.Filter {
	f := filter.Filter{FilterID: blf.ID, FragmentID: BlobFragmentID}
	if blf.IncludeTransaction {
		f.Joins = append(f.Joins, TransactionFragmentID)
	}
	return f
}
