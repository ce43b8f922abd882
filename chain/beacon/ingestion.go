package beacon

import (
	"context"

	"github.com/prysmaticlabs/dna/fragment"
)

// BlockSource is the minimal lookup an Ingestion needs: resolve a
// slot/block number to its beacon data. A production deployment would
// back this with a consensus-layer beacon API client; the reference
// implementation in this package backs it with an in-memory map.
type BlockSource interface {
	BlockByNumber(ctx context.Context, number uint64) (*Block, error)
}

// Ingestion adapts a BlockSource into fragment.Block values. It
// implements chainplugin.BlockIngestion.
type Ingestion struct {
	source BlockSource
}

func NewIngestion(source BlockSource) *Ingestion {
	return &Ingestion{source: source}
}

// IngestBlock fetches b's data from the source and archives it into a
// fragment.Block: a header, one body fragment per declared kind, their
// bitmap indexes (validator and transaction only; blob has none), and
// the blob->transaction join.
func (g *Ingestion) IngestBlock(ctx context.Context, number uint64) (*fragment.Block, error) {
	b, err := g.source.BlockByNumber(ctx, number)
	if err != nil {
		return nil, err
	}

	header := fragment.HeaderFragment{Data: encodeHeader(*b)}

	txRecords := make([][]byte, len(b.Transactions))
	txFrom := fragment.NewBitmapIndexBuilder()
	txTo := fragment.NewBitmapIndexBuilder()
	txCreate := fragment.NewBitmapIndexBuilder()
	for pos, tx := range b.Transactions {
		txRecords[pos] = encodeTransaction(tx)
		fromVal, err := fragment.B160Value(tx.From[:])
		if err != nil {
			return nil, err
		}
		txFrom.Insert(fromVal, uint32(pos))
		if tx.To != nil {
			toVal, err := fragment.B160Value(tx.To[:])
			if err != nil {
				return nil, err
			}
			txTo.Insert(toVal, uint32(pos))
		} else {
			txCreate.Insert(fragment.BoolValue(true), uint32(pos))
		}
	}

	validatorRecords := make([][]byte, len(b.Validators))
	validatorIndex := fragment.NewBitmapIndexBuilder()
	validatorStatus := fragment.NewBitmapIndexBuilder()
	for pos, v := range b.Validators {
		validatorRecords[pos] = encodeValidator(v)
		validatorIndex.Insert(fragment.Uint64Value(v.Index), uint32(pos))
		validatorStatus.Insert(fragment.Uint8Value(uint8(v.Status)), uint32(pos))
	}

	blobRecords := make([][]byte, len(b.Blobs))
	blobToTx := fragment.NewJoinToOneBuilder(TransactionFragmentID)
	for pos, blob := range b.Blobs {
		blobRecords[pos] = encodeBlob(blob)
		blobToTx.InsertOne(uint32(pos), blob.TransactionIndex)
	}

	indexes := fragment.NewIndexGroup()
	if err := addIndex(indexes, TransactionFragmentID, IndexTransactionByFromAddress, txFrom); err != nil {
		return nil, err
	}
	if err := addIndex(indexes, TransactionFragmentID, IndexTransactionByToAddress, txTo); err != nil {
		return nil, err
	}
	if err := addIndex(indexes, TransactionFragmentID, IndexTransactionByCreate, txCreate); err != nil {
		return nil, err
	}
	if err := addIndex(indexes, ValidatorFragmentID, IndexValidatorByIndex, validatorIndex); err != nil {
		return nil, err
	}
	if err := addIndex(indexes, ValidatorFragmentID, IndexValidatorByStatus, validatorStatus); err != nil {
		return nil, err
	}

	blobJoin, err := blobToTx.Build()
	if err != nil {
		return nil, err
	}

	return &fragment.Block{
		Header: header,
		Body: []fragment.BodyFragment{
			{ID: TransactionFragmentID, Name: TransactionFragmentName, Data: txRecords},
			{ID: ValidatorFragmentID, Name: ValidatorFragmentName, Data: validatorRecords},
			{ID: BlobFragmentID, Name: BlobFragmentName, Data: blobRecords},
		},
		Indexes: indexes,
		Joins: []fragment.FragmentJoins{
			{FragmentID: BlobFragmentID, Joins: map[fragment.FragmentID]*fragment.Join{TransactionFragmentID: blobJoin}},
		},
	}, nil
}

func addIndex(group *fragment.IndexGroup, fragmentID fragment.FragmentID, indexID fragment.IndexID, builder *fragment.BitmapIndexBuilder) error {
	idx, err := builder.Build()
	if err != nil {
		return err
	}
	group.Add(fragmentID, indexID, idx)
	return nil
}
