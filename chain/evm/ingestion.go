package evm

import (
	"context"

	"github.com/prysmaticlabs/dna/fragment"
)

// BlockSource is the minimal lookup an Ingestion needs: resolve a
// block number to its EVM data. A production deployment would back
// this with a go-ethereum JSON-RPC client; the reference
// implementation in this package backs it with an in-memory map.
type BlockSource interface {
	BlockByNumber(ctx context.Context, number uint64) (*Block, error)
}

// Ingestion adapts a BlockSource into fragment.Block values, the unit
// the compactor and scanner operate on. It implements
// chainplugin.BlockIngestion.
type Ingestion struct {
	source BlockSource
}

func NewIngestion(source BlockSource) *Ingestion {
	return &Ingestion{source: source}
}

// IngestBlock fetches b's data from the source and archives it into a
// fragment.Block: a header, transaction, log and withdrawal body
// fragments (no receipt body), their bitmap indexes, the
// log->transaction join and the transaction->log join.
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
	txStatus := fragment.NewBitmapIndexBuilder()
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
		txStatus.Insert(fragment.Uint8Value(uint8(tx.Status)), uint32(pos))
	}

	logRecords := make([][]byte, len(b.Logs))
	logAddress := fragment.NewBitmapIndexBuilder()
	logTopic0 := fragment.NewBitmapIndexBuilder()
	logTopic1 := fragment.NewBitmapIndexBuilder()
	logTopic2 := fragment.NewBitmapIndexBuilder()
	logTopic3 := fragment.NewBitmapIndexBuilder()
	logTopicLength := fragment.NewBitmapIndexBuilder()
	logStatus := fragment.NewBitmapIndexBuilder()
	logToTx := fragment.NewJoinToOneBuilder(TransactionFragmentID)
	txToLog := fragment.NewJoinToManyBuilder(LogFragmentID)
	for pos, lg := range b.Logs {
		logRecords[pos] = encodeLog(lg)
		addrVal, err := fragment.B160Value(lg.Address[:])
		if err != nil {
			return nil, err
		}
		logAddress.Insert(addrVal, uint32(pos))
		topicBuilders := []*fragment.BitmapIndexBuilder{logTopic0, logTopic1, logTopic2, logTopic3}
		for i, t := range lg.Topics {
			if i >= len(topicBuilders) {
				break
			}
			tv, err := fragment.B256Value(t[:])
			if err != nil {
				return nil, err
			}
			topicBuilders[i].Insert(tv, uint32(pos))
		}
		logTopicLength.Insert(fragment.Uint8Value(uint8(len(lg.Topics))), uint32(pos))
		logStatus.Insert(fragment.Uint8Value(uint8(lg.TransactionStatus)), uint32(pos))
		logToTx.InsertOne(uint32(pos), lg.TransactionIndex)
		txToLog.InsertMany(lg.TransactionIndex, uint32(pos))
	}

	withdrawalRecords := make([][]byte, len(b.Withdrawals))
	wValidator := fragment.NewBitmapIndexBuilder()
	wAddress := fragment.NewBitmapIndexBuilder()
	for pos, w := range b.Withdrawals {
		withdrawalRecords[pos] = encodeWithdrawal(w)
		wValidator.Insert(fragment.Uint32Value(uint32(w.ValidatorIndex)), uint32(pos))
		addrVal, err := fragment.B160Value(w.Address[:])
		if err != nil {
			return nil, err
		}
		wAddress.Insert(addrVal, uint32(pos))
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
	if err := addIndex(indexes, TransactionFragmentID, IndexTransactionByStatus, txStatus); err != nil {
		return nil, err
	}
	if err := addIndex(indexes, LogFragmentID, IndexLogByAddress, logAddress); err != nil {
		return nil, err
	}
	if err := addIndex(indexes, LogFragmentID, IndexLogByTopic0, logTopic0); err != nil {
		return nil, err
	}
	if err := addIndex(indexes, LogFragmentID, IndexLogByTopic1, logTopic1); err != nil {
		return nil, err
	}
	if err := addIndex(indexes, LogFragmentID, IndexLogByTopic2, logTopic2); err != nil {
		return nil, err
	}
	if err := addIndex(indexes, LogFragmentID, IndexLogByTopic3, logTopic3); err != nil {
		return nil, err
	}
	if err := addIndex(indexes, LogFragmentID, IndexLogByTopicLength, logTopicLength); err != nil {
		return nil, err
	}
	if err := addIndex(indexes, LogFragmentID, IndexLogByTransactionStatus, logStatus); err != nil {
		return nil, err
	}
	if err := addIndex(indexes, WithdrawalFragmentID, IndexWithdrawalByValidatorIndex, wValidator); err != nil {
		return nil, err
	}
	if err := addIndex(indexes, WithdrawalFragmentID, IndexWithdrawalByAddress, wAddress); err != nil {
		return nil, err
	}

	logJoin, err := logToTx.Build()
	if err != nil {
		return nil, err
	}
	txJoin, err := txToLog.Build()
	if err != nil {
		return nil, err
	}

	return &fragment.Block{
		Header: header,
		Body: []fragment.BodyFragment{
			{ID: TransactionFragmentID, Name: TransactionFragmentName, Data: txRecords},
			{ID: LogFragmentID, Name: LogFragmentName, Data: logRecords},
			{ID: WithdrawalFragmentID, Name: WithdrawalFragmentName, Data: withdrawalRecords},
		},
		Indexes: indexes,
		Joins: []fragment.FragmentJoins{
			{FragmentID: LogFragmentID, Joins: map[fragment.FragmentID]*fragment.Join{TransactionFragmentID: logJoin}},
			{FragmentID: TransactionFragmentID, Joins: map[fragment.FragmentID]*fragment.Join{LogFragmentID: txJoin}},
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
