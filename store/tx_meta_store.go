package store

import (
	"fmt"

	"github.com/mezonai/stakepool/db"
	"github.com/mezonai/stakepool/jsonx"
	"github.com/mezonai/stakepool/logx"
	"github.com/mezonai/stakepool/types"
	"github.com/mezonai/stakepool/utils"
)

// TxMetaStore records the outcome of every executed transaction. It doubles
// as the replay guard: a hash that is present has already been executed.
type TxMetaStore interface {
	Store(txMeta *types.TransactionMeta) error
	StoreInBatch(batch db.DatabaseBatch, txMeta *types.TransactionMeta) error
	GetByHash(txHash string) (*types.TransactionMeta, error)
	Exists(txHash string) (bool, error)
	MustClose()
}

type GenericTxMetaStore struct {
	dbProvider db.DatabaseProvider
}

func NewGenericTxMetaStore(dbProvider db.DatabaseProvider) (*GenericTxMetaStore, error) {
	if dbProvider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}
	return &GenericTxMetaStore{dbProvider: dbProvider}, nil
}

func (tms *GenericTxMetaStore) Store(txMeta *types.TransactionMeta) error {
	batch := tms.dbProvider.Batch()
	defer batch.Close()

	if err := tms.StoreInBatch(batch, txMeta); err != nil {
		return err
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("failed to write transaction meta to database: %w", err)
	}
	return nil
}

func (tms *GenericTxMetaStore) StoreInBatch(batch db.DatabaseBatch, txMeta *types.TransactionMeta) error {
	data, err := jsonx.Marshal(txMeta)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction meta %s: %w", utils.ShortenLog(txMeta.TxHash), err)
	}
	batch.Put(tms.getDBKey(txMeta.TxHash), data)
	return nil
}

// GetByHash returns (nil, nil) for an unknown hash.
func (tms *GenericTxMetaStore) GetByHash(txHash string) (*types.TransactionMeta, error) {
	data, err := tms.dbProvider.Get(tms.getDBKey(txHash))
	if err != nil {
		return nil, fmt.Errorf("could not get transaction meta %s from db: %w", utils.ShortenLog(txHash), err)
	}
	if data == nil {
		return nil, nil
	}

	var txMeta types.TransactionMeta
	if err := jsonx.Unmarshal(data, &txMeta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction meta %s: %w", utils.ShortenLog(txHash), err)
	}
	return &txMeta, nil
}

func (tms *GenericTxMetaStore) Exists(txHash string) (bool, error) {
	return tms.dbProvider.Has(tms.getDBKey(txHash))
}

func (tms *GenericTxMetaStore) MustClose() {
	if err := tms.dbProvider.Close(); err != nil {
		logx.Error("TX_META_STORE", "Failed to close provider: ", err)
	}
}

func (tms *GenericTxMetaStore) getDBKey(txHash string) []byte {
	return []byte(PrefixTxMeta + txHash)
}
