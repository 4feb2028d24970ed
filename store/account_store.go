package store

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/mezonai/stakepool/db"
	"github.com/mezonai/stakepool/logx"
	"github.com/mezonai/stakepool/types"
)

type AccountStore interface {
	Store(account *types.Account) error
	StoreBatch(accounts []*types.Account) error
	StoreInBatch(batch db.DatabaseBatch, accounts []*types.Account) error
	GetByAddr(addr solana.PublicKey) (*types.Account, error)
	GetBatch(addrs []solana.PublicKey) (map[solana.PublicKey]*types.Account, error)
	IterateAccounts(fn func(account *types.Account) bool) error
	MustClose()
}

// GenericAccountStore persists account envelopes through any provider.
// GetByAddr returns (nil, nil) when the account does not exist.
type GenericAccountStore struct {
	dbProvider db.DatabaseProvider
}

func NewGenericAccountStore(dbProvider db.DatabaseProvider) (*GenericAccountStore, error) {
	if dbProvider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}
	return &GenericAccountStore{dbProvider: dbProvider}, nil
}

func (as *GenericAccountStore) Store(account *types.Account) error {
	return as.StoreBatch([]*types.Account{account})
}

func (as *GenericAccountStore) StoreBatch(accounts []*types.Account) error {
	batch := as.dbProvider.Batch()
	defer batch.Close()

	if err := as.StoreInBatch(batch, accounts); err != nil {
		return err
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("failed to write accounts to db: %w", err)
	}
	return nil
}

// StoreInBatch stages accounts into a caller-owned batch, so account
// updates can commit together with other stores' writes.
func (as *GenericAccountStore) StoreInBatch(batch db.DatabaseBatch, accounts []*types.Account) error {
	for _, account := range accounts {
		data, err := account.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal account %s: %w", account.Address, err)
		}
		batch.Put(as.getDbKey(account.Address), data)
	}
	return nil
}

func (as *GenericAccountStore) GetByAddr(addr solana.PublicKey) (*types.Account, error) {
	data, err := as.dbProvider.Get(as.getDbKey(addr))
	if err != nil {
		return nil, fmt.Errorf("could not get account %s from db: %w", addr, err)
	}
	if data == nil {
		return nil, nil
	}
	return decodeAccount(addr, data)
}

func (as *GenericAccountStore) GetBatch(addrs []solana.PublicKey) (map[solana.PublicKey]*types.Account, error) {
	accounts := make(map[solana.PublicKey]*types.Account, len(addrs))
	if len(addrs) == 0 {
		return accounts, nil
	}

	keys := make([][]byte, len(addrs))
	for i, addr := range addrs {
		keys[i] = as.getDbKey(addr)
	}
	dataMap, err := as.dbProvider.GetBatch(keys)
	if err != nil {
		return nil, fmt.Errorf("failed to batch get accounts: %w", err)
	}

	for i, addr := range addrs {
		data, ok := dataMap[string(keys[i])]
		if !ok {
			continue
		}
		acc, err := decodeAccount(addr, data)
		if err != nil {
			return nil, err
		}
		accounts[addr] = acc
	}
	return accounts, nil
}

// IterateAccounts walks every stored account. It needs an iterable provider.
func (as *GenericAccountStore) IterateAccounts(fn func(account *types.Account) bool) error {
	iterable, ok := as.dbProvider.(db.IterableProvider)
	if !ok {
		return fmt.Errorf("provider %T does not support iteration", as.dbProvider)
	}

	var decodeErr error
	err := iterable.IteratePrefix([]byte(PrefixAccount), func(key, value []byte) bool {
		var acc types.Account
		if err := acc.UnmarshalBinary(value); err != nil {
			decodeErr = fmt.Errorf("failed to unmarshal account at key %x: %w", key, err)
			return false
		}
		return fn(&acc)
	})
	if err != nil {
		return err
	}
	return decodeErr
}

func (as *GenericAccountStore) MustClose() {
	if err := as.dbProvider.Close(); err != nil {
		logx.Error("ACCOUNT_STORE", "Failed to close provider: ", err)
	}
}

func (as *GenericAccountStore) getDbKey(addr solana.PublicKey) []byte {
	key := make([]byte, 0, len(PrefixAccount)+solana.PublicKeyLength)
	key = append(key, PrefixAccount...)
	return append(key, addr[:]...)
}

func decodeAccount(addr solana.PublicKey, data []byte) (*types.Account, error) {
	var acc types.Account
	if err := acc.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account %s: %w", addr, err)
	}
	if !acc.Address.Equals(addr) {
		return nil, fmt.Errorf("account stored under %s carries address %s", addr, acc.Address)
	}
	return &acc, nil
}
