package events

import (
	"time"

	"github.com/mezonai/stakepool/types"
)

// EventType is an enum-like string type for ledger events
type EventType string

const (
	EventTransactionCommitted EventType = "TransactionCommitted"
	EventTransactionFailed    EventType = "TransactionFailed"
)

// LedgerEvent is delivered to subscribers after a transaction has either
// committed or been discarded.
type LedgerEvent interface {
	Type() EventType
	Timestamp() time.Time
	TxHash() string
	Actor() string
	Meta() *types.TransactionMeta
}

// TransactionCommitted carries the post-commit snapshots of the records the
// transaction touched. User is nil for initialize.
type TransactionCommitted struct {
	meta      *types.TransactionMeta
	pool      types.PoolRecord
	user      *types.UserRecord
	timestamp time.Time
}

func NewTransactionCommitted(meta *types.TransactionMeta, pool types.PoolRecord, user *types.UserRecord) *TransactionCommitted {
	return &TransactionCommitted{meta: meta, pool: pool, user: user, timestamp: time.Now()}
}

func (e *TransactionCommitted) Type() EventType              { return EventTransactionCommitted }
func (e *TransactionCommitted) Timestamp() time.Time         { return e.timestamp }
func (e *TransactionCommitted) TxHash() string               { return e.meta.TxHash }
func (e *TransactionCommitted) Actor() string                { return e.meta.Actor }
func (e *TransactionCommitted) Meta() *types.TransactionMeta { return e.meta }
func (e *TransactionCommitted) Pool() types.PoolRecord       { return e.pool }
func (e *TransactionCommitted) User() *types.UserRecord      { return e.user }

// TransactionFailed is published when validation rejected the transaction
// and its overlay was discarded.
type TransactionFailed struct {
	meta      *types.TransactionMeta
	timestamp time.Time
}

func NewTransactionFailed(meta *types.TransactionMeta) *TransactionFailed {
	return &TransactionFailed{meta: meta, timestamp: time.Now()}
}

func (e *TransactionFailed) Type() EventType              { return EventTransactionFailed }
func (e *TransactionFailed) Timestamp() time.Time         { return e.timestamp }
func (e *TransactionFailed) TxHash() string               { return e.meta.TxHash }
func (e *TransactionFailed) Actor() string                { return e.meta.Actor }
func (e *TransactionFailed) Meta() *types.TransactionMeta { return e.meta }
func (e *TransactionFailed) ErrorMessage() string         { return e.meta.Error }
