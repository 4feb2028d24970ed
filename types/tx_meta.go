package types

const (
	TxStatusFailed  = 0
	TxStatusSuccess = 1
)

// TransactionMeta is the outcome of one executed transaction. Seq and
// StateHash are only set for committed transactions.
type TransactionMeta struct {
	TxHash      string `json:"tx_hash"`
	Instruction string `json:"instruction"`
	Actor       string `json:"actor"`
	Seq         uint64 `json:"seq"`
	Status      int32  `json:"status"`
	Error       string `json:"error,omitempty"`
	ErrorCode   string `json:"error_code,omitempty"`
	StateHash   string `json:"state_hash,omitempty"`
	ExecutedAt  int64  `json:"executed_at"`
}

func (m *TransactionMeta) Succeeded() bool {
	return m.Status == TxStatusSuccess
}
