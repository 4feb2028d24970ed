package store

// Declare database key prefix for objects
const (
	PrefixAccount = "account:"

	PrefixTxMeta = "tx_meta:"

	PrefixStateHashBySeq = "state_hash:"
	StateMetaKeyLatest   = "state_meta:latest"
)
