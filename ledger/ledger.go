package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/mezonai/stakepool/db"
	"github.com/mezonai/stakepool/derive"
	"github.com/mezonai/stakepool/events"
	"github.com/mezonai/stakepool/logx"
	"github.com/mezonai/stakepool/monitoring"
	"github.com/mezonai/stakepool/staking"
	"github.com/mezonai/stakepool/store"
	"github.com/mezonai/stakepool/transaction"
	"github.com/mezonai/stakepool/types"
	"github.com/mezonai/stakepool/utils"
)

var (
	ErrInvalidSignature = errors.New("invalid transaction signature")
	ErrMalformedTx      = errors.New("malformed transaction")
	ErrTxExpired        = errors.New("transaction expired")
	ErrTxFromFuture     = errors.New("transaction timestamp is in the future")
	ErrDuplicateTx      = errors.New("transaction already executed")
)

// Options bound how old a request may be. A request older than MaxTxAge
// is rejected, which caps how long the executed-hash set must be kept to
// stop replays.
type Options struct {
	MaxTxAge     time.Duration
	MaxClockSkew time.Duration
}

func DefaultOptions() Options {
	return Options{MaxTxAge: 2 * time.Minute, MaxClockSkew: 10 * time.Second}
}

// Result is the outcome of one executed transaction. Pool and User are the
// committed snapshots, or the unchanged state when the program failed.
type Result struct {
	Meta *types.TransactionMeta
	Pool *types.PoolRecord
	User *types.UserRecord
}

type Ledger struct {
	program *staking.Program
	stores  *store.Stores
	txm     *db.DBTxManager
	locks   *LockTable
	clock   utils.Clock
	bus     *events.EventBus
	opts    Options

	// commitMu orders commits so each gets the next seq and chains onto
	// the previous state hash.
	commitMu  sync.Mutex
	seq       uint64
	stateHash [32]byte
}

func NewLedger(program *staking.Program, stores *store.Stores, clock utils.Clock, bus *events.EventBus, opts Options) (*Ledger, error) {
	seq, hash, err := stores.StateMeta.Latest()
	if err != nil {
		return nil, fmt.Errorf("could not load state meta: %w", err)
	}
	if clock == nil {
		clock = utils.SystemClock{}
	}
	logx.Info("LEDGER", fmt.Sprintf("Ledger ready at seq %d, state hash %s", seq, hex.EncodeToString(hash[:])))
	return &Ledger{
		program:   program,
		stores:    stores,
		txm:       db.NewDBTxManager(stores.Provider),
		locks:     NewLockTable(),
		clock:     clock,
		bus:       bus,
		opts:      opts,
		seq:       seq,
		stateHash: hash,
	}, nil
}

func (l *Ledger) Program() *staking.Program {
	return l.program
}

// Reader exposes committed account state for queries.
func (l *Ledger) Reader() *Reader {
	return &Reader{accounts: l.stores.Accounts}
}

// StateHash returns the sequence number and running hash of the last commit.
func (l *Ledger) StateHash() (uint64, [32]byte) {
	l.commitMu.Lock()
	defer l.commitMu.Unlock()
	return l.seq, l.stateHash
}

// Audit checks the committed stake records against the pool total. It
// holds the commit lock so the walk sees a single committed state.
func (l *Ledger) Audit() error {
	l.commitMu.Lock()
	defer l.commitMu.Unlock()

	sum, err := l.program.AuditTotals(l.Reader(), l.stores.Accounts.IterateAccounts)
	if err != nil {
		logx.Error("LEDGER", "Audit failed:", err)
		return err
	}
	logx.Debug("LEDGER", fmt.Sprintf("Audit ok at seq %d: %d staked", l.seq, sum))
	return nil
}

func (l *Ledger) GetTxMeta(hash string) (*types.TransactionMeta, error) {
	return l.stores.TxMeta.GetByHash(hash)
}

// Validate runs the checks that need no account state: signature and
// freshness.
func (l *Ledger) Validate(tx *transaction.Transaction) error {
	if err := tx.Validate(); err != nil {
		monitoring.RecordRejectedTx(monitoring.TxMalformed)
		return fmt.Errorf("%w: %v", ErrMalformedTx, err)
	}
	if err := tx.Verify(); err != nil {
		monitoring.RecordRejectedTx(monitoring.TxInvalidSignature)
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	now := l.clock.Now()
	sent := time.UnixMilli(int64(tx.Timestamp))
	if sent.After(now.Add(l.opts.MaxClockSkew)) {
		monitoring.RecordRejectedTx(monitoring.TxExpired)
		return fmt.Errorf("%w: %s ahead", ErrTxFromFuture, sent.Sub(now))
	}
	if now.Sub(sent) > l.opts.MaxTxAge {
		monitoring.RecordRejectedTx(monitoring.TxExpired)
		return fmt.Errorf("%w: sent %s ago", ErrTxExpired, now.Sub(sent).Truncate(time.Millisecond))
	}
	return nil
}

// Execute validates tx, runs it against the accounts it names under their
// locks and commits all writes with the tx metadata and new state hash in
// one batch. A program failure is recorded as a failed transaction and
// returned together with the Result.
func (l *Ledger) Execute(ctx context.Context, tx *transaction.Transaction) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := l.Validate(tx); err != nil {
		return nil, err
	}
	return l.execute(ctx, tx)
}

func (l *Ledger) execute(ctx context.Context, tx *transaction.Transaction) (*Result, error) {
	start := time.Now()
	hash := tx.Hash()

	accounts, err := l.program.Accounts(l.Reader(), tx)
	if err != nil {
		return nil, fmt.Errorf("could not resolve accounts: %w", err)
	}
	unlock := l.locks.Acquire(accounts)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seen, err := l.stores.TxMeta.Exists(hash)
	if err != nil {
		return nil, fmt.Errorf("could not check tx meta: %w", err)
	}
	if seen {
		monitoring.RecordRejectedTx(monitoring.TxDuplicated)
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTx, hash)
	}

	session := NewSession(l.stores.Accounts)
	if err := session.Preload(accounts); err != nil {
		return nil, err
	}
	ictx := &staking.InvokeContext{
		View:   session,
		Signer: derive.SignerAuthority(tx.Actor),
		Now:    l.clock.Now().Unix(),
	}
	meta := &types.TransactionMeta{
		TxHash:      hash,
		Instruction: tx.Instruction.String(),
		Actor:       tx.Actor.String(),
		ExecutedAt:  ictx.Now,
	}

	if procErr := l.program.Process(ictx, tx); procErr != nil {
		session.Discard()
		return l.fail(tx, meta, procErr, start)
	}

	if err := l.commit(meta, session.Dirty()); err != nil {
		monitoring.RecordExecutedTx(meta.Instruction, monitoring.OutcomeSystem)
		return nil, err
	}
	monitoring.RecordExecutedTx(meta.Instruction, monitoring.OutcomeSuccess)
	monitoring.RecordExecutionLatency(meta.Instruction, time.Since(start))

	res := l.snapshot(meta, tx.Actor)
	if res.Pool != nil {
		monitoring.SetPoolTotals(res.Pool.TotalStaked, res.Pool.TotalRewards)
		if l.bus != nil {
			l.bus.Publish(events.NewTransactionCommitted(meta, *res.Pool, res.User))
		}
	}
	logx.Info("LEDGER", fmt.Sprintf("Committed %s %s by %s at seq %d", meta.Instruction, utils.ShortenLog(hash), utils.ShortenLog(meta.Actor), meta.Seq))
	return res, nil
}

// fail records a failed transaction. The staged writes are already
// discarded, so the failed meta is the only thing persisted.
func (l *Ledger) fail(tx *transaction.Transaction, meta *types.TransactionMeta, procErr error, start time.Time) (*Result, error) {
	meta.Status = types.TxStatusFailed
	meta.Error = procErr.Error()
	meta.ErrorCode = staking.Code(procErr)

	class := staking.Classify(procErr)
	outcome := meta.ErrorCode
	if class == staking.SystemError {
		outcome = monitoring.OutcomeSystem
		logx.Error("LEDGER", fmt.Sprintf("System error executing %s %s: %v", meta.Instruction, meta.TxHash, procErr))
	} else {
		logx.Warn("LEDGER", fmt.Sprintf("Rejected %s %s: %v", meta.Instruction, utils.ShortenLog(meta.TxHash), procErr))
	}
	monitoring.RecordExecutedTx(meta.Instruction, outcome)
	monitoring.RecordExecutionLatency(meta.Instruction, time.Since(start))

	if err := l.stores.TxMeta.Store(meta); err != nil {
		logx.Error("LEDGER", fmt.Sprintf("Failed to store failed tx meta %s: %v", meta.TxHash, err))
	}
	if l.bus != nil {
		l.bus.Publish(events.NewTransactionFailed(meta))
	}
	return l.snapshot(meta, tx.Actor), procErr
}

// commit writes the staged accounts, the tx meta and the next state hash
// in one batch. In-memory seq and hash only advance once the batch lands.
func (l *Ledger) commit(meta *types.TransactionMeta, dirty []*types.Account) error {
	l.commitMu.Lock()
	defer l.commitMu.Unlock()

	seq := l.seq + 1
	hash := CombineBankHash(l.stateHash, ComputeAccountsDeltaHash(dirty))
	meta.Seq = seq
	meta.Status = types.TxStatusSuccess
	meta.StateHash = hex.EncodeToString(hash[:])

	err := l.txm.WithBatch(func(batch db.DatabaseBatch) error {
		if err := l.stores.Accounts.StoreInBatch(batch, dirty); err != nil {
			return err
		}
		if err := l.stores.TxMeta.StoreInBatch(batch, meta); err != nil {
			return err
		}
		l.stores.StateMeta.SetInBatch(batch, seq, hash)
		return nil
	})
	if err != nil {
		meta.Seq, meta.Status, meta.StateHash = 0, types.TxStatusFailed, ""
		return fmt.Errorf("could not commit %s: %w", meta.TxHash, err)
	}
	l.seq, l.stateHash = seq, hash
	return nil
}

func (l *Ledger) snapshot(meta *types.TransactionMeta, actor solana.PublicKey) *Result {
	res := &Result{Meta: meta}
	reader := l.Reader()
	if pool, err := l.program.GetPool(reader); err == nil {
		res.Pool = pool
	}
	if user, err := l.program.GetUser(reader, actor); err == nil {
		res.User = user
	}
	return res
}
