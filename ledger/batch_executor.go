package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/alitto/pond/v2"
	"github.com/gagliardetto/solana-go"
	"github.com/mezonai/stakepool/logx"
	"github.com/mezonai/stakepool/monitoring"
	"github.com/mezonai/stakepool/transaction"
)

const maxBatchWorkers = 64

type TransactionDependency struct {
	WriteAccounts []solana.PublicKey
	Tx            *transaction.Transaction
}

type BatchResult struct {
	Tx     *transaction.Transaction
	Result *Result
	Err    error
}

// BatchExecutor runs many transactions on a shared worker pool.
// Transactions are grouped by dependency level on the accounts they write:
// members of one group touch disjoint accounts and run concurrently, and
// a transaction always runs after every earlier one it conflicts with.
type BatchExecutor struct {
	ledger *Ledger
	pool   pond.Pool
}

func NewBatchExecutor(l *Ledger, workers int) *BatchExecutor {
	if workers < 1 {
		workers = 1
	}
	if workers > maxBatchWorkers {
		workers = maxBatchWorkers
	}
	return &BatchExecutor{ledger: l, pool: pond.NewPool(workers)}
}

func (be *BatchExecutor) Stop() {
	be.pool.StopAndWait()
}

// ExecuteBatch returns one result per input, in input order.
func (be *BatchExecutor) ExecuteBatch(ctx context.Context, txs []*transaction.Transaction) []BatchResult {
	results := make([]BatchResult, len(txs))
	for i, tx := range txs {
		results[i].Tx = tx
	}
	if len(txs) == 0 {
		return results
	}
	monitoring.RecordBatchSize(len(txs))

	// Signature checks need no state and parallelise fully.
	be.run(ctx, indexes(len(txs)), func(i int) {
		results[i].Err = be.ledger.Validate(txs[i])
	})

	valid := make([]int, 0, len(txs))
	for i := range txs {
		if results[i].Err == nil {
			valid = append(valid, i)
		}
	}
	deps, err := be.AnalyzeDependencies(txs, valid)
	if err != nil {
		for _, i := range valid {
			results[i].Err = err
		}
		return results
	}

	graph := BuildDependencyGraph(deps)
	for _, group := range groupByDependencyLevel(graph, len(deps)) {
		members := make([]int, len(group))
		for j, d := range group {
			members[j] = valid[d]
		}
		be.run(ctx, members, func(i int) {
			results[i].Result, results[i].Err = be.ledger.execute(ctx, txs[i])
		})
	}
	for _, i := range valid {
		if results[i].Result == nil && results[i].Err == nil {
			results[i].Err = fmt.Errorf("not executed: %w", context.Cause(ctx))
		}
	}
	return results
}

// AnalyzeDependencies resolves the write set of each transaction in idx.
func (be *BatchExecutor) AnalyzeDependencies(txs []*transaction.Transaction, idx []int) ([]TransactionDependency, error) {
	reader := be.ledger.Reader()
	deps := make([]TransactionDependency, len(idx))
	for j, i := range idx {
		accounts, err := be.ledger.program.Accounts(reader, txs[i])
		if err != nil {
			return nil, fmt.Errorf("could not resolve accounts of %s: %w", txs[i].Hash(), err)
		}
		deps[j] = TransactionDependency{WriteAccounts: accounts, Tx: txs[i]}
	}
	return deps, nil
}

func (be *BatchExecutor) run(ctx context.Context, members []int, fn func(i int)) {
	group := be.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for _, i := range members {
		group.Submit(func() {
			if err := groupCtx.Err(); err != nil {
				return
			}
			fn(i)
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		logx.Warn("BATCH_EXECUTOR", fmt.Sprintf("Group finished with error: %v", err))
	}
}

// BuildDependencyGraph maps each transaction to the earlier transactions
// that last wrote one of its accounts.
func BuildDependencyGraph(dependencies []TransactionDependency) map[int][]int {
	graph := make(map[int][]int, len(dependencies))
	lastWriter := make(map[solana.PublicKey]int)

	for i := range dependencies {
		graph[i] = []int{}
	}
	for i, dep := range dependencies {
		for _, acc := range dep.WriteAccounts {
			if prev, ok := lastWriter[acc]; ok && prev != i {
				graph[i] = append(graph[i], prev)
			}
			lastWriter[acc] = i
		}
	}
	return graph
}

func groupByDependencyLevel(graph map[int][]int, total int) [][]int {
	groups := [][]int{}
	processed := make(map[int]bool, total)

	for len(processed) < total {
		var current []int
		for i := 0; i < total; i++ {
			if processed[i] {
				continue
			}
			ready := true
			for _, dep := range graph[i] {
				if !processed[dep] {
					ready = false
					break
				}
			}
			if ready {
				current = append(current, i)
			}
		}
		// Edges only point backwards, so some transaction is always ready.
		if len(current) == 0 {
			break
		}
		groups = append(groups, current)
		for _, i := range current {
			processed[i] = true
		}
	}
	return groups
}

func indexes(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
