package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/mezonai/stakepool/logx"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	pgOpTimeout = 5 * time.Second

	pgCreateTable = `CREATE TABLE IF NOT EXISTS kv (key BYTEA PRIMARY KEY, value BYTEA NOT NULL)`
	pgSelectOne   = `SELECT value FROM kv WHERE key = $1`
	pgSelectMany  = `SELECT key, value FROM kv WHERE key = ANY($1)`
	pgSelectRange = `SELECT key, value FROM kv WHERE key >= $1 AND ($2::BYTEA IS NULL OR key < $2) ORDER BY key`
	pgUpsert      = `INSERT INTO kv (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`
	pgDelete      = `DELETE FROM kv WHERE key = $1`
	pgExists      = `SELECT EXISTS (SELECT 1 FROM kv WHERE key = $1)`
)

// PostgresProvider implements IterableProvider on a single key/value table.
// A batch is one SQL transaction.
type PostgresProvider struct {
	db *sql.DB
}

// NewPostgresProvider opens a connection pool with the lib/pq driver and
// creates the table if needed.
func NewPostgresProvider(dsn string) (*PostgresProvider, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	p := NewPostgresProviderWithDB(conn)
	if err := p.Migrate(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	logx.Info("POSTGRES", "Key/value table ready")
	return p, nil
}

// NewPostgresProviderWithDB wraps an existing pool.
func NewPostgresProviderWithDB(conn *sql.DB) *PostgresProvider {
	return &PostgresProvider{db: conn}
}

func (p *PostgresProvider) Migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), pgOpTimeout)
	defer cancel()
	if _, err := p.db.ExecContext(ctx, pgCreateTable); err != nil {
		return fmt.Errorf("failed to create kv table: %w", err)
	}
	return nil
}

func (p *PostgresProvider) Get(key []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), pgOpTimeout)
	defer cancel()

	var value []byte
	err := p.db.QueryRowContext(ctx, pgSelectOne, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (p *PostgresProvider) GetBatch(keys [][]byte) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), pgOpTimeout)
	defer cancel()

	rows, err := p.db.QueryContext(ctx, pgSelectMany, pq.ByteaArray(keys))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		result[string(k)] = v
	}
	return result, rows.Err()
}

func (p *PostgresProvider) Put(key, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), pgOpTimeout)
	defer cancel()
	_, err := p.db.ExecContext(ctx, pgUpsert, key, value)
	return err
}

func (p *PostgresProvider) Delete(key []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), pgOpTimeout)
	defer cancel()
	_, err := p.db.ExecContext(ctx, pgDelete, key)
	return err
}

func (p *PostgresProvider) Has(key []byte) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), pgOpTimeout)
	defer cancel()
	var exists bool
	err := p.db.QueryRowContext(ctx, pgExists, key).Scan(&exists)
	return exists, err
}

func (p *PostgresProvider) Close() error {
	return p.db.Close()
}

func (p *PostgresProvider) Batch() DatabaseBatch {
	return &PostgresBatch{db: p.db}
}

// IteratePrefix scans the key range covered by prefix in key order.
func (p *PostgresProvider) IteratePrefix(prefix []byte, fn func(key, value []byte) bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*pgOpTimeout)
	defer cancel()

	r := util.BytesPrefix(prefix)
	rows, err := p.db.QueryContext(ctx, pgSelectRange, r.Start, r.Limit)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return err
		}
		if !fn(k, v) {
			break
		}
	}
	return rows.Err()
}

type pgOp struct {
	key    []byte
	value  []byte
	delete bool
}

// PostgresBatch buffers operations and applies them in one transaction.
type PostgresBatch struct {
	db  *sql.DB
	ops []pgOp
}

func (b *PostgresBatch) Put(key, value []byte) {
	b.ops = append(b.ops, pgOp{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
}

func (b *PostgresBatch) Delete(key []byte) {
	b.ops = append(b.ops, pgOp{key: append([]byte(nil), key...), delete: true})
}

func (b *PostgresBatch) Write() (err error) {
	if len(b.ops) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), pgOpTimeout)
	defer cancel()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, op := range b.ops {
		if op.delete {
			_, err = tx.ExecContext(ctx, pgDelete, op.key)
		} else {
			_, err = tx.ExecContext(ctx, pgUpsert, op.key, op.value)
		}
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (b *PostgresBatch) Reset() {
	b.ops = b.ops[:0]
}

func (b *PostgresBatch) Close() error {
	b.ops = nil
	return nil
}
