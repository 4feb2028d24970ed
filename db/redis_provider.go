package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mezonai/stakepool/logx"
	"github.com/redis/go-redis/v9"
)

const redisOpTimeout = 5 * time.Second

// RedisOptions selects the server and logical database.
type RedisOptions struct {
	Address  string
	Password string
	DB       int
}

// RedisProvider implements IterableProvider for Redis. Batches run inside
// MULTI/EXEC so a commit is applied as a unit.
type RedisProvider struct {
	client redis.UniversalClient
}

// NewRedisProvider connects and pings the server.
func NewRedisProvider(opts RedisOptions) (*RedisProvider, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Address, err)
	}
	logx.Info("REDIS", "Connected to ", opts.Address, " db=", opts.DB)

	return NewRedisProviderWithClient(client), nil
}

// NewRedisProviderWithClient wraps an existing client.
func NewRedisProviderWithClient(client redis.UniversalClient) *RedisProvider {
	return &RedisProvider{client: client}
}

func opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), redisOpTimeout)
}

// Get retrieves a value by key
func (p *RedisProvider) Get(key []byte) ([]byte, error) {
	ctx, cancel := opContext()
	defer cancel()

	value, err := p.client.Get(ctx, string(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return value, nil
}

// GetBatch uses a single MGET round trip.
func (p *RedisProvider) GetBatch(keys [][]byte) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	ctx, cancel := opContext()
	defer cancel()

	strKeys := make([]string, len(keys))
	for i, k := range keys {
		strKeys[i] = string(k)
	}
	values, err := p.client.MGet(ctx, strKeys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		result[strKeys[i]] = []byte(s)
	}
	return result, nil
}

// Put stores a key-value pair
func (p *RedisProvider) Put(key, value []byte) error {
	ctx, cancel := opContext()
	defer cancel()
	return p.client.Set(ctx, string(key), value, 0).Err()
}

// Delete removes a key-value pair
func (p *RedisProvider) Delete(key []byte) error {
	ctx, cancel := opContext()
	defer cancel()
	return p.client.Del(ctx, string(key)).Err()
}

// Has checks if a key exists
func (p *RedisProvider) Has(key []byte) (bool, error) {
	ctx, cancel := opContext()
	defer cancel()
	count, err := p.client.Exists(ctx, string(key)).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Close closes the database connection
func (p *RedisProvider) Close() error {
	return p.client.Close()
}

// Batch returns a MULTI/EXEC pipeline.
func (p *RedisProvider) Batch() DatabaseBatch {
	return &RedisBatch{
		client: p.client,
		pipe:   p.client.TxPipeline(),
	}
}

// IteratePrefix implements IterableProvider for Redis using SCAN
func (p *RedisProvider) IteratePrefix(prefix []byte, fn func(key, value []byte) bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*redisOpTimeout)
	defer cancel()

	iter := p.client.Scan(ctx, 0, string(prefix)+"*", 1000).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		val, err := p.client.Get(ctx, k).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return err
		}
		if !fn([]byte(k), val) {
			return nil
		}
	}
	return iter.Err()
}

// RedisBatch implements DatabaseBatch for Redis
type RedisBatch struct {
	client redis.UniversalClient
	pipe   redis.Pipeliner
}

func (b *RedisBatch) Put(key, value []byte) {
	b.pipe.Set(context.Background(), string(key), value, 0)
}

func (b *RedisBatch) Delete(key []byte) {
	b.pipe.Del(context.Background(), string(key))
}

func (b *RedisBatch) Write() error {
	ctx, cancel := opContext()
	defer cancel()
	_, err := b.pipe.Exec(ctx)
	return err
}

func (b *RedisBatch) Reset() {
	b.pipe.Discard()
	b.pipe = b.client.TxPipeline()
}

func (b *RedisBatch) Close() error {
	b.pipe.Discard()
	return nil
}
