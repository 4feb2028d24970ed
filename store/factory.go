package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mezonai/stakepool/db"
)

// StoreType represents the type of store implementation
type StoreType string

const (
	LevelDBStoreType  StoreType = "leveldb"
	RocksDBStoreType  StoreType = "rocksdb"
	RedisStoreType    StoreType = "redis"
	BoltStoreType     StoreType = "bolt"
	PostgresStoreType StoreType = "postgres"
	// MemoryStoreType keeps everything in an in-memory LevelDB.
	MemoryStoreType StoreType = "memory"
)

// StoreConfig holds configuration for creating store instances
type StoreConfig struct {
	Type          StoreType `ini:"type" yaml:"type"`
	Directory     string    `ini:"directory" yaml:"directory"`
	RedisAddress  string    `ini:"redis_address" yaml:"redis_address"`
	RedisPassword string    `ini:"redis_password" yaml:"redis_password"`
	RedisDB       int       `ini:"redis_db" yaml:"redis_db"`
	PostgresDSN   string    `ini:"postgres_dsn" yaml:"postgres_dsn"`
}

// Validate validates the store configuration
func (sc *StoreConfig) Validate() error {
	switch sc.Type {
	case LevelDBStoreType, RocksDBStoreType, BoltStoreType:
		if sc.Directory == "" {
			return fmt.Errorf("directory cannot be empty for %s store", sc.Type)
		}
	case RedisStoreType:
		if sc.RedisAddress == "" {
			return fmt.Errorf("redis_address cannot be empty for redis store")
		}
	case PostgresStoreType:
		if sc.PostgresDSN == "" {
			return fmt.Errorf("postgres_dsn cannot be empty for postgres store")
		}
	case MemoryStoreType:
	case "":
		return fmt.Errorf("store type cannot be empty")
	default:
		return fmt.Errorf("unsupported store type: %s", sc.Type)
	}
	return nil
}

// Stores bundles the stores sharing one provider, so a single batch can
// span all of them.
type Stores struct {
	Provider  db.DatabaseProvider
	Accounts  AccountStore
	TxMeta    TxMetaStore
	StateMeta StateMetaStore
}

func (s *Stores) Close() error {
	return s.Provider.Close()
}

// StoreFactory take responsibility to create store instances
type StoreFactory struct{}

func NewStoreFactory() *StoreFactory {
	return &StoreFactory{}
}

// CreateStores opens the configured provider and builds every store on it.
func (sf *StoreFactory) CreateStores(config *StoreConfig) (*Stores, error) {
	provider, err := sf.CreateProvider(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}
	return NewStores(provider)
}

// NewStores builds every store on an existing provider.
func NewStores(provider db.DatabaseProvider) (*Stores, error) {
	accStore, err := NewGenericAccountStore(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to create account store: %w", err)
	}
	txMetaStore, err := NewGenericTxMetaStore(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction meta store: %w", err)
	}
	return &Stores{
		Provider:  provider,
		Accounts:  accStore,
		TxMeta:    txMetaStore,
		StateMeta: NewGenericStateMetaStore(provider),
	}, nil
}

// CreateProvider creates a database provider based on the configuration
func (sf *StoreFactory) CreateProvider(config *StoreConfig) (db.DatabaseProvider, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	switch config.Type {
	case LevelDBStoreType:
		return db.NewLevelDBProvider(config.Directory)
	case RocksDBStoreType:
		return db.NewRocksDBProvider(config.Directory)
	case BoltStoreType:
		if err := os.MkdirAll(config.Directory, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create bolt directory: %w", err)
		}
		return db.NewBoltProvider(filepath.Join(config.Directory, "stakepool.db"))
	case RedisStoreType:
		return db.NewRedisProvider(db.RedisOptions{
			Address:  config.RedisAddress,
			Password: config.RedisPassword,
			DB:       config.RedisDB,
		})
	case PostgresStoreType:
		return db.NewPostgresProvider(config.PostgresDSN)
	case MemoryStoreType:
		return db.NewMemLevelDBProvider()
	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}
