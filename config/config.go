package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/mezonai/stakepool/logx"
	"github.com/mezonai/stakepool/staking"
	"github.com/mezonai/stakepool/store"
	"github.com/mezonai/stakepool/utils"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// LoadGenesisConfig reads and parses the genesis.yml file
func LoadGenesisConfig(path string) (*GenesisConfig, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open genesis file %s", path)
	}
	defer file.Close()

	var cfgFile ConfigFile
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfgFile); err != nil {
		return nil, errors.Wrapf(err, "decode genesis file %s", path)
	}
	logx.Info("CONFIG", fmt.Sprintf("Loaded genesis: mints=%d accounts=%d", len(cfgFile.Config.Mints), len(cfgFile.Config.Accounts)))
	return &cfgFile.Config, nil
}

// Parse validates the genesis file and converts keys and amounts.
func (g *GenesisConfig) Parse() (*Genesis, error) {
	out := &Genesis{LockPeriod: g.LockPeriodSeconds}
	var err error
	if out.StakingProgram, err = parseKey("staking_program", g.StakingProgram); err != nil {
		return nil, err
	}
	if out.TokenProgram, err = parseKey("token_program", g.TokenProgram); err != nil {
		return nil, err
	}
	if out.StakingProgram.Equals(out.TokenProgram) {
		return nil, errors.New("staking_program and token_program must differ")
	}
	if out.LockPeriod < 0 || out.LockPeriod > staking.MaxLockPeriod {
		return nil, errors.Errorf("lock_period_seconds must be between 0 and %d, got %d", staking.MaxLockPeriod, out.LockPeriod)
	}

	mints := make(map[solana.PublicKey]struct{}, len(g.Mints))
	for i, m := range g.Mints {
		addr, err := parseKey(fmt.Sprintf("mints[%d].address", i), m.Address)
		if err != nil {
			return nil, err
		}
		auth, err := parseKey(fmt.Sprintf("mints[%d].authority", i), m.Authority)
		if err != nil {
			return nil, err
		}
		if _, dup := mints[addr]; dup {
			return nil, errors.Errorf("mint %s declared twice", addr)
		}
		mints[addr] = struct{}{}
		out.Mints = append(out.Mints, GenesisMint{Address: addr, Authority: auth, Decimals: m.Decimals})
	}

	for i, a := range g.Accounts {
		owner, err := parseKey(fmt.Sprintf("accounts[%d].owner", i), a.Owner)
		if err != nil {
			return nil, err
		}
		mint, err := parseKey(fmt.Sprintf("accounts[%d].mint", i), a.Mint)
		if err != nil {
			return nil, err
		}
		if _, ok := mints[mint]; !ok {
			return nil, errors.Errorf("accounts[%d] references undeclared mint %s", i, mint)
		}
		amount, err := utils.ParseAmount(a.Amount)
		if err != nil {
			return nil, errors.Wrapf(err, "accounts[%d].amount", i)
		}
		out.Accounts = append(out.Accounts, GenesisBalance{Owner: owner, Mint: mint, Amount: amount})
	}
	return out, nil
}

func parseKey(field, value string) (solana.PublicKey, error) {
	if strings.TrimSpace(value) == "" {
		return solana.PublicKey{}, errors.Errorf("%s is required", field)
	}
	key, err := solana.PublicKeyFromBase58(strings.TrimSpace(value))
	if err != nil {
		return solana.PublicKey{}, errors.Wrapf(err, "%s", field)
	}
	return key, nil
}

// DefaultNodeConfig is used for any section missing from node.ini.
func DefaultNodeConfig() *NodeConfig {
	return &NodeConfig{
		Store: store.StoreConfig{
			Type:      store.LevelDBStoreType,
			Directory: DefaultStoreDirectory,
		},
		RPC: RPCConfig{
			ListenAddr:     DefaultRPCListenAddr,
			AllowedOrigins: []string{"*"},
		},
		API: APIConfig{
			Enabled:    true,
			ListenAddr: DefaultAPIListenAddr,
		},
		Executor: ExecutorConfig{
			Workers:             DefaultExecutorWorkers,
			MaxTxAgeSeconds:     DefaultMaxTxAgeSeconds,
			MaxClockSkewSeconds: DefaultMaxClockSkewSeconds,
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			MaxRequests:   DefaultRateLimitRequests,
			WindowSeconds: DefaultRateLimitWindow,
		},
	}
}

// LoadNodeConfig reads node.ini on top of the defaults.
func LoadNodeConfig(path string) (*NodeConfig, error) {
	cfg := DefaultNodeConfig()
	file, err := ini.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "load node config %s", path)
	}
	sections := []struct {
		name   string
		target interface{}
	}{
		{"store", &cfg.Store},
		{"rpc", &cfg.RPC},
		{"api", &cfg.API},
		{"executor", &cfg.Executor},
		{"ratelimit", &cfg.RateLimit},
	}
	for _, s := range sections {
		if !file.HasSection(s.name) {
			continue
		}
		if err := file.Section(s.name).MapTo(s.target); err != nil {
			return nil, errors.Wrapf(err, "map section [%s]", s.name)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *NodeConfig) Validate() error {
	if err := c.Store.Validate(); err != nil {
		return errors.Wrap(err, "[store]")
	}
	if c.RPC.ListenAddr == "" {
		return errors.New("[rpc] listen_addr is required")
	}
	if c.API.Enabled && c.API.ListenAddr == "" {
		return errors.New("[api] listen_addr is required when enabled")
	}
	if c.Executor.Workers <= 0 {
		return errors.Errorf("[executor] workers must be positive, got %d", c.Executor.Workers)
	}
	if c.Executor.MaxTxAgeSeconds <= 0 || c.Executor.MaxClockSkewSeconds < 0 {
		return errors.New("[executor] max_tx_age_seconds must be positive and max_clock_skew_seconds not negative")
	}
	if c.RateLimit.Enabled && (c.RateLimit.MaxRequests <= 0 || c.RateLimit.WindowSeconds <= 0) {
		return errors.New("[ratelimit] max_requests and window_seconds must be positive when enabled")
	}
	return nil
}

// LoadPrivateKey reads a base58 private key file as written by keygen.
func LoadPrivateKey(path string) (solana.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read key file %s", path)
	}
	key, err := solana.PrivateKeyFromBase58(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, errors.Wrapf(err, "decode key file %s", path)
	}
	return key, nil
}

// SavePrivateKey writes key as base58 with owner-only permissions.
func SavePrivateKey(path string, key solana.PrivateKey) error {
	if err := os.WriteFile(path, []byte(key.String()+"\n"), 0o600); err != nil {
		return errors.Wrapf(err, "write key file %s", path)
	}
	return nil
}
