package config

import (
	"github.com/gagliardetto/solana-go"
	"github.com/mezonai/stakepool/store"
)

// MintConfig declares a token type created at genesis.
type MintConfig struct {
	Address   string `yaml:"address"`
	Authority string `yaml:"authority"`
	Decimals  uint8  `yaml:"decimals"`
}

// FundedAccount is a token balance minted at genesis. Amount is a decimal
// string of base units.
type FundedAccount struct {
	Owner  string `yaml:"owner"`
	Mint   string `yaml:"mint"`
	Amount string `yaml:"amount"`
}

// GenesisConfig holds the configuration from genesis.yml
type GenesisConfig struct {
	StakingProgram    string          `yaml:"staking_program"`
	TokenProgram      string          `yaml:"token_program"`
	LockPeriodSeconds int64           `yaml:"lock_period_seconds"`
	Mints             []MintConfig    `yaml:"mints"`
	Accounts          []FundedAccount `yaml:"accounts"`
}

// ConfigFile is the top-level structure for genesis.yml
type ConfigFile struct {
	Config GenesisConfig `yaml:"config"`
}

// Genesis is the validated form of GenesisConfig.
type Genesis struct {
	StakingProgram solana.PublicKey
	TokenProgram   solana.PublicKey
	LockPeriod     int64
	Mints          []GenesisMint
	Accounts       []GenesisBalance
}

type GenesisMint struct {
	Address   solana.PublicKey
	Authority solana.PublicKey
	Decimals  uint8
}

type GenesisBalance struct {
	Owner  solana.PublicKey
	Mint   solana.PublicKey
	Amount uint64
}

type RPCConfig struct {
	ListenAddr     string   `ini:"listen_addr"`
	AllowedOrigins []string `ini:"allowed_origins" delim:","`
}

type APIConfig struct {
	Enabled    bool   `ini:"enabled"`
	ListenAddr string `ini:"listen_addr"`
}

type ExecutorConfig struct {
	Workers             int `ini:"workers"`
	MaxTxAgeSeconds     int `ini:"max_tx_age_seconds"`
	MaxClockSkewSeconds int `ini:"max_clock_skew_seconds"`
}

type RateLimitConfig struct {
	Enabled       bool `ini:"enabled"`
	MaxRequests   int  `ini:"max_requests"`
	WindowSeconds int  `ini:"window_seconds"`
}

// NodeConfig is the node.ini file, one struct per section.
type NodeConfig struct {
	Store     store.StoreConfig
	RPC       RPCConfig
	API       APIConfig
	Executor  ExecutorConfig
	RateLimit RateLimitConfig
}
