package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/mezonai/stakepool/api"
	"github.com/mezonai/stakepool/config"
	"github.com/mezonai/stakepool/events"
	"github.com/mezonai/stakepool/exception"
	"github.com/mezonai/stakepool/jsonrpc"
	"github.com/mezonai/stakepool/ledger"
	"github.com/mezonai/stakepool/logx"
	"github.com/mezonai/stakepool/monitoring"
	"github.com/mezonai/stakepool/ratelimit"
	"github.com/mezonai/stakepool/service"
	"github.com/mezonai/stakepool/staking"
	"github.com/mezonai/stakepool/store"
	"github.com/mezonai/stakepool/token"
	"github.com/mezonai/stakepool/utils"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

type NodeFlags struct {
	ConfigPath  string
	GenesisPath string
	StoreType   string
	DataDir     string
	RPCAddr     string
	APIAddr     string
	Debug       bool
}

var nodeFlags NodeFlags

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run the staking pool node",
	Long: `Runs the ledger with the JSON-RPC and REST servers.

Examples:
  # Start with defaults and a genesis file
  node --genesis config/genesis.yml

  # Override the store from node.ini
  node -c config/node.ini -g config/genesis.yml --store-type bolt --data-dir ./data`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNode(nodeFlags)
	},
}

func init() {
	rootCmd.AddCommand(nodeCmd)
	nodeCmd.Flags().StringVarP(&nodeFlags.ConfigPath, "config", "c", "", "node.ini path (defaults apply when empty)")
	nodeCmd.Flags().StringVarP(&nodeFlags.GenesisPath, "genesis", "g", "config/genesis.yml", "genesis.yml path")
	nodeCmd.Flags().StringVar(&nodeFlags.StoreType, "store-type", "", "override [store] type")
	nodeCmd.Flags().StringVar(&nodeFlags.DataDir, "data-dir", "", "override [store] directory")
	nodeCmd.Flags().StringVar(&nodeFlags.RPCAddr, "rpc-addr", "", "override [rpc] listen_addr")
	nodeCmd.Flags().StringVar(&nodeFlags.APIAddr, "api-addr", "", "override [api] listen_addr")
	nodeCmd.Flags().BoolVar(&nodeFlags.Debug, "debug", false, "enable debug logging")
}

// loadNodeConfig reads node.ini if given and applies flag overrides.
func loadNodeConfig(flags NodeFlags) (*config.NodeConfig, error) {
	cfg := config.DefaultNodeConfig()
	if flags.ConfigPath != "" {
		loaded, err := config.LoadNodeConfig(flags.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if flags.StoreType != "" {
		cfg.Store.Type = store.StoreType(flags.StoreType)
	}
	if flags.DataDir != "" {
		cfg.Store.Directory = flags.DataDir
	}
	if flags.RPCAddr != "" {
		cfg.RPC.ListenAddr = flags.RPCAddr
	}
	if flags.APIAddr != "" {
		cfg.API.ListenAddr = flags.APIAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runNode(flags NodeFlags) error {
	logx.EnableDebug(flags.Debug)

	cfg, err := loadNodeConfig(flags)
	if err != nil {
		return fmt.Errorf("failed to load node config: %w", err)
	}
	genesisCfg, err := config.LoadGenesisConfig(flags.GenesisPath)
	if err != nil {
		return err
	}
	genesis, err := genesisCfg.Parse()
	if err != nil {
		return fmt.Errorf("invalid genesis: %w", err)
	}

	stores, err := store.NewStoreFactory().CreateStores(&cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := stores.Close(); err != nil {
			logx.Error("NODE", "Failed to close store:", err)
		}
	}()

	prog := staking.NewProgram(genesis.StakingProgram, token.NewProgram(genesis.TokenProgram))
	if genesis.LockPeriod > 0 {
		prog.LockPeriod = genesis.LockPeriod
	}

	bus := events.NewEventBus()
	ld, err := ledger.NewLedger(prog, stores, utils.SystemClock{}, bus, ledger.Options{
		MaxTxAge:     time.Duration(cfg.Executor.MaxTxAgeSeconds) * time.Second,
		MaxClockSkew: time.Duration(cfg.Executor.MaxClockSkewSeconds) * time.Second,
	})
	if err != nil {
		return err
	}
	if err := ld.ApplyGenesis(genesis); err != nil {
		return fmt.Errorf("failed to apply genesis: %w", err)
	}
	if err := ld.Audit(); err != nil {
		return fmt.Errorf("stored state failed audit: %w", err)
	}

	be := ledger.NewBatchExecutor(ld, cfg.Executor.Workers)
	defer be.Stop()

	var defaultMint solana.PublicKey
	if len(genesis.Mints) > 0 {
		defaultMint = genesis.Mints[0].Address
	}
	svc := service.NewStakingService(ld, be, utils.SystemClock{}, defaultMint)
	health := service.NewHealthService(ld)

	var limiter *ratelimit.RequestLimiter
	if rlCfg := ratelimit.FromNodeConfig(cfg.RateLimit); rlCfg != nil {
		limiter = ratelimit.NewRequestLimiter(rlCfg, nil)
		defer limiter.Stop()
	}

	rpc := jsonrpc.NewServer(cfg.RPC.ListenAddr, svc, health, limiter)
	if cors, ok := jsonrpc.CORSFromEnv(); ok {
		rpc.SetCORSConfig(cors)
	} else {
		rpc.SetCORSConfig(jsonrpc.CORSConfig{
			AllowedOrigins: cfg.RPC.AllowedOrigins,
			AllowedMethods: []string{"POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type"},
		})
	}
	rpc.Start()

	var rest *api.APIServer
	if cfg.API.Enabled {
		rest = api.NewAPIServer(svc, health, cfg.API.ListenAddr)
		rest.Start()
	}

	subID, ch := bus.Subscribe(nil)
	exception.SafeGo("EventLogger", func() { logEvents(ch) })

	monitoring.MarkNodeUp()
	seq, _ := ld.StateHash()
	logx.Info("NODE", fmt.Sprintf("Node started: store=%s seq=%d lock_period=%ds rpc=%s", cfg.Store.Type, seq, prog.LockPeriod, cfg.RPC.ListenAddr))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logx.Info("NODE", "Received signal, shutting down:", sig)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := rpc.Shutdown(ctx); err != nil {
		logx.Warn("NODE", "JSON-RPC shutdown:", err)
	}
	if rest != nil {
		if err := rest.Shutdown(ctx); err != nil {
			logx.Warn("NODE", "API shutdown:", err)
		}
	}
	bus.Unsubscribe(subID)
	return nil
}

func logEvents(ch <-chan events.LedgerEvent) {
	for e := range ch {
		meta := e.Meta()
		switch ev := e.(type) {
		case *events.TransactionCommitted:
			pool := ev.Pool()
			logx.Debug("EVENT", fmt.Sprintf("%s %s seq=%d total_staked=%d", meta.Instruction, utils.ShortenLog(meta.TxHash), meta.Seq, pool.TotalStaked))
		case *events.TransactionFailed:
			logx.Debug("EVENT", fmt.Sprintf("%s %s failed: %s", meta.Instruction, utils.ShortenLog(meta.TxHash), ev.ErrorMessage()))
		}
	}
}
