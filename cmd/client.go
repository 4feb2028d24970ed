package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/mezonai/stakepool/client"
	"github.com/mezonai/stakepool/config"
	"github.com/mezonai/stakepool/jsonx"
	"github.com/mezonai/stakepool/utils"
	"github.com/spf13/cobra"
)

const requestTimeout = 30 * time.Second

type ClientFlags struct {
	NodeURL        string
	PrivateKey     string
	PrivateKeyFile string
}

var clientFlags ClientFlags

var (
	initializeMint string
	amountArg      string
)

var initializeCmd = &cobra.Command{
	Use:   "initialize",
	Short: "Create the pool and fund it with the reward allotment",
	Long: `Creates the singleton pool for a token type and moves the reward
amount from the signer into the vault. Amounts are base units.

Examples:
  initialize --mint <mint> --amount 1_000_000_000 -f admin.key`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mint, err := solana.PublicKeyFromBase58(initializeMint)
		if err != nil {
			return fmt.Errorf("invalid mint: %w", err)
		}
		amount, err := utils.ParseAmount(amountArg)
		if err != nil {
			return err
		}
		return withSigner(cmd, func(ctx context.Context, c *client.StakingClient, key solana.PrivateKey) (interface{}, error) {
			return c.Initialize(ctx, key, mint, amount)
		})
	},
}

var depositCmd = &cobra.Command{
	Use:   "deposit",
	Short: "Stake tokens; restarts the lock for the whole stake",
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := utils.ParseAmount(amountArg)
		if err != nil {
			return err
		}
		return withSigner(cmd, func(ctx context.Context, c *client.StakingClient, key solana.PrivateKey) (interface{}, error) {
			return c.Deposit(ctx, key, amount)
		})
	},
}

var withdrawCmd = &cobra.Command{
	Use:   "withdraw",
	Short: "Withdraw the whole stake once the lock has expired",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSigner(cmd, func(ctx context.Context, c *client.StakingClient, key solana.PrivateKey) (interface{}, error) {
			return c.Withdraw(ctx, key)
		})
	},
}

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Show the pool record",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.StakingClient) (interface{}, error) {
			return c.GetPool(ctx)
		})
	},
}

var userCmd = &cobra.Command{
	Use:   "user <owner>",
	Short: "Show the stake record and lock state of an owner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := solana.PublicKeyFromBase58(args[0])
		if err != nil {
			return fmt.Errorf("invalid owner: %w", err)
		}
		return withClient(cmd, func(ctx context.Context, c *client.StakingClient) (interface{}, error) {
			return c.GetUser(ctx, owner)
		})
	},
}

var balanceCmd = &cobra.Command{
	Use:   "balance <owner>",
	Short: "Show the token balance of an owner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := solana.PublicKeyFromBase58(args[0])
		if err != nil {
			return fmt.Errorf("invalid owner: %w", err)
		}
		return withClient(cmd, func(ctx context.Context, c *client.StakingClient) (interface{}, error) {
			return c.GetBalance(ctx, owner)
		})
	},
}

var txCmd = &cobra.Command{
	Use:   "tx <hash>",
	Short: "Show the outcome of a transaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.StakingClient) (interface{}, error) {
			return c.GetTxStatus(ctx, args[0])
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{initializeCmd, depositCmd, withdrawCmd, poolCmd, userCmd, balanceCmd, txCmd} {
		rootCmd.AddCommand(c)
		c.Flags().StringVarP(&clientFlags.NodeURL, "node-url", "u", "http://localhost"+config.DefaultRPCListenAddr, "JSON-RPC endpoint")
	}
	for _, c := range []*cobra.Command{initializeCmd, depositCmd, withdrawCmd} {
		c.Flags().StringVarP(&clientFlags.PrivateKeyFile, "private-key-file", "f", "", "signer private key file")
		c.Flags().StringVarP(&clientFlags.PrivateKey, "private-key", "p", "", "signer private key in base58")
	}
	initializeCmd.Flags().StringVar(&initializeMint, "mint", "", "token mint accepted by the pool")
	_ = initializeCmd.MarkFlagRequired("mint")
	for _, c := range []*cobra.Command{initializeCmd, depositCmd} {
		c.Flags().StringVarP(&amountArg, "amount", "a", "", "amount in base units, underscores allowed")
		_ = c.MarkFlagRequired("amount")
	}
}

func loadSigner(flags ClientFlags) (solana.PrivateKey, error) {
	switch {
	case flags.PrivateKey != "" && flags.PrivateKeyFile != "":
		return nil, fmt.Errorf("use either --private-key or --private-key-file, not both")
	case flags.PrivateKey != "":
		return solana.PrivateKeyFromBase58(flags.PrivateKey)
	case flags.PrivateKeyFile != "":
		return config.LoadPrivateKey(flags.PrivateKeyFile)
	default:
		return nil, fmt.Errorf("a signer key is required")
	}
}

func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *client.StakingClient) (interface{}, error)) error {
	c, err := client.NewClient(client.Config{Endpoint: clientFlags.NodeURL})
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()
	out, err := fn(ctx, c)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func withSigner(cmd *cobra.Command, fn func(ctx context.Context, c *client.StakingClient, key solana.PrivateKey) (interface{}, error)) error {
	key, err := loadSigner(clientFlags)
	if err != nil {
		return err
	}
	return withClient(cmd, func(ctx context.Context, c *client.StakingClient) (interface{}, error) {
		return fn(ctx, c, key)
	})
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := jsonx.MarshalIndent(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
