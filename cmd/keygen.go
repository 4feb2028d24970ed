package cmd

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/mezonai/stakepool/config"
	"github.com/spf13/cobra"
)

var keygenOut string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new ed25519 keypair",
	Long: `Writes a base58 private key file readable only by the owner and
prints the public key.

Examples:
  keygen -o alice.key`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := solana.NewRandomPrivateKey()
		if err != nil {
			return err
		}
		if err := config.SavePrivateKey(keygenOut, key); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key.PublicKey().String())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().StringVarP(&keygenOut, "out", "o", "id.key", "private key output file")
}
