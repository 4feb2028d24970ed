package cmd

import (
	"os"

	"github.com/mezonai/stakepool/logx"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "stakepool",
	Short: "Time-locked staking pool node and CLI",
	Long: `Command line interface for running a staking pool node and for
initializing the pool, depositing and withdrawing stake against it.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logx.Error("CMD", "Command execution failed:", err)
		os.Exit(1)
	}
}
