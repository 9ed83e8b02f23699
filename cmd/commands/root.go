package commands

// Root command for Cobra CLI
// Defines the main command structure of the application
// Registers all subcommands (run, cycle, status, ledger, history, blacklist, report)

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "nuke-rewards",
	Short: "Nuke Rewards - periodic SOL reward distribution to token holders",
	Long: `Nuke Rewards snapshots token holders, prices their holdings against the liquidity pool,
pays eligible wallets their share of the reward pool in SOL, and settles withheld transfer tax
into the next pool. Unpaid shares are carried in a durable ledger until they are delivered.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "path to config file (default ./config.yaml)")
	flags.String("data-dir", "", "state directory (storage.dir)")
	flags.String("storage", "", "storage backend: file or pebble")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("rpc-url", "", "Solana RPC endpoint")
	flags.String("metrics-addr", "", "address for /metrics, empty disables it")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(cycleCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(blacklistCmd)
	rootCmd.AddCommand(reportCmd)
}
