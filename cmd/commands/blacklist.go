package commands

// Commands to manage the blacklist file (rewards.blacklist_file)
// Entries from rewards.blacklist in config are listed but can only be changed there
// A running daemon picks up file changes on restart

import (
	"fmt"

	storage "nuke-rewards/internal/infra/fs"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"
)

var blacklistCmd = &cobra.Command{
	Use:   "blacklist",
	Short: "Manage wallets excluded from rewards",
}

var blacklistAddCmd = &cobra.Command{
	Use:   "add <wallet>",
	Short: "Exclude a wallet or token account from rewards",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := solana.PublicKeyFromBase58(args[0]); err != nil {
			return fmt.Errorf("invalid wallet address %q: %w", args[0], err)
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := storage.AddToBlacklist(cfg.Rewards.BlacklistFile, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added %s to %s\n", args[0], cfg.Rewards.BlacklistFile)
		return nil
	},
}

var blacklistRemoveCmd = &cobra.Command{
	Use:   "remove <wallet>",
	Short: "Remove a wallet from the blacklist file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := storage.RemoveFromBlacklist(cfg.Rewards.BlacklistFile, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from %s\n", args[0], cfg.Rewards.BlacklistFile)
		return nil
	},
}

var blacklistListCmd = &cobra.Command{
	Use:   "list",
	Short: "List blacklisted wallets from config and file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		fromFile, err := storage.LoadBlacklist(cfg.Rewards.BlacklistFile)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, w := range cfg.Rewards.Blacklist {
			fmt.Fprintf(out, "%s  (config)\n", w)
		}
		for _, w := range fromFile {
			fmt.Fprintf(out, "%s  (file)\n", w)
		}
		fmt.Fprintf(out, "%d wallet(s)\n", len(cfg.Rewards.Blacklist)+len(fromFile))
		return nil
	},
}

func init() {
	blacklistCmd.AddCommand(blacklistAddCmd)
	blacklistCmd.AddCommand(blacklistRemoveCmd)
	blacklistCmd.AddCommand(blacklistListCmd)
}
