package commands

// Shared wiring for every command: config, logging, state store and, for
// commands that move funds, the chain clients and the reward scheduler.

import (
	"fmt"

	"nuke-rewards/internal/chain"
	"nuke-rewards/internal/clients_api/solanarpc"
	"nuke-rewards/internal/clients_api/swap"
	"nuke-rewards/internal/clients_api/telegram"
	"nuke-rewards/internal/features/report"
	"nuke-rewards/internal/features/rewards"
	"nuke-rewards/internal/infra/config"
	storage "nuke-rewards/internal/infra/fs"
	logging "nuke-rewards/internal/infra/log"
	"nuke-rewards/internal/infra/store"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// engine holds what a command needs. The chain side is only built by
// withScheduler, so read-only commands work without a funding key.
type engine struct {
	cfg     *config.Config
	clock   clockwork.Clock
	kv      store.KV
	ledger  *rewards.Ledger
	history *rewards.KVHistory

	client    *solanarpc.Client
	bot       *tgbotapi.BotAPI
	notifier  *telegram.Notifier // nil when Telegram is not configured
	scheduler *rewards.Scheduler
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := logging.Init(cfg.App.LogDir, cfg.App.LogLevel); err != nil {
		return nil, fmt.Errorf("failed to init logging: %w", err)
	}
	return cfg, nil
}

// openEngine loads config and opens the state store.
func openEngine(cmd *cobra.Command) (*engine, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	kv, err := store.Open(cfg.Storage.Backend, cfg.Storage.Dir)
	if err != nil {
		logging.LogError("Failed to open state store",
			zap.String("backend", cfg.Storage.Backend),
			zap.String("dir", cfg.Storage.Dir),
			zap.Error(err))
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	clock := clockwork.NewRealClock()
	ledger, err := rewards.NewLedger(kv, clock, cfg.Rewards.MaxRetries)
	if err != nil {
		kv.Close()
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	return &engine{
		cfg:     cfg,
		clock:   clock,
		kv:      kv,
		ledger:  ledger,
		history: rewards.NewKVHistory(kv, cfg.Rewards.MaxHistory),
	}, nil
}

func (e *engine) Close() {
	if err := e.kv.Close(); err != nil {
		logging.LogWarn("Failed to close state store", zap.Error(err))
	}
	logging.Sync()
}

// withScheduler builds the chain clients and the scheduler. Any missing
// runtime setting is fatal here, before a cycle can start.
func (e *engine) withScheduler() error {
	cfg := e.cfg
	if err := cfg.ValidateRuntime(); err != nil {
		return err
	}
	pool := chain.Pool{VaultA: cfg.Token.Pool.VaultA, VaultB: cfg.Token.Pool.VaultB}
	if !pool.Configured() {
		return fmt.Errorf("token.pool.vault_a and token.pool.vault_b are required")
	}

	funding, err := cfg.FundingPrivateKey()
	if err != nil {
		return fmt.Errorf("invalid funding key: %w", err)
	}
	var tokenProgram solana.PublicKey
	if cfg.Solana.TokenProgramID != "" {
		if tokenProgram, err = solana.PublicKeyFromBase58(cfg.Solana.TokenProgramID); err != nil {
			return fmt.Errorf("invalid solana.token_program_id: %w", err)
		}
	}

	client, err := solanarpc.NewClient(solanarpc.Config{
		RPCURL:         cfg.Solana.RPCURL,
		Commitment:     rpc.CommitmentType(cfg.Solana.Commitment),
		TokenProgram:   tokenProgram,
		Funding:        funding,
		FeeAccount:     cfg.Tax.FeeAccount,
		RequestTimeout: cfg.Solana.RequestTimeout,
		ConfirmTimeout: cfg.Solana.ConfirmTimeout,
		MaxRetries:     cfg.Solana.MaxRetries,
		RateLimit:      cfg.Solana.RateLimit,
		RateBurst:      cfg.Solana.RateBurst,
	})
	if err != nil {
		return fmt.Errorf("failed to create solana client: %w", err)
	}
	e.client = client

	registry, err := rewards.NewHolderRegistry(rewards.RegistryConfig{
		Client:     client,
		Clock:      e.clock,
		Mint:       cfg.Token.Mint,
		TTL:        cfg.Rewards.HolderCacheTTL,
		StaleLimit: cfg.Rewards.HolderStaleLimit,
	})
	if err != nil {
		return err
	}

	oracle, err := rewards.NewPriceOracle(rewards.OracleConfig{
		Client:      client,
		Clock:       e.clock,
		Pool:        pool,
		TrackedMint: cfg.Token.Mint,
		TTL:         cfg.Rewards.PriceCacheTTL,
	})
	if err != nil {
		return err
	}

	var usdOracle rewards.RateSource
	usdPool := chain.Pool{VaultA: cfg.Token.USD.VaultA, VaultB: cfg.Token.USD.VaultB}
	if usdPool.Configured() {
		usdOracle, err = rewards.NewPriceOracle(rewards.OracleConfig{
			Client:      client,
			Clock:       e.clock,
			Pool:        usdPool,
			TrackedMint: swap.NativeMint,
			TTL:         cfg.Rewards.PriceCacheTTL,
		})
		if err != nil {
			return err
		}
	}

	executor, err := rewards.NewPayoutExecutor(rewards.ExecutorConfig{
		Client:        client,
		Clock:         e.clock,
		FundingWallet: client.FundingWallet(),
		FeeEstimate:   cfg.Rewards.FeeEstimate,
		Concurrency:   cfg.Rewards.PayoutConcurrency,
	})
	if err != nil {
		return err
	}

	var settlement *rewards.TaxSettlementPipeline
	if cfg.Tax.Enabled {
		swapClient, err := swap.NewClient(swap.Config{
			BaseURL:        cfg.Swap.BaseURL,
			APIKey:         cfg.Swap.APIKey,
			InputMint:      cfg.Token.Mint,
			RequestTimeout: cfg.Swap.RequestTimeout,
		})
		if err != nil {
			return err
		}
		settlement, err = rewards.NewTaxSettlementPipeline(rewards.SettlementConfig{
			Client:         client,
			Swap:           swapClient,
			Tax:            client,
			Clock:          e.clock,
			TokenMint:      cfg.Token.Mint,
			Pool:           pool,
			MinHarvest:     cfg.Tax.MinHarvest,
			SwapPortionBps: cfg.Tax.SwapPortionBps,
			RewardShareBps: cfg.Tax.RewardShareBps,
			SlippageBps:    cfg.Tax.SlippageBps,
			TreasuryWallet: cfg.Tax.TreasuryWallet,
		})
		if err != nil {
			return err
		}
	}

	blacklist, err := e.blacklist()
	if err != nil {
		return err
	}

	var notifier chain.Notifier = chain.NopNotifier{}
	if n := e.telegram(); n != nil {
		notifier = n
	}

	scheduler, err := rewards.NewScheduler(rewards.SchedulerConfig{
		Registry:         registry,
		Oracle:           oracle,
		USDOracle:        usdOracle,
		Ledger:           e.ledger,
		Executor:         executor,
		Settlement:       settlement,
		History:          e.history,
		State:            e.kv,
		Notifier:         notifier,
		Clock:            e.clock,
		Blacklist:        blacklist,
		MinInterval:      cfg.Rewards.MinInterval,
		PollInterval:     cfg.Rewards.PollInterval,
		MinHoldingNative: decimal.NewFromFloat(cfg.Rewards.MinHoldingNative),
		MinHoldingUSD:    decimal.NewFromFloat(cfg.Rewards.MinHoldingUSD),
		MinPayout:        cfg.Rewards.MinPayoutLamports,
		PoolFromBalance:  cfg.Rewards.PoolMode == config.PoolModeBalance,
		ReserveLamports:  cfg.Rewards.ReserveLamports,
		Client:           client,
		FundingWallet:    client.FundingWallet(),
	})
	if err != nil {
		return err
	}
	e.scheduler = scheduler

	logging.LogInfo("Reward engine ready",
		zap.String("mint", cfg.Token.Mint),
		zap.String("funding_wallet", client.FundingWallet()),
		zap.String("pool_mode", cfg.Rewards.PoolMode),
		zap.Bool("tax_settlement", settlement != nil),
		zap.Bool("usd_threshold", usdOracle != nil),
		zap.Int("blacklisted", len(blacklist)))
	return nil
}

// blacklist merges the config list with the blacklist file.
func (e *engine) blacklist() (rewards.Blacklist, error) {
	fromFile, err := storage.LoadBlacklist(e.cfg.Rewards.BlacklistFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load blacklist: %w", err)
	}
	return rewards.NewBlacklist(e.cfg.Rewards.Blacklist, fromFile), nil
}

// telegram returns nil when no bot is configured or it cannot authorize.
func (e *engine) telegram() *telegram.Notifier {
	if e.notifier != nil {
		return e.notifier
	}
	tg := e.cfg.Telegram
	if tg.BotToken == "" || tg.ChatID == "" {
		logging.LogInfo("Telegram not configured, notifications disabled")
		return nil
	}
	bot, err := telegram.NewBot(tg.BotToken)
	if err != nil {
		logging.LogWarn("Failed to initialize Telegram bot (continuing without it)", zap.Error(err))
		return nil
	}
	n, err := telegram.NewNotifier(bot, tg.ChatID)
	if err != nil {
		logging.LogWarn("Invalid Telegram chat id (continuing without notifications)", zap.Error(err))
		return nil
	}
	e.bot = bot
	e.notifier = n
	return n
}

func (e *engine) reporter() (*report.Reporter, error) {
	n := e.telegram()
	if n == nil {
		return nil, fmt.Errorf("daily report needs telegram.bot_token and telegram.chat_id")
	}
	return report.NewReporter(report.Config{
		History:  e.history,
		Ledger:   e.ledger,
		Sender:   n,
		Clock:    e.clock,
		Cron:     e.cfg.Report.Cron,
		Chart:    e.cfg.Report.Chart,
		ChartDir: e.cfg.Storage.Dir,
	})
}
