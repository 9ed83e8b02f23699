package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	PoolModeSettlement = "settlement" // distribute the reward share of tax settlements
	PoolModeBalance    = "balance"    // distribute the funding wallet balance above the reserve
)

// Config -
type Config struct {
	Solana   SolanaConfig   `mapstructure:"solana"`
	Token    TokenConfig    `mapstructure:"token"`
	Rewards  RewardsConfig  `mapstructure:"rewards"`
	Tax      TaxConfig      `mapstructure:"tax"`
	Swap     SwapConfig     `mapstructure:"swap"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Report   ReportConfig   `mapstructure:"report"`
	App      AppConfig      `mapstructure:"app"`
}

// SolanaConfig - RPC endpoint and the funding wallet that signs every payout
type SolanaConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	Commitment     string        `mapstructure:"commitment"`
	FundingKey     string        `mapstructure:"funding_key"`      // base58 private key
	FundingKeyFile string        `mapstructure:"funding_key_file"` // solana-keygen JSON file
	TokenProgramID string        `mapstructure:"token_program_id"` // empty = SPL Token
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RateLimit      float64       `mapstructure:"rate_limit"` // requests per second
	RateBurst      int           `mapstructure:"rate_burst"`
}

// PoolConfig - the two reserve vaults of a liquidity pool
type PoolConfig struct {
	VaultA string `mapstructure:"vault_a"`
	VaultB string `mapstructure:"vault_b"`
}

type TokenConfig struct {
	Mint string     `mapstructure:"mint"`
	Pool PoolConfig `mapstructure:"pool"`     // token / SOL
	USD  PoolConfig `mapstructure:"usd_pool"` // SOL / USDC, optional
}

type RewardsConfig struct {
	MinInterval       time.Duration `mapstructure:"min_interval"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	MinHoldingNative  float64       `mapstructure:"min_holding_native"` // SOL
	MinHoldingUSD     float64       `mapstructure:"min_holding_usd"`    // used when usd_pool is set
	MinPayoutLamports uint64        `mapstructure:"min_payout_lamports"`
	FeeEstimate       uint64        `mapstructure:"fee_estimate_lamports"`
	MaxRetries        int           `mapstructure:"max_retries"`
	PayoutConcurrency int           `mapstructure:"payout_concurrency"`
	PriceCacheTTL     time.Duration `mapstructure:"price_cache_ttl"`
	HolderCacheTTL    time.Duration `mapstructure:"holder_cache_ttl"`
	HolderStaleLimit  time.Duration `mapstructure:"holder_stale_limit"`
	MaxHistory        int           `mapstructure:"max_history"`
	PoolMode          string        `mapstructure:"pool_mode"`        // settlement | balance
	ReserveLamports   uint64        `mapstructure:"reserve_lamports"` // kept in the funding wallet in balance mode
	Blacklist         []string      `mapstructure:"blacklist"`
	BlacklistFile     string        `mapstructure:"blacklist_file"`
}

type TaxConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	FeeAccount     string `mapstructure:"fee_account"` // token account holding harvested fees
	MinHarvest     uint64 `mapstructure:"min_harvest"` // raw token units
	SwapPortionBps int    `mapstructure:"swap_portion_bps"`
	RewardShareBps int    `mapstructure:"reward_share_bps"`
	SlippageBps    int    `mapstructure:"slippage_bps"`
	TreasuryWallet string `mapstructure:"treasury_wallet"`
}

type SwapConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type StorageConfig struct {
	Backend string `mapstructure:"backend"` // file | pebble
	Dir     string `mapstructure:"dir"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	Commands bool   `mapstructure:"commands"` // answer /status, /ledger, /last, /report in the chat
}

type ReportConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Cron    string `mapstructure:"cron"`
	Chart   bool   `mapstructure:"chart"`
}

type AppConfig struct {
	LogDir      string `mapstructure:"log_dir"`
	LogLevel    string `mapstructure:"log_level"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// LoadConfig from defaults, config file, .env, environment and flags
// 1. defaults
// 2. config.yaml (or the --config path)
// 3. .env file
// 4. environment
// 5. flags bound from the command line
func LoadConfig(flags *pflag.FlagSet) (*Config, error) {
	godotenv.Load(".env")

	v := viper.New()

	setDefaults(v)

	configFile := ""
	if flags != nil {
		if f := flags.Lookup("config"); f != nil {
			configFile = f.Value.String()
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.ReadInConfig() // optional
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setupEnvAliases(v)

	if flags != nil {
		bindFlags(v, flags)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Rewards.Blacklist = splitList(v.Get("rewards.blacklist"))

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// splitList accepts a YAML list or a comma separated env value.
func splitList(raw interface{}) []string {
	var items []string
	switch v := raw.(type) {
	case string:
		items = strings.Split(v, ",")
	case []string:
		items = v
	case []interface{}:
		for _, item := range v {
			if str, ok := item.(string); ok {
				items = append(items, str)
			}
		}
	}

	result := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			result = append(result, item)
		}
	}
	return result
}

func setupEnvAliases(v *viper.Viper) {
	// Solana
	v.BindEnv("solana.rpc_url", "SOLANA_RPC_URL", "RPC_URL")
	v.BindEnv("solana.funding_key", "FUNDING_PRIVATE_KEY")
	v.BindEnv("solana.funding_key_file", "FUNDING_KEY_FILE")
	v.BindEnv("solana.token_program_id", "TOKEN_PROGRAM_ID")

	// Token
	v.BindEnv("token.mint", "TOKEN_MINT")
	v.BindEnv("token.pool.vault_a", "POOL_VAULT_A")
	v.BindEnv("token.pool.vault_b", "POOL_VAULT_B")
	v.BindEnv("token.usd_pool.vault_a", "USD_POOL_VAULT_A")
	v.BindEnv("token.usd_pool.vault_b", "USD_POOL_VAULT_B")

	// Rewards
	v.BindEnv("rewards.min_interval", "MIN_REWARD_INTERVAL")
	v.BindEnv("rewards.poll_interval", "POLL_INTERVAL")
	v.BindEnv("rewards.min_holding_native", "MIN_HOLDING_SOL")
	v.BindEnv("rewards.min_holding_usd", "MIN_HOLDING_USD")
	v.BindEnv("rewards.min_payout_lamports", "MIN_PAYOUT_LAMPORTS")
	v.BindEnv("rewards.max_retries", "MAX_RETRIES")
	v.BindEnv("rewards.blacklist", "BLACKLIST")
	v.BindEnv("rewards.blacklist_file", "BLACKLIST_FILE")
	v.BindEnv("rewards.pool_mode", "REWARD_POOL_MODE")

	// Tax
	v.BindEnv("tax.enabled", "TAX_ENABLED")
	v.BindEnv("tax.fee_account", "TAX_FEE_ACCOUNT")
	v.BindEnv("tax.treasury_wallet", "TREASURY_WALLET")

	// Swap
	v.BindEnv("swap.base_url", "SWAP_API_URL")
	v.BindEnv("swap.api_key", "SWAP_API_KEY")

	// Storage
	v.BindEnv("storage.backend", "STORAGE_BACKEND")
	v.BindEnv("storage.dir", "DATA_DIR")

	// Telegram
	v.BindEnv("telegram.bot_token", "TELEGRAM_BOT_TOKEN")
	v.BindEnv("telegram.chat_id", "TELEGRAM_CHAT_ID")
	v.BindEnv("telegram.commands", "TELEGRAM_COMMANDS")

	// App
	v.BindEnv("app.log_dir", "LOG_DIR")
	v.BindEnv("app.log_level", "LOG_LEVEL")
	v.BindEnv("app.metrics_addr", "METRICS_ADDR")
}

// setDefaults by default
func setDefaults(v *viper.Viper) {
	// Solana
	v.SetDefault("solana.rpc_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("solana.commitment", "confirmed")
	v.SetDefault("solana.funding_key", "")
	v.SetDefault("solana.funding_key_file", "")
	v.SetDefault("solana.token_program_id", "")
	v.SetDefault("solana.request_timeout", 30*time.Second)
	v.SetDefault("solana.confirm_timeout", 60*time.Second)
	v.SetDefault("solana.max_retries", 3)
	v.SetDefault("solana.rate_limit", 10.0)
	v.SetDefault("solana.rate_burst", 20)

	// Token
	v.SetDefault("token.mint", "")
	v.SetDefault("token.pool.vault_a", "")
	v.SetDefault("token.pool.vault_b", "")
	v.SetDefault("token.usd_pool.vault_a", "")
	v.SetDefault("token.usd_pool.vault_b", "")

	// Rewards
	v.SetDefault("rewards.min_interval", 6*time.Hour)
	v.SetDefault("rewards.poll_interval", 5*time.Minute)
	v.SetDefault("rewards.min_holding_native", 0.01)
	v.SetDefault("rewards.min_holding_usd", 0.0)
	v.SetDefault("rewards.min_payout_lamports", 1_000_000) // 0.001 SOL
	v.SetDefault("rewards.fee_estimate_lamports", 5_000)
	v.SetDefault("rewards.max_retries", 5)
	v.SetDefault("rewards.payout_concurrency", 1)
	v.SetDefault("rewards.price_cache_ttl", 5*time.Minute)
	v.SetDefault("rewards.holder_cache_ttl", 5*time.Minute)
	v.SetDefault("rewards.holder_stale_limit", time.Duration(0))
	v.SetDefault("rewards.max_history", 500)
	v.SetDefault("rewards.pool_mode", PoolModeSettlement)
	v.SetDefault("rewards.reserve_lamports", 50_000_000) // 0.05 SOL
	v.SetDefault("rewards.blacklist", []string{})
	v.SetDefault("rewards.blacklist_file", "blacklist.json")

	// Tax
	v.SetDefault("tax.enabled", false)
	v.SetDefault("tax.min_harvest", 0)
	v.SetDefault("tax.swap_portion_bps", 10000)
	v.SetDefault("tax.reward_share_bps", 8000)
	v.SetDefault("tax.slippage_bps", 100)

	// Swap
	v.SetDefault("swap.request_timeout", 30*time.Second)

	// Storage
	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.dir", "data")

	// Telegram
	v.SetDefault("telegram.commands", false)

	// Report
	v.SetDefault("report.enabled", false)
	v.SetDefault("report.cron", "0 10 * * *")
	v.SetDefault("report.chart", true)

	// App
	v.SetDefault("app.log_dir", "logs")
	v.SetDefault("app.log_level", "debug")
	v.SetDefault("app.metrics_addr", "")
}

// bindFlags maps command line flags onto config keys. Unset flags keep lower layers.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	keys := map[string]string{
		"data-dir":     "storage.dir",
		"storage":      "storage.backend",
		"log-level":    "app.log_level",
		"rpc-url":      "solana.rpc_url",
		"metrics-addr": "app.metrics_addr",
	}
	for flagName, key := range keys {
		if f := flags.Lookup(flagName); f != nil {
			v.BindPFlag(key, f)
		}
	}
}

func validateConfig(cfg *Config) error {
	for name, bps := range map[string]int{
		"tax.swap_portion_bps": cfg.Tax.SwapPortionBps,
		"tax.reward_share_bps": cfg.Tax.RewardShareBps,
		"tax.slippage_bps":     cfg.Tax.SlippageBps,
	} {
		if bps < 0 || bps > 10000 {
			return fmt.Errorf("%s must be between 0 and 10000, got %d", name, bps)
		}
	}

	switch cfg.Storage.Backend {
	case "file", "pebble":
	default:
		return fmt.Errorf("storage.backend must be file or pebble, got %q", cfg.Storage.Backend)
	}

	switch cfg.Rewards.PoolMode {
	case PoolModeSettlement, PoolModeBalance:
	default:
		return fmt.Errorf("rewards.pool_mode must be %s or %s, got %q", PoolModeSettlement, PoolModeBalance, cfg.Rewards.PoolMode)
	}

	if cfg.Rewards.PayoutConcurrency < 1 {
		cfg.Rewards.PayoutConcurrency = 1
	}
	if cfg.Rewards.MaxRetries < 1 {
		return fmt.Errorf("rewards.max_retries must be at least 1")
	}
	if cfg.Rewards.PollInterval <= 0 {
		return fmt.Errorf("rewards.poll_interval must be positive")
	}

	return nil
}

// ValidateRuntime checks what a process needs before it can move funds.
// Read-only commands (status, ledger, history) skip it.
func (c *Config) ValidateRuntime() error {
	if c.Token.Mint == "" {
		return fmt.Errorf("token.mint is required")
	}
	if _, err := solana.PublicKeyFromBase58(c.Token.Mint); err != nil {
		return fmt.Errorf("token.mint is not a valid address: %w", err)
	}
	if c.Solana.FundingKey == "" && c.Solana.FundingKeyFile == "" {
		return fmt.Errorf("funding wallet is required: solana.funding_key or solana.funding_key_file")
	}
	if c.Solana.FundingKeyFile != "" {
		if _, err := os.Stat(c.Solana.FundingKeyFile); err != nil {
			return fmt.Errorf("solana.funding_key_file: %w", err)
		}
	}
	if c.Tax.Enabled {
		if c.Tax.FeeAccount == "" {
			return fmt.Errorf("tax.fee_account is required when tax settlement is enabled")
		}
		if c.Swap.BaseURL == "" {
			return fmt.Errorf("swap.base_url is required when tax settlement is enabled")
		}
		if c.Tax.RewardShareBps < 10000 && c.Tax.TreasuryWallet == "" {
			return fmt.Errorf("tax.treasury_wallet is required when reward_share_bps < 10000")
		}
	}
	return nil
}

// FundingPrivateKey resolves the funding wallet key from the inline value or the keygen file.
func (c *Config) FundingPrivateKey() (solana.PrivateKey, error) {
	if c.Solana.FundingKey != "" {
		return solana.PrivateKeyFromBase58(c.Solana.FundingKey)
	}
	if c.Solana.FundingKeyFile != "" {
		return solana.PrivateKeyFromSolanaKeygenFile(c.Solana.FundingKeyFile)
	}
	return nil, fmt.Errorf("no funding key configured")
}
