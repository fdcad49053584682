package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// WalletEntry 被跟踪钱包配置
type WalletEntry struct {
	Address            string  `yaml:"address"`
	Label              string  `yaml:"label"`
	SizeMode           string  `yaml:"size_mode"` // fixed | proportional
	FixedAmount        float64 `yaml:"fixed_amount"`
	ProportionPct      float64 `yaml:"proportion_pct"`
	MaxCopiesPerMarket int     `yaml:"max_copies_per_market"`
}

// CopyTradingConfig 跟单配置
type CopyTradingConfig struct {
	Enabled                 bool          `yaml:"enabled"`
	Wallets                 []WalletEntry `yaml:"wallets"`
	MaxDailyTradesPerWallet int           `yaml:"max_daily_trades_per_wallet"`
	MaxWalletExposureUSDC   float64       `yaml:"max_wallet_exposure_usdc"`
	MaxTotalExposureUSDC    float64       `yaml:"max_total_exposure_usdc"`
	CopyLogCap              int           `yaml:"copy_log_cap"` // 内存中保留的复制记录上限
}

// RiskConfig 风控配置
type RiskConfig struct {
	MaxTotalExposurePct  float64 `yaml:"max_total_exposure_pct"`
	MaxPositionPct       float64 `yaml:"max_position_pct"`
	MaxVolumeImpactPct   float64 `yaml:"max_volume_impact_pct"`
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses"`
	MaxDailyLossPct      float64 `yaml:"max_daily_loss_pct"`
	CooldownMinutes      int     `yaml:"cooldown_minutes"`
}

// ExchangeConfig 交易所接入配置
type ExchangeConfig struct {
	ClobURL    string `yaml:"clob_url"`
	GammaURL   string `yaml:"gamma_url"`
	DataAPIURL string `yaml:"data_api_url"`
	DryRun     bool   `yaml:"dry_run"` // 纸交易模式，不进行真实下单
}

// WalletConfig 本方交易钱包
type WalletConfig struct {
	PrivateKey     string `yaml:"private_key"`
	Mnemonic       string `yaml:"mnemonic"` // 无私钥时从助记词派生
	DerivationPath string `yaml:"derivation_path"`
	FunderAddress  string `yaml:"funder_address"`
}

// StorageConfig 持久化配置
type StorageConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
	StateDir   string `yaml:"state_dir"` // badger 状态快照目录
}

// ServerConfig 只读运维 API
type ServerConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Config 应用配置
type Config struct {
	Wallet          WalletConfig      `yaml:"wallet"`
	Exchange        ExchangeConfig    `yaml:"exchange"`
	Risk            RiskConfig        `yaml:"risk"`
	CopyTrading     CopyTradingConfig `yaml:"copy_trading"`
	Storage         StorageConfig     `yaml:"storage"`
	Server          ServerConfig      `yaml:"server"`
	Log             LogConfig         `yaml:"log"`
	TickIntervalSec int               `yaml:"tick_interval_sec"`
	PriceStream     bool              `yaml:"price_stream"` // 是否订阅市场价格流更新未实现盈亏
}

// Load 从 YAML 文件加载配置。
// 先加载 .env（存在时），钱包私钥等敏感项允许用环境变量覆盖。
func Load(path string) (*Config, error) {
	// .env 不存在不算错误
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("COPYFLOW_PRIVATE_KEY"); v != "" {
		c.Wallet.PrivateKey = v
	}
	if v := os.Getenv("COPYFLOW_MNEMONIC"); v != "" {
		c.Wallet.Mnemonic = v
	}
	if v := os.Getenv("COPYFLOW_FUNDER_ADDRESS"); v != "" {
		c.Wallet.FunderAddress = v
	}
}

func (c *Config) applyDefaults() {
	if c.Exchange.ClobURL == "" {
		c.Exchange.ClobURL = "https://clob.polymarket.com"
	}
	if c.Exchange.GammaURL == "" {
		c.Exchange.GammaURL = "https://gamma-api.polymarket.com"
	}
	if c.Exchange.DataAPIURL == "" {
		c.Exchange.DataAPIURL = "https://data-api.polymarket.com"
	}
	if c.TickIntervalSec <= 0 {
		c.TickIntervalSec = 10
	}
	if c.Risk.MaxTotalExposurePct <= 0 {
		c.Risk.MaxTotalExposurePct = 0.6
	}
	if c.Risk.MaxPositionPct <= 0 {
		c.Risk.MaxPositionPct = 0.2
	}
	if c.Risk.MaxVolumeImpactPct <= 0 {
		c.Risk.MaxVolumeImpactPct = 0.05
	}
	if c.Risk.MaxConsecutiveLosses <= 0 {
		c.Risk.MaxConsecutiveLosses = 3
	}
	if c.Risk.MaxDailyLossPct <= 0 {
		c.Risk.MaxDailyLossPct = 0.1
	}
	if c.Risk.CooldownMinutes <= 0 {
		c.Risk.CooldownMinutes = 60
	}
	if c.CopyTrading.MaxDailyTradesPerWallet <= 0 {
		c.CopyTrading.MaxDailyTradesPerWallet = 10
	}
	if c.CopyTrading.MaxWalletExposureUSDC <= 0 {
		c.CopyTrading.MaxWalletExposureUSDC = 500
	}
	if c.CopyTrading.MaxTotalExposureUSDC <= 0 {
		c.CopyTrading.MaxTotalExposureUSDC = 2000
	}
	if c.CopyTrading.CopyLogCap <= 0 {
		c.CopyTrading.CopyLogCap = 200
	}
	for i := range c.CopyTrading.Wallets {
		w := &c.CopyTrading.Wallets[i]
		if w.SizeMode == "" {
			w.SizeMode = "fixed"
		}
		if w.MaxCopiesPerMarket <= 0 {
			w.MaxCopiesPerMarket = 2
		}
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/copyflow.db"
	}
	if c.Storage.StateDir == "" {
		c.Storage.StateDir = "data/state"
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = "127.0.0.1:8787"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups <= 0 {
		c.Log.MaxBackups = 3
	}
	if c.Log.MaxAgeDays <= 0 {
		c.Log.MaxAgeDays = 7
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if !c.Exchange.DryRun && c.Wallet.PrivateKey == "" && c.Wallet.Mnemonic == "" {
		return fmt.Errorf("config: wallet private_key or mnemonic is required unless dry_run is enabled")
	}
	for _, w := range c.CopyTrading.Wallets {
		addr := strings.TrimSpace(w.Address)
		if addr == "" {
			return fmt.Errorf("config: tracked wallet address is empty")
		}
		switch w.SizeMode {
		case "fixed":
			if w.FixedAmount <= 0 {
				return fmt.Errorf("config: wallet %s: fixed_amount must be positive", addr)
			}
		case "proportional":
			if w.ProportionPct <= 0 || w.ProportionPct > 1 {
				return fmt.Errorf("config: wallet %s: proportion_pct must be in (0,1]", addr)
			}
		default:
			return fmt.Errorf("config: wallet %s: unknown size_mode %q", addr, w.SizeMode)
		}
	}
	return nil
}
