package domain

import "time"

// SizeMode 跟单金额计算模式
type SizeMode string

const (
	SizeModeFixed        SizeMode = "fixed"        // 固定金额
	SizeModeProportional SizeMode = "proportional" // 按原始仓位比例
)

// TrackedWallet 被跟踪钱包的静态配置，只通过 updateConfig 变更
type TrackedWallet struct {
	Address            string
	Label              string
	SizeMode           SizeMode
	FixedAmount        float64 // SizeMode == fixed 时使用（USDC）
	ProportionPct      float64 // SizeMode == proportional 时使用（0.05 = 1/20）
	MaxCopiesPerMarket int     // 同一市场内最多复制次数（每日窗口内）
}

// WalletTrade 钱包行情源返回的一笔历史成交
type WalletTrade struct {
	MarketID  string
	Title     string
	Outcome   string
	TokenID   string
	Side      Side
	Size      float64
	Price     float64
	TxHash    string
	Timestamp time.Time
}

// CopiedTrade 一笔已复制成交的不可变记录。
// TxHash 是幂等键：一旦记录，在复制日志的生命周期内不再重复复制。
type CopiedTrade struct {
	WalletAddress string
	MarketID      string
	TokenID       string
	Side          Side
	OriginalSize  float64
	CopiedSize    float64 // 复制的名义金额（USDC）
	Price         float64
	TxHash        string
	Timestamp     time.Time
	Title         string
	Outcome       string
	Label         string // 来源钱包标签
}

// WalletPosition 被跟踪钱包的一个实时持仓
type WalletPosition struct {
	ConditionID  string
	Size         float64
	CurrentValue float64
}

// WalletPortfolio 被跟踪钱包的持仓总览
type WalletPortfolio struct {
	Positions           []WalletPosition
	TotalPortfolioValue float64
}

// MarketStatus 市场结算状态
type MarketStatus struct {
	Closed          bool
	AcceptingOrders bool
	EndDate         time.Time
	ResolvedPrices  map[string]float64 // tokenID -> 0 或 1
}
