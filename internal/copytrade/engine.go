package copytrade

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/copyflow/internal/domain"
)

var ctLog = logrus.WithField("module", "copy_trading")

// StrategyName 跟单引擎产生的意图所属的策略ID
const StrategyName = "copytrade"

// WalletFeed 外部钱包行情源契约（只读）。
// GetRecentTrades 必须按时间从旧到新返回，且对同一 txHash
// 幂等（同一查询窗口返回超集，而不是不同内容）。
type WalletFeed interface {
	GetRecentTrades(ctx context.Context, address string, since time.Time) ([]domain.WalletTrade, error)
	GetWalletPositions(ctx context.Context, address string) (*domain.WalletPortfolio, error)
	GetMarketStatuses(ctx context.Context, marketIDs []string) (map[string]domain.MarketStatus, error)
}

// CopyLogRepository 复制记录持久化契约（只追加）
type CopyLogRepository interface {
	Insert(ctx context.Context, ct *domain.CopiedTrade) error
	FindRecent(ctx context.Context, limit int) ([]*domain.CopiedTrade, error)
}

// StateStore 水位线/日计数器快照，进程重启后不重放历史
type StateStore interface {
	SaveEngineState(state *EngineState) error
	LoadEngineState() (*EngineState, bool, error)
}

// Config 跟单引擎配置
type Config struct {
	Wallets                 []domain.TrackedWallet
	MaxDailyTradesPerWallet int
	MaxWalletExposureUSDC   float64
	MaxTotalExposureUSDC    float64
	LogCap                  int // 内存复制日志环形上限（默认 200）
}

// Watermark 单个钱包行情源的已处理位置
type Watermark struct {
	LastSeenTxHash    string    `json:"last_seen_tx_hash"`
	LastSeenTimestamp time.Time `json:"last_seen_timestamp"`
	Initialised       bool      `json:"initialised"`
}

// EngineState 引擎可持久化状态（badger 快照）
type EngineState struct {
	Day             string               `json:"day"`
	Watermarks      map[string]Watermark `json:"watermarks"`
	DailyTradeCount map[string]int       `json:"daily_trade_count"`
	WalletExposure  map[string]float64   `json:"wallet_exposure"`
	CopiedMarkets   map[string]int       `json:"copied_markets"` // wallet:marketID -> 次数
	TotalExposure   float64              `json:"total_exposure"`
	RecentHashes    []string             `json:"recent_hashes"` // 环形去重日志（旧→新）
}

// Engine 跟单引擎：轮询被跟踪钱包的成交历史，
// 去重、限额后产出交易意图。
//
// 每个钱包经历 UNINITIALISED → ACTIVE：首次成功轮询只
// 记录水位线并丢弃看到的所有历史成交（防止启动时把
// 钱包的全部历史当作新成交重放）。
//
// 所有可变状态只在调度线程上被触碰；锁只是为了
// updateConfig / 运维读取的并发安全。
type Engine struct {
	mu    sync.Mutex
	feed  WalletFeed
	log   CopyLogRepository
	store StateStore // 可为 nil（测试）

	wallets                 []domain.TrackedWallet
	maxDailyTradesPerWallet int
	maxWalletExposureUSDC   float64
	maxTotalExposureUSDC    float64
	logCap                  int

	watermarks      map[string]*Watermark
	dailyTradeCount map[string]int
	walletExposure  map[string]float64
	copiedMarkets   map[string]int
	totalExposure   float64
	day             string

	seen      map[string]struct{} // txHash 去重集合
	seenOrder []string            // 对应插入顺序，超过 logCap 时逐出最旧

	now func() time.Time
}

// NewEngine 创建跟单引擎。store 提供历史快照时恢复水位线，
// 使"首次轮询只播种"的规则跨进程重启仍然成立。
func NewEngine(feed WalletFeed, log CopyLogRepository, store StateStore, cfg Config) *Engine {
	e := &Engine{
		feed:                    feed,
		log:                     log,
		store:                   store,
		wallets:                 cfg.Wallets,
		maxDailyTradesPerWallet: cfg.MaxDailyTradesPerWallet,
		maxWalletExposureUSDC:   cfg.MaxWalletExposureUSDC,
		maxTotalExposureUSDC:    cfg.MaxTotalExposureUSDC,
		logCap:                  cfg.LogCap,
		now:                     time.Now,
	}
	if e.logCap <= 0 {
		e.logCap = 200
	}
	e.resetStateLocked()

	if store != nil {
		if state, ok, err := store.LoadEngineState(); err != nil {
			ctLog.Warnf("恢复跟单状态失败，从空状态启动: %v", err)
		} else if ok {
			e.restoreState(state)
			ctLog.Infof("跟单状态已恢复: 水位线=%d 当日计数=%d", len(e.watermarks), len(e.dailyTradeCount))
		}
	}
	return e
}

// resetStateLocked 清空全部水位线与计数器（调用方持锁或单线程）
func (e *Engine) resetStateLocked() {
	e.watermarks = make(map[string]*Watermark)
	e.dailyTradeCount = make(map[string]int)
	e.walletExposure = make(map[string]float64)
	e.copiedMarkets = make(map[string]int)
	e.totalExposure = 0
	e.day = e.dayString()
	e.seen = make(map[string]struct{})
	e.seenOrder = nil
}

func (e *Engine) restoreState(state *EngineState) {
	for addr, wm := range state.Watermarks {
		copied := wm
		e.watermarks[addr] = &copied
	}
	if state.DailyTradeCount != nil {
		e.dailyTradeCount = state.DailyTradeCount
	}
	if state.WalletExposure != nil {
		e.walletExposure = state.WalletExposure
	}
	if state.CopiedMarkets != nil {
		e.copiedMarkets = state.CopiedMarkets
	}
	e.totalExposure = state.TotalExposure
	if state.Day != "" {
		e.day = state.Day
	}
	for _, h := range state.RecentHashes {
		e.rememberHash(h)
	}
}

func (e *Engine) dayString() string {
	// 本地日历日的字符串比较：刻意不做时区精确处理，
	// 这些限额是风控参考值而非合规级记账
	return e.now().Format("2006-01-02")
}

// Tick 执行一轮轮询。按配置顺序处理钱包，在第一笔可接受的
// 新成交处停下并返回一个意图（每次调用至多复制一笔）。
// 没有可复制的成交时返回 (nil, nil)。
// 只有持久化失败会返回错误；行情源失败按钱包吞掉并继续。
func (e *Engine) Tick(ctx context.Context) (*domain.TradeIntent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rollDayIfNeeded()

	for i := range e.wallets {
		wallet := &e.wallets[i]
		addr := wallet.Address

		if e.dailyTradeCount[addr] >= e.maxDailyTradesPerWallet {
			continue
		}

		wm := e.watermarks[addr]
		if wm == nil {
			wm = &Watermark{}
			e.watermarks[addr] = wm
		}

		trades, err := e.feed.GetRecentTrades(ctx, addr, wm.LastSeenTimestamp)
		if err != nil {
			// 单个钱包的查询失败不中断本轮：记日志，下一轮重试
			ctLog.Warnf("钱包成交查询失败: wallet=%s err=%v", addr, err)
			continue
		}

		if !wm.Initialised {
			// 首次轮询只播种水位线，历史成交全部丢弃
			e.seedWatermark(wm, wallet, trades)
			continue
		}

		intent, err := e.scanTrades(ctx, wallet, wm, trades)
		if err != nil {
			return nil, err
		}
		if intent != nil {
			return intent, nil
		}
	}
	return nil, nil
}

// seedWatermark 用最新一笔成交（无成交时用当前时间）播种水位线
func (e *Engine) seedWatermark(wm *Watermark, wallet *domain.TrackedWallet, trades []domain.WalletTrade) {
	wm.Initialised = true
	if len(trades) > 0 {
		newest := trades[len(trades)-1]
		wm.LastSeenTxHash = newest.TxHash
		wm.LastSeenTimestamp = newest.Timestamp
		// 行情源窗口是闭区间，与最新成交同秒的历史条目下一轮
		// 还会出现；提前记入去重环，免得被当成新成交复制
		for i := range trades {
			if trades[i].Timestamp.Equal(newest.Timestamp) {
				e.rememberHash(trades[i].TxHash)
			}
		}
	} else {
		wm.LastSeenTimestamp = e.now()
	}
	ctLog.Infof("钱包水位线已播种: wallet=%s label=%s 丢弃历史成交=%d",
		wallet.Address, wallet.Label, len(trades))
	e.persistState()
}

// scanTrades 按行情源顺序评估成交，接受第一笔符合条件的
func (e *Engine) scanTrades(ctx context.Context, wallet *domain.TrackedWallet, wm *Watermark, trades []domain.WalletTrade) (*domain.TradeIntent, error) {
	addr := wallet.Address

	for i := range trades {
		trade := &trades[i]

		// 行情源可能重复返回已见条目
		if trade.TxHash == wm.LastSeenTxHash {
			continue
		}
		if _, dup := e.seen[trade.TxHash]; dup {
			continue
		}

		marketKey := addr + ":" + trade.MarketID
		if e.copiedMarkets[marketKey] >= wallet.MaxCopiesPerMarket {
			continue
		}

		if !e.marketAcceptsOrders(ctx, trade.MarketID) {
			continue
		}

		copiedSize := ComputeCopySize(wallet, trade.Size)
		if copiedSize <= 0 {
			continue
		}
		if e.walletExposure[addr]+copiedSize > e.maxWalletExposureUSDC {
			continue
		}
		if e.totalExposure+copiedSize > e.maxTotalExposureUSDC {
			continue
		}

		// 接受：推进水位线、更新计数、记录复制日志，返回意图。
		// 本轮不再扫描后续成交或其它钱包。
		wm.LastSeenTxHash = trade.TxHash
		wm.LastSeenTimestamp = trade.Timestamp
		e.copiedMarkets[marketKey]++
		e.dailyTradeCount[addr]++
		e.walletExposure[addr] += copiedSize
		e.totalExposure += copiedSize
		e.rememberHash(trade.TxHash)

		record := &domain.CopiedTrade{
			WalletAddress: addr,
			MarketID:      trade.MarketID,
			TokenID:       trade.TokenID,
			Side:          trade.Side,
			OriginalSize:  trade.Size,
			CopiedSize:    copiedSize,
			Price:         trade.Price,
			TxHash:        trade.TxHash,
			Timestamp:     trade.Timestamp,
			Title:         trade.Title,
			Outcome:       trade.Outcome,
			Label:         wallet.Label,
		}
		if err := e.log.Insert(ctx, record); err != nil {
			return nil, errors.Wrapf(err, "persist copied trade %s", trade.TxHash)
		}
		e.persistState()

		ctLog.Infof("复制成交: wallet=%s market=%s side=%s 原始=%.2f 复制=%.2f USDC price=%.4f tx=%s",
			wallet.Label, trade.MarketID, trade.Side, trade.Size, copiedSize, trade.Price, trade.TxHash)

		return &domain.TradeIntent{
			StrategyID: StrategyName,
			MarketID:   trade.MarketID,
			TokenID:    trade.TokenID,
			Side:       trade.Side,
			Size:       copiedSize / trade.Price,
			Price:      trade.Price,
		}, nil
	}
	return nil, nil
}

// marketAcceptsOrders 市场结算状态过滤。
// 查询失败按未知处理（放行），交给后续风控与下单去失败。
func (e *Engine) marketAcceptsOrders(ctx context.Context, marketID string) bool {
	statuses, err := e.feed.GetMarketStatuses(ctx, []string{marketID})
	if err != nil {
		ctLog.Debugf("市场状态查询失败: market=%s err=%v", marketID, err)
		return true
	}
	status, ok := statuses[marketID]
	if !ok {
		return true
	}
	return !status.Closed && status.AcceptingOrders
}

// rollDayIfNeeded 本地日历日变化时清空全部日计数器
func (e *Engine) rollDayIfNeeded() {
	today := e.dayString()
	if today == e.day {
		return
	}
	ctLog.Infof("日切换: %s -> %s，清空跟单日计数器", e.day, today)
	e.day = today
	e.dailyTradeCount = make(map[string]int)
	e.walletExposure = make(map[string]float64)
	e.copiedMarkets = make(map[string]int)
	e.totalExposure = 0
	e.persistState()
}

func (e *Engine) rememberHash(txHash string) {
	if _, ok := e.seen[txHash]; ok {
		return
	}
	e.seen[txHash] = struct{}{}
	e.seenOrder = append(e.seenOrder, txHash)
	for len(e.seenOrder) > e.logCap {
		oldest := e.seenOrder[0]
		e.seenOrder = e.seenOrder[1:]
		delete(e.seen, oldest)
	}
}

// persistState 快照当前状态到 StateStore。
// 快照失败只记日志：水位线丢失的后果是重启后重新播种，
// 不会导致重复复制（sqlite 复制日志仍然在）。
func (e *Engine) persistState() {
	if e.store == nil {
		return
	}
	state := &EngineState{
		Day:             e.day,
		Watermarks:      make(map[string]Watermark, len(e.watermarks)),
		DailyTradeCount: e.dailyTradeCount,
		WalletExposure:  e.walletExposure,
		CopiedMarkets:   e.copiedMarkets,
		TotalExposure:   e.totalExposure,
		RecentHashes:    append([]string(nil), e.seenOrder...),
	}
	for addr, wm := range e.watermarks {
		state.Watermarks[addr] = *wm
	}
	if err := e.store.SaveEngineState(state); err != nil {
		ctLog.Warnf("跟单状态快照失败: %v", err)
	}
}

// UpdateConfig 替换钱包列表并清空所有水位线、计数器与
// 已复制市场映射：配置变更把每个钱包当作新加入处理
// （下一轮重新播种，不会重放历史）。
func (e *Engine) UpdateConfig(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.wallets = cfg.Wallets
	if cfg.MaxDailyTradesPerWallet > 0 {
		e.maxDailyTradesPerWallet = cfg.MaxDailyTradesPerWallet
	}
	if cfg.MaxWalletExposureUSDC > 0 {
		e.maxWalletExposureUSDC = cfg.MaxWalletExposureUSDC
	}
	if cfg.MaxTotalExposureUSDC > 0 {
		e.maxTotalExposureUSDC = cfg.MaxTotalExposureUSDC
	}
	if cfg.LogCap > 0 {
		e.logCap = cfg.LogCap
	}
	e.resetStateLocked()
	e.persistState()
	ctLog.Infof("跟单配置已更新: wallets=%d，全部水位线与计数器已清空", len(e.wallets))
}

// Snapshot 导出运维视图（只读副本）
func (e *Engine) Snapshot() EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := EngineState{
		Day:             e.day,
		Watermarks:      make(map[string]Watermark, len(e.watermarks)),
		DailyTradeCount: make(map[string]int, len(e.dailyTradeCount)),
		WalletExposure:  make(map[string]float64, len(e.walletExposure)),
		CopiedMarkets:   make(map[string]int, len(e.copiedMarkets)),
		TotalExposure:   e.totalExposure,
		RecentHashes:    append([]string(nil), e.seenOrder...),
	}
	for addr, wm := range e.watermarks {
		state.Watermarks[addr] = *wm
	}
	for k, v := range e.dailyTradeCount {
		state.DailyTradeCount[k] = v
	}
	for k, v := range e.walletExposure {
		state.WalletExposure[k] = v
	}
	for k, v := range e.copiedMarkets {
		state.CopiedMarkets[k] = v
	}
	return state
}
