package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/copyflow/internal/domain"
	"github.com/betbot/copyflow/internal/events"
)

var riskLog = logrus.WithField("module", "risk_manager")

// Config 风控阈值配置。百分比均相对当前余额。
type Config struct {
	MaxTotalExposurePct  float64       // 总敞口上限（余额占比）
	MaxPositionPct       float64       // 单策略敞口上限（余额占比）
	MaxVolumeImpactPct   float64       // 单笔名义额 / 24h 成交量 上限
	MaxConsecutiveLosses int           // 连续亏损熔断阈值
	MaxDailyLossPct      float64       // 当日亏损熔断阈值（余额占比）
	Cooldown             time.Duration // 熔断冷却时长
}

// CircuitState 策略级熔断状态。
// TrippedAt 非零即表示该策略被禁止开新仓，直到冷却期结束。
type CircuitState struct {
	ConsecutiveLosses int
	TrippedAt         time.Time // 零值表示未熔断
	DailyLoss         float64
}

// Result 风控检查结果。Reason 以固定层级前缀开头
// （"circuit breaker:" / "exposure limit:" / "liquidity impact:"），
// 调用方可据此分类而无需解析自由文本。
type Result struct {
	Allowed bool
	Reason  string
}

// Manager 三层风控门，按固定顺序评估（先便宜的检查）：
// 熔断 → 敞口上限 → 流动性冲击。第一个失败的层级生效。
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	balance  float64
	circuits map[string]*CircuitState // strategyID -> state
	bus      *events.Bus

	now func() time.Time // 测试时可替换
}

// NewManager 创建风控管理器
func NewManager(cfg Config, initialBalance float64, bus *events.Bus) *Manager {
	return &Manager{
		cfg:      cfg,
		balance:  initialBalance,
		circuits: make(map[string]*CircuitState),
		bus:      bus,
		now:      time.Now,
	}
}

// Check 评估一笔交易意图。
// totalExposure / strategyExposure 由持仓账本提供（多头名义敞口口径），
// volume24h <= 0 时跳过流动性检查。
func (m *Manager) Check(intent *domain.TradeIntent, totalExposure, strategyExposure, volume24h float64) Result {
	// 第一层：熔断
	if m.IsCircuitTripped(intent.StrategyID) {
		return Result{Allowed: false, Reason: fmt.Sprintf(
			"circuit breaker: strategy %s is in cooldown", intent.StrategyID)}
	}

	m.mu.Lock()
	balance := m.balance
	cfg := m.cfg
	m.mu.Unlock()

	notional := intent.Notional()

	// 第二层：敞口上限
	if maxTotal := balance * cfg.MaxTotalExposurePct; totalExposure+notional > maxTotal {
		return Result{Allowed: false, Reason: fmt.Sprintf(
			"exposure limit: total exposure %.2f + %.2f exceeds cap %.2f",
			totalExposure, notional, maxTotal)}
	}
	if maxStrategy := balance * cfg.MaxPositionPct; strategyExposure+notional > maxStrategy {
		return Result{Allowed: false, Reason: fmt.Sprintf(
			"exposure limit: strategy %s exposure %.2f + %.2f exceeds cap %.2f",
			intent.StrategyID, strategyExposure, notional, maxStrategy)}
	}

	// 第三层：流动性冲击
	if volume24h > 0 {
		if impact := notional / volume24h; impact > cfg.MaxVolumeImpactPct {
			return Result{Allowed: false, Reason: fmt.Sprintf(
				"liquidity impact: order notional %.2f is %.1f%% of 24h volume (max %.1f%%)",
				notional, impact*100, cfg.MaxVolumeImpactPct*100)}
		}
	}

	return Result{Allowed: true}
}

// IsCircuitTripped 检查策略是否处于熔断冷却期。
// 冷却期已过时顺带清空熔断状态（惰性恢复，没有后台定时器）
// 并发布 circuit:reset 事件。
func (m *Manager) IsCircuitTripped(strategyID string) bool {
	m.mu.Lock()
	state, ok := m.circuits[strategyID]
	if !ok || state.TrippedAt.IsZero() {
		m.mu.Unlock()
		return false
	}

	if m.now().Sub(state.TrippedAt) > m.cfg.Cooldown {
		// 冷却结束，整体复位
		m.circuits[strategyID] = &CircuitState{}
		m.mu.Unlock()

		riskLog.Infof("熔断冷却结束，恢复交易: strategy=%s", strategyID)
		if m.bus != nil {
			m.bus.Publish(events.TopicCircuitReset, events.CircuitResetEvent{
				StrategyID: strategyID,
				Timestamp:  m.now(),
			})
		}
		return false
	}
	m.mu.Unlock()
	return true
}

// RecordLoss 记录一笔亏损。连续亏损或当日累计亏损越限时触发熔断。
func (m *Manager) RecordLoss(strategyID string, amount float64) {
	if amount < 0 {
		amount = -amount
	}

	m.mu.Lock()
	state, ok := m.circuits[strategyID]
	if !ok {
		state = &CircuitState{}
		m.circuits[strategyID] = state
	}
	state.ConsecutiveLosses++
	state.DailyLoss += amount

	alreadyTripped := !state.TrippedAt.IsZero()
	reason := ""
	if !alreadyTripped {
		if state.ConsecutiveLosses >= m.cfg.MaxConsecutiveLosses {
			reason = fmt.Sprintf("%d consecutive losses", state.ConsecutiveLosses)
		} else if limit := m.balance * m.cfg.MaxDailyLossPct; state.DailyLoss >= limit {
			reason = fmt.Sprintf("daily loss %.2f reached limit %.2f", state.DailyLoss, limit)
		}
		if reason != "" {
			state.TrippedAt = m.now()
		}
	}
	m.mu.Unlock()

	if reason != "" {
		riskLog.Warnf("熔断触发: strategy=%s reason=%s", strategyID, reason)
		if m.bus != nil {
			m.bus.Publish(events.TopicCircuitTripped, events.CircuitTrippedEvent{
				StrategyID: strategyID,
				Reason:     reason,
				Timestamp:  m.now(),
			})
		}
	}
}

// RecordWin 记录一笔盈利：清零连续亏损计数。
// 不清当日亏损，也不解除已有熔断。
func (m *Manager) RecordWin(strategyID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if state, ok := m.circuits[strategyID]; ok {
		state.ConsecutiveLosses = 0
	}
}

// UpdateBalance 替换所有百分比阈值使用的余额基数。
// 不回溯重估已开仓位。
func (m *Manager) UpdateBalance(balance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance = balance
}

// Balance 当前余额基数
func (m *Manager) Balance() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance
}

// ComputeMaxSize 在不突破任一敞口上限的前提下，
// 策略还能下的最大数量（向下保底为 0）。
func (m *Manager) ComputeMaxSize(price float64, strategyID string, totalExposure, strategyExposure float64) float64 {
	if price <= 0 {
		return 0
	}

	m.mu.Lock()
	balance := m.balance
	cfg := m.cfg
	m.mu.Unlock()

	totalRoom := (balance*cfg.MaxTotalExposurePct - totalExposure) / price
	strategyRoom := (balance*cfg.MaxPositionPct - strategyExposure) / price

	maxSize := totalRoom
	if strategyRoom < maxSize {
		maxSize = strategyRoom
	}
	if maxSize < 0 {
		return 0
	}
	return maxSize
}

// CircuitStates 导出所有策略的熔断状态快照（运维 API 用）。
func (m *Manager) CircuitStates() map[string]CircuitState {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]CircuitState, len(m.circuits))
	for id, state := range m.circuits {
		out[id] = *state
	}
	return out
}
