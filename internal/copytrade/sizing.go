package copytrade

import (
	"github.com/shopspring/decimal"

	"github.com/betbot/copyflow/internal/domain"
)

// ComputeCopySize 按钱包的跟单策略计算复制名义金额（USDC）。
//
// fixed：固定金额；proportional：原始数量 × 比例。
// 金额用 decimal 计算并四舍五入到分，避免浮点累积误差
// 进入敞口计数。
func ComputeCopySize(w *domain.TrackedWallet, originalSize float64) float64 {
	var amount decimal.Decimal
	switch w.SizeMode {
	case domain.SizeModeProportional:
		amount = decimal.NewFromFloat(originalSize).
			Mul(decimal.NewFromFloat(w.ProportionPct))
	default:
		amount = decimal.NewFromFloat(w.FixedAmount)
	}

	out, _ := amount.Round(2).Float64()
	if out < 0 {
		return 0
	}
	return out
}
