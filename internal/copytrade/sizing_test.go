package copytrade

import (
	"testing"

	"github.com/betbot/copyflow/internal/domain"
)

// TestComputeCopySize_Fixed 固定模式忽略原始仓位大小
func TestComputeCopySize_Fixed(t *testing.T) {
	w := &domain.TrackedWallet{SizeMode: domain.SizeModeFixed, FixedAmount: 10}

	for _, original := range []float64{1, 500, 120000} {
		if got := ComputeCopySize(w, original); got != 10 {
			t.Errorf("原始 %.0f: got=%.2f want=10", original, got)
		}
	}
}

// TestComputeCopySize_Proportional 比例模式按原始名义额缩放并保留两位小数
func TestComputeCopySize_Proportional(t *testing.T) {
	w := &domain.TrackedWallet{SizeMode: domain.SizeModeProportional, ProportionPct: 0.05}

	cases := []struct {
		original float64
		want     float64
	}{
		{1000, 50},
		{333.33, 16.67}, // 16.6665 -> 四舍五入到分
		{0.1, 0.01},
	}
	for _, c := range cases {
		if got := ComputeCopySize(w, c.original); got != c.want {
			t.Errorf("原始 %.2f: got=%.4f want=%.4f", c.original, got, c.want)
		}
	}
}

// TestComputeCopySize_NonPositive 非正结果一律归零
func TestComputeCopySize_NonPositive(t *testing.T) {
	w := &domain.TrackedWallet{SizeMode: domain.SizeModeProportional, ProportionPct: 0.05}
	if got := ComputeCopySize(w, 0); got != 0 {
		t.Errorf("原始 0: got=%.4f want=0", got)
	}
	if got := ComputeCopySize(w, -100); got != 0 {
		t.Errorf("原始 -100: got=%.4f want=0", got)
	}
}
