package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestLoadDefaults 测试缺省值填充
func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
exchange:
  dry_run: true
copy_trading:
  enabled: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}

	if cfg.Exchange.ClobURL != "https://clob.polymarket.com" {
		t.Errorf("ClobURL 默认值不对: %s", cfg.Exchange.ClobURL)
	}
	if cfg.TickIntervalSec != 10 {
		t.Errorf("TickIntervalSec 默认值应为 10，实际 %d", cfg.TickIntervalSec)
	}
	if cfg.Risk.MaxTotalExposurePct != 0.6 {
		t.Errorf("MaxTotalExposurePct 默认值应为 0.6，实际 %.2f", cfg.Risk.MaxTotalExposurePct)
	}
	if cfg.Risk.MaxConsecutiveLosses != 3 {
		t.Errorf("MaxConsecutiveLosses 默认值应为 3，实际 %d", cfg.Risk.MaxConsecutiveLosses)
	}
	if cfg.CopyTrading.CopyLogCap != 200 {
		t.Errorf("CopyLogCap 默认值应为 200，实际 %d", cfg.CopyTrading.CopyLogCap)
	}
}

// TestValidateRequiresKey 实盘模式必须有私钥或助记词
func TestValidateRequiresKey(t *testing.T) {
	t.Setenv("COPYFLOW_PRIVATE_KEY", "")
	t.Setenv("COPYFLOW_MNEMONIC", "")

	path := writeConfig(t, `
exchange:
  dry_run: false
`)
	if _, err := Load(path); err == nil {
		t.Error("实盘无私钥应加载失败")
	}
}

// TestValidateWallets 钱包配置校验
func TestValidateWallets(t *testing.T) {
	// fixed 模式缺金额
	path := writeConfig(t, `
exchange:
  dry_run: true
copy_trading:
  wallets:
    - address: "0xabc"
      size_mode: fixed
`)
	if _, err := Load(path); err == nil {
		t.Error("fixed 模式 fixed_amount 缺失应校验失败")
	}

	// proportional 比例越界
	path = writeConfig(t, `
exchange:
  dry_run: true
copy_trading:
  wallets:
    - address: "0xabc"
      size_mode: proportional
      proportion_pct: 1.5
`)
	if _, err := Load(path); err == nil {
		t.Error("proportion_pct > 1 应校验失败")
	}

	// 合法配置
	path = writeConfig(t, `
exchange:
  dry_run: true
copy_trading:
  wallets:
    - address: "0xabc"
      label: whale
      size_mode: proportional
      proportion_pct: 0.05
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("合法配置加载失败: %v", err)
	}
	if cfg.CopyTrading.Wallets[0].MaxCopiesPerMarket != 2 {
		t.Errorf("MaxCopiesPerMarket 默认值应为 2，实际 %d", cfg.CopyTrading.Wallets[0].MaxCopiesPerMarket)
	}
}

// TestEnvOverride 环境变量覆盖敏感配置
func TestEnvOverride(t *testing.T) {
	t.Setenv("COPYFLOW_PRIVATE_KEY", "deadbeef")

	path := writeConfig(t, `
exchange:
  dry_run: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.Wallet.PrivateKey != "deadbeef" {
		t.Errorf("环境变量应覆盖私钥，实际 %q", cfg.Wallet.PrivateKey)
	}
}
