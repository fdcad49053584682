package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/copyflow/internal/copytrade"
	"github.com/betbot/copyflow/internal/domain"
	"github.com/betbot/copyflow/internal/events"
	"github.com/betbot/copyflow/internal/execution"
	"github.com/betbot/copyflow/internal/notify"
	"github.com/betbot/copyflow/internal/position"
	"github.com/betbot/copyflow/internal/risk"
	"github.com/betbot/copyflow/internal/scheduler"
	"github.com/betbot/copyflow/internal/settlement"
	"github.com/betbot/copyflow/internal/server"
	"github.com/betbot/copyflow/internal/storage"
	"github.com/betbot/copyflow/internal/strategy"
	"github.com/betbot/copyflow/pkg/config"
	"github.com/betbot/copyflow/pkg/logger"
	"github.com/betbot/copyflow/pkg/sdk/clob"
	"github.com/betbot/copyflow/pkg/sdk/dataapi"
	"github.com/betbot/copyflow/pkg/sdk/stream"
)

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "启动失败: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		return err
	}

	log := logger.WithField("module", "main")
	if cfg.Exchange.DryRun {
		log.Warn("dry-run 模式：所有订单为模拟成交，不触达交易所")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 持久化
	store, err := storage.Open(cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer store.Close()

	stateStore, err := storage.OpenStateStore(cfg.Storage.StateDir)
	if err != nil {
		return err
	}
	defer stateStore.Close()

	// 交易所客户端
	var signKey = cfg.Wallet.PrivateKey
	exchange, err := newExchange(cfg, signKey)
	if err != nil {
		return err
	}
	if err := exchange.Connect(ctx); err != nil {
		return err
	}

	balance, err := exchange.GetBalance(ctx)
	if err != nil {
		return err
	}
	log.Infof("账户余额: %.2f USDC", balance)

	// 核心链路
	bus := events.NewBus()
	defer bus.Close()

	tracker, err := position.NewTracker(ctx, store.Positions(), bus)
	if err != nil {
		return err
	}
	riskMgr := risk.NewManager(risk.Config{
		MaxTotalExposurePct:  cfg.Risk.MaxTotalExposurePct,
		MaxPositionPct:       cfg.Risk.MaxPositionPct,
		MaxVolumeImpactPct:   cfg.Risk.MaxVolumeImpactPct,
		MaxConsecutiveLosses: cfg.Risk.MaxConsecutiveLosses,
		MaxDailyLossPct:      cfg.Risk.MaxDailyLossPct,
		Cooldown:             time.Duration(cfg.Risk.CooldownMinutes) * time.Minute,
	}, balance, bus)
	orderMgr := execution.NewOrderManager(exchange, store.Orders(), tracker, bus)

	feed := dataapi.NewClient(cfg.Exchange.DataAPIURL, cfg.Exchange.GammaURL)
	engine := copytrade.NewEngine(feed, store.CopyLog(), stateStore, copytrade.Config{
		Wallets:                 trackedWallets(cfg),
		MaxDailyTradesPerWallet: cfg.CopyTrading.MaxDailyTradesPerWallet,
		MaxWalletExposureUSDC:   cfg.CopyTrading.MaxWalletExposureUSDC,
		MaxTotalExposureUSDC:    cfg.CopyTrading.MaxTotalExposureUSDC,
		LogCap:                  cfg.CopyTrading.CopyLogCap,
	})

	stratEngine := strategy.NewEngine(riskMgr, orderMgr, tracker, feed)
	if cfg.CopyTrading.Enabled {
		stratEngine.Register(strategy.NewCopyTradingStrategy(engine))
	} else {
		log.Warn("跟单策略未启用")
	}

	settler := settlement.NewSettler(tracker, riskMgr, feed)

	// tick：刷新余额 → 结算扫描 → 策略流水线
	tick := func(ctx context.Context) error {
		if b, err := exchange.GetBalance(ctx); err != nil {
			logrus.Warnf("刷新余额失败: %v", err)
		} else {
			riskMgr.UpdateBalance(b)
		}
		if err := settler.Sweep(ctx); err != nil {
			return err
		}
		return stratEngine.RunTick(ctx)
	}
	sched := scheduler.New(time.Duration(cfg.TickIntervalSec)*time.Second, tick)

	// 通知消费者
	consumer := notify.NewConsumer(bus)
	go consumer.Run(ctx)

	// 价格流：用最新成交价刷新未实现盈亏
	if cfg.PriceStream {
		// 订阅最近复制过的 token，保持已开仓位的盈亏新鲜
		var tokens []string
		if recent, err := store.CopyLog().FindRecent(ctx, 100); err == nil {
			seen := map[string]struct{}{}
			for _, ct := range recent {
				if _, ok := seen[ct.TokenID]; !ok {
					seen[ct.TokenID] = struct{}{}
					tokens = append(tokens, ct.TokenID)
				}
			}
		}
		ms := stream.NewMarketStream("", tokens)
		ms.OnPrice(func(marketID, tokenID string, price float64) {
			if err := tracker.UpdatePnl(ctx, marketID, price); err != nil {
				logrus.Warnf("更新未实现盈亏失败: %v", err)
			}
		})
		if err := ms.Connect(ctx); err != nil {
			logrus.Warnf("价格流连接失败，未实现盈亏不会实时更新: %v", err)
		} else {
			defer ms.Close()
		}
	}

	// 只读运维接口
	if cfg.Server.Enabled {
		srv := server.New(cfg.Server.ListenAddr, store, tracker, riskMgr, engine, sched)
		srv.Start()
		defer func() {
			shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	log.Infof("copyflow 启动完成，跟踪 %d 个钱包", len(cfg.CopyTrading.Wallets))
	sched.Run(ctx)
	log.Info("copyflow 已退出")
	return nil
}

func newExchange(cfg *config.Config, privateKeyHex string) (*clob.Client, error) {
	if cfg.Exchange.DryRun && privateKeyHex == "" && cfg.Wallet.Mnemonic == "" {
		return clob.NewClient(cfg.Exchange.ClobURL, nil, cfg.Wallet.FunderAddress, true)
	}
	key, err := clob.LoadPrivateKey(privateKeyHex, cfg.Wallet.Mnemonic, cfg.Wallet.DerivationPath)
	if err != nil {
		return nil, err
	}
	return clob.NewClient(cfg.Exchange.ClobURL, key, cfg.Wallet.FunderAddress, cfg.Exchange.DryRun)
}

func trackedWallets(cfg *config.Config) []domain.TrackedWallet {
	out := make([]domain.TrackedWallet, 0, len(cfg.CopyTrading.Wallets))
	for _, w := range cfg.CopyTrading.Wallets {
		out = append(out, domain.TrackedWallet{
			Address:            w.Address,
			Label:              w.Label,
			SizeMode:           domain.SizeMode(w.SizeMode),
			FixedAmount:        w.FixedAmount,
			ProportionPct:      w.ProportionPct,
			MaxCopiesPerMarket: w.MaxCopiesPerMarket,
		})
	}
	return out
}
