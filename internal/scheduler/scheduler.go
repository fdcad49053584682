package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("module", "scheduler")

// TickFunc 是每个 tick 执行的流水线入口
type TickFunc func(ctx context.Context) error

// Scheduler 按固定间隔驱动交易流水线。同一时刻最多只有一个
// tick 在跑：上一轮没结束时新 tick 直接丢弃（不排队），
// 避免慢轮次结束后连续补跑造成重复下单。
type Scheduler struct {
	interval time.Duration
	tick     TickFunc

	inFlight atomic.Bool
	skipped  atomic.Int64
	wg       sync.WaitGroup
}

func New(interval time.Duration, tick TickFunc) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{interval: interval, tick: tick}
}

// Run 阻塞运行调度循环直到 ctx 取消。启动时立即执行第一轮。
func (s *Scheduler) Run(ctx context.Context) {
	log.Infof("调度器启动，tick 间隔 %s", s.interval)

	s.fire(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// 等在途 tick 结束再返回，调用方返回后会关闭事件总线
			// 和存储，不能让 tick 还在往里写
			s.wg.Wait()
			log.Info("调度器退出")
			return
		case <-ticker.C:
			s.fire(ctx)
		}
	}
}

// fire 尝试启动一轮 tick。慢轮次未结束时记一次跳过并返回。
func (s *Scheduler) fire(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		n := s.skipped.Add(1)
		log.Warnf("上一轮 tick 未结束，跳过本轮（累计跳过 %d 次）", n)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inFlight.Store(false)

		start := time.Now()
		if err := s.tick(ctx); err != nil {
			// tick 失败不终止进程，等下一轮重试
			log.Errorf("tick 执行失败: %v", err)
			return
		}
		log.Debugf("tick 完成，耗时 %s", time.Since(start))
	}()
}

// SkippedTicks 返回因上一轮未结束而被丢弃的 tick 总数
func (s *Scheduler) SkippedTicks() int64 {
	return s.skipped.Load()
}
