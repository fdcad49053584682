package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// 上一轮未结束时新 tick 被丢弃而不是排队
func TestScheduler_SkipsOverlappingTicks(t *testing.T) {
	var running atomic.Int32
	var maxConcurrent atomic.Int32
	release := make(chan struct{})

	s := New(10*time.Millisecond, func(ctx context.Context) error {
		cur := running.Add(1)
		defer running.Add(-1)
		if cur > maxConcurrent.Load() {
			maxConcurrent.Store(cur)
		}
		<-release
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	// 让若干个 tick 周期过去，慢 tick 一直占着
	time.Sleep(60 * time.Millisecond)
	close(release)
	cancel()

	require.Equal(t, int32(1), maxConcurrent.Load(), "同一时刻最多一个 tick")
	require.Greater(t, s.SkippedTicks(), int64(0), "重叠的 tick 应被计为跳过")
}

// ctx 取消后 Run 要等在途 tick 跑完才返回，调用方返回后会关闭
// 事件总线和存储，tick 不能还在往里写
func TestScheduler_RunWaitsForInFlightTick(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool

	s := New(time.Hour, func(ctx context.Context) error {
		close(started)
		<-release
		finished.Store(true)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	<-started
	cancel()

	// tick 还被挡着，Run 不许返回
	select {
	case <-done:
		t.Fatal("Run 在 tick 未结束时就返回了")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run 在 tick 结束后仍未返回")
	}
	require.True(t, finished.Load(), "Run 返回时 tick 必须已完成")
}

// tick 返回错误不终止调度循环
func TestScheduler_TickErrorDoesNotStopLoop(t *testing.T) {
	var calls atomic.Int32
	s := New(5*time.Millisecond, func(ctx context.Context) error {
		calls.Add(1)
		return context.DeadlineExceeded
	})

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	require.Greater(t, calls.Load(), int32(1), "出错后应继续下一轮")
}
