package job

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	xerrors "CoSign-Chain/internal/errors"
)

func TestMemoryQueueBacksOffFailingJob(t *testing.T) {
	queue := NewMemoryQueue(4)
	queue.redeliveryDelay = 40 * time.Millisecond
	queue.maxRedeliveryDelay = time.Second
	defer queue.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	go func() {
		_ = queue.Consume(ctx, 2, func(context.Context, string) error {
			calls.Add(1)
			return errors.New("store unavailable")
		})
	}()

	if err := queue.Publish(ctx, "job-1"); err != nil {
		t.Fatalf("投递失败: %v", err)
	}
	// 40ms、80ms、160ms 退避：350ms 内最多处理 4 次。
	time.Sleep(350 * time.Millisecond)
	cancel()

	got := calls.Load()
	if got < 2 {
		t.Fatalf("失败任务应被重投，实际处理 %d 次", got)
	}
	if got > 4 {
		t.Fatalf("重投没有退避，350ms 内处理了 %d 次", got)
	}
}

func TestMemoryQueueBackoffResetsOnSuccess(t *testing.T) {
	queue := NewMemoryQueue(1)
	queue.redeliveryDelay = 10 * time.Millisecond
	queue.maxRedeliveryDelay = 25 * time.Millisecond

	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 25 * time.Millisecond, 25 * time.Millisecond}
	for i, d := range want {
		if got := queue.backoff("job-1"); got != d {
			t.Fatalf("第 %d 次退避为 %s，期望 %s", i+1, got, d)
		}
	}
	queue.forget("job-1")
	if got := queue.backoff("job-1"); got != 10*time.Millisecond {
		t.Fatalf("成功后应重置退避，实际 %s", got)
	}
}

func TestMemoryQueueCloseUnblocksPublish(t *testing.T) {
	queue := NewMemoryQueue(1)
	ctx := context.Background()
	if err := queue.Publish(ctx, "job-1"); err != nil {
		t.Fatalf("投递失败: %v", err)
	}

	blocked := make(chan error, 1)
	go func() { blocked <- queue.Publish(ctx, "job-2") }()
	time.Sleep(20 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		_ = queue.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatalf("队列已满时 Close 被阻塞")
	}

	select {
	case err := <-blocked:
		if xerrors.CodeOf(err) != xerrors.CodeQueueFailure {
			t.Fatalf("关闭后阻塞的投递应返回 QUEUE_FAILURE，实际 %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("关闭后阻塞的投递没有返回")
	}

	if err := queue.Publish(ctx, "job-3"); xerrors.CodeOf(err) != xerrors.CodeQueueFailure {
		t.Fatalf("关闭后的投递应失败，实际 %v", err)
	}
}
