package job

import (
	"context"
	"sync"
	"time"

	xerrors "CoSign-Chain/internal/errors"
)

const (
	defaultRedeliveryDelay    = 500 * time.Millisecond
	defaultMaxRedeliveryDelay = 30 * time.Second
)

// MemoryQueue 使用 channel 模拟消息队列，适用于测试与单进程部署。
// handler 失败的任务按指数退避延迟重投，同一任务连续失败时等待时间翻倍。
type MemoryQueue struct {
	ch        chan string
	done      chan struct{}
	closeOnce sync.Once

	redeliveryDelay    time.Duration
	maxRedeliveryDelay time.Duration

	mu       sync.Mutex
	failures map[string]int
}

// NewMemoryQueue 创建一个内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{
		ch:                 make(chan string, size),
		done:               make(chan struct{}),
		redeliveryDelay:    defaultRedeliveryDelay,
		maxRedeliveryDelay: defaultMaxRedeliveryDelay,
		failures:           make(map[string]int),
	}
}

// Publish 将任务投递到队列。队列满时阻塞到 ctx 结束或队列关闭，阻塞期间不持有锁。
func (q *MemoryQueue) Publish(ctx context.Context, jobID string) error {
	select {
	case <-q.done:
		return xerrors.New(xerrors.CodeQueueFailure, "队列已关闭")
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return xerrors.New(xerrors.CodeQueueFailure, "队列已关闭")
	case q.ch <- jobID:
		return nil
	}
}

// Consume 启动指定数量的工作协程消费队列中的任务，直到 ctx 结束或队列关闭。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.done:
					return
				case jobID := <-q.ch:
					if err := handler(ctx, jobID); err != nil && ctx.Err() == nil {
						// 基础设施故障时延迟放回队尾。
						q.redeliver(ctx, jobID)
						continue
					}
					q.forget(jobID)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (q *MemoryQueue) redeliver(ctx context.Context, jobID string) {
	delay := q.backoff(jobID)
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-q.done:
		case <-timer.C:
			_ = q.Publish(ctx, jobID)
		}
	}()
}

// backoff 记录一次失败并返回本次重投前的等待时间。
func (q *MemoryQueue) backoff(jobID string) time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.failures[jobID]
	q.failures[jobID] = n + 1
	delay := q.redeliveryDelay
	for i := 0; i < n && delay < q.maxRedeliveryDelay; i++ {
		delay *= 2
	}
	if delay > q.maxRedeliveryDelay {
		delay = q.maxRedeliveryDelay
	}
	return delay
}

func (q *MemoryQueue) forget(jobID string) {
	q.mu.Lock()
	delete(q.failures, jobID)
	q.mu.Unlock()
}

// Depth 返回当前积压的任务数。
func (q *MemoryQueue) Depth(context.Context) (int, error) {
	return len(q.ch), nil
}

// Close 关闭内存队列，阻塞中的 Publish 立即返回。
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
