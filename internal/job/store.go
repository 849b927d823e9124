package job

import (
	"context"

	"CoSign-Chain/internal/transfer"
)

// Store 定义任务持久化接口。
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	// Claim 将任务置为运行中并增加尝试次数。
	Claim(ctx context.Context, id string) (*Job, error)
	MarkSucceeded(ctx context.Context, id string, result *transfer.Outcome) error
	MarkFailed(ctx context.Context, id, code, lastError string, terminal bool) error
	List(ctx context.Context, opts ...ListOption) ([]*Job, error)
	Stats(ctx context.Context, opts ...ListOption) (Stats, error)
	Close() error
}
