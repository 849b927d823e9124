package job

import (
	"context"

	"CoSign-Chain/internal/transfer"
)

// RecoveryHandler 定义了在任务执行失败时的补偿策略。
type RecoveryHandler interface {
	// Recover 尝试根据失败原因进行补偿。
	// 返回的 Outcome 将作为结果写入任务；若返回 nil 则继续按照失败流程处理。
	Recover(ctx context.Context, job *Job, cause error) (*transfer.Outcome, error)
}
