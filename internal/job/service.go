package job

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "CoSign-Chain/internal/errors"
	storagemysql "CoSign-Chain/internal/storage/mysql"
	"CoSign-Chain/internal/transfer"
	"CoSign-Chain/pkg/logger"
)

const defaultMaxRetries = 3

// SubmitRequest 描述一次异步提交。ID 为空时自动生成，非空时作为幂等键。
type SubmitRequest struct {
	ID       string
	Request  transfer.Request
	Metadata map[string]string
}

// Service 负责任务的创建与查询。
type Service struct {
	store      Store
	producer   Producer
	attempts   storagemysql.AttemptRepository
	maxRetries int
}

// ServiceOption 定义任务服务的可选配置。
type ServiceOption func(*Service)

// WithServiceAttempts 使 Attempts 能查询提交历史。
func WithServiceAttempts(repo storagemysql.AttemptRepository) ServiceOption {
	return func(s *Service) {
		s.attempts = repo
	}
}

// NewService 构造任务服务。
func NewService(store Store, producer Producer, maxRetries int, opts ...ServiceOption) *Service {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	s := &Service{store: store, producer: producer, maxRetries: maxRetries}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Submit 校验请求、创建任务并推送到队列。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	if err := req.Request.Validate(); err != nil {
		return nil, xerrors.Wrap(CodeJobValidation, err, "任务请求无效",
			xerrors.WithMetadata("cause_code", string(xerrors.CodeOf(err))))
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}

	jobID := strings.TrimSpace(req.ID)
	if jobID != "" {
		existing, err := s.store.Get(ctx, jobID)
		if err == nil {
			return existing, nil
		}
		if !stdErrors.Is(err, ErrJobNotFound) {
			return nil, err
		}
	} else {
		jobID = uuid.NewString()
	}

	job := &Job{
		ID:         jobID,
		Request:    req.Request,
		Metadata:   cloneMetadata(req.Metadata),
		Status:     StatusPending,
		MaxRetries: s.maxRetries,
	}
	if err := s.store.Create(ctx, job); err != nil {
		if stdErrors.Is(err, ErrJobConflict) {
			existing, getErr := s.store.Get(ctx, jobID)
			if getErr == nil {
				return existing, nil
			}
			if !stdErrors.Is(getErr, ErrJobNotFound) {
				return nil, getErr
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, jobID); err != nil {
		logger.L().Error("任务入队失败", slog.Any("error", err), slog.String("job_id", jobID))
		wrapped := xerrors.Wrap(CodeJobPublish, err, "发布任务到队列失败")
		_ = s.store.MarkFailed(ctx, jobID, string(CodeJobPublish), wrapped.Error(), true)
		return nil, wrapped
	}
	logger.Audit().Info("任务入队成功",
		slog.String("job_id", jobID),
		slog.String("action", string(job.Request.Action)),
		slog.String("sender", job.Request.Sender.String()),
		slog.Int("transfers", len(job.Request.Transfers)),
		slog.Int("max_retries", job.MaxRetries),
	)
	return s.store.Get(ctx, jobID)
}

// Get 返回指定任务的状态。
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的任务列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.List(ctx, opts...)
}

// Stats 返回符合过滤条件的任务统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (Stats, error) {
	if s.store == nil {
		return Stats{}, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Stats(ctx, opts...)
}

// Attempts 返回任务的提交历史。
func (s *Service) Attempts(ctx context.Context, id string) ([]storagemysql.AttemptRecord, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if s.attempts == nil {
		return nil, nil
	}
	return s.attempts.ListByJob(ctx, id)
}

// Resume 将停留在 pending 的任务重新入队，返回重投数量。
// 进程在退避等待中退出时，任务会停留在 pending。
func (s *Service) Resume(ctx context.Context) (int, error) {
	if s.store == nil || s.producer == nil {
		return 0, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}
	resumed := 0
	for offset := 0; ; offset += maxListLimit {
		jobs, err := s.store.List(ctx,
			WithStatuses(StatusPending),
			WithSortOrder(SortByUpdatedAsc),
			WithLimit(maxListLimit),
			WithOffset(offset),
		)
		if err != nil {
			return resumed, err
		}
		for _, job := range jobs {
			if err := s.producer.Publish(ctx, job.ID); err != nil {
				return resumed, xerrors.Wrap(CodeJobPublish, err, "补投任务失败")
			}
			resumed++
		}
		if len(jobs) < maxListLimit {
			break
		}
	}
	if resumed > 0 {
		logger.L().Info("已补投未完成任务", slog.Int("count", resumed))
	}
	return resumed, nil
}

// Close 释放资源。
func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	if s.attempts != nil {
		errs = append(errs, s.attempts.Close())
	}
	return stdErrors.Join(errs...)
}

// WaitUntilCompleted 轮询任务直到成功或失败，或 ctx 结束。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Job, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status == StatusSucceeded || job.Status == StatusFailed {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
