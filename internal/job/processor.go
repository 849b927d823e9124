package job

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "CoSign-Chain/internal/errors"
	"CoSign-Chain/internal/observability/alerting"
	"CoSign-Chain/internal/observability/metrics"
	storagemysql "CoSign-Chain/internal/storage/mysql"
	"CoSign-Chain/internal/submit"
	"CoSign-Chain/internal/transfer"
	"CoSign-Chain/pkg/logger"
)

// Executor 定义了处理器所需的交易执行能力。
type Executor interface {
	Execute(ctx context.Context, req transfer.Request) (*transfer.Outcome, error)
}

// Processor 负责从队列消费任务并交给转账服务执行。
type Processor struct {
	executor       Executor
	store          Store
	consumer       Consumer
	producer       Producer
	workerCount    int
	logger         *slog.Logger
	recovery       RecoveryHandler
	alerter        alerting.Dispatcher
	attempts       storagemysql.AttemptRepository
	backoff        time.Duration
	attemptTimeout time.Duration
	now            func() time.Time
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithRecoveryHandler 配置失败补偿策略。
func WithRecoveryHandler(handler RecoveryHandler) ProcessorOption {
	return func(p *Processor) {
		p.recovery = handler
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// WithAttemptRepository 记录每一次提交尝试。
func WithAttemptRepository(repo storagemysql.AttemptRepository) ProcessorOption {
	return func(p *Processor) {
		p.attempts = repo
	}
}

// WithRetryBackoff 设置重投前的线性退避基数，第 n 次重试等待 n*backoff。
func WithRetryBackoff(backoff time.Duration) ProcessorOption {
	return func(p *Processor) {
		if backoff >= 0 {
			p.backoff = backoff
		}
	}
}

// WithAttemptTimeout 限制单次执行的最长耗时。
func WithAttemptTimeout(timeout time.Duration) ProcessorOption {
	return func(p *Processor) {
		if timeout > 0 {
			p.attemptTimeout = timeout
		}
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动任务处理循环，直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, jobID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	job, err := p.store.Claim(ctx, jobID)
	if err != nil {
		if stdErrors.Is(err, ErrJobNotFound) || stdErrors.Is(err, ErrJobCompleted) || stdErrors.Is(err, ErrJobExhausted) {
			p.logDebug("跳过任务", slog.String("job_id", jobID), slog.String("reason", err.Error()))
			return nil
		}
		if stdErrors.Is(err, ErrJobConflict) {
			// 其他协程正在执行同一任务。
			p.logDebug("任务正在执行", slog.String("job_id", jobID))
			return nil
		}
		logger.L().Error("领取任务失败", slog.Any("error", err), slog.String("job_id", jobID))
		p.emitAlert(ctx, &Job{ID: jobID}, CodeJobProcessing, err, "claim")
		return err
	}

	execCtx := ctx
	if p.attemptTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, p.attemptTimeout)
		defer cancel()
	}
	started := p.now()
	outcome, execErr := p.executor.Execute(execCtx, job.Request)
	p.recordAttempt(ctx, job, outcome, execErr, p.now().Sub(started))
	if execErr != nil {
		return p.handleExecutionFailure(ctx, job, execErr)
	}
	if outcome == nil {
		outcome = &transfer.Outcome{}
	}

	if err := p.store.MarkSucceeded(ctx, job.ID, outcome); err != nil {
		logger.L().Error("标记任务成功状态失败", slog.Any("error", err), slog.String("job_id", job.ID))
		// 交易已上链，不再重投，避免重复提交。
		if storeErr := p.store.MarkFailed(ctx, job.ID, string(CodeJobProcessing), err.Error(), true); storeErr != nil {
			logger.L().Error("回写失败状态出错", slog.Any("error", storeErr), slog.String("job_id", job.ID))
			return storeErr
		}
		p.emitAlert(ctx, job, CodeJobProcessing, err, "persist")
		return nil
	}
	metrics.ObserveJob(string(job.Request.Action), "succeeded")
	logger.Audit().Info("任务执行成功",
		slog.String("job_id", job.ID),
		slog.String("action", string(job.Request.Action)),
		slog.String("sender", job.Request.Sender.String()),
		slog.String("hash", outcome.Hash),
		slog.String("state", outcome.State),
		slog.Int("attempts", job.Attempts),
	)
	return nil
}

func (p *Processor) handleExecutionFailure(ctx context.Context, job *Job, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeJobProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := job.Attempts >= job.MaxRetries || !retryable

	if !retryable && p.recovery != nil {
		if fallback, recErr := p.recovery.Recover(ctx, job, execErr); recErr != nil {
			wrapped := xerrors.Wrap(CodeJobCompensate, recErr, "任务补偿失败")
			logger.L().Error("执行补偿逻辑失败",
				slog.Any("error", wrapped),
				slog.String("job_id", job.ID))
			p.emitAlert(ctx, job, CodeJobCompensate, wrapped, "compensate")
		} else if fallback != nil {
			if err := p.store.MarkSucceeded(ctx, job.ID, fallback); err != nil {
				logger.L().Error("记录降级结果失败", slog.Any("error", err), slog.String("job_id", job.ID))
				if storeErr := p.store.MarkFailed(ctx, job.ID, string(code), err.Error(), true); storeErr != nil {
					logger.L().Error("降级失败后的回写失败状态出错", slog.Any("error", storeErr), slog.String("job_id", job.ID))
					return storeErr
				}
				return nil
			}
			metrics.ObserveJob(string(job.Request.Action), "recovered")
			logger.Audit().Warn("任务降级完成",
				slog.String("job_id", job.ID),
				slog.String("action", string(job.Request.Action)),
				slog.String("state", fallback.State),
				slog.String("cause", execErr.Error()),
			)
			return nil
		}
	}

	if storeErr := p.store.MarkFailed(ctx, job.ID, string(code), execErr.Error(), terminal); storeErr != nil {
		logger.L().Error("标记任务失败状态出错", slog.Any("error", storeErr), slog.String("job_id", job.ID))
		return storeErr
	}
	logger.Audit().Warn("任务执行失败",
		slog.String("job_id", job.ID),
		slog.String("action", string(job.Request.Action)),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", job.Attempts),
		slog.Int("max_retries", job.MaxRetries),
	)

	stage := "retry"
	if !retryable {
		stage = "non_retryable"
	} else if terminal {
		stage = "terminal"
	}
	if terminal || xerrors.ShouldAlert(execErr) {
		p.emitAlert(ctx, job, code, execErr, stage)
	}

	if terminal {
		metrics.ObserveJob(string(job.Request.Action), "failed")
		return nil
	}
	metrics.ObserveJob(string(job.Request.Action), "retry")
	if err := p.wait(ctx, job.Attempts); err != nil {
		// 关闭过程中放弃重投，任务保持 pending，由下次启动的补投处理。
		return nil
	}
	if pubErr := p.producer.Publish(ctx, job.ID); pubErr != nil {
		wrapped := xerrors.Wrap(CodeJobPublish, pubErr, fmt.Sprintf("任务 %s 重投失败", job.ID))
		p.emitAlert(ctx, job, CodeJobPublish, wrapped, "republish")
		return wrapped
	}
	p.logDebug("任务已重新排队", slog.String("job_id", job.ID), slog.Int("attempts", job.Attempts))
	return nil
}

func (p *Processor) wait(ctx context.Context, attempts int) error {
	if p.backoff <= 0 || attempts <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(p.backoff * time.Duration(attempts))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *Processor) recordAttempt(ctx context.Context, job *Job, outcome *transfer.Outcome, execErr error, elapsed time.Duration) {
	if p.attempts == nil {
		return
	}
	record := storagemysql.AttemptRecord{
		JobID:     job.ID,
		Attempt:   job.Attempts,
		Action:    string(job.Request.Action),
		Sender:    job.Request.Sender.String(),
		ElapsedMs: elapsed.Milliseconds(),
		CreatedAt: p.now().Unix(),
	}
	if execErr != nil {
		record.State = string(submit.StateFailed)
		record.Hash = xerrors.MetadataOf(execErr)[submit.MetaHash]
		record.ErrorCode = string(xerrors.CodeOf(execErr))
		record.Message = execErr.Error()
	} else if outcome != nil {
		record.State = outcome.State
		record.Hash = outcome.Hash
	}
	if err := p.attempts.Save(ctx, record); err != nil {
		logger.L().Warn("记录提交历史失败", slog.Any("error", err), slog.String("job_id", job.ID))
	}
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		p.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, job *Job, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || job == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	metadata := map[string]string{
		"stage": stage,
	}
	if cause != nil {
		message = cause.Error()
		metadata["cause"] = cause.Error()
		for k, v := range xerrors.MetadataOf(cause) {
			metadata[k] = v
		}
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		JobID:      job.ID,
		Action:     string(job.Request.Action),
		Attempts:   job.Attempts,
		MaxRetries: job.MaxRetries,
		Metadata:   metadata,
		OccurredAt: p.now(),
	}
	if !job.Request.Sender.IsZero() {
		event.Sender = job.Request.Sender.String()
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("job_id", job.ID),
			slog.String("stage", stage),
		)
	}
}

// IdempotentRegistration 将“已注册”的冲突视为注册成功。
type IdempotentRegistration struct {
	FeePayer string
}

// Recover 实现 RecoveryHandler。
func (r IdempotentRegistration) Recover(_ context.Context, job *Job, cause error) (*transfer.Outcome, error) {
	if job == nil || job.Request.Action != transfer.ActionRegister {
		return nil, nil
	}
	if !xerrors.HasCode(cause, xerrors.CodeConflict) {
		return nil, nil
	}
	return &transfer.Outcome{State: transfer.StateAlreadyRegistered, FeePayer: r.FeePayer}, nil
}
