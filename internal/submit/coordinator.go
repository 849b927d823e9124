// Package submit 驱动一次多签交易提交：构建、代付方签名、联署方签名、提交与可选的确认。
// 本包从不重试，需要再次尝试的调用方重新调用 BuildAndSubmit，得到一笔新交易。
package submit

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"CoSign-Chain/internal/chain"
	"CoSign-Chain/internal/codec"
	xerrors "CoSign-Chain/internal/errors"
	"CoSign-Chain/internal/payload"
	"CoSign-Chain/internal/signer"
	"CoSign-Chain/internal/txn"
	"CoSign-Chain/pkg/logger"
)

// CodeSubmissionFailure 表示链拒绝或执行失败的交易，节点返回的错误码与消息原样保留在结果中。
const CodeSubmissionFailure xerrors.Code = "SUBMISSION_FAILURE"

// MetaHash 在提交之后产生的错误上携带交易哈希。
const MetaHash = "hash"

func init() {
	xerrors.Register(CodeSubmissionFailure, xerrors.Attributes{
		Message:   "submission failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

// State 是提交状态机的一个步骤。
type State string

const (
	StateBuilt               State = "BUILT"
	StatePayerAuthenticated  State = "PAYER_AUTHENTICATED"
	StateSenderAuthenticated State = "SENDER_AUTHENTICATED"
	StateSubmitted           State = "SUBMITTED"
	StateConfirmed           State = "CONFIRMED"
	StateFailed              State = "FAILED"
)

// Terminal 判断 s 之后是否不再有状态迁移。
func (s State) Terminal() bool { return s == StateConfirmed || s == StateFailed }

// Result 是一次尝试的结果，Hash 与 ErrorCode 恰好设置其一。
type Result struct {
	Hash      string `json:"hash,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	Message   string `json:"message,omitempty"`
	State     State  `json:"state"`
	VMStatus  string `json:"vm_status,omitempty"`
}

// Succeeded 判断本次尝试是否得到交易哈希。
func (r Result) Succeeded() bool { return r.Hash != "" && r.ErrorCode == "" }

// Transition 在每次状态变化时传给观察者。
type Transition struct {
	From    State
	To      State
	Call    payload.FunctionID
	Sender  codec.AccountAddress
	Hash    string
	Err     error
	Elapsed time.Duration
}

// Observer 接收状态迁移，不得阻塞。
type Observer func(Transition)

// Coordinator 使用一个链客户端和一个代付方执行提交。
type Coordinator struct {
	client         chain.Client
	payer          signer.Signer
	builder        *txn.Builder
	confirm        bool
	confirmTimeout time.Duration
	pollInterval   time.Duration
	observers      []Observer
	logger         *slog.Logger
}

// Option 定制 Coordinator。
type Option func(*Coordinator)

// WithBuilder 替换由客户端派生的构建器。
func WithBuilder(b *txn.Builder) Option {
	return func(c *Coordinator) {
		if b != nil {
			c.builder = b
		}
	}
}

// WithConfirmation 设置是否等待交易上链，以及等待时长与轮询间隔。
func WithConfirmation(enabled bool, timeout, interval time.Duration) Option {
	return func(c *Coordinator) {
		c.confirm = enabled
		if timeout > 0 {
			c.confirmTimeout = timeout
		}
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

// WithObserver 添加状态迁移观察者。
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

// WithLogger 覆盖组件日志器。
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCoordinator 创建协调器，payer 是每笔交易的代付方与主发送方。
func NewCoordinator(client chain.Client, payer signer.Signer, opts ...Option) *Coordinator {
	c := &Coordinator{
		client:         client,
		payer:          payer,
		confirm:        true,
		confirmTimeout: 30 * time.Second,
		pollInterval:   500 * time.Millisecond,
		logger:         logger.Named("submit"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.builder == nil {
		c.builder = txn.NewBuilder(client)
	}
	return c
}

// FeePayer 返回代付方地址。
func (c *Coordinator) FeePayer() codec.AccountAddress { return c.payer.Address() }

type attempt struct {
	c       *Coordinator
	state   State
	call    payload.FunctionID
	sender  codec.AccountAddress
	started time.Time
}

func (a *attempt) move(to State, hash string, err error) {
	t := Transition{
		From:    a.state,
		To:      to,
		Call:    a.call,
		Sender:  a.sender,
		Hash:    hash,
		Err:     err,
		Elapsed: time.Since(a.started),
	}
	a.state = to
	for _, o := range a.c.observers {
		o(t)
	}
}

// BuildAndSubmit 为 p 构建新交易，代付方为主发送方，senders 按给定顺序作为联署方，
// 收齐全部签名后提交。签名不完整的交易不会提交。
//
// 仅当 Result.Succeeded 为 true 时返回的 error 为 nil。
func (c *Coordinator) BuildAndSubmit(ctx context.Context, senders []signer.Signer, p payload.Payload) (Result, error) {
	secondary := make([]codec.AccountAddress, len(senders))
	for i, s := range senders {
		if s == nil {
			return c.reject(xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("sender %d is nil", i)))
		}
		secondary[i] = s.Address()
	}

	a := &attempt{c: c, call: p.Function, started: time.Now()}
	if len(secondary) > 0 {
		a.sender = secondary[0]
	}

	raw, err := c.builder.Build(ctx, c.payer.Address(), secondary, p)
	if err != nil {
		return c.reject(err)
	}
	a.move(StateBuilt, "", nil)

	payerAuth, err := txn.Authenticate(ctx, raw, c.payer)
	if err != nil {
		return a.fail(err)
	}
	a.move(StatePayerAuthenticated, "", nil)

	senderAuths := make([]txn.Authenticator, len(senders))
	for i, s := range senders {
		auth, err := txn.Authenticate(ctx, raw, s)
		if err != nil {
			return a.fail(err)
		}
		senderAuths[i] = auth
	}
	a.move(StateSenderAuthenticated, "", nil)

	if err := ctx.Err(); err != nil {
		return a.fail(err)
	}
	hash, err := c.client.Submit(ctx, raw, payerAuth, senderAuths)
	if err != nil {
		return a.fail(submissionError(err))
	}
	a.move(StateSubmitted, hash, nil)
	c.logger.Info("交易已提交", "hash", hash, "call", string(p.Function), "seq", raw.SequenceNumber)

	if !c.confirm {
		return Result{Hash: hash, State: StateSubmitted}, nil
	}
	return a.await(ctx, hash)
}

// reject 报告交易构建之前发生的失败。
func (c *Coordinator) reject(err error) (Result, error) {
	err = timeoutOr(err)
	return Result{ErrorCode: errorCode(err), Message: errorMessage(err), State: StateFailed}, err
}

func (a *attempt) fail(err error) (Result, error) {
	err = timeoutOr(err)
	hash := xerrors.MetadataOf(err)[MetaHash]
	a.move(StateFailed, hash, err)
	res := Result{ErrorCode: errorCode(err), Message: errorMessage(err), State: StateFailed}
	if e, ok := xerrors.From(err); ok {
		res.VMStatus = e.Metadata()["vm_status"]
	}
	return res, err
}

// await 轮询直到交易离开内存池或等待时间耗尽，节点尚未索引的交易按待处理计。
func (a *attempt) await(ctx context.Context, hash string) (Result, error) {
	c := a.c
	waitCtx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		info, err := c.client.TransactionByHash(waitCtx, hash)
		switch {
		case err == nil && !info.Pending:
			if !info.Success {
				return a.fail(xerrors.New(CodeSubmissionFailure, info.VMStatus,
					xerrors.WithRetryable(false),
					xerrors.WithMetadata(MetaHash, hash),
					xerrors.WithMetadata("vm_status", info.VMStatus)))
			}
			a.move(StateConfirmed, hash, nil)
			c.logger.Info("交易已确认", "hash", hash, "version", info.Version)
			return Result{Hash: hash, State: StateConfirmed, VMStatus: info.VMStatus}, nil
		case err != nil && !xerrors.HasCode(err, xerrors.CodeNotFound) && !isContextErr(err):
			c.logger.Warn("查询交易状态失败", "hash", hash, "error", err)
		}

		select {
		case <-waitCtx.Done():
			// 交易可能仍会上链，调用方不能自动重试。
			return a.fail(xerrors.Wrap(xerrors.CodeTimeout, waitCtx.Err(),
				fmt.Sprintf("transaction %s not confirmed in time", hash),
				xerrors.WithRetryable(false),
				xerrors.WithMetadata(MetaHash, hash)))
		case <-ticker.C:
		}
	}
}

// submissionError 把客户端错误转为 SUBMISSION_FAILURE，保留节点的错误码与原文。
// 除非客户端明确标记交易未发出，否则提交结果视为未知：交易可能已上链，
// 重试会以新序列号再转一次账，因此不可自动重试。
func submissionError(err error) error {
	unsent := xerrors.MetadataOf(err)[chain.MetaDelivery] == chain.DeliveryUnsent
	if isContextErr(err) || xerrors.HasCode(err, xerrors.CodeTimeout) {
		if unsent {
			return timeoutOr(err)
		}
		return xerrors.Wrap(xerrors.CodeTimeout, err, "submission outcome unknown",
			xerrors.WithRetryable(false),
			xerrors.WithMetadata(chain.MetaDelivery, chain.DeliveryUnknown))
	}

	opts := []xerrors.Option{}
	for k, v := range xerrors.MetadataOf(err) {
		opts = append(opts, xerrors.WithMetadata(k, v))
	}
	switch {
	case xerrors.HasCode(err, chain.CodeRejected) || xerrors.HasCode(err, codec.CodeArgumentArityMismatch) ||
		xerrors.HasCode(err, xerrors.CodeInvalidArgument):
		opts = append(opts, xerrors.WithRetryable(false))
	case !unsent:
		opts = append(opts, xerrors.WithRetryable(false),
			xerrors.WithMetadata(chain.MetaDelivery, chain.DeliveryUnknown))
	}
	if _, ok := xerrors.MetadataOf(err)[chain.MetaNodeErrorCode]; !ok {
		opts = append(opts, xerrors.WithMetadata(chain.MetaNodeErrorCode, string(xerrors.CodeOf(err))))
	}
	return xerrors.Wrap(CodeSubmissionFailure, err, errorMessage(err), opts...)
}

func isContextErr(err error) bool {
	return stdErrors.Is(err, context.Canceled) || stdErrors.Is(err, context.DeadlineExceeded)
}

// timeoutOr 把取消映射为 TIMEOUT，已是 TIMEOUT 的错误原样返回。
func timeoutOr(err error) error {
	if isContextErr(err) && !xerrors.HasCode(err, xerrors.CodeTimeout) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, "attempt cancelled")
	}
	return err
}

// errorCode 选出 Result 中的错误码：提交失败取节点的错误码，其他情况取错误自身的错误码。
func errorCode(err error) string {
	if xerrors.HasCode(err, CodeSubmissionFailure) {
		if node := xerrors.MetadataOf(err)[chain.MetaNodeErrorCode]; node != "" {
			return node
		}
	}
	return string(xerrors.CodeOf(err))
}

func errorMessage(err error) string {
	if e, ok := xerrors.From(err); ok {
		return e.Message()
	}
	return err.Error()
}
