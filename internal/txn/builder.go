package txn

import (
	"context"
	"fmt"
	"time"

	"CoSign-Chain/internal/codec"
	xerrors "CoSign-Chain/internal/errors"
	"CoSign-Chain/internal/payload"
)

const (
	DefaultMaxGasAmount = 200_000
	DefaultGasUnitPrice = 100
	DefaultTTL          = 20 * time.Second
)

// SequenceSource 提供原始交易中取自链上的字段。
type SequenceSource interface {
	SequenceNumber(ctx context.Context, addr codec.AccountAddress) (uint64, error)
	ChainID(ctx context.Context) (uint8, error)
}

// Builder 组装 MultiAgentRawTransaction，不保存单次构建的状态，可并发使用。
type Builder struct {
	source       SequenceSource
	maxGasAmount uint64
	gasUnitPrice uint64
	ttl          time.Duration
	now          func() time.Time
}

// Option 定制 Builder。
type Option func(*Builder)

// WithGas 覆盖 gas 上限与单价，传 0 保留默认值。
func WithGas(maxGasAmount, gasUnitPrice uint64) Option {
	return func(b *Builder) {
		if maxGasAmount > 0 {
			b.maxGasAmount = maxGasAmount
		}
		if gasUnitPrice > 0 {
			b.gasUnitPrice = gasUnitPrice
		}
	}
}

// WithTTL 设置交易的过期时长。
func WithTTL(ttl time.Duration) Option {
	return func(b *Builder) {
		if ttl > 0 {
			b.ttl = ttl
		}
	}
}

// WithClock 替换 time.Now，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBuilder 创建从 source 读取序列号与链 ID 的构建器。
func NewBuilder(source SequenceSource, opts ...Option) *Builder {
	b := &Builder{
		source:       source,
		maxGasAmount: DefaultMaxGasAmount,
		gasUnitPrice: DefaultGasUnitPrice,
		ttl:          DefaultTTL,
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Build 组装由 sender 支付手续费、secondary 按给定顺序联署的交易。
// 每次调用都返回新交易，序列号取调用时链上的当前值。
func (b *Builder) Build(ctx context.Context, sender codec.AccountAddress, secondary []codec.AccountAddress, p payload.Payload) (MultiAgentRawTransaction, error) {
	if len(secondary) == 0 {
		return MultiAgentRawTransaction{}, xerrors.New(xerrors.CodeInvalidArgument, "multi-agent transaction needs at least one secondary signer")
	}
	seen := map[codec.AccountAddress]struct{}{sender: {}}
	for _, addr := range secondary {
		if _, dup := seen[addr]; dup {
			return MultiAgentRawTransaction{}, xerrors.New(xerrors.CodeInvalidArgument,
				fmt.Sprintf("signer %s appears more than once", addr))
		}
		seen[addr] = struct{}{}
	}
	if _, err := p.EncodedArgs(); err != nil {
		return MultiAgentRawTransaction{}, err
	}

	seq, err := b.source.SequenceNumber(ctx, sender)
	if err != nil {
		return MultiAgentRawTransaction{}, chainError(err, "fetch sequence number")
	}
	chainID, err := b.source.ChainID(ctx)
	if err != nil {
		return MultiAgentRawTransaction{}, chainError(err, "fetch chain id")
	}

	return MultiAgentRawTransaction{
		RawTransaction: RawTransaction{
			Sender:                  sender,
			SequenceNumber:          seq,
			Payload:                 payload.New(p.Function, p.TypeArgs, p.Args...),
			MaxGasAmount:            b.maxGasAmount,
			GasUnitPrice:            b.gasUnitPrice,
			ExpirationTimestampSecs: uint64(b.now().Add(b.ttl).Unix()),
			ChainID:                 chainID,
		},
		SecondarySigners: append([]codec.AccountAddress(nil), secondary...),
	}, nil
}

func chainError(err error, op string) error {
	if ctxErr := contextError(err); ctxErr != nil {
		return ctxErr
	}
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(xerrors.CodeChainUnavailable, err, op)
}
