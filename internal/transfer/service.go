// Package transfer 是提交协调器之上的业务层，负责代币注册、多收款人转账、徽章操作、
// 账户查询，以及联署前对原始交易的解析展示。
package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"math/bits"
	"strings"

	"CoSign-Chain/internal/chain"
	"CoSign-Chain/internal/codec"
	xerrors "CoSign-Chain/internal/errors"
	"CoSign-Chain/internal/payload"
	"CoSign-Chain/internal/signer"
	"CoSign-Chain/internal/submit"
	"CoSign-Chain/pkg/logger"
)

// CodePreconditionFailed 表示链上状态使操作无需提交，原因放在元数据中。
const CodePreconditionFailed xerrors.Code = "PRECONDITION_FAILED"

// 前置条件失败原因。
const (
	ReasonInsufficientBalance   = "insufficient_balance"
	ReasonSenderUnregistered    = "sender_unregistered"
	ReasonRecipientUnregistered = "recipient_unregistered"
)

// MetaReason 是前置条件失败原因的元数据键。
const MetaReason = "reason"

// DefaultRegistrationMemo 用于未填写备注的注册。
const DefaultRegistrationMemo = "CoSign-Chain coin registration"

func init() {
	xerrors.Register(CodePreconditionFailed, xerrors.Attributes{
		Message:  "precondition failed",
		Severity: xerrors.SeverityInfo,
	})
}

// Submitter 执行一次构建并提交。
type Submitter interface {
	BuildAndSubmit(ctx context.Context, senders []signer.Signer, p payload.Payload) (submit.Result, error)
	FeePayer() codec.AccountAddress
}

// Service 在单条链上执行请求。
type Service struct {
	client    chain.Client
	submitter Submitter
	keyring   *signer.Keyring
	catalog   *payload.Catalog
	coinType  string
	logger    *slog.Logger
}

// Option 定制 Service。
type Option func(*Service)

// WithLogger 覆盖组件日志器。
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService 组装服务，coinType 是注册、余额与转账使用的完整代币结构标签。
func NewService(client chain.Client, submitter Submitter, keyring *signer.Keyring, catalog *payload.Catalog, coinType string, opts ...Option) (*Service, error) {
	if client == nil || submitter == nil || catalog == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "transfer service requires client, submitter and catalog")
	}
	if strings.TrimSpace(coinType) == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "coin type is required")
	}
	if keyring == nil {
		keyring = signer.NewKeyring()
	}
	s := &Service{
		client:    client,
		submitter: submitter,
		keyring:   keyring,
		catalog:   catalog,
		coinType:  coinType,
		logger:    logger.Named("transfer"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// CoinType 返回配置的代币类型标签。
func (s *Service) CoinType() string { return s.coinType }

// Catalog 返回构建与解码使用的函数目录。
func (s *Service) Catalog() *payload.Catalog { return s.catalog }

// FeePayer 返回为每笔交易代付手续费的账户。
func (s *Service) FeePayer() codec.AccountAddress { return s.submitter.FeePayer() }

// Payload 为 req 构建入口函数负载，不访问链。
func (s *Service) Payload(req Request) (payload.Payload, error) {
	if err := req.Validate(); err != nil {
		return payload.Payload{}, err
	}
	switch req.Action {
	case ActionRegister:
		memo := req.Memo
		if memo == "" {
			memo = DefaultRegistrationMemo
		}
		return s.catalog.Build(payload.CallRegisterToken, []string{s.coinType}, codec.NewString(memo))
	case ActionTransfer:
		receivers, amounts, commissions, err := codec.TransferVectors(req.Transfers)
		if err != nil {
			return payload.Payload{}, err
		}
		return s.catalog.Build(payload.CallTransferCoinMultiple, []string{s.coinType},
			receivers, amounts, commissions, codec.NewString(req.Memo))
	case ActionMintBadge:
		return s.catalog.Build(payload.CallMintBadge, nil,
			codec.NewAddress(req.Sender), codec.NewString(req.BadgeName), codec.NewString(req.BadgeURI), codec.NewU8(req.Level))
	case ActionUpgradeBadge:
		return s.catalog.Build(payload.CallUpgradeBadge, nil,
			codec.NewAddress(req.Sender), codec.NewString(req.BadgeName), codec.NewU8(req.Level))
	default:
		return payload.Payload{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unknown action %q", req.Action))
	}
}

// Check 按当前链上状态校验 req。
func (s *Service) Check(ctx context.Context, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	switch req.Action {
	case ActionRegister:
		registered, err := s.client.IsRegistered(ctx, req.Sender, s.coinType)
		if err != nil {
			return err
		}
		if registered {
			return xerrors.New(xerrors.CodeConflict, fmt.Sprintf("账户 %s 已注册 %s", req.Sender, s.coinType))
		}
	case ActionTransfer:
		return s.checkTransfer(ctx, req)
	}
	return nil
}

func (s *Service) checkTransfer(ctx context.Context, req Request) error {
	total, err := TotalAmount(req.Transfers)
	if err != nil {
		return err
	}

	registered, err := s.client.IsRegistered(ctx, req.Sender, s.coinType)
	if err != nil {
		return err
	}
	if !registered {
		return precondition(ReasonSenderUnregistered, fmt.Sprintf("发送方 %s 未注册代币", req.Sender))
	}

	balance, err := s.client.Balance(ctx, req.Sender, s.coinType)
	if err != nil {
		return err
	}
	if balance < total {
		return precondition(ReasonInsufficientBalance,
			fmt.Sprintf("余额不足: 需要 %d, 可用 %d", total, balance),
			xerrors.WithMetadata("required", fmt.Sprint(total)),
			xerrors.WithMetadata("balance", fmt.Sprint(balance)))
	}

	seen := make(map[codec.AccountAddress]struct{}, len(req.Transfers))
	for _, rec := range req.Transfers {
		if _, ok := seen[rec.Receiver]; ok {
			continue
		}
		seen[rec.Receiver] = struct{}{}
		ok, err := s.client.IsRegistered(ctx, rec.Receiver, s.coinType)
		if err != nil {
			return err
		}
		if !ok {
			return precondition(ReasonRecipientUnregistered,
				fmt.Sprintf("接收方 %s 未注册代币", rec.Receiver),
				xerrors.WithMetadata("receiver", rec.Receiver.Hex()))
		}
	}
	return nil
}

// TotalAmount 汇总记录金额，佣金从各自金额中扣除，不额外累加。
func TotalAmount(records []codec.TransferRecord) (uint64, error) {
	var total uint64
	for _, rec := range records {
		sum, carry := bits.Add64(total, rec.Amount, 0)
		if carry != 0 {
			return 0, xerrors.New(codec.CodeRangeError, "transfer total exceeds u64")
		}
		total = sum
	}
	return total, nil
}

func precondition(reason, message string, opts ...xerrors.Option) error {
	opts = append([]xerrors.Option{xerrors.WithMetadata(MetaReason, reason)}, opts...)
	return xerrors.New(CodePreconditionFailed, message, opts...)
}

// Execute 执行一次 req：校验、检查前置条件，再构建并提交由发送方托管密钥联署的新交易。
func (s *Service) Execute(ctx context.Context, req Request) (*Outcome, error) {
	p, err := s.Payload(req)
	if err != nil {
		return nil, err
	}
	sender, ok := s.keyring.Lookup(req.Sender)
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("账户 %s 没有可用的签名密钥", req.Sender))
	}
	if err := s.Check(ctx, req); err != nil {
		return nil, err
	}

	res, err := s.submitter.BuildAndSubmit(ctx, []signer.Signer{sender}, p)
	if err != nil {
		s.logger.Warn("提交失败",
			"action", string(req.Action),
			"sender", req.Sender.Hex(),
			"state", string(res.State),
			"error_code", res.ErrorCode,
			"error", err)
		return nil, err
	}
	s.logger.Info("提交成功",
		"action", string(req.Action),
		"sender", req.Sender.Hex(),
		"hash", res.Hash,
		"state", string(res.State))
	return &Outcome{
		Hash:     res.Hash,
		State:    string(res.State),
		VMStatus: res.VMStatus,
		FeePayer: s.submitter.FeePayer().Hex(),
	}, nil
}

// AccountState 是单个账户的代币视图。
type AccountState struct {
	Address        codec.AccountAddress `json:"address"`
	Exists         bool                 `json:"exists"`
	SequenceNumber uint64               `json:"sequence_number,string"`
	Registered     bool                 `json:"registered"`
	Balance        uint64               `json:"balance,string"`
	CoinType       string               `json:"coin_type"`
}

// Account 返回 addr 是否存在、是否注册以及余额。
func (s *Service) Account(ctx context.Context, addr codec.AccountAddress) (*AccountState, error) {
	state := &AccountState{Address: addr, CoinType: s.coinType}
	info, err := s.client.AccountInfo(ctx, addr)
	switch {
	case err == nil:
		state.Exists = true
		state.SequenceNumber = info.SequenceNumber
	case xerrors.HasCode(err, chain.CodeAccountNotFound):
		return state, nil
	default:
		return nil, err
	}

	registered, err := s.client.IsRegistered(ctx, addr, s.coinType)
	if err != nil {
		return nil, err
	}
	state.Registered = registered
	if !registered {
		return state, nil
	}
	balance, err := s.client.Balance(ctx, addr, s.coinType)
	if err != nil {
		return nil, err
	}
	state.Balance = balance
	return state, nil
}
