package transfer

import (
	"fmt"
	"strings"

	"CoSign-Chain/internal/codec"
	xerrors "CoSign-Chain/internal/errors"
)

// Action 是服务执行的操作名。
type Action string

const (
	ActionRegister     Action = "register"
	ActionTransfer     Action = "transfer"
	ActionMintBadge    Action = "mint_badge"
	ActionUpgradeBadge Action = "upgrade_badge"
)

// Valid 判断 a 是否为已知操作。
func (a Action) Valid() bool {
	switch a {
	case ActionRegister, ActionTransfer, ActionMintBadge, ActionUpgradeBadge:
		return true
	default:
		return false
	}
}

// Request 完整描述一次联署操作，随任务持久化，每次尝试都重新执行。
type Request struct {
	Action Action `json:"action"`
	// Sender is the user account that co-signs as secondary signer.
	Sender    codec.AccountAddress   `json:"sender"`
	Transfers []codec.TransferRecord `json:"transfers,omitempty"`
	Memo      string                 `json:"memo,omitempty"`

	// Badge fields. The badge owner is always Sender.
	BadgeName string `json:"badge_name,omitempty"`
	BadgeURI  string `json:"badge_uri,omitempty"`
	Level     uint8  `json:"level,omitempty"`
}

// Validate 检查请求格式，不查询链上状态。
func (r Request) Validate() error {
	if !r.Action.Valid() {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unknown action %q", r.Action))
	}
	if r.Sender.IsZero() {
		return xerrors.New(xerrors.CodeInvalidArgument, "sender is required")
	}
	switch r.Action {
	case ActionTransfer:
		if len(r.Transfers) == 0 {
			return xerrors.New(xerrors.CodeInvalidArgument, "at least one transfer is required")
		}
		if len(r.Transfers) > codec.MaxPrefixed {
			return xerrors.New(codec.CodeLengthOverflow,
				fmt.Sprintf("%d transfers exceed the %d recipient limit", len(r.Transfers), codec.MaxPrefixed))
		}
		for i, rec := range r.Transfers {
			if rec.Receiver.IsZero() {
				return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("transfer %d has no receiver", i))
			}
			if rec.Receiver == r.Sender {
				return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("transfer %d sends to the sender", i))
			}
			if rec.Amount == 0 {
				return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("transfer %d has zero amount", i))
			}
			if rec.Commission > rec.Amount {
				return xerrors.New(xerrors.CodeInvalidArgument,
					fmt.Sprintf("transfer %d commission %d exceeds amount %d", i, rec.Commission, rec.Amount))
			}
		}
	case ActionMintBadge, ActionUpgradeBadge:
		if strings.TrimSpace(r.BadgeName) == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "badge name is required")
		}
		if r.Action == ActionMintBadge && strings.TrimSpace(r.BadgeURI) == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "badge uri is required")
		}
	}
	return nil
}

// StateAlreadyRegistered 表示注册时 CoinStore 已存在，未提交任何交易。
const StateAlreadyRegistered = "ALREADY_REGISTERED"

// Outcome 是成功尝试的结果。
type Outcome struct {
	Hash     string `json:"hash"`
	State    string `json:"state"`
	VMStatus string `json:"vm_status,omitempty"`
	FeePayer string `json:"fee_payer"`
}
