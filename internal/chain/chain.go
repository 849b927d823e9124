package chain

import (
	"context"

	"CoSign-Chain/internal/codec"
	xerrors "CoSign-Chain/internal/errors"
	"CoSign-Chain/internal/txn"
)

// Chain client error codes.
const (
	// CodeRejected means the node received the transaction and refused it.
	// The node's own error code and message travel as metadata.
	CodeRejected xerrors.Code = "TRANSACTION_REJECTED"
	// CodeAccountNotFound means the account has never been created on chain.
	CodeAccountNotFound xerrors.Code = "ACCOUNT_NOT_FOUND"
)

// Metadata keys attached to chain client errors.
const (
	MetaNodeErrorCode = "node_error_code"
	MetaVMErrorCode   = "vm_error_code"
	MetaHTTPStatus    = "http_status"
	// MetaDelivery tells whether a failed Submit may have reached the node.
	MetaDelivery      = "delivery"
)

// Values of MetaDelivery.
const (
	// DeliveryUnsent means no request bytes left the process; retrying is safe.
	DeliveryUnsent  = "unsent"
	// DeliveryUnknown means the node may have accepted the transaction.
	DeliveryUnknown = "unknown"
)

func init() {
	xerrors.Register(CodeRejected, xerrors.Attributes{
		Message:  "transaction rejected by node",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeAccountNotFound, xerrors.Attributes{
		Message:  "account not found",
		Severity: xerrors.SeverityInfo,
	})
}

// AccountInfo is the on-chain account header.
type AccountInfo struct {
	Address           codec.AccountAddress `json:"address"`
	SequenceNumber    uint64               `json:"sequence_number,string"`
	AuthenticationKey string               `json:"authentication_key"`
}

// TransactionInfo is the state of a submitted transaction.
type TransactionInfo struct {
	Hash     string `json:"hash"`
	Pending  bool   `json:"pending"`
	Success  bool   `json:"success"`
	VMStatus string `json:"vm_status,omitempty"`
	Version  uint64 `json:"version,omitempty,string"`
}

// Client is the chain capability the coordinator and services depend on.
// A Submit error that may have reached the node carries MetaDelivery
// DeliveryUnknown; callers must not resubmit blindly in that case.
type Client interface {
	txn.SequenceSource

	AccountInfo(ctx context.Context, addr codec.AccountAddress) (AccountInfo, error)
	Balance(ctx context.Context, addr codec.AccountAddress, coinType string) (uint64, error)
	IsRegistered(ctx context.Context, addr codec.AccountAddress, coinType string) (bool, error)
	// Submit sends the signed multi-agent transaction and returns its hash.
	// senders line up with raw.SecondarySigners.
	Submit(ctx context.Context, raw txn.MultiAgentRawTransaction, payer txn.Authenticator, senders []txn.Authenticator) (string, error)
	TransactionByHash(ctx context.Context, hash string) (TransactionInfo, error)
	Close()
}
