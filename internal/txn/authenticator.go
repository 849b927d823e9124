package txn

import (
	"context"
	"crypto/ed25519"
	stdErrors "errors"
	"fmt"

	"github.com/aptos-labs/aptos-go-sdk/bcs"

	"CoSign-Chain/internal/codec"
	xerrors "CoSign-Chain/internal/errors"
	"CoSign-Chain/internal/signer"
)

// CodeSigningFailure 表示签名器无法产出签名。
const CodeSigningFailure xerrors.Code = "SIGNING_FAILURE"

func init() {
	xerrors.Register(CodeSigningFailure, xerrors.Attributes{
		Message:  "signing failed",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
}

const (
	accountAuthEd25519   = 0
	transactionAuthMulti = 2
)

// Authenticator 是一方对签名消息的签名，只对应一次交易尝试。
type Authenticator struct {
	Signer    codec.AccountAddress
	PublicKey []byte
	Signature []byte
}

// MarshalBCS 写出 AccountAuthenticator::Ed25519。
func (a Authenticator) MarshalBCS(ser *bcs.Serializer) {
	ser.Uleb128(accountAuthEd25519)
	ser.WriteBytes(a.PublicKey)
	ser.WriteBytes(a.Signature)
}

// Verify 判断签名是否覆盖 raw 的签名消息。
func (a Authenticator) Verify(raw MultiAgentRawTransaction) bool {
	msg, err := raw.SigningMessage()
	if err != nil {
		return false
	}
	return signer.Verify(a.PublicKey, msg, a.Signature)
}

// Authenticate 用 s 对 raw 的签名消息签名。包括取消在内的失败都报告为
// SIGNING_FAILURE，原因保留在错误链中，调用方仍可判断 context 错误。
func Authenticate(ctx context.Context, raw MultiAgentRawTransaction, s signer.Signer) (Authenticator, error) {
	if s == nil {
		return Authenticator{}, xerrors.New(CodeSigningFailure, "no signer supplied")
	}
	msg, err := raw.SigningMessage()
	if err != nil {
		return Authenticator{}, xerrors.Wrap(CodeSigningFailure, err, "build signing message")
	}
	sig, err := s.Sign(ctx, msg)
	if err != nil {
		return Authenticator{}, xerrors.Wrap(CodeSigningFailure, err,
			fmt.Sprintf("signer %s failed", s.Address()))
	}
	if len(sig) != ed25519.SignatureSize {
		return Authenticator{}, xerrors.New(CodeSigningFailure,
			fmt.Sprintf("signer %s returned %d-byte signature", s.Address(), len(sig)))
	}
	return Authenticator{
		Signer:    s.Address(),
		PublicKey: s.PublicKey(),
		Signature: sig,
	}, nil
}

// SignedTransaction 序列化提交体：原始交易加 TransactionAuthenticator::MultiAgent。
// senders 须与 raw.SecondarySigners 逐槽对应。
func SignedTransaction(raw MultiAgentRawTransaction, payer Authenticator, senders []Authenticator) ([]byte, error) {
	if payer.Signer != raw.Sender {
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("payer authenticator is for %s, transaction sender is %s", payer.Signer, raw.Sender))
	}
	if len(senders) != len(raw.SecondarySigners) {
		return nil, xerrors.New(codec.CodeArgumentArityMismatch,
			fmt.Sprintf("%d secondary signers but %d authenticators", len(raw.SecondarySigners), len(senders)))
	}
	for i, auth := range senders {
		if auth.Signer != raw.SecondarySigners[i] {
			return nil, xerrors.New(xerrors.CodeInvalidArgument,
				fmt.Sprintf("authenticator %d is for %s, slot expects %s", i, auth.Signer, raw.SecondarySigners[i]))
		}
	}

	return bcs.Serialize(signedTransaction{raw: raw, payer: payer, senders: senders})
}

type signedTransaction struct {
	raw     MultiAgentRawTransaction
	payer   Authenticator
	senders []Authenticator
}

func (t signedTransaction) MarshalBCS(ser *bcs.Serializer) {
	t.raw.RawTransaction.MarshalBCS(ser)
	ser.Uleb128(transactionAuthMulti)
	t.payer.MarshalBCS(ser)
	serializeAddresses(ser, t.raw.SecondarySigners)
	ser.Uleb128(uint32(len(t.senders)))
	for _, auth := range t.senders {
		auth.MarshalBCS(ser)
	}
}

// contextError 把 context 取消与超时映射为 TIMEOUT。
func contextError(err error) error {
	if stdErrors.Is(err, context.Canceled) || stdErrors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, "operation cancelled")
	}
	return nil
}
