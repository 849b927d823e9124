// Package signer 提供为原始交易签名的原语，私钥不会离开 Signer。
package signer

import (
	"context"
	"crypto/ed25519"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/crypto/sha3"

	"CoSign-Chain/internal/codec"
	xerrors "CoSign-Chain/internal/errors"
)

// ed25519Scheme 是推导账户地址时追加在公钥后的单密钥方案字节。
const ed25519Scheme = 0x00

// Signer 代表单个账户为交易签名消息签名。
type Signer interface {
	Address() codec.AccountAddress
	PublicKey() []byte
	Sign(ctx context.Context, message []byte) ([]byte, error)
}

// Ed25519 是进程内的 Ed25519 签名器。
type Ed25519 struct {
	key     ed25519.PrivateKey
	address codec.AccountAddress
}

// NewEd25519 包装私钥。未显式给出地址时由公钥推导，轮换过的密钥沿用原地址。
func NewEd25519(key ed25519.PrivateKey, address *codec.AccountAddress) (*Ed25519, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "ed25519 private key must be 64 bytes")
	}
	s := &Ed25519{key: key}
	if address != nil {
		s.address = *address
	} else {
		s.address = DeriveAddress(key.Public().(ed25519.PublicKey))
	}
	return s, nil
}

// FromHex 解析十六进制的 32 字节种子或 64 字节私钥，0x 前缀可选。
func FromHex(privateKeyHex string) (*Ed25519, error) {
	raw := strings.TrimSpace(privateKeyHex)
	if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
		raw = "0x" + raw
	}
	b, err := hexutil.Decode(raw)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "private key is not valid hex")
	}
	switch len(b) {
	case ed25519.SeedSize:
		return NewEd25519(ed25519.NewKeyFromSeed(b), nil)
	case ed25519.PrivateKeySize:
		return NewEd25519(ed25519.PrivateKey(b), nil)
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "private key must be a 32-byte seed or 64-byte key")
	}
}

// DeriveAddress 计算 sha3-256(public key || scheme)。
func DeriveAddress(pub ed25519.PublicKey) codec.AccountAddress {
	h := sha3.New256()
	h.Write(pub)
	h.Write([]byte{ed25519Scheme})
	var addr codec.AccountAddress
	copy(addr[:], h.Sum(nil))
	return addr
}

// Address 返回账户地址。
func (s *Ed25519) Address() codec.AccountAddress { return s.address }

// PublicKey 返回 32 字节公钥的副本。
func (s *Ed25519) PublicKey() []byte {
	return append([]byte{}, s.key.Public().(ed25519.PublicKey)...)
}

// Sign 为 message 签名，使用私钥前先检查 ctx 是否已取消。
func (s *Ed25519) Sign(ctx context.Context, message []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ed25519.Sign(s.key, message), nil
}

// Verify 用公钥校验签名。
func Verify(publicKey, message, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(publicKey, message, signature)
}
