package codec

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	xerrors "CoSign-Chain/internal/errors"
)

// AddressLength 是账户地址的字节数。
const AddressLength = 32

// AccountAddress 是 32 字节的大端账户地址。
type AccountAddress [AddressLength]byte

// ParseAddress 解析带或不带 0x 前缀的十六进制地址，"0x1" 这类短地址左侧补零到 32 字节。
func ParseAddress(s string) (AccountAddress, error) {
	var addr AccountAddress
	raw := strings.TrimSpace(s)
	if len(raw) >= 2 && (raw[:2] == "0x" || raw[:2] == "0X") {
		raw = raw[2:]
	}
	if raw == "" {
		return addr, xerrors.New(CodeMalformedAddress, "empty address", xerrors.WithMetadata("input", s))
	}
	if len(raw)%2 == 1 {
		raw = "0" + raw
	}
	if len(raw)/2 > AddressLength {
		return addr, xerrors.New(CodeMalformedAddress,
			fmt.Sprintf("address decodes to %d bytes, max %d", len(raw)/2, AddressLength),
			xerrors.WithMetadata("input", s))
	}
	b, err := hexutil.Decode("0x" + raw)
	if err != nil {
		return addr, xerrors.Wrap(CodeMalformedAddress, err, "address is not valid hex", xerrors.WithMetadata("input", s))
	}
	copy(addr[AddressLength-len(b):], b)
	return addr, nil
}

// MustParseAddress 用于常量，解析失败时 panic。
func MustParseAddress(s string) AccountAddress {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// AddressFromBytes 要求输入恰好 32 字节。
func AddressFromBytes(b []byte) (AccountAddress, error) {
	var addr AccountAddress
	if len(b) != AddressLength {
		return addr, xerrors.New(CodeMalformedAddress,
			fmt.Sprintf("address must be %d bytes, got %d", AddressLength, len(b)))
	}
	copy(addr[:], b)
	return addr, nil
}

// Bytes 返回地址字节的副本。
func (a AccountAddress) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a[:])
	return out
}

// Hex 返回规范形式：0x 加 64 位小写十六进制。
func (a AccountAddress) Hex() string { return hexutil.Encode(a[:]) }

func (a AccountAddress) String() string { return a.Hex() }

// IsZero 判断是否为全零地址。
func (a AccountAddress) IsZero() bool { return a == AccountAddress{} }

func (a AccountAddress) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

func (a *AccountAddress) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
