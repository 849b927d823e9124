package codec

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/math"

	xerrors "CoSign-Chain/internal/errors"
)

// MaxPrefixed 是单字节前缀能表示的最大长度或元素个数。
const MaxPrefixed = 255

// Argument 是带类型的调用参数。零值无效，须通过构造函数创建。
type Argument struct {
	kind  Kind
	u8    uint8
	u64   uint64
	addr  AccountAddress
	raw   []byte
	str   string
	elems []Argument
}

func NewU8(v uint8) Argument { return Argument{kind: U8, u8: v} }

func NewU64(v uint64) Argument { return Argument{kind: U64, u64: v} }

func NewAddress(a AccountAddress) Argument { return Argument{kind: Address, addr: a} }

// NewBytes 创建字节向量参数，会复制传入的切片。
func NewBytes(b []byte) Argument {
	return Argument{kind: Bytes, raw: append([]byte{}, b...)}
}

// NewString 创建 UTF-8 字符串参数。
func NewString(s string) Argument { return Argument{kind: String, str: s} }

// U64FromBig 把 v 转为 u64 参数，v 为负数或超过 64 位时返回 RANGE_ERROR。
func U64FromBig(v *big.Int) (Argument, error) {
	if v == nil {
		return Argument{}, xerrors.New(CodeRangeError, "nil integer")
	}
	if v.Sign() < 0 || !v.IsUint64() {
		return Argument{}, xerrors.New(CodeRangeError,
			fmt.Sprintf("%s does not fit in u64", v.String()),
			xerrors.WithMetadata("value", v.String()))
	}
	return NewU64(v.Uint64()), nil
}

// ParseU64 解析十进制或 0x 前缀的十六进制字符串。
func ParseU64(s string) (Argument, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Argument{}, xerrors.New(CodeRangeError, "empty integer")
	}
	v, ok := math.ParseBig256(s)
	if !ok {
		return Argument{}, xerrors.New(CodeRangeError, fmt.Sprintf("%q is not an integer below 2^256", s),
			xerrors.WithMetadata("value", s))
	}
	return U64FromBig(v)
}

// NewVector 创建元素类型为 elem 的向量，每个元素都必须是 elem 类型。
func NewVector(elem Kind, items ...Argument) (Argument, error) {
	if !elem.Valid() {
		return Argument{}, xerrors.New(CodeMalformedArgument, "invalid vector element kind")
	}
	if len(items) > MaxPrefixed {
		return Argument{}, xerrors.New(CodeLengthOverflow,
			fmt.Sprintf("vector has %d elements, max %d", len(items), MaxPrefixed))
	}
	elems := make([]Argument, len(items))
	for i, item := range items {
		if !item.kind.Equal(elem) {
			return Argument{}, xerrors.New(CodeMalformedArgument,
				fmt.Sprintf("vector<%s> element %d has kind %s", elem, i, item.kind))
		}
		elems[i] = item
	}
	return Argument{kind: VectorOf(elem), elems: elems}, nil
}

// AddressVector 构造 vector<address>。
func AddressVector(addrs ...AccountAddress) (Argument, error) {
	items := make([]Argument, len(addrs))
	for i, a := range addrs {
		items[i] = NewAddress(a)
	}
	return NewVector(Address, items...)
}

// U64Vector 构造 vector<u64>。
func U64Vector(values ...uint64) (Argument, error) {
	items := make([]Argument, len(values))
	for i, v := range values {
		items[i] = NewU64(v)
	}
	return NewVector(U64, items...)
}

// Kind 返回参数类型。
func (a Argument) Kind() Kind { return a.kind }

func (a Argument) Uint8() uint8 { return a.u8 }

func (a Argument) Uint64() uint64 { return a.u64 }

func (a Argument) AccountAddress() AccountAddress { return a.addr }

// Raw 返回 bytes 参数内容的副本，字符串参数返回其 UTF-8 字节。
func (a Argument) Raw() []byte {
	if a.kind.tag == TagString {
		return []byte(a.str)
	}
	return append([]byte{}, a.raw...)
}

func (a Argument) Str() string { return a.str }

// Elements 返回向量参数的元素。
func (a Argument) Elements() []Argument {
	return append([]Argument(nil), a.elems...)
}

// Len 返回向量参数的元素个数。
func (a Argument) Len() int { return len(a.elems) }

// Equal 比较类型与取值。
func (a Argument) Equal(b Argument) bool {
	if !a.kind.Equal(b.kind) {
		return false
	}
	switch a.kind.tag {
	case TagU8:
		return a.u8 == b.u8
	case TagU64:
		return a.u64 == b.u64
	case TagAddress:
		return a.addr == b.addr
	case TagBytes:
		return bytes.Equal(a.raw, b.raw)
	case TagString:
		return a.str == b.str
	case TagVector:
		if len(a.elems) != len(b.elems) {
			return false
		}
		for i := range a.elems {
			if !a.elems[i].Equal(b.elems[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Interface 返回适合 JSON 输出的取值。
func (a Argument) Interface() any {
	switch a.kind.tag {
	case TagU8:
		return a.u8
	case TagU64:
		return fmt.Sprintf("%d", a.u64)
	case TagAddress:
		return a.addr.Hex()
	case TagBytes:
		return fmt.Sprintf("0x%x", a.raw)
	case TagString:
		return a.str
	case TagVector:
		out := make([]any, len(a.elems))
		for i, e := range a.elems {
			out[i] = e.Interface()
		}
		return out
	default:
		return nil
	}
}

func (a Argument) String() string {
	return fmt.Sprintf("%s(%v)", a.kind, a.Interface())
}
