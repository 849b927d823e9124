package codec

import (
	"strings"

	xerrors "CoSign-Chain/internal/errors"
)

// Tag 标识参数的形状。
type Tag uint8

const (
	TagU8 Tag = iota + 1
	TagU64
	TagAddress
	TagBytes
	TagString
	TagVector
)

// Kind 是参数的期望类型，向量类型携带元素类型。
type Kind struct {
	tag  Tag
	elem *Kind
}

var (
	U8      = Kind{tag: TagU8}
	U64     = Kind{tag: TagU64}
	Address = Kind{tag: TagAddress}
	Bytes   = Kind{tag: TagBytes}
	String  = Kind{tag: TagString}
)

// VectorOf 返回元素类型为 elem 的同构向量类型。
func VectorOf(elem Kind) Kind {
	e := elem
	return Kind{tag: TagVector, elem: &e}
}

func (k Kind) Tag() Tag { return k.tag }

// Elem 返回向量类型的元素类型。
func (k Kind) Elem() (Kind, bool) {
	if k.tag != TagVector || k.elem == nil {
		return Kind{}, false
	}
	return *k.elem, true
}

// Valid 判断 k 是否为完整的类型。
func (k Kind) Valid() bool {
	switch k.tag {
	case TagU8, TagU64, TagAddress, TagBytes, TagString:
		return true
	case TagVector:
		return k.elem != nil && k.elem.Valid()
	default:
		return false
	}
}

// Equal 按结构比较两个类型。
func (k Kind) Equal(other Kind) bool {
	if k.tag != other.tag {
		return false
	}
	if k.tag != TagVector {
		return true
	}
	if k.elem == nil || other.elem == nil {
		return k.elem == other.elem
	}
	return k.elem.Equal(*other.elem)
}

// width 返回定长类型的编码长度。
func (k Kind) width() (int, bool) {
	switch k.tag {
	case TagU8:
		return 1, true
	case TagU64:
		return 8, true
	case TagAddress:
		return AddressLength, true
	default:
		return 0, false
	}
}

func (k Kind) String() string {
	switch k.tag {
	case TagU8:
		return "u8"
	case TagU64:
		return "u64"
	case TagAddress:
		return "address"
	case TagBytes:
		return "bytes"
	case TagString:
		return "string"
	case TagVector:
		if k.elem == nil {
			return "vector<?>"
		}
		return "vector<" + k.elem.String() + ">"
	default:
		return "invalid"
	}
}

// ParseKind 解析 Kind.String 产出的文本，例如 "vector<address>"。
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "u8":
		return U8, nil
	case "u64":
		return U64, nil
	case "address":
		return Address, nil
	case "bytes":
		return Bytes, nil
	case "string":
		return String, nil
	}
	if strings.HasPrefix(s, "vector<") && strings.HasSuffix(s, ">") {
		elem, err := ParseKind(s[len("vector<") : len(s)-1])
		if err != nil {
			return Kind{}, err
		}
		return VectorOf(elem), nil
	}
	return Kind{}, xerrors.Newf(xerrors.CodeInvalidArgument, "unknown argument kind %q", s)
}
