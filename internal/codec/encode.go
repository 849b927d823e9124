package codec

import (
	"encoding/binary"
	"fmt"

	xerrors "CoSign-Chain/internal/errors"
)

// Encode 序列化单个参数。
func Encode(arg Argument) ([]byte, error) {
	return appendArgument(make([]byte, 0, encodedSizeHint(arg)), arg)
}

// EncodeAll 按顺序分别序列化每个参数，即入口函数负载在链上携带的形式。
func EncodeAll(args []Argument) ([][]byte, error) {
	out := make([][]byte, len(args))
	for i, arg := range args {
		b, err := Encode(arg)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeOf(err), err, fmt.Sprintf("encode argument %d", i))
		}
		out[i] = b
	}
	return out, nil
}

func appendArgument(dst []byte, arg Argument) ([]byte, error) {
	switch arg.kind.tag {
	case TagU8:
		return append(dst, arg.u8), nil
	case TagU64:
		return binary.LittleEndian.AppendUint64(dst, arg.u64), nil
	case TagAddress:
		return append(dst, arg.addr[:]...), nil
	case TagBytes:
		return appendPrefixed(dst, arg.raw)
	case TagString:
		return appendPrefixed(dst, []byte(arg.str))
	case TagVector:
		if len(arg.elems) > MaxPrefixed {
			return nil, xerrors.New(CodeLengthOverflow,
				fmt.Sprintf("vector has %d elements, max %d", len(arg.elems), MaxPrefixed))
		}
		dst = append(dst, byte(len(arg.elems)))
		var err error
		for i, elem := range arg.elems {
			if dst, err = appendArgument(dst, elem); err != nil {
				return nil, xerrors.Wrap(xerrors.CodeOf(err), err, fmt.Sprintf("element %d", i))
			}
		}
		return dst, nil
	default:
		return nil, xerrors.New(CodeMalformedArgument, "argument has no kind")
	}
}

func appendPrefixed(dst, payload []byte) ([]byte, error) {
	if len(payload) > MaxPrefixed {
		return nil, xerrors.New(CodeLengthOverflow,
			fmt.Sprintf("payload is %d bytes, max %d", len(payload), MaxPrefixed),
			xerrors.WithMetadata("length", fmt.Sprint(len(payload))))
	}
	dst = append(dst, byte(len(payload)))
	return append(dst, payload...), nil
}

func encodedSizeHint(arg Argument) int {
	if w, ok := arg.kind.width(); ok {
		return w
	}
	switch arg.kind.tag {
	case TagBytes:
		return 1 + len(arg.raw)
	case TagString:
		return 1 + len(arg.str)
	case TagVector:
		if elem, ok := arg.kind.Elem(); ok {
			if w, fixed := elem.width(); fixed {
				return 1 + w*len(arg.elems)
			}
		}
	}
	return 16
}
