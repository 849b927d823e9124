package codec

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	xerrors "CoSign-Chain/internal/errors"
)

// Decode 把 data 解析为恰好一个指定类型的参数。编码中没有类型标记，必须给出 kind，解码器不做猜测。
func Decode(data []byte, kind Kind) (Argument, error) {
	arg, n, err := DecodePrefix(data, kind)
	if err != nil {
		return Argument{}, err
	}
	if n != len(data) {
		return Argument{}, xerrors.New(CodeMalformedArgument,
			fmt.Sprintf("%d trailing bytes after %s", len(data)-n, kind))
	}
	return arg, nil
}

// DecodePrefix 从 data 开头解析一个参数，并返回消耗的字节数。
func DecodePrefix(data []byte, kind Kind) (Argument, int, error) {
	if !kind.Valid() {
		return Argument{}, 0, xerrors.New(CodeMalformedArgument, "invalid expected kind")
	}
	r := &reader{buf: data}
	arg, err := r.read(kind)
	if err != nil {
		return Argument{}, 0, err
	}
	return arg, r.pos, nil
}

// DecodeAll 按 schema 逐个解码参数。
func DecodeAll(args [][]byte, schema []Kind) ([]Argument, error) {
	if len(args) != len(schema) {
		return nil, xerrors.New(CodeArgumentArityMismatch,
			fmt.Sprintf("got %d arguments, schema expects %d", len(args), len(schema)))
	}
	out := make([]Argument, len(args))
	for i := range args {
		arg, err := Decode(args[i], schema[i])
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeOf(err), err, fmt.Sprintf("decode argument %d as %s", i, schema[i]))
		}
		out[i] = arg
	}
	return out, nil
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) take(n int, what string) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, xerrors.New(CodeMalformedArgument,
			fmt.Sprintf("truncated %s: need %d bytes at offset %d, have %d", what, n, r.pos, len(r.buf)-r.pos))
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) prefix(what string) (int, error) {
	b, err := r.take(1, what+" prefix")
	if err != nil {
		return 0, err
	}
	return int(b[0]), nil
}

func (r *reader) read(kind Kind) (Argument, error) {
	switch kind.tag {
	case TagU8:
		b, err := r.take(1, "u8")
		if err != nil {
			return Argument{}, err
		}
		return NewU8(b[0]), nil
	case TagU64:
		b, err := r.take(8, "u64")
		if err != nil {
			return Argument{}, err
		}
		return NewU64(binary.LittleEndian.Uint64(b)), nil
	case TagAddress:
		b, err := r.take(AddressLength, "address")
		if err != nil {
			return Argument{}, err
		}
		var addr AccountAddress
		copy(addr[:], b)
		return NewAddress(addr), nil
	case TagBytes:
		n, err := r.prefix("bytes")
		if err != nil {
			return Argument{}, err
		}
		b, err := r.take(n, "bytes")
		if err != nil {
			return Argument{}, err
		}
		return NewBytes(b), nil
	case TagString:
		n, err := r.prefix("string")
		if err != nil {
			return Argument{}, err
		}
		b, err := r.take(n, "string")
		if err != nil {
			return Argument{}, err
		}
		if !utf8.Valid(b) {
			return Argument{}, xerrors.New(CodeMalformedArgument, "string is not valid UTF-8")
		}
		return NewString(string(b)), nil
	case TagVector:
		elem := *kind.elem
		count, err := r.prefix("vector")
		if err != nil {
			return Argument{}, err
		}
		if w, fixed := elem.width(); fixed && r.pos+count*w > len(r.buf) {
			return Argument{}, xerrors.New(CodeMalformedArgument,
				fmt.Sprintf("vector<%s> declares %d elements but only %d bytes follow", elem, count, len(r.buf)-r.pos))
		}
		items := make([]Argument, count)
		for i := 0; i < count; i++ {
			if items[i], err = r.read(elem); err != nil {
				return Argument{}, xerrors.Wrap(xerrors.CodeOf(err), err, fmt.Sprintf("element %d", i))
			}
		}
		return Argument{kind: VectorOf(elem), elems: items}, nil
	default:
		return Argument{}, xerrors.New(CodeMalformedArgument, "invalid expected kind")
	}
}
