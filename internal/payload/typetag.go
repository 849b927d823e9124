package payload

import (
	"fmt"
	"strings"

	"github.com/aptos-labs/aptos-go-sdk/bcs"

		"CoSign-Chain/internal/codec"
	xerrors "CoSign-Chain/internal/errors"
)

// 链上 TypeTag 的变体序号。
const (
	tagBool    = 0
	tagU8      = 1
	tagU64     = 2
	tagU128    = 3
	tagAddress = 4
	tagSigner  = 5
	tagVector  = 6
	tagStruct  = 7
	tagU16     = 8
	tagU32     = 9
	tagU256    = 10
)

var primitiveTags = map[string]uint32{
	"bool":    tagBool,
	"u8":      tagU8,
	"u16":     tagU16,
	"u32":     tagU32,
	"u64":     tagU64,
	"u128":    tagU128,
	"u256":    tagU256,
	"address": tagAddress,
	"signer":  tagSigner,
}

func serializeTypeTag(s *bcs.Serializer, tag string) error {
	tag = strings.TrimSpace(tag)
	if v, ok := primitiveTags[tag]; ok {
		s.Uleb128(v)
		return nil
	}
	if strings.HasPrefix(tag, "vector<") && strings.HasSuffix(tag, ">") {
		s.Uleb128(tagVector)
		return serializeTypeTag(s, tag[len("vector<"):len(tag)-1])
	}

	base, params, err := splitGenerics(tag)
	if err != nil {
		return err
	}
	parts := strings.Split(base, "::")
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("type tag %q is not address::module::Name", tag))
	}
	addr, err := codec.ParseAddress(parts[0])
	if err != nil {
		return err
	}
	s.Uleb128(tagStruct)
	s.FixedBytes(addr[:])
	s.WriteString(parts[1])
	s.WriteString(parts[2])
	s.Uleb128(uint32(len(params)))
	for _, p := range params {
		if err := serializeTypeTag(s, p); err != nil {
			return err
		}
	}
	return nil
}

// splitGenerics 把 "a::b::C<X, Y<Z>>" 拆成 "a::b::C" 与 ["X", "Y<Z>"]。
func splitGenerics(tag string) (string, []string, error) {
	open := strings.IndexByte(tag, '<')
	if open < 0 {
		return tag, nil, nil
	}
	if !strings.HasSuffix(tag, ">") {
		return "", nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unbalanced type tag %q", tag))
	}
	inner := tag[open+1 : len(tag)-1]
	var params []string
	depth, start := 0, 0
	for i, r := range inner {
		switch r {
		case '<':
			depth++
		case '>':
			depth--
			if depth < 0 {
				return "", nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unbalanced type tag %q", tag))
			}
		case ',':
			if depth == 0 {
				params = append(params, strings.TrimSpace(inner[start:i]))
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return "", nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unbalanced type tag %q", tag))
	}
	params = append(params, strings.TrimSpace(inner[start:]))
	return tag[:open], params, nil
}

func deserializeTypeTag(d *bcs.Deserializer, depth int) (string, error) {
	if depth > 8 {
		return "", xerrors.New(codec.CodeMalformedArgument, "type tag nested too deeply")
	}
	variant := d.Uleb128()
	if err := d.Error(); err != nil {
		return "", xerrors.Wrap(codec.CodeMalformedArgument, err, "read type tag")
	}
	for name, v := range primitiveTags {
		if v == variant {
			return name, nil
		}
	}
	switch variant {
	case tagVector:
		inner, err := deserializeTypeTag(d, depth+1)
		if err != nil {
			return "", err
		}
		return "vector<" + inner + ">", nil
	case tagStruct:
		raw := d.ReadFixedBytes(codec.AddressLength)
		module := d.ReadString()
		name := d.ReadString()
		if err := d.Error(); err != nil {
			return "", xerrors.Wrap(codec.CodeMalformedArgument, err, "read struct tag")
		}
		addr, err := codec.AddressFromBytes(raw)
		if err != nil {
			return "", err
		}
		n, err := ReadSequenceLength(d, 1)
		if err != nil {
			return "", err
		}
		tag := addr.Hex() + "::" + module + "::" + name
		if n == 0 {
			return tag, nil
		}
		params := make([]string, n)
		for i := range params {
			if params[i], err = deserializeTypeTag(d, depth+1); err != nil {
				return "", err
			}
		}
		return tag + "<" + strings.Join(params, ", ") + ">", nil
	default:
		return "", xerrors.New(codec.CodeMalformedArgument, fmt.Sprintf("unknown type tag variant %d", variant))
	}
}
