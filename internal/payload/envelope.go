package payload

import (
	"fmt"

	"github.com/aptos-labs/aptos-go-sdk/bcs"

	"CoSign-Chain/internal/codec"
	xerrors "CoSign-Chain/internal/errors"
)

// entryFunctionVariant 是 TransactionPayload::EntryFunction 的变体序号。
const entryFunctionVariant = 2

// MarshalBCS 将 p 写为 TransactionPayload::EntryFunction。
// 每个参数先经参数编解码器编码，再作为不透明的字节向量携带。
func (p Payload) MarshalBCS(ser *bcs.Serializer) {
	addr, module, function, err := p.Function.split()
	if err != nil {
		ser.SetError(err)
		return
	}
	args, err := p.EncodedArgs()
	if err != nil {
		ser.SetError(err)
		return
	}
	ser.Uleb128(entryFunctionVariant)
	ser.FixedBytes(addr[:])
	ser.WriteString(module)
	ser.WriteString(function)
	ser.Uleb128(uint32(len(p.TypeArgs)))
	for _, tag := range p.TypeArgs {
		if err := serializeTypeTag(ser, tag); err != nil {
			ser.SetError(err)
			return
		}
	}
	ser.Uleb128(uint32(len(args)))
	for _, arg := range args {
		ser.WriteBytes(arg)
	}
}

// Encode 返回 p 的 BCS 字节。
func (p Payload) Encode() ([]byte, error) {
	return bcs.Serialize(p)
}

// RawEntryFunction 是从链上字节读出、参数尚未解码的入口函数调用。
type RawEntryFunction struct {
	Function FunctionID
	TypeArgs []string
	Args     [][]byte
}

// ReadSequenceLength 读取 BCS 序列长度。每个元素至少占 minElemSize 字节，
// 声明的长度超出剩余输入时按畸形数据拒绝，不会按该长度分配内存。
func ReadSequenceLength(d *bcs.Deserializer, minElemSize int) (int, error) {
	n := d.Uleb128()
	if err := d.Error(); err != nil {
		return 0, xerrors.Wrap(codec.CodeMalformedArgument, err, "read sequence length")
	}
	if minElemSize < 1 {
		minElemSize = 1
	}
	if uint64(n)*uint64(minElemSize) > uint64(d.Remaining()) {
		return 0, xerrors.New(codec.CodeMalformedArgument,
			fmt.Sprintf("sequence claims %d elements but only %d bytes remain", n, d.Remaining()))
	}
	return int(n), nil
}

// ReadEntryFunction 从 d 读取 TransactionPayload::EntryFunction。
func ReadEntryFunction(d *bcs.Deserializer) (RawEntryFunction, error) {
	variant := d.Uleb128()
	if err := d.Error(); err != nil {
		return RawEntryFunction{}, xerrors.Wrap(codec.CodeMalformedArgument, err, "read payload variant")
	}
	if variant != entryFunctionVariant {
		return RawEntryFunction{}, xerrors.New(codec.CodeMalformedArgument,
			fmt.Sprintf("payload variant %d is not an entry function", variant))
	}
	rawAddr := d.ReadFixedBytes(codec.AddressLength)
	module := d.ReadString()
	function := d.ReadString()
	if err := d.Error(); err != nil {
		return RawEntryFunction{}, xerrors.Wrap(codec.CodeMalformedArgument, err, "read function id")
	}
	addr, err := codec.AddressFromBytes(rawAddr)
	if err != nil {
		return RawEntryFunction{}, err
	}

	n, err := ReadSequenceLength(d, 1)
	if err != nil {
		return RawEntryFunction{}, err
	}
	typeArgs := make([]string, 0, n)
	for i := 0; i < n; i++ {
		tag, err := deserializeTypeTag(d, 0)
		if err != nil {
			return RawEntryFunction{}, err
		}
		typeArgs = append(typeArgs, tag)
	}

	count, err := ReadSequenceLength(d, 1)
	if err != nil {
		return RawEntryFunction{}, err
	}
	args := make([][]byte, 0, count)
	for i := 0; i < count && d.Error() == nil; i++ {
		args = append(args, d.ReadBytes())
	}
	if err := d.Error(); err != nil {
		return RawEntryFunction{}, xerrors.Wrap(codec.CodeMalformedArgument, err, "read entry function")
	}
	return RawEntryFunction{
		Function: FunctionID(addr.Hex() + "::" + module + "::" + function),
		TypeArgs: typeArgs,
		Args:     args,
	}, nil
}

// Decode 解析 BCS 负载字节，并按目录中该函数绑定的 schema 解码参数。
func (c *Catalog) Decode(b []byte) (Payload, error) {
	d := bcs.NewDeserializer(b)
	raw, err := ReadEntryFunction(d)
	if err != nil {
		return Payload{}, err
	}
	if d.Remaining() != 0 {
		return Payload{}, xerrors.New(codec.CodeMalformedArgument, fmt.Sprintf("%d trailing bytes after payload", d.Remaining()))
	}
	return c.DecodeArgs(raw.Function, raw.TypeArgs, raw.Args)
}
