// Package txn 组装多签交易（multi-agent）的原始交易体，以及提交时随附的签名认证器。
package txn

import (
	"fmt"

	"github.com/aptos-labs/aptos-go-sdk/bcs"
	"golang.org/x/crypto/sha3"

	"CoSign-Chain/internal/codec"
	xerrors "CoSign-Chain/internal/errors"
	"CoSign-Chain/internal/payload"
)

const (
	rawTransactionWithDataSalt = "APTOS::RawTransactionWithData"
	multiAgentVariant          = 0
)

// RawTransaction 是未签名的交易体。按值使用，Builder 返回后不再修改。
type RawTransaction struct {
	Sender                  codec.AccountAddress
	SequenceNumber          uint64
	Payload                 payload.Payload
	MaxGasAmount            uint64
	GasUnitPrice            uint64
	ExpirationTimestampSecs uint64
	ChainID                 uint8
}

// MarshalBCS 写出 r 的 BCS 形式。
func (r RawTransaction) MarshalBCS(ser *bcs.Serializer) {
	ser.FixedBytes(r.Sender[:])
	ser.U64(r.SequenceNumber)
	r.Payload.MarshalBCS(ser)
	ser.U64(r.MaxGasAmount)
	ser.U64(r.GasUnitPrice)
	ser.U64(r.ExpirationTimestampSecs)
	ser.U8(r.ChainID)
}

// Encode 返回 r 的 BCS 字节。
func (r RawTransaction) Encode() ([]byte, error) {
	return bcs.Serialize(r)
}

// MultiAgentRawTransaction 是原始交易加上有序的次级签名者，
// 在 SecondarySigners 中的位置即认证器槽位。
type MultiAgentRawTransaction struct {
	RawTransaction
	SecondarySigners []codec.AccountAddress
}

// Signers 返回主发送方及其后的次级签名者。
func (m MultiAgentRawTransaction) Signers() []codec.AccountAddress {
	out := make([]codec.AccountAddress, 0, 1+len(m.SecondarySigners))
	out = append(out, m.Sender)
	return append(out, m.SecondarySigners...)
}

// MarshalBCS 写出 RawTransactionWithData::MultiAgent。
func (m MultiAgentRawTransaction) MarshalBCS(ser *bcs.Serializer) {
	ser.Uleb128(multiAgentVariant)
	m.RawTransaction.MarshalBCS(ser)
	serializeAddresses(ser, m.SecondarySigners)
}

// Encode 返回多签交易体的 BCS 字节，不含签名盐。联署方审阅的就是这段字节。
func (m MultiAgentRawTransaction) Encode() ([]byte, error) {
	return bcs.Serialize(m)
}

func serializeAddresses(ser *bcs.Serializer, addrs []codec.AccountAddress) {
	ser.Uleb128(uint32(len(addrs)))
	for _, addr := range addrs {
		ser.FixedBytes(addr[:])
	}
}

// SigningMessage 是各方签名的完整字节串。
func (m MultiAgentRawTransaction) SigningMessage() ([]byte, error) {
	body, err := m.Encode()
	if err != nil {
		return nil, err
	}
	prefix := sha3.Sum256([]byte(rawTransactionWithDataSalt))
	msg := make([]byte, 0, len(prefix)+len(body))
	msg = append(msg, prefix[:]...)
	return append(msg, body...), nil
}

// DecodeMultiAgent 解析 MultiAgentRawTransaction.Encode 产出的字节，
// 负载参数按目录为被调函数绑定的 schema 解码。
func DecodeMultiAgent(b []byte, catalog *payload.Catalog) (MultiAgentRawTransaction, error) {
	d := bcs.NewDeserializer(b)
	if v := d.Uleb128(); d.Error() == nil && v != multiAgentVariant {
		return MultiAgentRawTransaction{}, xerrors.New(codec.CodeMalformedArgument,
			fmt.Sprintf("transaction data variant %d is not multi-agent", v))
	}
	raw, err := readRawTransaction(d, catalog)
	if err != nil {
		return MultiAgentRawTransaction{}, err
	}
	n, err := payload.ReadSequenceLength(d, codec.AddressLength)
	if err != nil {
		return MultiAgentRawTransaction{}, err
	}
	secondary := make([]codec.AccountAddress, n)
	for i := range secondary {
		copy(secondary[i][:], d.ReadFixedBytes(codec.AddressLength))
	}
	if err := d.Error(); err != nil {
		return MultiAgentRawTransaction{}, xerrors.Wrap(codec.CodeMalformedArgument, err, "read secondary signers")
	}
	if d.Remaining() != 0 {
		return MultiAgentRawTransaction{}, xerrors.New(codec.CodeMalformedArgument,
			fmt.Sprintf("%d trailing bytes after transaction", d.Remaining()))
	}
	return MultiAgentRawTransaction{RawTransaction: raw, SecondarySigners: secondary}, nil
}

// DecodeRaw 解析 RawTransaction.Encode 产出的字节。
func DecodeRaw(b []byte, catalog *payload.Catalog) (RawTransaction, error) {
	d := bcs.NewDeserializer(b)
	raw, err := readRawTransaction(d, catalog)
	if err != nil {
		return RawTransaction{}, err
	}
	if d.Remaining() != 0 {
		return RawTransaction{}, xerrors.New(codec.CodeMalformedArgument,
			fmt.Sprintf("%d trailing bytes after transaction", d.Remaining()))
	}
	return raw, nil
}

func readRawTransaction(d *bcs.Deserializer, catalog *payload.Catalog) (RawTransaction, error) {
	sender := d.ReadFixedBytes(codec.AddressLength)
	seq := d.U64()
	if err := d.Error(); err != nil {
		return RawTransaction{}, xerrors.Wrap(codec.CodeMalformedArgument, err, "read transaction header")
	}
	entry, err := payload.ReadEntryFunction(d)
	if err != nil {
		return RawTransaction{}, err
	}
	p, err := catalog.DecodeArgs(entry.Function, entry.TypeArgs, entry.Args)
	if err != nil {
		return RawTransaction{}, err
	}
	raw := RawTransaction{
		SequenceNumber:          seq,
		Payload:                 p,
		MaxGasAmount:            d.U64(),
		GasUnitPrice:            d.U64(),
		ExpirationTimestampSecs: d.U64(),
		ChainID:                 d.U8(),
	}
	if err := d.Error(); err != nil {
		return RawTransaction{}, xerrors.Wrap(codec.CodeMalformedArgument, err, "read transaction trailer")
	}
	copy(raw.Sender[:], sender)
	return raw, nil
}
