package transfer

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"CoSign-Chain/internal/codec"
	xerrors "CoSign-Chain/internal/errors"
	"CoSign-Chain/internal/payload"
	"CoSign-Chain/internal/txn"
)

// Inspection 是联署前展示给用户的、已解码的多签原始交易。
type Inspection struct {
	Sender           codec.AccountAddress   `json:"sender"`
	SecondarySigners []codec.AccountAddress `json:"secondary_signers"`
	SequenceNumber   uint64                 `json:"sequence_number,string"`
	MaxGasAmount     uint64                 `json:"max_gas_amount,string"`
	GasUnitPrice     uint64                 `json:"gas_unit_price,string"`
	Expiration       uint64                 `json:"expiration_timestamp_secs,string"`
	ChainID          uint8                  `json:"chain_id"`
	Function         payload.FunctionID     `json:"function"`
	Call             string                 `json:"call"`
	TypeArgs         []string               `json:"type_arguments"`
	Arguments        []any                  `json:"arguments"`
	Transfers        []codec.TransferRecord `json:"transfers,omitempty"`
	Total            uint64                 `json:"total,omitempty,string"`
	Memo             string                 `json:"memo,omitempty"`
}

// Inspect 用 catalog 解码十六进制的多签原始交易 BCS，转账调用展开为收款记录。
func Inspect(rawHex string, catalog *payload.Catalog) (*Inspection, error) {
	rawHex = strings.TrimSpace(rawHex)
	if !strings.HasPrefix(rawHex, "0x") && !strings.HasPrefix(rawHex, "0X") {
		rawHex = "0x" + rawHex
	}
	b, err := hexutil.Decode(rawHex)
	if err != nil {
		return nil, xerrors.Wrap(codec.CodeMalformedArgument, err, "raw transaction is not valid hex")
	}
	raw, err := txn.DecodeMultiAgent(b, catalog)
	if err != nil {
		return nil, err
	}

	p := raw.Payload
	schema, _ := catalog.SchemaOf(p.Function)
	out := &Inspection{
		Sender:           raw.Sender,
		SecondarySigners: raw.SecondarySigners,
		SequenceNumber:   raw.SequenceNumber,
		MaxGasAmount:     raw.MaxGasAmount,
		GasUnitPrice:     raw.GasUnitPrice,
		Expiration:       raw.ExpirationTimestampSecs,
		ChainID:          raw.ChainID,
		Function:         p.Function,
		Call:             schema.Name,
		TypeArgs:         p.TypeArgs,
		Arguments:        make([]any, len(p.Args)),
	}
	for i, arg := range p.Args {
		out.Arguments[i] = arg.Interface()
	}

	if schema.Name == payload.CallTransferCoinMultiple {
		if err := out.expandTransfer(p); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// expandTransfer 重新读取三个平行向量，个数不一致时报告参数个数错误。
func (i *Inspection) expandTransfer(p payload.Payload) error {
	encoded, err := p.EncodedArgs()
	if err != nil {
		return err
	}
	if len(encoded) < 4 {
		return xerrors.New(codec.CodeArgumentArityMismatch, fmt.Sprintf("transfer call has %d arguments", len(encoded)))
	}
	records, err := codec.DecodeCoinTransferArgs(encoded[0], encoded[1], encoded[2])
	if err != nil {
		return err
	}
	total, err := TotalAmount(records)
	if err != nil {
		return err
	}
	i.Transfers = records
	i.Total = total
	i.Memo = p.Args[3].Str()
	return nil
}
