package codec

import (
	"encoding/binary"
	"fmt"

	xerrors "CoSign-Chain/internal/errors"
)

// TransferRecord 是多收款人转账中的一个收款人。
type TransferRecord struct {
	Receiver   AccountAddress `json:"receiver"`
	Amount     uint64         `json:"amount,string"`
	Commission uint64         `json:"commission,string"`
}

// TransferVectors 把记录拆成转账调用需要的三个平行向量：收款人、金额与佣金。
func TransferVectors(records []TransferRecord) (receivers, amounts, commissions Argument, err error) {
	addrs := make([]AccountAddress, len(records))
	amts := make([]uint64, len(records))
	comms := make([]uint64, len(records))
	for i, rec := range records {
		addrs[i] = rec.Receiver
		amts[i] = rec.Amount
		comms[i] = rec.Commission
	}
	if receivers, err = AddressVector(addrs...); err != nil {
		return
	}
	if amounts, err = U64Vector(amts...); err != nil {
		return
	}
	commissions, err = U64Vector(comms...)
	return
}

// EncodeCoinTransferArgs 把记录编码为三个独立的向量。
func EncodeCoinTransferArgs(records []TransferRecord) (addressBytes, amountBytes, commissionBytes []byte, err error) {
	receivers, amounts, commissions, err := TransferVectors(records)
	if err != nil {
		return nil, nil, nil, err
	}
	if addressBytes, err = Encode(receivers); err != nil {
		return nil, nil, nil, err
	}
	if amountBytes, err = Encode(amounts); err != nil {
		return nil, nil, nil, err
	}
	if commissionBytes, err = Encode(commissions); err != nil {
		return nil, nil, nil, err
	}
	return addressBytes, amountBytes, commissionBytes, nil
}

// DecodeCoinTransferArgs 从三个编码向量还原收款记录。以地址向量的个数为准，
// 金额与佣金向量声明的个数不同时返回 ARGUMENT_ARITY_MISMATCH。
func DecodeCoinTransferArgs(addressBytes, amountBytes, commissionBytes []byte) ([]TransferRecord, error) {
	n, err := countOf(addressBytes, "addresses")
	if err != nil {
		return nil, err
	}
	amountCount, err := countOf(amountBytes, "amounts")
	if err != nil {
		return nil, err
	}
	commissionCount, err := countOf(commissionBytes, "commissions")
	if err != nil {
		return nil, err
	}
	if amountCount != n || commissionCount != n {
		return nil, xerrors.New(CodeArgumentArityMismatch,
			fmt.Sprintf("vector counts disagree: addresses=%d amounts=%d commissions=%d", n, amountCount, commissionCount),
			xerrors.WithMetadata("addresses", fmt.Sprint(n)),
			xerrors.WithMetadata("amounts", fmt.Sprint(amountCount)),
			xerrors.WithMetadata("commissions", fmt.Sprint(commissionCount)))
	}

	if err := checkStrides(addressBytes, n, AddressLength, "addresses"); err != nil {
		return nil, err
	}
	if err := checkStrides(amountBytes, n, 8, "amounts"); err != nil {
		return nil, err
	}
	if err := checkStrides(commissionBytes, n, 8, "commissions"); err != nil {
		return nil, err
	}

	records := make([]TransferRecord, n)
	for i := 0; i < n; i++ {
		copy(records[i].Receiver[:], addressBytes[1+i*AddressLength:1+(i+1)*AddressLength])
	}
	for i := 0; i < n; i++ {
		records[i].Amount = binary.LittleEndian.Uint64(amountBytes[1+i*8:])
	}
	for i := 0; i < n; i++ {
		records[i].Commission = binary.LittleEndian.Uint64(commissionBytes[1+i*8:])
	}
	return records, nil
}

func countOf(data []byte, name string) (int, error) {
	if len(data) == 0 {
		return 0, xerrors.New(CodeMalformedArgument, name+" vector is empty, missing count prefix")
	}
	return int(data[0]), nil
}

func checkStrides(data []byte, n, stride int, name string) error {
	if want := 1 + n*stride; len(data) != want {
		return xerrors.New(CodeMalformedArgument,
			fmt.Sprintf("%s vector is %d bytes, want %d for %d elements of %d bytes", name, len(data), want, n, stride))
	}
	return nil
}
