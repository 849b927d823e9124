package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"CoSign-Chain/internal/codec"
)

type encodedTransfer struct {
	Receivers   string `json:"receivers"`
	Amounts     string `json:"amounts"`
	Commissions string `json:"commissions"`
	Total       uint64 `json:"total,string"`
}

func newEncodeCmd() *cobra.Command {
	var items []string
	cmd := &cobra.Command{
		Use:   "encode --transfer receiver:amount[:commission] ...",
		Short: "Encode transfer records into the three argument vectors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			records, err := parseRecords(items)
			if err != nil {
				return err
			}
			receivers, amounts, commissions, err := codec.EncodeCoinTransferArgs(records)
			if err != nil {
				return err
			}
			out := encodedTransfer{
				Receivers:   hexutil.Encode(receivers),
				Amounts:     hexutil.Encode(amounts),
				Commissions: hexutil.Encode(commissions),
			}
			for _, rec := range records {
				out.Total += rec.Amount
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().StringArrayVarP(&items, "transfer", "t", nil, "Recipient as receiver:amount[:commission], repeatable")
	_ = cmd.MarkFlagRequired("transfer")
	return cmd
}

func newDecodeCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "decode <hex>",
		Short: "Decode a single argument of the given kind",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := codec.ParseKind(kind)
			if err != nil {
				return err
			}
			data, err := decodeHex(args[0])
			if err != nil {
				return err
			}
			arg, err := codec.Decode(data, k)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"kind": k.String(), "value": arg.Interface()})
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "bytes", "Argument kind, for example u64 or vector<address>")
	return cmd
}

func newDecodeTransferCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode-transfer <receivers> <amounts> <commissions>",
		Short: "Rebuild transfer records from their three encoded vectors",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var vectors [3][]byte
			for i, raw := range args {
				b, err := decodeHex(raw)
				if err != nil {
					return err
				}
				vectors[i] = b
			}
			records, err := codec.DecodeCoinTransferArgs(vectors[0], vectors[1], vectors[2])
			if err != nil {
				return err
			}
			var total uint64
			for _, rec := range records {
				total += rec.Amount
			}
			return printJSON(cmd, map[string]any{
				"transfers": records,
				"total":     strconv.FormatUint(total, 10),
			})
		},
	}
}

func parseRecords(items []string) ([]codec.TransferRecord, error) {
	records := make([]codec.TransferRecord, 0, len(items))
	for _, item := range items {
		parts := strings.Split(item, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("invalid transfer %q, want receiver:amount[:commission]", item)
		}
		addr, err := codec.ParseAddress(parts[0])
		if err != nil {
			return nil, err
		}
		amount, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid amount in %q: %w", item, err)
		}
		var commission uint64
		if len(parts) == 3 {
			if commission, err = strconv.ParseUint(parts[2], 10, 64); err != nil {
				return nil, fmt.Errorf("invalid commission in %q: %w", item, err)
			}
		}
		records = append(records, codec.TransferRecord{Receiver: addr, Amount: amount, Commission: commission})
	}
	return records, nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return b, nil
}
