package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"CoSign-Chain/internal/auth"
	"CoSign-Chain/internal/codec"
	"CoSign-Chain/internal/payload"
	"CoSign-Chain/internal/signer"
	"CoSign-Chain/internal/transfer"
)

func newInspectCmd() *cobra.Command {
	var module string
	cmd := &cobra.Command{
		Use:   "inspect <raw-transaction-hex>",
		Short: "Decode a multi-agent raw transaction before co-signing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			moduleAddr, err := codec.ParseAddress(module)
			if err != nil {
				return fmt.Errorf("invalid --module: %w", err)
			}
			inspection, err := transfer.Inspect(args[0], payload.DefaultCatalog(moduleAddr))
			if err != nil {
				return err
			}
			return printJSON(cmd, inspection)
		},
	}
	cmd.Flags().StringVarP(&module, "module", "m", "0x1", "Address the CoSign module is published under")
	return cmd
}

func newAddressCmd() *cobra.Command {
	var keyEnv string
	cmd := &cobra.Command{
		Use:   "address [private-key-hex]",
		Short: "Print the account address and public key of an ed25519 key",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			switch {
			case len(args) == 1:
				key = args[0]
			case keyEnv != "":
				key = strings.TrimSpace(os.Getenv(keyEnv))
				if key == "" {
					return fmt.Errorf("environment variable %s is empty", keyEnv)
				}
			default:
				return fmt.Errorf("pass a key or --key-env")
			}
			s, err := signer.FromHex(key)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{
				"address":    s.Address().Hex(),
				"public_key": hexutil.Encode(s.PublicKey()),
			})
		},
	}
	cmd.Flags().StringVar(&keyEnv, "key-env", "", "Read the key from this environment variable")
	return cmd
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print the bcrypt hash for an auth.users entry of the daemon config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hashed, err := auth.HashPassword(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hashed)
			return err
		},
	}
}
