// Command cosignctl encodes, decodes and inspects CoSign transaction arguments
// offline, and submits jobs to a running cosignd.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cosignctl",
		Short:         "Tooling for CoSign multi-agent transactions",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		newEncodeCmd(),
		newDecodeCmd(),
		newDecodeTransferCmd(),
		newInspectCmd(),
		newAddressCmd(),
		newHashPasswordCmd(),
		newSubmitTransferCmd(),
		newJobCmd(),
	)
	return root
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
