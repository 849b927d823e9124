package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"CoSign-Chain/sdk/go/cosign"
)

var flagRemote struct {
	Server string
	Token  string
	User   string
}

func addRemoteFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagRemote.Server, "server", envOr("COSIGN_SERVER", "http://127.0.0.1:8080"), "cosignd base URL")
	cmd.Flags().StringVar(&flagRemote.Token, "token", os.Getenv("COSIGN_TOKEN"), "Bearer access token")
	cmd.Flags().StringVar(&flagRemote.User, "user", "", "Operator to log in as, password read from COSIGN_PASSWORD")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func remoteClient(ctx context.Context) (*cosign.Client, error) {
	client, err := cosign.NewClient(flagRemote.Server, nil)
	if err != nil {
		return nil, err
	}
	switch {
	case flagRemote.User != "":
		if _, err := client.Authenticate(ctx, cosign.Credentials{
			Username: flagRemote.User,
			Password: os.Getenv("COSIGN_PASSWORD"),
		}); err != nil {
			return nil, err
		}
	case flagRemote.Token != "":
		client.SetAccessToken(flagRemote.Token)
	}
	return client, nil
}

func newSubmitTransferCmd() *cobra.Command {
	var (
		sender string
		items  []string
		memo   string
		key    string
		wait   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit-transfer --sender addr --transfer receiver:amount[:commission] ...",
		Short: "Queue a fee-payer sponsored transfer on cosignd",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			records, err := parseRecords(items)
			if err != nil {
				return err
			}
			sub := cosign.TransferSubmission{Sender: sender, Memo: memo}
			for _, rec := range records {
				sub.Transfers = append(sub.Transfers, cosign.Recipient{
					Receiver:   rec.Receiver.Hex(),
					Amount:     rec.Amount,
					Commission: rec.Commission,
				})
			}

			ctx := cmd.Context()
			client, err := remoteClient(ctx)
			if err != nil {
				return err
			}
			job, err := client.SubmitTransfer(ctx, sub, key)
			if err != nil {
				return err
			}
			if wait > 0 {
				waitCtx, cancel := context.WithTimeout(ctx, wait)
				defer cancel()
				id := job.ID
				if job, err = client.WaitJob(waitCtx, id, time.Second); err != nil {
					return fmt.Errorf("wait for job %s: %w", id, err)
				}
			}
			return printJSON(cmd, job)
		},
	}
	cmd.Flags().StringVar(&sender, "sender", "", "Account the coins are taken from")
	cmd.Flags().StringArrayVarP(&items, "transfer", "t", nil, "Recipient as receiver:amount[:commission], repeatable")
	cmd.Flags().StringVar(&memo, "memo", "", "Memo stored on chain")
	cmd.Flags().StringVar(&key, "idempotency-key", "", "Job ID to use, repeated calls return the same job")
	cmd.Flags().DurationVar(&wait, "wait", 0, "Wait up to this long for the job to finish")
	_ = cmd.MarkFlagRequired("sender")
	_ = cmd.MarkFlagRequired("transfer")
	addRemoteFlags(cmd)
	return cmd
}

func newJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job <id>",
		Short: "Show a job queued on cosignd",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := remoteClient(ctx)
			if err != nil {
				return err
			}
			job, err := client.GetJob(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, job)
		},
	}
	addRemoteFlags(cmd)
	return cmd
}
