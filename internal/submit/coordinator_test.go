package submit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"CoSign-Chain/internal/chain"
	"CoSign-Chain/internal/codec"
	xerrors "CoSign-Chain/internal/errors"
	"CoSign-Chain/internal/payload"
	"CoSign-Chain/internal/signer"
	"CoSign-Chain/internal/txn"
)

var moduleAddr = codec.MustParseAddress("0xe60c54467e4c094cee951fde4a018ce1504f3b0f09ed86e6c8d9811771c6b1f0")

type fakeClient struct {
	mu        sync.Mutex
	seq       uint64
	submitErr error
	submitted []txn.MultiAgentRawTransaction
	auths     [][]txn.Authenticator
	txInfo    []chain.TransactionInfo
	txErr     error
	polls     int
}

func (f *fakeClient) SequenceNumber(ctx context.Context, addr codec.AccountAddress) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return f.seq, nil
}

func (f *fakeClient) ChainID(ctx context.Context) (uint8, error) { return 4, nil }

func (f *fakeClient) AccountInfo(ctx context.Context, addr codec.AccountAddress) (chain.AccountInfo, error) {
	return chain.AccountInfo{Address: addr}, nil
}

func (f *fakeClient) Balance(ctx context.Context, addr codec.AccountAddress, coinType string) (uint64, error) {
	return 0, nil
}

func (f *fakeClient) IsRegistered(ctx context.Context, addr codec.AccountAddress, coinType string) (bool, error) {
	return true, nil
}

func (f *fakeClient) Submit(ctx context.Context, raw txn.MultiAgentRawTransaction, payer txn.Authenticator, senders []txn.Authenticator) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, raw)
	f.auths = append(f.auths, append([]txn.Authenticator{payer}, senders...))
	return "0xhash" + strings.Repeat("0", 2), nil
}

func (f *fakeClient) TransactionByHash(ctx context.Context, hash string) (chain.TransactionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.txErr != nil {
		return chain.TransactionInfo{}, f.txErr
	}
	if len(f.txInfo) == 0 {
		return chain.TransactionInfo{Hash: hash, Pending: true}, nil
	}
	info := f.txInfo[0]
	if len(f.txInfo) > 1 {
		f.txInfo = f.txInfo[1:]
	}
	return info, nil
}

func (f *fakeClient) Close() {}

type brokenSigner struct{ addr codec.AccountAddress }

func (b brokenSigner) Address() codec.AccountAddress { return b.addr }
func (b brokenSigner) PublicKey() []byte             { return make([]byte, 32) }
func (b brokenSigner) Sign(ctx context.Context, msg []byte) ([]byte, error) {
	return nil, errors.New("key store locked")
}

type recorder struct {
	mu     sync.Mutex
	states []State
}

func (r *recorder) observe(t Transition) {
	r.mu.Lock()
	r.states = append(r.states, t.To)
	r.mu.Unlock()
}

func (r *recorder) reached(s State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, got := range r.states {
		if got == s {
			return true
		}
	}
	return false
}

func newSigner(t *testing.T, b string) *signer.Ed25519 {
	t.Helper()
	s, err := signer.FromHex(strings.Repeat(b, 32))
	require.NoError(t, err)
	return s
}

func transferPayload(t *testing.T) payload.Payload {
	t.Helper()
	receivers, amounts, commissions, err := codec.TransferVectors([]codec.TransferRecord{
		{Receiver: codec.MustParseAddress("0x" + strings.Repeat("aa", 32)), Amount: 100000000, Commission: 90000000},
	})
	require.NoError(t, err)
	p, err := payload.DefaultCatalog(moduleAddr).Build(payload.CallTransferCoinMultiple,
		[]string{moduleAddr.Hex() + "::coin::T"}, receivers, amounts, commissions, codec.NewString("tip"))
	require.NoError(t, err)
	return p
}

func newCoordinator(client *fakeClient, payer signer.Signer, rec *recorder, confirm bool) *Coordinator {
	return NewCoordinator(client, payer,
		WithObserver(rec.observe),
		WithConfirmation(confirm, 200*time.Millisecond, 5*time.Millisecond))
}

func TestBuildAndSubmitConfirmed(t *testing.T) {
	client := &fakeClient{txInfo: []chain.TransactionInfo{
		{Pending: true},
		{Hash: "0xhash00", Success: true, VMStatus: "Executed successfully"},
	}}
	payer, user := newSigner(t, "01"), newSigner(t, "02")
	rec := &recorder{}

	res, err := newCoordinator(client, payer, rec, true).BuildAndSubmit(context.Background(), []signer.Signer{user}, transferPayload(t))
	require.NoError(t, err)
	require.True(t, res.Succeeded())
	require.Equal(t, StateConfirmed, res.State)
	require.Equal(t, "0xhash00", res.Hash)
	require.Empty(t, res.ErrorCode)
	require.Equal(t, []State{StateBuilt, StatePayerAuthenticated, StateSenderAuthenticated, StateSubmitted, StateConfirmed}, rec.states)

	require.Len(t, client.submitted, 1)
	raw := client.submitted[0]
	require.Equal(t, payer.Address(), raw.Sender, "fee payer is the primary sender")
	require.Equal(t, []codec.AccountAddress{user.Address()}, raw.SecondarySigners)
	for _, auth := range client.auths[0] {
		require.True(t, auth.Verify(raw))
	}
}

func TestSenderSigningFailureNeverSubmits(t *testing.T) {
	client := &fakeClient{}
	rec := &recorder{}
	payer := newSigner(t, "01")

	res, err := newCoordinator(client, payer, rec, true).BuildAndSubmit(context.Background(),
		[]signer.Signer{newSigner(t, "02"), brokenSigner{addr: codec.MustParseAddress("0x99")}}, transferPayload(t))
	require.Error(t, err)
	require.Equal(t, txn.CodeSigningFailure, xerrors.CodeOf(err))
	require.Equal(t, StateFailed, res.State)
	require.Equal(t, string(txn.CodeSigningFailure), res.ErrorCode)
	require.Empty(t, res.Hash)
	require.False(t, rec.reached(StateSenderAuthenticated))
	require.False(t, rec.reached(StateSubmitted))
	require.Empty(t, client.submitted)
}

func TestPayerSigningFailureNeverSubmits(t *testing.T) {
	client := &fakeClient{}
	rec := &recorder{}
	res, err := newCoordinator(client, brokenSigner{addr: codec.MustParseAddress("0x1")}, rec, true).
		BuildAndSubmit(context.Background(), []signer.Signer{newSigner(t, "02")}, transferPayload(t))
	require.Error(t, err)
	require.Equal(t, StateFailed, res.State)
	require.Equal(t, []State{StateBuilt, StateFailed}, rec.states)
	require.Empty(t, client.submitted)
}

func TestSubmitErrorPreservedVerbatim(t *testing.T) {
	nodeErr := xerrors.New(chain.CodeRejected, "Invalid transaction: Type: Validation Code: INSUFFICIENT_BALANCE_FOR_TRANSACTION_FEE",
		xerrors.WithMetadata(chain.MetaNodeErrorCode, "vm_error"))
	client := &fakeClient{submitErr: nodeErr}
	rec := &recorder{}

	res, err := newCoordinator(client, newSigner(t, "01"), rec, true).
		BuildAndSubmit(context.Background(), []signer.Signer{newSigner(t, "02")}, transferPayload(t))
	require.Error(t, err)
	require.Equal(t, CodeSubmissionFailure, xerrors.CodeOf(err))
	require.ErrorIs(t, err, nodeErr)
	require.False(t, xerrors.RetryableError(err), "a node rejection is not retried as is")
	require.Equal(t, StateFailed, res.State)
	require.Equal(t, "vm_error", res.ErrorCode)
	require.Equal(t, nodeErr.Message(), res.Message)
	require.Empty(t, res.Hash)
	require.True(t, rec.reached(StateSenderAuthenticated))
	require.False(t, rec.reached(StateSubmitted))
}

func TestSubmitUnsentErrorIsRetryable(t *testing.T) {
	client := &fakeClient{submitErr: xerrors.New(xerrors.CodeChainUnavailable, "connection refused",
		xerrors.WithMetadata(chain.MetaDelivery, chain.DeliveryUnsent))}
	res, err := newCoordinator(client, newSigner(t, "01"), &recorder{}, false).
		BuildAndSubmit(context.Background(), []signer.Signer{newSigner(t, "02")}, transferPayload(t))
	require.Error(t, err)
	require.True(t, xerrors.RetryableError(err))
	require.Equal(t, string(xerrors.CodeChainUnavailable), res.ErrorCode)
	require.Equal(t, "connection refused", res.Message)
}

func TestSubmitOutcomeUnknownIsNotRetried(t *testing.T) {
	cases := map[string]error{
		"deadline":       xerrors.Wrap(xerrors.CodeTimeout, context.DeadlineExceeded, "请求节点超时"),
		"bare context":   context.DeadlineExceeded,
		"transport":      xerrors.New(xerrors.CodeChainUnavailable, "connection reset"),
		"tagged unknown": xerrors.New(xerrors.CodeChainUnavailable, "bad gateway", xerrors.WithMetadata(chain.MetaDelivery, chain.DeliveryUnknown)),
	}
	for name, submitErr := range cases {
		client := &fakeClient{submitErr: submitErr}
		res, err := newCoordinator(client, newSigner(t, "01"), &recorder{}, false).
			BuildAndSubmit(context.Background(), []signer.Signer{newSigner(t, "02")}, transferPayload(t))
		require.Error(t, err, name)
		require.Equal(t, StateFailed, res.State, name)
		require.False(t, xerrors.RetryableError(err), "%s: the transaction may already be on chain", name)
		require.Equal(t, chain.DeliveryUnknown, xerrors.MetadataOf(err)[chain.MetaDelivery], name)
	}
}

func TestSubmitSkippedWhenCancelledAfterSigning(t *testing.T) {
	client := &fakeClient{}
	ctx, cancel := context.WithCancel(context.Background())
	c := NewCoordinator(client, newSigner(t, "01"), WithObserver(func(tr Transition) {
		if tr.To == StateSenderAuthenticated {
			cancel()
		}
	}))
	res, err := c.BuildAndSubmit(ctx, []signer.Signer{newSigner(t, "02")}, transferPayload(t))
	require.Error(t, err)
	require.Equal(t, xerrors.CodeTimeout, xerrors.CodeOf(err))
	require.True(t, xerrors.RetryableError(err), "nothing was sent")
	require.Equal(t, StateFailed, res.State)
	require.Empty(t, client.submitted)
}

func TestVMFailureReported(t *testing.T) {
	client := &fakeClient{txInfo: []chain.TransactionInfo{{Hash: "0xhash00", VMStatus: "Move abort: EINSUFFICIENT_BALANCE"}}}
	res, err := newCoordinator(client, newSigner(t, "01"), &recorder{}, true).
		BuildAndSubmit(context.Background(), []signer.Signer{newSigner(t, "02")}, transferPayload(t))
	require.Error(t, err)
	require.Equal(t, StateFailed, res.State)
	require.Equal(t, "Move abort: EINSUFFICIENT_BALANCE", res.VMStatus)
	require.Equal(t, "Move abort: EINSUFFICIENT_BALANCE", res.Message)
	require.Equal(t, "0xhash00", xerrors.MetadataOf(err)[MetaHash])
	require.False(t, xerrors.RetryableError(err))
}

func TestSkipConfirmation(t *testing.T) {
	client := &fakeClient{}
	res, err := newCoordinator(client, newSigner(t, "01"), &recorder{}, false).
		BuildAndSubmit(context.Background(), []signer.Signer{newSigner(t, "02")}, transferPayload(t))
	require.NoError(t, err)
	require.Equal(t, StateSubmitted, res.State)
	require.Zero(t, client.polls)
}

func TestConfirmationTimeout(t *testing.T) {
	client := &fakeClient{}
	res, err := newCoordinator(client, newSigner(t, "01"), &recorder{}, true).
		BuildAndSubmit(context.Background(), []signer.Signer{newSigner(t, "02")}, transferPayload(t))
	require.Error(t, err)
	require.Equal(t, xerrors.CodeTimeout, xerrors.CodeOf(err))
	require.Equal(t, StateFailed, res.State)
	require.False(t, xerrors.RetryableError(err), "the transaction may still commit")
	require.NotEmpty(t, xerrors.MetadataOf(err)[MetaHash])
}

func TestCancelledContextIsTimeout(t *testing.T) {
	client := &fakeClient{}
	ctx, cancel := context.WithCancel(context.Background())
	rec := &recorder{}
	cancelling := WithObserver(func(tr Transition) {
		if tr.To == StateBuilt {
			cancel()
		}
	})
	c := NewCoordinator(client, newSigner(t, "01"), WithObserver(rec.observe), cancelling)

	res, err := c.BuildAndSubmit(ctx, []signer.Signer{newSigner(t, "02")}, transferPayload(t))
	require.Error(t, err)
	require.Equal(t, xerrors.CodeTimeout, xerrors.CodeOf(err))
	require.Equal(t, string(xerrors.CodeTimeout), res.ErrorCode)
	require.Equal(t, StateFailed, res.State)
	require.Empty(t, client.submitted)
}

func TestEachAttemptBuildsFreshTransaction(t *testing.T) {
	client := &fakeClient{}
	c := newCoordinator(client, newSigner(t, "01"), &recorder{}, false)
	for i := 0; i < 2; i++ {
		_, err := c.BuildAndSubmit(context.Background(), []signer.Signer{newSigner(t, "02")}, transferPayload(t))
		require.NoError(t, err)
	}
	require.Len(t, client.submitted, 2)
	require.NotEqual(t, client.submitted[0].SequenceNumber, client.submitted[1].SequenceNumber)
	require.NotEqual(t, client.auths[0][1].Signature, client.auths[1][1].Signature)
}

func TestRejectsEmptySenders(t *testing.T) {
	res, err := newCoordinator(&fakeClient{}, newSigner(t, "01"), &recorder{}, false).
		BuildAndSubmit(context.Background(), nil, transferPayload(t))
	require.Error(t, err)
	require.Equal(t, StateFailed, res.State)
	require.Equal(t, string(xerrors.CodeInvalidArgument), res.ErrorCode)
}
