package aptos

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	aptossdk "github.com/aptos-labs/aptos-go-sdk"
	"github.com/aptos-labs/aptos-go-sdk/api"
	"github.com/aptos-labs/aptos-go-sdk/bcs"
	"github.com/stretchr/testify/require"

	"CoSign-Chain/internal/chain"
	"CoSign-Chain/internal/codec"
	xerrors "CoSign-Chain/internal/errors"
	"CoSign-Chain/internal/payload"
	"CoSign-Chain/internal/signer"
	"CoSign-Chain/internal/txn"
)

const coinType = "0xe60c54467e4c094cee951fde4a018ce1504f3b0f09ed86e6c8d9811771c6b1f0::coin::T"

var (
	registered   = codec.MustParseAddress("0xa1")
	unregistered = codec.MustParseAddress("0xb2")
)

func notFound(code string) error {
	return &aptossdk.HttpError{
		StatusCode: http.StatusNotFound,
		Body:       []byte(`{"message":"not found","error_code":"` + code + `"}`),
	}
}

// fakeNode answers like a node holding one registered account.
type fakeNode struct {
	mu         sync.Mutex
	infoHits   int
	submitted  [][]byte
	submitErr  error
	submitHang bool
	txs        map[string]*api.Transaction
}

func (f *fakeNode) Info() (aptossdk.NodeInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infoHits++
	return aptossdk.NodeInfo{ChainId: 38}, nil
}

func (f *fakeNode) AccountResource(address aptossdk.AccountAddress, resourceType string, _ ...uint64) (map[string]any, error) {
	if codec.AccountAddress(address) != registered {
		if resourceType == accountResourceType {
			return nil, notFound("account_not_found")
		}
		return nil, notFound("resource_not_found")
	}
	switch resourceType {
	case accountResourceType:
		return map[string]any{
			"type": resourceType,
			"data": map[string]any{"sequence_number": "42", "authentication_key": "0xabc"},
		}, nil
	case coinStoreType(coinType):
		return map[string]any{
			"type": resourceType,
			"data": map[string]any{"coin": map[string]any{"value": "123456789"}},
		}, nil
	default:
		return nil, notFound("resource_not_found")
	}
}

func (f *fakeNode) SubmitTransaction(signed *aptossdk.SignedTransaction) (*api.SubmitTransactionResponse, error) {
	if f.submitHang {
		time.Sleep(time.Second)
	}
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	body, err := bcs.Serialize(signed)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.submitted = append(f.submitted, body)
	f.mu.Unlock()
	return &api.SubmitTransactionResponse{Hash: "0xfeed"}, nil
}

func (f *fakeNode) TransactionByHash(hash string) (*api.Transaction, error) {
	if tx, ok := f.txs[hash]; ok {
		return tx, nil
	}
	return nil, notFound("transaction_not_found")
}

func newTestClient(t *testing.T) (*Client, *fakeNode) {
	t.Helper()
	c, err := NewClient(Config{Name: "test", RESTURL: "http://127.0.0.1:8080", Timeout: time.Second})
	require.NoError(t, err)
	fake := &fakeNode{txs: map[string]*api.Transaction{
		"0xfeed": {Inner: &api.UserTransaction{
			Hash:     "0xfeed",
			Success:  false,
			VmStatus: "Move abort in 0x1::coin: EINSUFFICIENT_BALANCE(0x10006)",
			Version:  77,
		}},
		"0xbeef": {Inner: &api.PendingTransaction{Hash: "0xbeef"}},
	}}
	c.node = fake
	return c, fake
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)

	c, err := NewClient(Config{RESTURL: "https://node.example/v1/"})
	require.NoError(t, err)
	require.Equal(t, "https://node.example/v1", c.baseURL)

	c, err = NewClient(Config{RESTURL: "https://node.example"})
	require.NoError(t, err)
	require.Equal(t, "https://node.example/v1", c.baseURL)
}

func TestChainIDCached(t *testing.T) {
	c, fake := newTestClient(t)

	for i := 0; i < 3; i++ {
		id, err := c.ChainID(context.Background())
		require.NoError(t, err)
		require.Equal(t, uint8(38), id)
	}
	require.Equal(t, 1, fake.infoHits)
}

func TestAccountQueries(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	seq, err := c.SequenceNumber(ctx, registered)
	require.NoError(t, err)
	require.Equal(t, uint64(42), seq)

	info, err := c.AccountInfo(ctx, registered)
	require.NoError(t, err)
	require.Equal(t, "0xabc", info.AuthenticationKey)

	_, err = c.AccountInfo(ctx, unregistered)
	require.Equal(t, chain.CodeAccountNotFound, xerrors.CodeOf(err))

	ok, err := c.IsRegistered(ctx, registered, coinType)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = c.IsRegistered(ctx, unregistered, coinType)
	require.NoError(t, err)
	require.False(t, ok)

	bal, err := c.Balance(ctx, registered, coinType)
	require.NoError(t, err)
	require.Equal(t, uint64(123456789), bal)
	_, err = c.Balance(ctx, unregistered, coinType)
	require.Equal(t, xerrors.CodeNotFound, xerrors.CodeOf(err))
}

func signedRegistration(t *testing.T) (txn.MultiAgentRawTransaction, txn.Authenticator, []txn.Authenticator) {
	t.Helper()
	payer, err := signer.FromHex(strings.Repeat("01", 32))
	require.NoError(t, err)
	user, err := signer.FromHex(strings.Repeat("02", 32))
	require.NoError(t, err)

	p, err := payload.DefaultCatalog(codec.MustParseAddress("0xe60c54467e4c094cee951fde4a018ce1504f3b0f09ed86e6c8d9811771c6b1f0")).
		Build(payload.CallRegisterToken, []string{coinType}, codec.NewString("memo"))
	require.NoError(t, err)
	raw := txn.MultiAgentRawTransaction{
		RawTransaction: txn.RawTransaction{
			Sender: payer.Address(), SequenceNumber: 1, Payload: p,
			MaxGasAmount: 1000, GasUnitPrice: 100, ExpirationTimestampSecs: 1, ChainID: 38,
		},
		SecondarySigners: []codec.AccountAddress{user.Address()},
	}
	pa, err := txn.Authenticate(context.Background(), raw, payer)
	require.NoError(t, err)
	ua, err := txn.Authenticate(context.Background(), raw, user)
	require.NoError(t, err)
	return raw, pa, []txn.Authenticator{ua}
}

func TestSubmitMatchesSDKEncoding(t *testing.T) {
	c, fake := newTestClient(t)
	raw, pa, senders := signedRegistration(t)

	hash, err := c.Submit(context.Background(), raw, pa, senders)
	require.NoError(t, err)
	require.Equal(t, "0xfeed", hash)

	want, err := txn.SignedTransaction(raw, pa, senders)
	require.NoError(t, err)
	require.Len(t, fake.submitted, 1)
	require.Equal(t, want, fake.submitted[0], "the SDK re-encodes the envelope byte for byte")

	_, err = c.Submit(context.Background(), raw, pa, nil)
	require.Equal(t, codec.CodeArgumentArityMismatch, xerrors.CodeOf(err), "mismatched authenticators never reach the node")
	require.Len(t, fake.submitted, 1)
}

func TestSubmitRejected(t *testing.T) {
	c, fake := newTestClient(t)
	fake.submitErr = &aptossdk.HttpError{
		StatusCode: http.StatusBadRequest,
		Body:       []byte(`{"message":"Invalid transaction: Type: Validation Code: SEQUENCE_NUMBER_TOO_OLD","error_code":"vm_error","vm_error_code":3}`),
	}
	raw, pa, senders := signedRegistration(t)

	_, err := c.Submit(context.Background(), raw, pa, senders)
	require.Equal(t, chain.CodeRejected, xerrors.CodeOf(err))
	e, _ := xerrors.From(err)
	require.Contains(t, e.Message(), "SEQUENCE_NUMBER_TOO_OLD")
	require.Equal(t, "vm_error", e.Metadata()[chain.MetaNodeErrorCode])
	require.Equal(t, "3", e.Metadata()[chain.MetaVMErrorCode])
	require.Equal(t, "400", e.Metadata()[chain.MetaHTTPStatus])
}

func TestSubmitDelivery(t *testing.T) {
	raw, pa, senders := signedRegistration(t)

	c, fake := newTestClient(t)
	fake.submitErr = &aptossdk.HttpError{StatusCode: http.StatusBadGateway, Body: []byte("upstream down")}
	_, err := c.Submit(context.Background(), raw, pa, senders)
	require.Equal(t, xerrors.CodeChainUnavailable, xerrors.CodeOf(err))
	require.Equal(t, chain.DeliveryUnknown, xerrors.MetadataOf(err)[chain.MetaDelivery])
	require.Equal(t, "upstream down", errorMessage(err))

	fake.submitErr = &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	_, err = c.Submit(context.Background(), raw, pa, senders)
	require.Equal(t, xerrors.CodeChainUnavailable, xerrors.CodeOf(err))
	require.Equal(t, chain.DeliveryUnsent, xerrors.MetadataOf(err)[chain.MetaDelivery])

	fake.submitErr = nil
	fake.submitHang = true
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Submit(ctx, raw, pa, senders)
	require.Equal(t, xerrors.CodeTimeout, xerrors.CodeOf(err))
	require.Equal(t, chain.DeliveryUnknown, xerrors.MetadataOf(err)[chain.MetaDelivery])

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	_, err = c.Submit(cancelled, raw, pa, senders)
	require.Equal(t, xerrors.CodeTimeout, xerrors.CodeOf(err))
	require.Equal(t, chain.DeliveryUnsent, xerrors.MetadataOf(err)[chain.MetaDelivery])
}

func errorMessage(err error) string {
	e, _ := xerrors.From(err)
	return e.Message()
}

func TestServerErrorIsUnavailable(t *testing.T) {
	err := nodeError(context.Background(), &aptossdk.HttpError{StatusCode: http.StatusServiceUnavailable, Body: []byte("busy")})
	require.Equal(t, xerrors.CodeChainUnavailable, xerrors.CodeOf(err))
	require.True(t, xerrors.RetryableError(err))
	require.Equal(t, "503", xerrors.MetadataOf(err)[chain.MetaHTTPStatus])
}

func TestTransactionByHash(t *testing.T) {
	c, _ := newTestClient(t)

	info, err := c.TransactionByHash(context.Background(), "0xfeed")
	require.NoError(t, err)
	require.False(t, info.Pending)
	require.False(t, info.Success)
	require.Contains(t, info.VMStatus, "EINSUFFICIENT_BALANCE")
	require.Equal(t, uint64(77), info.Version)

	info, err = c.TransactionByHash(context.Background(), "0xbeef")
	require.NoError(t, err)
	require.True(t, info.Pending)

	_, err = c.TransactionByHash(context.Background(), "0xdead")
	require.Equal(t, xerrors.CodeNotFound, xerrors.CodeOf(err))
}

func TestCancelledRequestIsTimeout(t *testing.T) {
	c, _ := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.AccountInfo(ctx, registered)
	require.Equal(t, xerrors.CodeTimeout, xerrors.CodeOf(err))
	require.ErrorIs(t, err, context.Canceled)
}
