package txn

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aptos-labs/aptos-go-sdk/bcs"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"

	"CoSign-Chain/internal/codec"
	xerrors "CoSign-Chain/internal/errors"
	"CoSign-Chain/internal/payload"
	"CoSign-Chain/internal/signer"
)

var moduleAddr = codec.MustParseAddress("0xe60c54467e4c094cee951fde4a018ce1504f3b0f09ed86e6c8d9811771c6b1f0")

type fixedSource struct {
	seq     uint64
	chainID uint8
	err     error
	calls   int
}

func (f *fixedSource) SequenceNumber(ctx context.Context, addr codec.AccountAddress) (uint64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.seq, nil
}

func (f *fixedSource) ChainID(ctx context.Context) (uint8, error) { return f.chainID, nil }

type failingSigner struct {
	addr codec.AccountAddress
	err  error
}

func (f failingSigner) Address() codec.AccountAddress { return f.addr }
func (f failingSigner) PublicKey() []byte             { return make([]byte, 32) }
func (f failingSigner) Sign(ctx context.Context, msg []byte) ([]byte, error) {
	return nil, f.err
}

func mustSigner(t *testing.T, seedByte string) *signer.Ed25519 {
	t.Helper()
	s, err := signer.FromHex(strings.Repeat(seedByte, 32))
	require.NoError(t, err)
	return s
}

func registerPayload(t *testing.T) payload.Payload {
	t.Helper()
	p, err := payload.DefaultCatalog(moduleAddr).Build(payload.CallRegisterToken,
		[]string{moduleAddr.Hex() + "::coin::T"}, codec.NewString("registration"))
	require.NoError(t, err)
	return p
}

func fixedClock() time.Time { return time.Unix(1_700_000_000, 0) }

func TestBuildPreservesOrder(t *testing.T) {
	src := &fixedSource{seq: 7, chainID: 2}
	b := NewBuilder(src, WithClock(fixedClock), WithTTL(time.Minute), WithGas(1000, 0))

	payer := codec.MustParseAddress("0x1")
	secondary := []codec.AccountAddress{codec.MustParseAddress("0x3"), codec.MustParseAddress("0x2")}
	raw, err := b.Build(context.Background(), payer, secondary, registerPayload(t))
	require.NoError(t, err)

	require.Equal(t, payer, raw.Sender)
	require.Equal(t, uint64(7), raw.SequenceNumber)
	require.Equal(t, uint8(2), raw.ChainID)
	require.Equal(t, uint64(1000), raw.MaxGasAmount)
	require.Equal(t, uint64(DefaultGasUnitPrice), raw.GasUnitPrice)
	require.Equal(t, uint64(1_700_000_060), raw.ExpirationTimestampSecs)
	require.Equal(t, secondary, raw.SecondarySigners)
	require.Equal(t, []codec.AccountAddress{payer, secondary[0], secondary[1]}, raw.Signers())

	secondary[0] = codec.MustParseAddress("0x9")
	require.Equal(t, codec.MustParseAddress("0x3"), raw.SecondarySigners[0], "builder must copy the signer list")
}

func TestBuildRejectsBadSigners(t *testing.T) {
	b := NewBuilder(&fixedSource{})
	payer := codec.MustParseAddress("0x1")
	p := registerPayload(t)

	_, err := b.Build(context.Background(), payer, nil, p)
	require.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))

	_, err = b.Build(context.Background(), payer, []codec.AccountAddress{payer}, p)
	require.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))

	two := codec.MustParseAddress("0x2")
	_, err = b.Build(context.Background(), payer, []codec.AccountAddress{two, two}, p)
	require.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestBuildFetchesSequenceEachTime(t *testing.T) {
	src := &fixedSource{seq: 1}
	b := NewBuilder(src)
	for i := 0; i < 3; i++ {
		_, err := b.Build(context.Background(), codec.MustParseAddress("0x1"),
			[]codec.AccountAddress{codec.MustParseAddress("0x2")}, registerPayload(t))
		require.NoError(t, err)
	}
	require.Equal(t, 3, src.calls)
}

func TestBuildMapsSourceErrors(t *testing.T) {
	b := NewBuilder(&fixedSource{err: errors.New("connection refused")})
	_, err := b.Build(context.Background(), codec.MustParseAddress("0x1"),
		[]codec.AccountAddress{codec.MustParseAddress("0x2")}, registerPayload(t))
	require.Equal(t, xerrors.CodeChainUnavailable, xerrors.CodeOf(err))

	b = NewBuilder(&fixedSource{err: context.DeadlineExceeded})
	_, err = b.Build(context.Background(), codec.MustParseAddress("0x1"),
		[]codec.AccountAddress{codec.MustParseAddress("0x2")}, registerPayload(t))
	require.Equal(t, xerrors.CodeTimeout, xerrors.CodeOf(err))
}

func TestSigningMessageLayout(t *testing.T) {
	b := NewBuilder(&fixedSource{seq: 3, chainID: 1}, WithClock(fixedClock))
	raw, err := b.Build(context.Background(), codec.MustParseAddress("0x1"),
		[]codec.AccountAddress{codec.MustParseAddress("0x2")}, registerPayload(t))
	require.NoError(t, err)

	msg, err := raw.SigningMessage()
	require.NoError(t, err)
	salt := sha3.Sum256([]byte("APTOS::RawTransactionWithData"))
	require.Equal(t, salt[:], msg[:32])
	require.Equal(t, byte(0), msg[32], "multi-agent variant")

	body, err := raw.RawTransaction.Encode()
	require.NoError(t, err)
	require.Equal(t, body, msg[33:33+len(body)])

	tail := bcs.NewDeserializer(msg[33+len(body):])
	require.Equal(t, uint32(1), tail.Uleb128())
	require.Equal(t, codec.MustParseAddress("0x2").Bytes(), tail.ReadFixedBytes(32))
	require.Zero(t, tail.Remaining())
}

func TestDecodeMultiAgentRoundTrip(t *testing.T) {
	b := NewBuilder(&fixedSource{seq: 11, chainID: 38}, WithClock(fixedClock))
	raw, err := b.Build(context.Background(), codec.MustParseAddress("0x1"),
		[]codec.AccountAddress{codec.MustParseAddress("0x2"), codec.MustParseAddress("0x3")}, registerPayload(t))
	require.NoError(t, err)

	encoded, err := raw.Encode()
	require.NoError(t, err)
	decoded, err := DecodeMultiAgent(encoded, payload.DefaultCatalog(moduleAddr))
	require.NoError(t, err)
	require.Equal(t, raw.Sender, decoded.Sender)
	require.Equal(t, raw.SequenceNumber, decoded.SequenceNumber)
	require.Equal(t, raw.ExpirationTimestampSecs, decoded.ExpirationTimestampSecs)
	require.Equal(t, raw.ChainID, decoded.ChainID)
	require.Equal(t, raw.SecondarySigners, decoded.SecondarySigners)
	require.True(t, raw.Payload.Equal(decoded.Payload))

	_, err = DecodeMultiAgent(encoded[:len(encoded)-5], payload.DefaultCatalog(moduleAddr))
	require.Equal(t, codec.CodeMalformedArgument, xerrors.CodeOf(err))

	single, err := raw.RawTransaction.Encode()
	require.NoError(t, err)
	back, err := DecodeRaw(single, payload.DefaultCatalog(moduleAddr))
	require.NoError(t, err)
	require.Equal(t, raw.MaxGasAmount, back.MaxGasAmount)
}

func TestDecodeMultiAgentRejectsOversizedSignerCount(t *testing.T) {
	b := NewBuilder(&fixedSource{seq: 2, chainID: 38}, WithClock(fixedClock))
	raw, err := b.Build(context.Background(), codec.MustParseAddress("0x1"),
		[]codec.AccountAddress{codec.MustParseAddress("0x2")}, registerPayload(t))
	require.NoError(t, err)
	encoded, err := raw.Encode()
	require.NoError(t, err)

	// 去掉真实的签名者列表（1 字节长度 + 32 字节地址），换成一个巨大的长度。
	var ser bcs.Serializer
	ser.FixedBytes(encoded[:len(encoded)-1-codec.AddressLength])
	ser.Uleb128(0xFFFFFFF0)
	_, err = DecodeMultiAgent(ser.ToBytes(), payload.DefaultCatalog(moduleAddr))
	require.Equal(t, codec.CodeMalformedArgument, xerrors.CodeOf(err))

	// 长度只比剩余字节多一个地址也要拒绝。
	ser = bcs.Serializer{}
	ser.FixedBytes(encoded[:len(encoded)-1-codec.AddressLength])
	ser.Uleb128(2)
	ser.FixedBytes(codec.MustParseAddress("0x2").Bytes())
	_, err = DecodeMultiAgent(ser.ToBytes(), payload.DefaultCatalog(moduleAddr))
	require.Equal(t, codec.CodeMalformedArgument, xerrors.CodeOf(err))
}

func TestAuthenticateAndSignedTransaction(t *testing.T) {
	payer := mustSigner(t, "01")
	user := mustSigner(t, "02")
	b := NewBuilder(&fixedSource{seq: 5, chainID: 1}, WithClock(fixedClock))
	raw, err := b.Build(context.Background(), payer.Address(), []codec.AccountAddress{user.Address()}, registerPayload(t))
	require.NoError(t, err)

	payerAuth, err := Authenticate(context.Background(), raw, payer)
	require.NoError(t, err)
	userAuth, err := Authenticate(context.Background(), raw, user)
	require.NoError(t, err)
	require.True(t, payerAuth.Verify(raw))
	require.True(t, userAuth.Verify(raw))

	other, err := b.Build(context.Background(), payer.Address(), []codec.AccountAddress{user.Address()}, registerPayload(t))
	require.NoError(t, err)
	other.SequenceNumber++
	require.False(t, userAuth.Verify(other), "authenticator must not carry over to another attempt")

	signed, err := SignedTransaction(raw, payerAuth, []Authenticator{userAuth})
	require.NoError(t, err)

	body, err := raw.RawTransaction.Encode()
	require.NoError(t, err)
	d := bcs.NewDeserializer(signed[len(body):])
	require.Equal(t, uint32(2), d.Uleb128(), "multi-agent authenticator")
	require.Equal(t, uint32(0), d.Uleb128(), "ed25519")
	require.Equal(t, payer.PublicKey(), d.ReadBytes())
	require.Equal(t, payerAuth.Signature, d.ReadBytes())
	require.Equal(t, uint32(1), d.Uleb128())
	require.Equal(t, user.Address().Bytes(), d.ReadFixedBytes(32))
	require.Equal(t, uint32(1), d.Uleb128())
	require.Equal(t, uint32(0), d.Uleb128())
	require.Equal(t, user.PublicKey(), d.ReadBytes())
	require.Equal(t, userAuth.Signature, d.ReadBytes())
	require.NoError(t, d.Error())
	require.Zero(t, d.Remaining())

	_, err = SignedTransaction(raw, userAuth, []Authenticator{payerAuth})
	require.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
	_, err = SignedTransaction(raw, payerAuth, nil)
	require.Equal(t, codec.CodeArgumentArityMismatch, xerrors.CodeOf(err))
}

func TestAuthenticateFailures(t *testing.T) {
	b := NewBuilder(&fixedSource{}, WithClock(fixedClock))
	raw, err := b.Build(context.Background(), codec.MustParseAddress("0x1"),
		[]codec.AccountAddress{codec.MustParseAddress("0x2")}, registerPayload(t))
	require.NoError(t, err)

	_, err = Authenticate(context.Background(), raw, failingSigner{err: errors.New("hsm offline")})
	require.Equal(t, CodeSigningFailure, xerrors.CodeOf(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Authenticate(ctx, raw, mustSigner(t, "03"))
	require.Equal(t, CodeSigningFailure, xerrors.CodeOf(err))
	require.ErrorIs(t, err, context.Canceled)
}
