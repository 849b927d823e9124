package signer

import (
	"context"
	"crypto/ed25519"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromHexSeedAndKey(t *testing.T) {
	seed := strings.Repeat("01", 32)
	fromSeed, err := FromHex("0x" + seed)
	require.NoError(t, err)

	full := ed25519.NewKeyFromSeed(fromSeed.key.Seed())
	fromKey, err := FromHex(strings.TrimPrefix(hexOf(full), "0x"))
	require.NoError(t, err)

	require.Equal(t, fromSeed.Address(), fromKey.Address())
	require.Equal(t, fromSeed.PublicKey(), fromKey.PublicKey())
	require.Equal(t, DeriveAddress(fromSeed.PublicKey()), fromSeed.Address())

	_, err = FromHex("0x1234")
	require.Error(t, err)
	_, err = FromHex("nothex")
	require.Error(t, err)
}

func TestSignVerify(t *testing.T) {
	s, err := FromHex(strings.Repeat("ab", 32))
	require.NoError(t, err)

	sig, err := s.Sign(context.Background(), []byte("message"))
	require.NoError(t, err)
	require.Len(t, sig, ed25519.SignatureSize)
	require.True(t, Verify(s.PublicKey(), []byte("message"), sig))
	require.False(t, Verify(s.PublicKey(), []byte("other"), sig))
}

func TestSignHonoursCancellation(t *testing.T) {
	s, err := FromHex(strings.Repeat("ab", 32))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Sign(ctx, []byte("message"))
	require.ErrorIs(t, err, context.Canceled)
}

func hexOf(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, 0, 2+2*len(b))
	out = append(out, '0', 'x')
	for _, c := range b {
		out = append(out, digits[c>>4], digits[c&0x0f])
	}
	return string(out)
}
