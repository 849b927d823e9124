package codec

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressBoundary(t *testing.T) {
	_, err := AddressFromBytes(make([]byte, 33))
	requireCode(t, err, CodeMalformedAddress)

	_, err = AddressFromBytes(make([]byte, 31))
	requireCode(t, err, CodeMalformedAddress)

	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}
	addr, err := AddressFromBytes(raw)
	require.NoError(t, err)

	encoded, err := Encode(NewAddress(addr))
	require.NoError(t, err)
	require.Equal(t, raw, encoded)

	decoded, err := Decode(encoded, Address)
	require.NoError(t, err)
	require.Equal(t, addr.Hex(), decoded.AccountAddress().Hex())
	require.Equal(t, "0x000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f", decoded.AccountAddress().Hex())
}

func TestParseAddress(t *testing.T) {
	one, err := ParseAddress("0x1")
	require.NoError(t, err)
	require.Equal(t, "0x"+strings.Repeat("0", 63)+"1", one.Hex())

	upper, err := ParseAddress("0X" + strings.Repeat("AB", 32))
	require.NoError(t, err)
	require.Equal(t, "0x"+strings.Repeat("ab", 32), upper.Hex())

	noPrefix, err := ParseAddress(strings.Repeat("ab", 32))
	require.NoError(t, err)
	require.Equal(t, upper, noPrefix)

	_, err = ParseAddress("0x" + strings.Repeat("ab", 33))
	requireCode(t, err, CodeMalformedAddress)

	_, err = ParseAddress("0xzz")
	requireCode(t, err, CodeMalformedAddress)

	_, err = ParseAddress("0x")
	requireCode(t, err, CodeMalformedAddress)
}

func TestAddressJSON(t *testing.T) {
	in := struct {
		Owner AccountAddress `json:"owner"`
	}{Owner: filled(0xCD)}
	b, err := json.Marshal(in)
	require.NoError(t, err)
	require.Contains(t, string(b), `"0x`+strings.Repeat("cd", 32)+`"`)

	var out struct {
		Owner AccountAddress `json:"owner"`
	}
	require.NoError(t, json.Unmarshal(b, &out))
	require.Equal(t, in.Owner, out.Owner)
}
