package codec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey = "0123456789abcdef0123456789abcdef"
	testIV  = "fedcba9876543210"
)

func toWire(s string) string {
	return strings.NewReplacer("+", "-", "/", "_", "=", ",").Replace(s)
}

func TestPadAlwaysAddsBytes(t *testing.T) {
	assert.Len(t, Pad(make([]byte, 16), 16), 32)
	padded := Pad([]byte("abc"), 16)
	require.Len(t, padded, 16)
	assert.Equal(t, bytes.Repeat([]byte{13}, 13), padded[3:])
}

func TestRoundTripThroughWire(t *testing.T) {
	c, err := New(testKey, testIV, ModeCBC)
	require.NoError(t, err)

	in := map[string]any{"email": "a@b.ae", "amount": 105.0, "note": "}{ tricky"}
	enc := c.EncodeJSON(in)
	require.NotEmpty(t, enc)

	out, err := c.DecodeParams(toWire(enc))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEncodeFailureIsEmpty(t *testing.T) {
	assert.Empty(t, Encode([]byte("short"), []byte(testIV), ModeCBC, []byte("{}")))
	assert.Empty(t, Encode([]byte(testKey), []byte(testIV), 42, []byte("{}")))
}

func TestDecodeParamsWrongKey(t *testing.T) {
	enc := Encode([]byte(testKey), []byte(testIV), ModeCBC, []byte(`{"a":1}`))
	other, err := New("ffffffffffffffffffffffffffffffff", testIV, ModeCBC)
	require.NoError(t, err)

	_, err = other.DecodeParams(toWire(enc))
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestDecodeParamsRejectsBadInput(t *testing.T) {
	c, err := New(testKey, testIV, ModeCBC)
	require.NoError(t, err)

	for _, wire := range []string{"%%%", "", "YWJj"} {
		_, err := c.DecodeParams(wire)
		assert.ErrorIs(t, err, ErrDecrypt, wire)
	}
}

func TestRecoverText(t *testing.T) {
	cases := []struct {
		name       string
		in         string
		addPadding bool
		want       string
	}{
		{"last brace", "{\"a\":{\"b\":1}}\x03\x03\x03", false, "{\"a\":{\"b\":1}}"},
		{"no brace without padding", "garbage", false, ""},
		{"pretty printed", "{\n  \"a\": 1\n}\x10junk}", true, "{\n  \"a\": 1\n}"},
		{"quote brace fallback", "{\"a\":\"x\"}\x05\x05", true, "{\"a\":\"x\"}"},
		{"brace but no known suffix", "{\"a\":1}zz", true, "{"},
		{"no brace cut at newline", "token-123\nrest", true, "token-123"},
		{"no brace leading newline kept", "\nrest", true, "\nrest"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, recoverText(tc.in, tc.addPadding))
		})
	}
}

func TestECBRoundTrip(t *testing.T) {
	enc := Encode([]byte(testKey), nil, ModeECB, []byte(`{"k":"v"}`))
	require.NotEmpty(t, enc)
	raw, err := FromWire(enc)
	require.NoError(t, err)
	text, err := Decode([]byte(testKey), nil, ModeECB, raw, false)
	require.NoError(t, err)
	assert.Equal(t, `{"k":"v"}`, text)
}
