package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aldar.app/internal/apperr"
)

func TestDecodeValidToken(t *testing.T) {
	d := NewDecoder("secret", "ADR")
	tok, err := d.Issue("sess-1", time.Hour)
	require.NoError(t, err)

	claims, err := d.Decode("Bearer " + tok)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", claims.SessionToken)
	assert.Equal(t, "ADR", claims.Company)
}

func TestDecodeAcceptsHS512FromHeader(t *testing.T) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{SessionToken: "s"}).SignedString([]byte("secret"))
	require.NoError(t, err)

	claims, err := NewDecoder("secret", "ADR").Decode("Bearer " + tok)
	require.NoError(t, err)
	assert.Equal(t, "s", claims.SessionToken)
}

func TestDecodeFailures(t *testing.T) {
	d := NewDecoder("secret", "ADR")
	other, err := NewDecoder("other", "ADR").Issue("s", time.Hour)
	require.NoError(t, err)
	expired, err := d.Issue("s", -time.Minute)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		msg    string
	}{
		{"missing", "", MsgMissing},
		{"wrong scheme", "Basic abc", MsgHeaderError},
		{"empty bearer", "Bearer   ", MsgHeaderError},
		{"garbage", "Bearer not.a.jwt", MsgHeaderError},
		{"wrong secret", "Bearer " + other, MsgSignatureMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := d.Decode(tc.header)
			e, ok := apperr.As(err)
			require.True(t, ok)
			assert.Equal(t, 401, e.Status)
			assert.Equal(t, tc.msg, e.Message)
		})
	}

	_, err = d.Decode("Bearer " + expired)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, 401, e.Status)
	assert.Contains(t, e.Message, "expired")
}

func TestBasicAuthenticator(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	b := NewBasicAuthenticator(map[string]string{"clo": hash})

	req := httptest.NewRequest("POST", "/v1/callbacks/clo/earn", nil)
	req.SetBasicAuth("clo", "s3cret")
	user, err := b.Check(req)
	require.NoError(t, err)
	assert.Equal(t, "clo", user)

	for _, creds := range [][2]string{{"clo", "wrong"}, {"nobody", "s3cret"}} {
		req := httptest.NewRequest("POST", "/", nil)
		req.SetBasicAuth(creds[0], creds[1])
		_, err := b.Check(req)
		assert.True(t, apperr.IsKind(err, apperr.KindAuth))
	}

	_, err = b.Check(httptest.NewRequest("POST", "/", nil))
	assert.Error(t, err)
}

func TestPasswordHashing(t *testing.T) {
	_, err := HashPassword("  ")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	hash, err := HashPassword("clo-pass")
	require.NoError(t, err)
	assert.True(t, VerifyPassword(hash, "clo-pass"))
	assert.False(t, VerifyPassword(hash, "clo-pass "))
	assert.False(t, VerifyPassword("", "clo-pass"))
	assert.False(t, VerifyPassword("plain-text", "plain-text"))
}
