package batchsync

import (
	"crypto"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/packet"
)

func TestPGPRoundTrip(t *testing.T) {
	e, err := openpgp.NewEntity("Aldar Logs", "", "logs@aldar.com", nil)
	require.NoError(t, err)
	for _, id := range e.Identities {
		require.Empty(t, id.SelfSignature.PreferredHash)
	}
	p := NewPGP(openpgp.EntityList{e}, "")

	enc, err := p.Encrypt([]byte("email,status\n"), "logs@aldar.com")
	require.NoError(t, err)
	assert.NotContains(t, string(enc), "email,status")

	plain, err := p.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, "email,status\n", string(plain))

	_, err = p.Encrypt([]byte("x"), "someone@else.com")
	assert.ErrorIs(t, err, ErrNoRecipientKey)

	_, err = p.Decrypt([]byte("not a pgp message"))
	assert.Error(t, err)
}

func TestPGPEncryptHonoursHashPreference(t *testing.T) {
	e, err := openpgp.NewEntity("Partner", "", "ops@partner.ae", &packet.Config{DefaultHash: crypto.SHA256})
	require.NoError(t, err)
	p := NewPGP(openpgp.EntityList{e}, "")

	enc, err := p.Encrypt([]byte("row\n"), "ops@partner.ae")
	require.NoError(t, err)
	plain, err := p.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, "row\n", string(plain))
}
