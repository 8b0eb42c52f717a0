package batchsync

import (
	"bytes"
	_ "crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
	// keys without hash preferences default to RIPEMD160
	_ "golang.org/x/crypto/ripemd160"
)

// Crypter decrypts inbound files and encrypts result logs for a recipient.
type Crypter interface {
	Decrypt(data []byte) ([]byte, error)
	Encrypt(data []byte, recipient string) ([]byte, error)
}

var ErrNoRecipientKey = errors.New("pgp: no public key for recipient")

// PGP is a Crypter over a keyring of armored or binary key files.
type PGP struct {
	keyring    openpgp.EntityList
	passphrase []byte
}

func NewPGP(keyring openpgp.EntityList, passphrase string) *PGP {
	return &PGP{keyring: keyring, passphrase: []byte(passphrase)}
}

// LoadPGP reads every key file in dir.
func LoadPGP(dir, passphrase string) (*PGP, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read keys dir: %w", err)
	}
	var ring openpgp.EntityList
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		list, err := readKeys(raw)
		if err != nil {
			return nil, fmt.Errorf("read key %s: %w", e.Name(), err)
		}
		ring = append(ring, list...)
	}
	if len(ring) == 0 {
		return nil, fmt.Errorf("no keys found in %s", dir)
	}
	return NewPGP(ring, passphrase), nil
}

func readKeys(raw []byte) (openpgp.EntityList, error) {
	if isArmored(raw) {
		return openpgp.ReadArmoredKeyRing(bytes.NewReader(raw))
	}
	return openpgp.ReadKeyRing(bytes.NewReader(raw))
}

func isArmored(raw []byte) bool {
	return bytes.HasPrefix(bytes.TrimSpace(raw), []byte("-----BEGIN PGP"))
}

func (p *PGP) Decrypt(data []byte) ([]byte, error) {
	var in io.Reader = bytes.NewReader(data)
	if isArmored(data) {
		block, err := armor.Decode(in)
		if err != nil {
			return nil, err
		}
		in = block.Body
	}
	tried := false
	prompt := func(keys []openpgp.Key, symmetric bool) ([]byte, error) {
		if tried {
			return nil, errors.New("pgp: passphrase does not unlock the private key")
		}
		tried = true
		if symmetric {
			return p.passphrase, nil
		}
		for _, k := range keys {
			if k.PrivateKey != nil && k.PrivateKey.Encrypted {
				_ = k.PrivateKey.Decrypt(p.passphrase)
			}
		}
		return nil, nil
	}
	md, err := openpgp.ReadMessage(in, p.keyring, prompt, nil)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(md.UnverifiedBody)
}

// Encrypt produces a binary message for the key whose identity matches
// recipient (email, name or hex key id). Keys are trusted as configured.
func (p *PGP) Encrypt(data []byte, recipient string) ([]byte, error) {
	to := p.recipient(recipient)
	if to == nil {
		return nil, fmt.Errorf("%w %q", ErrNoRecipientKey, recipient)
	}
	var buf bytes.Buffer
	w, err := openpgp.Encrypt(&buf, openpgp.EntityList{to}, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *PGP) recipient(r string) *openpgp.Entity {
	r = strings.ToLower(strings.TrimSpace(r))
	if r == "" {
		return nil
	}
	keyID := strings.TrimPrefix(r, "0x")
	for _, e := range p.keyring {
		if len(keyID) >= 8 && e.PrimaryKey != nil && strings.HasSuffix(strings.ToLower(e.PrimaryKey.KeyIdString()), keyID) {
			return e
		}
		for name, id := range e.Identities {
			if strings.Contains(strings.ToLower(name), r) ||
				(id.UserId != nil && strings.EqualFold(id.UserId.Email, r)) {
				return e
			}
		}
	}
	return nil
}
