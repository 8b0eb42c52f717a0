// Package codec implements the AES envelope shared with the mobile clients.
//
// The clients do not strip block padding reliably, so Decode recovers the JSON
// document from the decrypted bytes with a set of truncation rules instead of
// unpadding. Those rules are part of the wire contract and must not change.
package codec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Mode values follow the numbering the clients were configured with.
const (
	ModeECB = 1
	ModeCBC = 2
)

const blockSize = aes.BlockSize

// ErrDecrypt is the only error surfaced to callers; details never leave the package.
var ErrDecrypt = errors.New("codec: unable to decrypt payload")

var (
	errUnsupportedMode = errors.New("codec: unsupported cipher mode")
	errShortCiphertext = errors.New("codec: ciphertext is not a multiple of the block size")
	errIV              = errors.New("codec: iv must be 16 bytes")
)

var wireReplacer = strings.NewReplacer("-", "+", "_", "/", ",", "=")

// Pad appends k - len%k bytes of value k - len%k. A full block is always added
// to block aligned input.
func Pad(b []byte, k int) []byte {
	n := k - len(b)%k
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func newBlockMode(key, iv []byte, mode int, encrypt bool) (cipher.BlockMode, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	switch mode {
	case ModeCBC:
		if len(iv) != blockSize {
			return nil, errIV
		}
		if encrypt {
			return cipher.NewCBCEncrypter(block, iv), nil
		}
		return cipher.NewCBCDecrypter(block, iv), nil
	case ModeECB:
		return ecb{b: block, encrypt: encrypt}, nil
	default:
		return nil, fmt.Errorf("%w: %d", errUnsupportedMode, mode)
	}
}

// Encode pads, encrypts and base64 encodes plaintext. Any failure yields "".
func Encode(key, iv []byte, mode int, plaintext []byte) string {
	bm, err := newBlockMode(key, iv, mode, true)
	if err != nil {
		return ""
	}
	src := Pad(append([]byte(nil), plaintext...), blockSize)
	dst := make([]byte, len(src))
	bm.CryptBlocks(dst, src)
	return base64.StdEncoding.EncodeToString(dst)
}

// Decode decrypts ciphertext and recovers the JSON text from it.
//
// With addPadding the ciphertext is padded before decryption and the text is
// cut after the last "\n}" (or the last `"}`), or at the first newline when no
// brace is present. Without it the text is cut after the last '}'.
func Decode(key, iv []byte, mode int, ciphertext []byte, addPadding bool) (string, error) {
	bm, err := newBlockMode(key, iv, mode, false)
	if err != nil {
		return "", err
	}
	src := append([]byte(nil), ciphertext...)
	if addPadding {
		src = Pad(src, blockSize)
	}
	if len(src) == 0 || len(src)%blockSize != 0 {
		return "", errShortCiphertext
	}
	dst := make([]byte, len(src))
	bm.CryptBlocks(dst, src)
	return recoverText(strings.ToValidUTF8(string(dst), ""), addPadding), nil
}

func recoverText(text string, addPadding bool) string {
	if !addPadding {
		return text[:strings.LastIndex(text, "}")+1]
	}
	if strings.Contains(text, "}") {
		found := strings.LastIndex(text, "\n}") + 2
		if found < 2 {
			found = strings.LastIndex(text, "\"}") + 2
		}
		return text[:found]
	}
	if found := strings.Index(text, "\n"); found > 0 {
		return text[:found]
	}
	return text
}

// FromWire reverses the URL-safe alphabet the clients use (-_, for +/=) and base64 decodes.
func FromWire(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(wireReplacer.Replace(strings.TrimSpace(s)))
}

// Codec binds the key material configured for the service.
type Codec struct {
	key  []byte
	iv   []byte
	mode int
}

// New validates the key material and returns a Codec.
func New(key, iv string, mode int) (*Codec, error) {
	if _, err := newBlockMode([]byte(key), []byte(iv), mode, true); err != nil {
		return nil, err
	}
	return &Codec{key: []byte(key), iv: []byte(iv), mode: mode}, nil
}

// EncodeJSON marshals v and encodes it. Any failure yields "".
func (c *Codec) EncodeJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return Encode(c.key, c.iv, c.mode, raw)
}

// DecodeParams turns a wire "params" value into the JSON object it carries.
// Every failure is reported as ErrDecrypt.
func (c *Codec) DecodeParams(wire string) (map[string]any, error) {
	raw, err := FromWire(wire)
	if err != nil {
		return nil, fmt.Errorf("%w: base64", ErrDecrypt)
	}
	text, err := Decode(c.key, c.iv, c.mode, raw, false)
	if err != nil {
		return nil, fmt.Errorf("%w: cipher", ErrDecrypt)
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(text), &out); err != nil || out == nil {
		return nil, fmt.Errorf("%w: json", ErrDecrypt)
	}
	return out, nil
}

// ecb is not offered by crypto/cipher; the legacy clients may still be configured for it.
type ecb struct {
	b       cipher.Block
	encrypt bool
}

func (e ecb) BlockSize() int { return e.b.BlockSize() }

func (e ecb) CryptBlocks(dst, src []byte) {
	for len(src) > 0 {
		if e.encrypt {
			e.b.Encrypt(dst, src[:blockSize])
		} else {
			e.b.Decrypt(dst, src[:blockSize])
		}
		src, dst = src[blockSize:], dst[blockSize:]
	}
}
