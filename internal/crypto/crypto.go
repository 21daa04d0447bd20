// Package crypto implements the envelope ciphers and digest used by the
// terminus wire protocol: AES-256-CBC (the classic envelope), an
// authenticated ChaCha20-Poly1305 alternative, and MD5 hex digests.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the AES-256 key length; shorter keys are zero-padded.
	KeySize = 32
	// IVSize is the CBC initialization vector length.
	IVSize = aes.BlockSize
)

var (
	ErrCiphertextSize = errors.New("ciphertext is not a positive multiple of the block size")
	ErrPadding        = errors.New("invalid PKCS#7 padding")
	ErrShortSealed    = errors.New("sealed payload shorter than nonce")
)

// Cipher encrypts and decrypts envelope payloads.
type Cipher interface {
	Encrypt(plain []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// fit zero-pads or truncates s to exactly n bytes.
func fit(s string, n int) []byte {
	out := make([]byte, n)
	copy(out, s)
	return out
}

// EncryptCBC encrypts plain with AES-256-CBC and PKCS#7 padding. key and iv
// are zero-padded or truncated to KeySize and IVSize.
func EncryptCBC(plain []byte, key, iv string) ([]byte, error) {
	block, err := aes.NewCipher(fit(key, KeySize))
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	padLen := aes.BlockSize - len(plain)%aes.BlockSize
	out := make([]byte, len(plain)+padLen)
	copy(out, plain)
	copy(out[len(plain):], bytes.Repeat([]byte{byte(padLen)}, padLen))
	cipher.NewCBCEncrypter(block, fit(iv, IVSize)).CryptBlocks(out, out)
	return out, nil
}

// DecryptCBC reverses EncryptCBC. A wrong key or IV normally surfaces as
// ErrPadding; there is no integrity check, so it can also yield garbage.
func DecryptCBC(ciphertext []byte, key, iv string) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrCiphertextSize
	}
	block, err := aes.NewCipher(fit(key, KeySize))
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, fit(iv, IVSize)).CryptBlocks(out, ciphertext)

	padLen := int(out[len(out)-1])
	if padLen == 0 || padLen > aes.BlockSize {
		return nil, ErrPadding
	}
	for _, b := range out[len(out)-padLen:] {
		if int(b) != padLen {
			return nil, ErrPadding
		}
	}
	return out[:len(out)-padLen], nil
}

// MD5Hex returns the lowercase hex MD5 digest of input.
func MD5Hex(input string) string {
	sum := md5.Sum([]byte(input))
	return hex.EncodeToString(sum[:])
}

type cbcCipher struct {
	key, iv string
}

// NewCBC returns the classic AES-256-CBC envelope cipher.
func NewCBC(key, iv string) Cipher {
	return &cbcCipher{key: key, iv: iv}
}

func (c *cbcCipher) Encrypt(plain []byte) ([]byte, error) {
	return EncryptCBC(plain, c.key, c.iv)
}

func (c *cbcCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	return DecryptCBC(ciphertext, c.key, c.iv)
}

// aeadInfo binds derived keys to this envelope format.
const aeadInfo = "terminus envelope v1"

type aeadCipher struct {
	aead cipher.AEAD
}

// NewAEAD returns a ChaCha20-Poly1305 envelope cipher. The 32-byte key is
// derived with HKDF-SHA256 from key, using iv as salt. Each sealed payload is
// nonce || ciphertext || tag.
func NewAEAD(key, iv string) (Cipher, error) {
	derived := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, []byte(key), []byte(iv), []byte(aeadInfo))
	if _, err := io.ReadFull(kdf, derived); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	aead, err := chacha20poly1305.New(derived)
	if err != nil {
		return nil, err
	}
	return &aeadCipher{aead: aead}, nil
}

func (c *aeadCipher) Encrypt(plain []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plain)+c.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, plain, nil), nil
}

func (c *aeadCipher) Decrypt(sealed []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(sealed) < ns {
		return nil, ErrShortSealed
	}
	return c.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
}
