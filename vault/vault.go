/*
Package vault encrypts payout destinations (PayPal emails, Venmo handles) at rest.

PURPOSE:
  Payout destinations are the only sensitive values this engine stores.
  They are sealed with AES-256-GCM before they reach the database and are
  opened only when an admin needs to send money.

FORMAT:
  base64(nonce) ":" base64(tag) ":" base64(ciphertext)

  nonce:  12 random bytes per call, so equal plaintexts never produce equal
          ciphertexts
  tag:    16-byte GCM authentication tag
  base64: standard alphabet, padded, strictly decoded

KEYS:
  The configured master key is 32 bytes written as 64 hex characters. The
  AEAD key is derived from it with HKDF-SHA256 so the same master key can
  later seal other purposes under a different info label.

FAILURE MODES:
  New fails on a missing, short or non-hex key, so a bad deployment dies at
  startup. Decrypt fails with ErrDecrypt on any malformed or tampered input
  and never returns partial plaintext.
*/
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	keyHexLen = 64
	keySize   = 32
	nonceSize = 12
	tagSize   = 16
	separator = ":"

	payoutInfo = "payout-destination/v1"
)

var (
	// ErrKeyMissing is returned by New when no key is configured.
	ErrKeyMissing = errors.New("vault: encryption key is not set")

	// ErrKeyInvalid is returned by New when the key is not 64 hex characters.
	ErrKeyInvalid = errors.New("vault: encryption key must be 64 hex characters (32 bytes)")

	// ErrDecrypt is returned for malformed or tampered ciphertext.
	ErrDecrypt = errors.New("vault: decryption failed")
)

var b64 = base64.StdEncoding.Strict()

// Vault seals and opens payout destinations.
type Vault struct {
	aead cipher.AEAD
	rand io.Reader
}

// New builds a Vault from a hex-encoded master key.
func New(hexKey string) (*Vault, error) {
	hexKey = strings.TrimSpace(hexKey)
	if hexKey == "" {
		return nil, ErrKeyMissing
	}
	if len(hexKey) != keyHexLen {
		return nil, fmt.Errorf("%w: got %d characters", ErrKeyInvalid, len(hexKey))
	}
	master, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyInvalid, err)
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(payoutInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}

	return &Vault{aead: gcm, rand: rand.Reader}, nil
}

// Encrypt seals plaintext with a fresh random nonce.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(v.rand, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := v.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return strings.Join([]string{
		b64.EncodeToString(nonce),
		b64.EncodeToString(tag),
		b64.EncodeToString(ct),
	}, separator), nil
}

// Decrypt opens a value produced by Encrypt.
func (v *Vault) Decrypt(encoded string) (string, error) {
	nonce, tag, ct, err := split(encoded)
	if err != nil {
		return "", err
	}

	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plaintext), nil
}

// IsEncrypted reports whether s has the shape of a sealed value. It does
// not authenticate it.
func IsEncrypted(s string) bool {
	_, _, _, err := split(s)
	return err == nil
}

// IsEncrypted is a method alias for callers holding a *Vault.
func (v *Vault) IsEncrypted(s string) bool { return IsEncrypted(s) }

func split(encoded string) (nonce, tag, ct []byte, err error) {
	parts := strings.Split(encoded, separator)
	if len(parts) != 3 {
		return nil, nil, nil, fmt.Errorf("%w: expected 3 components, got %d", ErrDecrypt, len(parts))
	}
	if nonce, err = b64.DecodeString(parts[0]); err != nil || len(nonce) != nonceSize {
		return nil, nil, nil, fmt.Errorf("%w: bad nonce", ErrDecrypt)
	}
	if tag, err = b64.DecodeString(parts[1]); err != nil || len(tag) != tagSize {
		return nil, nil, nil, fmt.Errorf("%w: bad tag", ErrDecrypt)
	}
	if ct, err = b64.DecodeString(parts[2]); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: bad payload", ErrDecrypt)
	}
	return nonce, tag, ct, nil
}
