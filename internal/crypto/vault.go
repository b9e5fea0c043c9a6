// Package crypto encrypts venue API tokens at rest with a passphrase-derived
// key.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	// saltLen is the random salt length in bytes.
	saltLen = 16
	// aesKeyLen is the derived AES-256 key length.
	aesKeyLen = 32
	// currentVersion is the encrypted-token schema version.
	currentVersion = 1
)

// encryptedTokenJSON is the stored format for an encrypted token, serialized
// and base64-wrapped so it fits a text column.
type encryptedTokenJSON struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`       // base64 standard encoding
	Nonce      string `json:"nonce"`      // base64 standard encoding
	Ciphertext string `json:"ciphertext"` // base64 standard encoding
}

// Vault encrypts and decrypts venue API tokens using PBKDF2-HMAC-SHA256 key
// derivation and AES-256-GCM authenticated encryption. Each token gets a
// fresh salt and nonce.
type Vault struct {
	passphrase []byte
}

// NewVault creates a Vault keyed by the given passphrase.
func NewVault(passphrase string) (*Vault, error) {
	if passphrase == "" {
		return nil, errors.New("crypto: vault passphrase must not be empty")
	}
	return &Vault{passphrase: []byte(passphrase)}, nil
}

// Encrypt seals a plaintext token into a storable opaque string.
func (v *Vault) Encrypt(token string) (string, error) {
	if token == "" {
		return "", errors.New("crypto: token must not be empty")
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := v.cipherFor(salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: generating nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, []byte(token), nil)

	blob, err := json.Marshal(encryptedTokenJSON{
		Version:    currentVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	})
	if err != nil {
		return "", fmt.Errorf("crypto: marshal encrypted token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt opens a string produced by Encrypt, returning the plaintext token.
func (v *Vault) Decrypt(stored string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding stored token: %w", err)
	}

	var st encryptedTokenJSON
	if err := json.Unmarshal(blob, &st); err != nil {
		return "", fmt.Errorf("crypto: parsing encrypted token: %w", err)
	}
	if st.Version != currentVersion {
		return "", fmt.Errorf("crypto: unsupported version %d", st.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(st.Salt)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(st.Nonce)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(st.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	gcm, err := v.cipherFor(salt)
	if err != nil {
		return "", err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed (wrong passphrase?): %w", err)
	}
	return string(plaintext), nil
}

func (v *Vault) cipherFor(salt []byte) (cipher.AEAD, error) {
	derivedKey := pbkdf2.Key(v.passphrase, salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}
