package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltFile       = ".credentials.salt"
	saltSize       = 32
	keySize        = 32
	pbkdf2Rounds   = 100000
	machineIDBytes = 32
)

// TokenEncryptor seals credential blobs at rest with a key derived from
// the machine identity, the user's home directory and a per-directory salt.
type TokenEncryptor struct {
	derivedKey []byte
}

// NewTokenEncryptor derives the sealing key for dataDir, creating the salt on first use.
func NewTokenEncryptor(dataDir string) (*TokenEncryptor, error) {
	salt, err := loadOrCreateSalt(dataDir)
	if err != nil {
		return nil, NewCryptoError("salt", "failed to prepare salt").WithCause(err)
	}

	machineID, err := machineIdentity()
	if err != nil {
		return nil, NewCryptoError("machine_id", "failed to read machine identity").WithCause(err)
	}

	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return nil, NewCryptoError("key_material", "home directory unavailable").WithCause(err)
	}

	material := fmt.Sprintf("%s:%s", machineID, home)
	return &TokenEncryptor{
		derivedKey: pbkdf2.Key([]byte(material), salt, pbkdf2Rounds, keySize, sha256.New),
	}, nil
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext).
func (te *TokenEncryptor) Encrypt(plaintext []byte) (string, error) {
	if len(plaintext) == 0 {
		return "", NewCryptoError("encrypt", "plaintext cannot be empty")
	}

	gcm, err := te.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", NewCryptoError("encrypt", "failed to generate nonce").WithCause(err)
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (te *TokenEncryptor) Decrypt(ciphertext string) ([]byte, error) {
	if ciphertext == "" {
		return nil, NewCryptoError("decrypt", "ciphertext cannot be empty")
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, NewCryptoError("decrypt", "invalid base64 encoding").WithCause(err)
	}

	gcm, err := te.aead()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, NewCryptoError("decrypt", "ciphertext too short")
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, NewCryptoError("decrypt", "authentication failed").WithCause(err)
	}
	return plaintext, nil
}

// EncryptJSON marshals v and seals the result.
func (te *TokenEncryptor) EncryptJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", NewCryptoError("encrypt", "failed to marshal value").WithCause(err)
	}
	return te.Encrypt(data)
}

// DecryptJSON opens ciphertext and unmarshals it into v.
func (te *TokenEncryptor) DecryptJSON(ciphertext string, v any) error {
	data, err := te.Decrypt(ciphertext)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return NewCryptoError("decrypt", "invalid payload").WithCause(err)
	}
	return nil
}

func (te *TokenEncryptor) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(te.derivedKey)
	if err != nil {
		return nil, NewCryptoError("cipher", "failed to create cipher").WithCause(err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, NewCryptoError("cipher", "failed to create GCM").WithCause(err)
	}
	return gcm, nil
}

func loadOrCreateSalt(dataDir string) ([]byte, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	path := filepath.Join(dataDir, saltFile)
	if salt, err := os.ReadFile(path); err == nil && len(salt) == saltSize {
		return salt, nil
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate random salt: %w", err)
	}
	if err := os.WriteFile(path, salt, 0600); err != nil {
		return nil, fmt.Errorf("failed to save salt: %w", err)
	}
	return salt, nil
}

// machineIdentity prefers the systemd/dbus machine id and falls back to hostname+uid.
func machineIdentity() (string, error) {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
			return string(data[:min(len(data), machineIDBytes)]), nil
		}
	}

	hostname, _ := os.Hostname()
	fallback := fmt.Sprintf("%s-%d", hostname, os.Getuid())
	if len(fallback) < 8 {
		return "nextmeeting-machine", nil
	}
	return fallback, nil
}
