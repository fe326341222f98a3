// Package vault implements the master-key lifecycle and AEAD encryption
// that back credential storage. No plaintext secret is ever persisted to
// the Store; only vault.Encrypt output is.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"

	"github.com/chaosslabs/personal-automator/internal/automerr"
)

const (
	keySize       = 32
	saltSize      = 32
	ivSize        = 12
	tagSize       = 16
	masterKeyFile = "master.key"
	saltFile      = "key.salt"
)

// Vault fronts the master key used for all credential encryption. A zero
// Vault is not usable; call Initialize first.
type Vault struct {
	dataDir    string
	iterations int
	key        []byte
}

// New constructs a Vault bound to dataDir, deriving its working key with the
// given PBKDF2 iteration count (spec floor: 100,000).
func New(dataDir string, iterations int) *Vault {
	if iterations < 100000 {
		iterations = 100000
	}
	return &Vault{dataDir: dataDir, iterations: iterations}
}

// Initialize ensures the data directory exists (mode 0700), generates the
// master key and salt files on first use (mode 0400), loads both, and
// derives the working key. Safe to call repeatedly.
func (v *Vault) Initialize() error {
	if err := os.MkdirAll(v.dataDir, 0700); err != nil {
		return automerr.New("Vault.Initialize", automerr.KindIO, err)
	}

	keyPath := filepath.Join(v.dataDir, masterKeyFile)
	saltPath := filepath.Join(v.dataDir, saltFile)

	masterKey, err := loadOrCreateSecretFile(keyPath, keySize)
	if err != nil {
		return automerr.New("Vault.Initialize", automerr.KindCrypto, err)
	}
	salt, err := loadOrCreateSecretFile(saltPath, saltSize)
	if err != nil {
		return automerr.New("Vault.Initialize", automerr.KindCrypto, err)
	}

	v.key = pbkdf2.Key(masterKey, salt, v.iterations, keySize, sha256.New)
	zero(masterKey)
	zero(salt)
	return nil
}

// ClearKey zero-fills the derived key buffer and drops it. Further
// Encrypt/Decrypt calls fail with automerr.KindCrypto until Initialize runs
// again.
func (v *Vault) ClearKey() {
	zero(v.key)
	v.key = nil
}

// Initialized reports whether a working key is currently loaded.
func (v *Vault) Initialized() bool { return len(v.key) == keySize }

// Encrypt returns base64(IV || TAG || CIPHERTEXT) for plaintext. Two
// encryptions of the same plaintext always differ (fresh random IV).
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if !v.Initialized() {
		return "", automerr.New("Vault.Encrypt", automerr.KindCrypto, fmt.Errorf("vault not initialized"))
	}
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", automerr.New("Vault.Encrypt", automerr.KindCrypto, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", automerr.New("Vault.Encrypt", automerr.KindCrypto, err)
	}
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", automerr.New("Vault.Encrypt", automerr.KindCrypto, err)
	}
	// Seal returns CIPHERTEXT || TAG; reorder to the stored IV || TAG || CIPHERTEXT.
	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ctLen := len(sealed) - tagSize
	out := append(iv, sealed[ctLen:]...)
	out = append(out, sealed[:ctLen]...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Returns automerr.KindCrypto on malformed input,
// authentication failure, or an uninitialized vault.
func (v *Vault) Decrypt(encoded string) (string, error) {
	if !v.Initialized() {
		return "", automerr.New("Vault.Decrypt", automerr.KindCrypto, fmt.Errorf("vault not initialized"))
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", automerr.New("Vault.Decrypt", automerr.KindCrypto, fmt.Errorf("decrypt_failed: %w", err))
	}
	if len(raw) < ivSize+tagSize {
		return "", automerr.New("Vault.Decrypt", automerr.KindCrypto, fmt.Errorf("decrypt_failed: ciphertext too short"))
	}
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", automerr.New("Vault.Decrypt", automerr.KindCrypto, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", automerr.New("Vault.Decrypt", automerr.KindCrypto, err)
	}
	iv, tag, ciphertext := raw[:ivSize], raw[ivSize:ivSize+tagSize], raw[ivSize+tagSize:]
	sealed := append(append([]byte{}, ciphertext...), tag...)
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", automerr.New("Vault.Decrypt", automerr.KindCrypto, fmt.Errorf("decrypt_failed: %w", err))
	}
	return string(plaintext), nil
}

// Verify round-trips a probe value through Encrypt/Decrypt and reports
// whether the vault is functioning under its current key.
func (v *Vault) Verify() bool {
	const probe = "personal-automator-vault-probe"
	ct, err := v.Encrypt(probe)
	if err != nil {
		return false
	}
	pt, err := v.Decrypt(ct)
	return err == nil && pt == probe
}

func loadOrCreateSecretFile(path string, size int) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != size {
			return nil, fmt.Errorf("%s: expected %d bytes, got %d", path, size, len(data))
		}
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	fresh := make([]byte, size)
	if _, err := rand.Read(fresh); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, fresh, 0400); err != nil {
		return nil, err
	}
	return fresh, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
