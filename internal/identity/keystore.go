package identity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/scrypt"
)

// ErrPassphrase is returned when a keystore file cannot be decrypted.
// GCM authentication cannot tell a wrong passphrase from a corrupt file,
// so both surface as this error.
var ErrPassphrase = errors.New("identity: wrong passphrase or corrupt keystore")

const (
	saltLen = 16

	// scrypt parameters per the package's recommended interactive values.
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
	keyLen  = 32
)

// SaveKey encrypts the identity's private key with AES-256-GCM under a key
// derived from passphrase via scrypt and writes it to path with 0600
// permissions. File format: base64(salt || nonce || ciphertext).
func SaveKey(id *Identity, path, passphrase string) error {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("identity.SaveKey: generate salt: %w", err)
	}

	aead, err := deriveAEAD(passphrase, salt)
	if err != nil {
		return fmt.Errorf("identity.SaveKey: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("identity.SaveKey: generate nonce: %w", err)
	}

	// Layout: salt || nonce || ciphertext, all in one base64 blob.
	sealed := aead.Seal(nil, nonce, id.priv, nil)
	blob := make([]byte, 0, saltLen+len(nonce)+len(sealed))
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = append(blob, sealed...)

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("identity.SaveKey: %w", err)
		}
	}

	encoded := base64.StdEncoding.EncodeToString(blob)
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		return fmt.Errorf("identity.SaveKey: %w", err)
	}
	return nil
}

// LoadKey reads and decrypts an identity saved by SaveKey. Decryption
// failure of any kind returns ErrPassphrase.
func LoadKey(path, passphrase string) (*Identity, error) {
	encoded, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("identity.LoadKey: %w", err)
	}

	blob, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		return nil, fmt.Errorf("identity.LoadKey: %w", ErrPassphrase)
	}
	if len(blob) < saltLen {
		return nil, fmt.Errorf("identity.LoadKey: %w", ErrPassphrase)
	}

	salt, rest := blob[:saltLen], blob[saltLen:]
	aead, err := deriveAEAD(passphrase, salt)
	if err != nil {
		return nil, fmt.Errorf("identity.LoadKey: %w", err)
	}
	if len(rest) < aead.NonceSize() {
		return nil, fmt.Errorf("identity.LoadKey: %w", ErrPassphrase)
	}

	nonce, sealed := rest[:aead.NonceSize()], rest[aead.NonceSize():]
	priv, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("identity.LoadKey: %w", ErrPassphrase)
	}

	id, err := FromPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("identity.LoadKey: %w", err)
	}
	return id, nil
}

// LoadOrCreate loads the identity at path, or generates and saves a new one
// when the file does not exist. This is the entry point for persistent
// agent identity across restarts.
func LoadOrCreate(path, passphrase string) (*Identity, error) {
	if _, err := os.Stat(path); err == nil {
		return LoadKey(path, passphrase)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("identity.LoadOrCreate: %w", err)
	}

	id, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := SaveKey(id, path, passphrase); err != nil {
		return nil, err
	}
	return id, nil
}

func deriveAEAD(passphrase string, salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	return cipher.NewGCM(block)
}
