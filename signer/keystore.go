package signer

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/pbkdf2"

	"github.com/nostrwire/core/protocol"
	"github.com/nostrwire/core/storage"
)

const (
	kdfIterations = 100_000
	kdfKeyLen     = 32
	saltLen       = 16
	nonceLen      = 12
)

// deriveKey stretches passphrase into an AES-256 key using PBKDF2-SHA256,
// matching the iteration count the original keystore used, minus its
// fixed salt — see encryptSecretKey.
func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, kdfIterations, kdfKeyLen, sha256.New)
}

// encryptSecretKey seals skBytes under passphrase. Unlike the original
// keystore, salt and nonce are both freshly randomised per call and
// stored alongside the ciphertext as salt(16) || nonce(12) || ciphertext,
// so two installs sharing a passphrase never share a key or nonce.
func encryptSecretKey(passphrase string, skBytes []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, protocol.SignerErrorf("generate keystore salt: %w", err)
	}
	key := deriveKey(passphrase, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, protocol.SignerErrorf("init keystore cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, protocol.SignerErrorf("init keystore gcm: %w", err)
	}
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, protocol.SignerErrorf("generate keystore nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, skBytes, nil)
	out := make([]byte, 0, saltLen+nonceLen+len(ciphertext))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// decryptSecretKey is the inverse of encryptSecretKey.
func decryptSecretKey(passphrase string, blob []byte) ([]byte, error) {
	if len(blob) < saltLen+nonceLen {
		return nil, protocol.SignerErrorf("keystore blob is truncated")
	}
	salt := blob[:saltLen]
	nonce := blob[saltLen : saltLen+nonceLen]
	ciphertext := blob[saltLen+nonceLen:]

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, protocol.SignerErrorf("init keystore cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, protocol.SignerErrorf("init keystore gcm: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, protocol.SignerErrorf("decrypt keystore blob, wrong passphrase?: %w", err)
	}
	return plaintext, nil
}

// LoadInternal decrypts the keystore blob persisted in store and
// returns the Internal signer it holds, or nil if no keypair has ever
// been saved.
func LoadInternal(passphrase string, store storage.Store) (*Internal, error) {
	blob, err := store.GetKeypair()
	if err != nil {
		return nil, protocol.StorageErrorf("load keypair: %w", err)
	}
	if blob == nil {
		return nil, nil
	}
	skBytes, err := decryptSecretKey(passphrase, blob)
	if err != nil {
		return nil, err
	}
	return NewInternal(hex.EncodeToString(skBytes))
}

// SaveToStorage encrypts s's secret key under passphrase and persists
// it, overwriting any previously saved keypair.
func (s *Internal) SaveToStorage(passphrase string, store storage.Store) error {
	skBytes, err := s.secretKeyBytes()
	if err != nil {
		return protocol.SignerErrorf("decode secret key: %w", err)
	}
	blob, err := encryptSecretKey(passphrase, skBytes)
	if err != nil {
		return err
	}
	if err := store.SaveKeypair(blob); err != nil {
		return protocol.StorageErrorf("save keypair: %w", err)
	}
	return nil
}
