package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"os"
)

// gcmNonceSize is the 96-bit nonce size used by AES-GCM.
const gcmNonceSize = 12

// Encrypt seals plaintext with AES-256-GCM under the given key and returns
// nonce||ciphertext. The GCM tag is part of the ciphertext, so decryption
// authenticates the whole blob.
func Encrypt(key, plaintext []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}
	if len(plaintext) == 0 {
		return nil, errors.New("plaintext cannot be empty")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a nonce||ciphertext blob produced by Encrypt. Authentication
// failure (wrong key or modified ciphertext) returns an error and no data.
func Decrypt(key, blob []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("decryption key must be %d bytes, got %d", KeySize, len(key))
	}
	if len(blob) < gcmNonceSize+1 {
		return nil, errors.New("ciphertext too short")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce, ciphertext := blob[:gcmNonceSize], blob[gcmNonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}

	return plaintext, nil
}

// ConstantTimeEquals performs constant-time comparison to prevent timing attacks
func ConstantTimeEquals(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Wipe overwrites a byte slice with zeros. Callers use it to clear derived
// keys and decrypted payloads once they are no longer needed.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// SecureErase overwrites the file at path with cryptographically random
// bytes before deleting it, defeating trivial undelete recovery. The
// overwrite buffer is at least minSize bytes, and at least as large as the
// original file. A missing file is not an error.
func SecureErase(path string, minSize int64) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	size := info.Size()
	if size < minSize {
		size = minSize
	}

	file, err := os.OpenFile(path, os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open %s for overwrite: %w", path, err)
	}

	if _, err := io.CopyN(file, rand.Reader, size); err != nil {
		file.Close()
		return fmt.Errorf("failed to overwrite %s: %w", path, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}

	return nil
}
