package security

import (
	"crypto/sha256"

	"golang.org/x/crypto/pbkdf2"
)

// Key derivation parameters. The vault key deliberately uses twice the
// iteration count of the license key: the vault protects higher-value
// secrets, so it pays for a stronger work factor.
const (
	// KeySize is the derived key length in bytes (AES-256).
	KeySize = 32

	// LicenseKeyIterations is the PBKDF2 iteration count for the key that
	// encrypts the license record on disk.
	LicenseKeyIterations = 100_000

	// VaultKeyIterations is the PBKDF2 iteration count for the key that
	// encrypts the secret vault.
	VaultKeyIterations = 200_000
)

// kdfSalt is the fixed application-wide PBKDF2 salt. Per-machine variation
// comes from the fingerprint mixed into the password material, not the salt.
var kdfSalt = []byte("varsys-kdf-salt-v1")

// DeriveKey derives a 32-byte symmetric key from a master secret, the
// machine fingerprint, and a purpose context using PBKDF2-HMAC-SHA256.
// Identical inputs always produce the identical key.
func DeriveKey(masterSecret, fingerprint, context string, iterations int) []byte {
	material := []byte(masterSecret + fingerprint + context)
	return pbkdf2.Key(material, kdfSalt, iterations, KeySize, sha256.New)
}

// DeriveLicenseKey derives the key protecting the persisted license record.
func DeriveLicenseKey(appSecret, fingerprint string) []byte {
	return DeriveKey(appSecret, fingerprint, "license_store", LicenseKeyIterations)
}

// DeriveVaultKey derives the key protecting the secret vault for the given
// purpose context (e.g. "firebase_store").
func DeriveVaultKey(vaultSecret, fingerprint, context string) []byte {
	return DeriveKey(vaultSecret, fingerprint, context, VaultKeyIterations)
}
