// Package security provides the cryptographic primitives shared by the
// license store and the secret vault: machine fingerprinting, PBKDF2 key
// derivation, AES-256-GCM encryption, constant-time comparison, and secure
// file erasure.
package security
