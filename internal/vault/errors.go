package vault

import "errors"

var (
	// ErrLicenseRequired is returned when the feature gate denies access.
	ErrLicenseRequired = errors.New("vault access requires a valid license")

	// ErrVaultMissing is returned when the vault or checksum file is absent.
	ErrVaultMissing = errors.New("vault not found")

	// ErrOuterTamper is returned when the detached checksum does not match
	// the vault file as read from disk.
	ErrOuterTamper = errors.New("vault file checksum mismatch")

	// ErrInnerTamper is returned when the integrity hash inside the vault
	// record does not match the ciphertext.
	ErrInnerTamper = errors.New("vault integrity hash mismatch")

	// ErrDecryptFailed is returned when authenticated decryption of the
	// payload fails.
	ErrDecryptFailed = errors.New("vault decryption failed")

	// ErrMachineMismatch is returned when the payload is bound to a
	// different machine fingerprint.
	ErrMachineMismatch = errors.New("vault bound to a different machine")

	// ErrSignatureInvalid is returned when the payload signature does not
	// bind the config to this machine and license.
	ErrSignatureInvalid = errors.New("vault payload signature invalid")
)

// Error codes for API responses and audit details.
const (
	ErrCodeLicenseRequired  = "LICENSE_REQUIRED"
	ErrCodeVaultMissing     = "VAULT_MISSING"
	ErrCodeOuterTamper      = "OUTER_TAMPER_DETECTED"
	ErrCodeInnerTamper      = "INNER_TAMPER_DETECTED"
	ErrCodeDecryptFailed    = "DECRYPTION_FAILED"
	ErrCodeMachineMismatch  = "MACHINE_MISMATCH"
	ErrCodeSignatureInvalid = "SIGNATURE_INVALID"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// ErrorCode maps a vault error to its stable code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrLicenseRequired):
		return ErrCodeLicenseRequired
	case errors.Is(err, ErrVaultMissing):
		return ErrCodeVaultMissing
	case errors.Is(err, ErrOuterTamper):
		return ErrCodeOuterTamper
	case errors.Is(err, ErrInnerTamper):
		return ErrCodeInnerTamper
	case errors.Is(err, ErrDecryptFailed):
		return ErrCodeDecryptFailed
	case errors.Is(err, ErrMachineMismatch):
		return ErrCodeMachineMismatch
	case errors.Is(err, ErrSignatureInvalid):
		return ErrCodeSignatureInvalid
	default:
		return ErrCodeInternal
	}
}
