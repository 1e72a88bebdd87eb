package license

import "errors"

// Sentinel errors for license operations. Callers match them with errors.Is;
// the HTTP layer maps them to stable error codes. Every verification failure
// is equivalent from a gate perspective (feature checks return false), only
// the access log distinguishes them.
var (
	// ErrInvalidFormat indicates the supplied key fails the basic
	// VARSYS-XXXX-XXXX-XXXX-XXXX format check.
	ErrInvalidFormat = errors.New("invalid license key format")

	// ErrServerRejected indicates the license authority declined the request.
	ErrServerRejected = errors.New("license server rejected the request")

	// ErrNotActivated indicates no license record is persisted on this machine.
	ErrNotActivated = errors.New("no license activated")

	// ErrTamperDetected indicates the persisted record failed decryption or
	// its recomputed signature did not match.
	ErrTamperDetected = errors.New("license record tamper detected")

	// ErrMachineMismatch indicates the record was activated on a different
	// machine than the one verifying it.
	ErrMachineMismatch = errors.New("license bound to a different machine")

	// ErrExpired indicates the license expiry date is in the past.
	ErrExpired = errors.New("license expired")

	// ErrRateLimited indicates too many failed activation attempts.
	ErrRateLimited = errors.New("too many activation attempts")
)

// Error codes used in API responses and audit details.
const (
	ErrCodeInvalidFormat   = "INVALID_LICENSE_FORMAT"
	ErrCodeServerRejected  = "SERVER_REJECTED"
	ErrCodeNotActivated    = "NOT_ACTIVATED"
	ErrCodeTamperDetected  = "TAMPER_DETECTED"
	ErrCodeMachineMismatch = "MACHINE_MISMATCH"
	ErrCodeExpired         = "LICENSE_EXPIRED"
	ErrCodeRateLimited     = "RATE_LIMITED"
)

// ErrorCode returns the stable code for a license error, or INTERNAL_ERROR
// for anything outside the taxonomy.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidFormat):
		return ErrCodeInvalidFormat
	case errors.Is(err, ErrServerRejected):
		return ErrCodeServerRejected
	case errors.Is(err, ErrNotActivated):
		return ErrCodeNotActivated
	case errors.Is(err, ErrTamperDetected):
		return ErrCodeTamperDetected
	case errors.Is(err, ErrMachineMismatch):
		return ErrCodeMachineMismatch
	case errors.Is(err, ErrExpired):
		return ErrCodeExpired
	case errors.Is(err, ErrRateLimited):
		return ErrCodeRateLimited
	default:
		return "INTERNAL_ERROR"
	}
}
