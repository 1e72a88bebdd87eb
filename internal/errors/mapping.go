package errors

import (
	"errors"
	"net/http"

	"varsys/internal/license"
	"varsys/internal/vault"
)

// FromLicenseError translates a license-layer error into its API shape.
// Tamper-class failures deliberately return the same 403 so a probing
// client cannot distinguish a forged record from a relocated one beyond
// the error code.
func FromLicenseError(err error) *APIError {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, license.ErrInvalidFormat):
		return NewWithDetails(http.StatusBadRequest, license.ErrCodeInvalidFormat, "Invalid license key format", err.Error())
	case errors.Is(err, license.ErrRateLimited):
		return New(http.StatusTooManyRequests, license.ErrCodeRateLimited, "Too many activation attempts, try again later")
	case errors.Is(err, license.ErrNotActivated):
		return New(http.StatusNotFound, license.ErrCodeNotActivated, "No license activated on this machine")
	case errors.Is(err, license.ErrExpired):
		return New(http.StatusUnauthorized, license.ErrCodeExpired, "License has expired")
	case errors.Is(err, license.ErrServerRejected):
		return New(http.StatusForbidden, license.ErrCodeServerRejected, "License server rejected the request")
	case errors.Is(err, license.ErrTamperDetected):
		return New(http.StatusForbidden, license.ErrCodeTamperDetected, "License record failed integrity checks")
	case errors.Is(err, license.ErrMachineMismatch):
		return New(http.StatusForbidden, license.ErrCodeMachineMismatch, "License is bound to a different machine")
	default:
		return ErrInternalServer
	}
}

// FromVaultError translates a vault-layer error into its API shape.
func FromVaultError(err error) *APIError {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, vault.ErrLicenseRequired):
		return New(http.StatusForbidden, vault.ErrCodeLicenseRequired, "Vault access requires a valid license")
	case errors.Is(err, vault.ErrVaultMissing):
		return New(http.StatusNotFound, vault.ErrCodeVaultMissing, "Vault not found")
	case errors.Is(err, vault.ErrOuterTamper),
		errors.Is(err, vault.ErrInnerTamper),
		errors.Is(err, vault.ErrSignatureInvalid),
		errors.Is(err, vault.ErrDecryptFailed):
		return New(http.StatusForbidden, vault.ErrorCode(err), "Vault failed integrity checks")
	case errors.Is(err, vault.ErrMachineMismatch):
		return New(http.StatusForbidden, vault.ErrCodeMachineMismatch, "Vault is bound to a different machine")
	default:
		return ErrInternalServer
	}
}
