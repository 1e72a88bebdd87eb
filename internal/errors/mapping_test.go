package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"varsys/internal/license"
	"varsys/internal/vault"
)

func TestFromLicenseError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid format", license.ErrInvalidFormat, http.StatusBadRequest, "INVALID_LICENSE_FORMAT"},
		{"wrapped invalid format", fmt.Errorf("activate: %w", license.ErrInvalidFormat), http.StatusBadRequest, "INVALID_LICENSE_FORMAT"},
		{"rate limited", license.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED"},
		{"not activated", license.ErrNotActivated, http.StatusNotFound, "NOT_ACTIVATED"},
		{"expired", license.ErrExpired, http.StatusUnauthorized, "LICENSE_EXPIRED"},
		{"rejected", license.ErrServerRejected, http.StatusForbidden, "SERVER_REJECTED"},
		{"tamper", license.ErrTamperDetected, http.StatusForbidden, "TAMPER_DETECTED"},
		{"machine mismatch", license.ErrMachineMismatch, http.StatusForbidden, "MACHINE_MISMATCH"},
		{"unknown", fmt.Errorf("disk on fire"), http.StatusInternalServerError, "INTERNAL_SERVER_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := FromLicenseError(tt.err)
			assert.Equal(t, tt.wantStatus, apiErr.StatusCode)
			assert.Equal(t, tt.wantCode, apiErr.ErrorCode)
		})
	}

	assert.Nil(t, FromLicenseError(nil))
}

func TestFromVaultError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"license required", vault.ErrLicenseRequired, http.StatusForbidden, "LICENSE_REQUIRED"},
		{"missing", vault.ErrVaultMissing, http.StatusNotFound, "VAULT_MISSING"},
		{"outer tamper", vault.ErrOuterTamper, http.StatusForbidden, "OUTER_TAMPER_DETECTED"},
		{"inner tamper", vault.ErrInnerTamper, http.StatusForbidden, "INNER_TAMPER_DETECTED"},
		{"signature", vault.ErrSignatureInvalid, http.StatusForbidden, "SIGNATURE_INVALID"},
		{"decrypt", vault.ErrDecryptFailed, http.StatusForbidden, "DECRYPTION_FAILED"},
		{"machine mismatch", vault.ErrMachineMismatch, http.StatusForbidden, "MACHINE_MISMATCH"},
		{"unknown", fmt.Errorf("disk on fire"), http.StatusInternalServerError, "INTERNAL_SERVER_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := FromVaultError(tt.err)
			assert.Equal(t, tt.wantStatus, apiErr.StatusCode)
			assert.Equal(t, tt.wantCode, apiErr.ErrorCode)
		})
	}

	assert.Nil(t, FromVaultError(nil))
}
