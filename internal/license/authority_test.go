package license

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "VARSYS-AAAA-BBBB-CCCC-DDDD"

func TestHTTPAuthorityActivate(t *testing.T) {
	expires := time.Now().Add(365 * 24 * time.Hour).UTC().Truncate(time.Second)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/licenses/activate", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req ActivationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, testKey, req.LicenseKey)
		assert.Equal(t, "a@b.com", req.Email)
		assert.NotEmpty(t, req.MachineFingerprint)

		json.NewEncoder(w).Encode(IssuedLicense{
			UserID:      "user-42",
			Email:       req.Email,
			LicenseType: "standard",
			Features:    []string{FeatureFullAccess},
			ExpiresAt:   expires,
		})
	}))
	defer srv.Close()

	a := NewHTTPAuthority(srv.URL, 5*time.Second)
	issued, err := a.Activate(context.Background(), ActivationRequest{
		LicenseKey:         testKey,
		Email:              "a@b.com",
		MachineFingerprint: "0123456789abcdef0123456789abcdef",
	})
	require.NoError(t, err)
	assert.Equal(t, "user-42", issued.UserID)
	assert.Equal(t, []string{FeatureFullAccess}, issued.Features)
	assert.True(t, issued.ExpiresAt.Equal(expires))
}

func TestHTTPAuthorityStatusMapping(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		wantRejected bool
		wantErr      bool
	}{
		{"bad request rejects", http.StatusBadRequest, true, true},
		{"forbidden rejects", http.StatusForbidden, true, true},
		{"not found rejects", http.StatusNotFound, true, true},
		{"server error is transport failure", http.StatusInternalServerError, false, true},
		{"bad gateway is transport failure", http.StatusBadGateway, false, true},
		{"no content succeeds", http.StatusNoContent, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			a := NewHTTPAuthority(srv.URL, 5*time.Second)
			err := a.Revalidate(context.Background(), testKey, "fp")

			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantRejected, errors.Is(err, ErrServerRejected))
		})
	}
}

func TestHTTPAuthorityUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	a := NewHTTPAuthority(srv.URL, time.Second)
	err := a.Revalidate(context.Background(), testKey, "fp")

	// Connection failures must stay distinguishable from rejections; the
	// caller fails open on the former and closed on the latter.
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrServerRejected))
}

func TestStaticAuthorityActivate(t *testing.T) {
	a := NewStaticAuthority()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	a.Now = func() time.Time { return now }

	issued, err := a.Activate(context.Background(), ActivationRequest{
		LicenseKey: testKey,
		Email:      "a@b.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", issued.Email)
	assert.Equal(t, "standard", issued.LicenseType)
	assert.Equal(t, []string{FeatureFullAccess}, issued.Features)
	assert.True(t, issued.ExpiresAt.Equal(now.Add(365*24*time.Hour)))
}

func TestStaticAuthorityRejectsMalformedKey(t *testing.T) {
	a := NewStaticAuthority()
	_, err := a.Activate(context.Background(), ActivationRequest{LicenseKey: "not-a-key"})
	assert.ErrorIs(t, err, ErrServerRejected)
}

func TestStaticAuthorityRevoke(t *testing.T) {
	a := NewStaticAuthority()

	require.NoError(t, a.Revalidate(context.Background(), testKey, "fp"))

	a.Revoke(testKey)

	err := a.Revalidate(context.Background(), testKey, "fp")
	assert.ErrorIs(t, err, ErrServerRejected)

	_, err = a.Activate(context.Background(), ActivationRequest{LicenseKey: testKey})
	assert.ErrorIs(t, err, ErrServerRejected)
}

func TestStaticAuthorityFailRevalidate(t *testing.T) {
	a := NewStaticAuthority()
	a.FailRevalidate = errors.New("dial tcp: connection refused")

	err := a.Revalidate(context.Background(), testKey, "fp")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrServerRejected))
}
