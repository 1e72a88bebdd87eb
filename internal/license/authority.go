package license

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// ActivationRequest is what the client sends to the license authority.
type ActivationRequest struct {
	LicenseKey         string `json:"license_key"`
	Email              string `json:"email"`
	MachineFingerprint string `json:"machine_fingerprint"`
}

// IssuedLicense is the authority's response body on successful activation.
type IssuedLicense struct {
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	LicenseType string    `json:"license_type"`
	Features    []string  `json:"features"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Authority is the license-issuing service the store talks to. The
// production implementation speaks HTTPS; tests and standalone deployments
// use the in-memory StaticAuthority.
type Authority interface {
	// Activate asks the authority to bind a key to a machine. A declined
	// request returns an error wrapping ErrServerRejected.
	Activate(ctx context.Context, req ActivationRequest) (*IssuedLicense, error)

	// Revalidate confirms an already-activated key is still in good
	// standing. Rejection wraps ErrServerRejected; transport failures
	// return other errors and are the caller's fail-open decision.
	Revalidate(ctx context.Context, licenseKey, fingerprint string) error
}

// HTTPAuthority talks to a remote license server over JSON/HTTP.
type HTTPAuthority struct {
	baseURL string
	client  *http.Client
}

// NewHTTPAuthority creates an authority client with an explicit timeout so
// license checks can never block indefinitely.
func NewHTTPAuthority(baseURL string, timeout time.Duration) *HTTPAuthority {
	return &HTTPAuthority{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Activate implements Authority.
func (a *HTTPAuthority) Activate(ctx context.Context, req ActivationRequest) (*IssuedLicense, error) {
	var issued IssuedLicense
	if err := a.post(ctx, "/api/v1/licenses/activate", req, &issued); err != nil {
		return nil, err
	}
	return &issued, nil
}

// Revalidate implements Authority.
func (a *HTTPAuthority) Revalidate(ctx context.Context, licenseKey, fingerprint string) error {
	payload := map[string]string{
		"license_key":         licenseKey,
		"machine_fingerprint": fingerprint,
	}
	return a.post(ctx, "/api/v1/licenses/revalidate", payload, nil)
}

func (a *HTTPAuthority) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal authority request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build authority request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("license server unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode authority response: %w", err)
		}
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: status %d: %s", ErrServerRejected, resp.StatusCode, bytes.TrimSpace(msg))
	default:
		return fmt.Errorf("license server error: status %d", resp.StatusCode)
	}
}

// StaticAuthority is an in-memory authority that issues a full-access
// license valid for one year to any well-formed key. It stands in for the
// real server in tests and in standalone deployments where no authority URL
// is configured, mirroring the locally-stubbed server of the source system.
type StaticAuthority struct {
	mu      sync.RWMutex
	revoked map[string]bool
	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
	// LicenseDuration defaults to 365 days.
	LicenseDuration time.Duration
	// Features defaults to {full_access}.
	Features []string
	// FailRevalidate simulates an unreachable server on re-checks.
	FailRevalidate error
}

// NewStaticAuthority creates the default local authority.
func NewStaticAuthority() *StaticAuthority {
	return &StaticAuthority{
		revoked:         make(map[string]bool),
		Now:             time.Now,
		LicenseDuration: 365 * 24 * time.Hour,
		Features:        []string{FeatureFullAccess},
	}
}

// Revoke marks a key so subsequent activations and revalidations fail.
func (a *StaticAuthority) Revoke(licenseKey string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.revoked[NormalizeKey(licenseKey)] = true
}

// Activate implements Authority.
func (a *StaticAuthority) Activate(_ context.Context, req ActivationRequest) (*IssuedLicense, error) {
	if err := ValidateKeyFormat(req.LicenseKey); err != nil {
		return nil, fmt.Errorf("%w: malformed key", ErrServerRejected)
	}

	a.mu.RLock()
	revoked := a.revoked[NormalizeKey(req.LicenseKey)]
	a.mu.RUnlock()
	if revoked {
		return nil, fmt.Errorf("%w: license revoked", ErrServerRejected)
	}

	features := make([]string, len(a.Features))
	copy(features, a.Features)

	return &IssuedLicense{
		UserID:      "local-" + HashKey(req.LicenseKey),
		Email:       req.Email,
		LicenseType: "standard",
		Features:    features,
		ExpiresAt:   a.Now().Add(a.LicenseDuration),
	}, nil
}

// Revalidate implements Authority.
func (a *StaticAuthority) Revalidate(_ context.Context, licenseKey, _ string) error {
	if a.FailRevalidate != nil {
		return a.FailRevalidate
	}

	a.mu.RLock()
	revoked := a.revoked[NormalizeKey(licenseKey)]
	a.mu.RUnlock()
	if revoked {
		return fmt.Errorf("%w: license revoked", ErrServerRejected)
	}
	return nil
}
