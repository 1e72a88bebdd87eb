package license

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"varsys/internal/audit"
	"varsys/internal/config"
	"varsys/internal/security"
)

// Gate is the narrow feature-flag surface the rest of the product consults
// before touching anything license-protected. The vault re-checks it before
// every operation.
type Gate interface {
	// IsFeatureEnabled reports whether the current license grants a feature.
	// It never returns an error; every internal failure collapses to false.
	IsFeatureEnabled(ctx context.Context, feature string) bool

	// CurrentLicenseKey returns the key of the currently verified license.
	CurrentLicenseKey(ctx context.Context) (string, error)
}

// validationResult caches the outcome of a verification so hot paths (the
// gate, the vault) do not re-run decryption and signature checks on every
// call. Failures are cached briefly so a broken record cannot hammer disk.
type validationResult struct {
	record      *Record
	err         error
	cachedUntil time.Time
}

// Manager owns the lifecycle of the single license record on this machine:
// activation, verification, periodic online re-validation, deactivation,
// and the feature gate. It is the explicit service object the rest of the
// system receives by injection; there are no package-level singletons.
type Manager struct {
	licenseFile     string
	appSecret       string
	integrityKey    string
	recheckInterval time.Duration

	authority   Authority
	fingerprint security.FingerprintProvider
	access      *audit.Logger
	metrics     *Metrics

	limiter      *AttemptLimiter
	recheckGroup singleflight.Group

	// fileMu serializes read-modify-write cycles on license.dat.
	fileMu sync.Mutex

	validation   *validationResult
	validationMu sync.RWMutex

	now func() time.Time
}

// NewManager wires a license manager from configuration and injected
// collaborators.
func NewManager(cfg *config.Config, authority Authority, fingerprint security.FingerprintProvider, access *audit.Logger) *Manager {
	return &Manager{
		licenseFile:     cfg.Paths.LicenseFile,
		appSecret:       cfg.Secrets.AppSecret,
		integrityKey:    cfg.Secrets.IntegrityKey,
		recheckInterval: cfg.Authority.RecheckEvery,
		authority:       authority,
		fingerprint:     fingerprint,
		access:          access,
		limiter: NewAttemptLimiter(
			cfg.Security.MaxActivationAttempts,
			cfg.Security.BlockDuration,
			cfg.Security.AttemptWindow,
		),
		now: time.Now,
	}
}

// SetMetrics attaches OpenTelemetry instruments. Optional; a manager
// without metrics records nothing.
func (m *Manager) SetMetrics(metrics *Metrics) {
	m.metrics = metrics
}

// Close stops background goroutines.
func (m *Manager) Close() error {
	m.limiter.Stop()
	return nil
}

// Activate binds a license key to this machine: it validates the key
// format, asks the authority to issue the license, signs the resulting
// record, encrypts it under a machine-bound key, and persists it.
func (m *Manager) Activate(ctx context.Context, licenseKey, email string) error {
	err := m.performActivation(ctx, licenseKey, email)
	m.metrics.recordActivation(ctx, err)
	if err != nil {
		m.access.Record(ctx, "license_activate", false, ErrorCode(err))
		return err
	}
	m.access.Record(ctx, "license_activate", true, "key "+HashKey(licenseKey))
	return nil
}

func (m *Manager) performActivation(ctx context.Context, licenseKey, email string) error {
	key := NormalizeKey(licenseKey)

	if err := ValidateKeyFormat(key); err != nil {
		m.logWarn(ctx, "license_activate", "license key failed format check",
			keyAttrs(key)...)
		return err
	}

	fingerprint, err := m.fingerprint.Fingerprint(ctx)
	if err != nil {
		return fmt.Errorf("fingerprint unavailable: %w", err)
	}

	if m.limiter.IsBlocked(fingerprint) {
		m.logWarn(ctx, "license_activate", "activation blocked by attempt limiter",
			slog.String("fingerprint", fingerprint))
		return ErrRateLimited
	}

	m.logInfo(ctx, "license_activate", "starting license activation",
		append(keyAttrs(key), slog.String("email_masked", MaskEmail(email)))...)

	issued, err := m.authority.Activate(ctx, ActivationRequest{
		LicenseKey:         key,
		Email:              email,
		MachineFingerprint: fingerprint,
	})
	if err != nil {
		m.limiter.RecordAttempt(fingerprint, false)
		if errors.Is(err, ErrServerRejected) {
			m.logWarn(ctx, "license_activate", "authority rejected activation",
				append(keyAttrs(key), slog.String("error", err.Error()))...)
			return err
		}
		m.logError(ctx, "license_activate", "authority unreachable during activation",
			slog.String("error", err.Error()))
		return fmt.Errorf("license activation failed: %w", err)
	}

	now := m.now()
	record := &Record{
		UserID:             issued.UserID,
		Email:              issued.Email,
		LicenseKey:         key,
		MachineFingerprint: fingerprint,
		LicenseType:        issued.LicenseType,
		Features:           issued.Features,
		ActivatedAt:        now,
		ExpiresAt:          issued.ExpiresAt,
		LastOnlineCheck:    now,
	}
	record.Sign(m.integrityKey)

	if err := m.persistRecord(record, fingerprint); err != nil {
		return fmt.Errorf("failed to persist license record: %w", err)
	}

	m.limiter.RecordAttempt(fingerprint, true)
	m.invalidateCache()

	m.logInfo(ctx, "license_activate", "license activated",
		append(keyAttrs(key),
			slog.String("license_type", record.LicenseType),
			slog.Time("expires_at", record.ExpiresAt),
			slog.Int("feature_count", len(record.Features)),
		)...)

	return nil
}

// Verify loads and fully validates the persisted license record:
// decryption, signature, machine binding, expiry, and a re-check against
// the authority when the last online check is stale. The result is
// cached briefly. On success the returned record is a copy; mutating it
// does not affect the store.
func (m *Manager) Verify(ctx context.Context) (*Record, error) {
	start := m.now()

	m.validationMu.RLock()
	if v := m.validation; v != nil && m.now().Before(v.cachedUntil) {
		m.validationMu.RUnlock()
		m.metrics.recordCacheHit(ctx)
		return copyRecord(v.record), v.err
	}
	m.validationMu.RUnlock()

	record, err := m.performVerification(ctx)
	m.cacheValidation(record, err)
	m.metrics.recordVerification(ctx, start, err)

	if err != nil {
		m.access.Record(ctx, "license_verify", false, ErrorCode(err))
		return nil, err
	}
	m.access.Record(ctx, "license_verify", true, "")
	return copyRecord(record), nil
}

func (m *Manager) performVerification(ctx context.Context) (*Record, error) {
	fingerprint, err := m.fingerprint.Fingerprint(ctx)
	if err != nil {
		return nil, fmt.Errorf("fingerprint unavailable: %w", err)
	}

	record, err := m.loadRecord(ctx, fingerprint)
	if err != nil {
		return nil, err
	}

	if !record.VerifySignature(m.integrityKey) {
		m.logError(ctx, "license_verify", "license record signature mismatch",
			keyAttrs(record.LicenseKey)...)
		return nil, ErrTamperDetected
	}

	if record.MachineFingerprint != fingerprint {
		m.logError(ctx, "license_verify", "license bound to a different machine",
			slog.String("bound_fingerprint", record.MachineFingerprint),
			slog.String("current_fingerprint", fingerprint),
		)
		return nil, ErrMachineMismatch
	}

	if record.IsExpired(m.now()) {
		m.logWarn(ctx, "license_verify", "license expired",
			append(keyAttrs(record.LicenseKey), slog.Time("expired_at", record.ExpiresAt))...)
		return nil, ErrExpired
	}

	if m.now().Sub(record.LastOnlineCheck) > m.recheckInterval {
		if err := m.onlineRecheck(ctx, record, fingerprint); err != nil {
			return nil, err
		}
	}

	return record, nil
}

// onlineRecheck re-validates a stale license with the authority. Concurrent
// verifications share a single authority call. An explicit rejection fails
// closed; transport failures fail open with a warning so an authority
// outage does not lock out a valid installation.
func (m *Manager) onlineRecheck(ctx context.Context, record *Record, fingerprint string) error {
	_, err, _ := m.recheckGroup.Do(record.LicenseKey, func() (any, error) {
		err := m.authority.Revalidate(ctx, record.LicenseKey, fingerprint)
		m.metrics.recordRecheck(ctx, err)

		if errors.Is(err, ErrServerRejected) {
			m.logError(ctx, "license_recheck", "authority rejected license during re-check",
				append(keyAttrs(record.LicenseKey), slog.String("error", err.Error()))...)
			m.access.Record(ctx, "license_recheck", false, ErrorCode(ErrServerRejected))
			return nil, fmt.Errorf("%w: revoked during online re-check", ErrServerRejected)
		}

		if err != nil {
			m.logWarn(ctx, "license_recheck", "online re-check failed, continuing on local validation",
				slog.String("error", err.Error()))
			m.access.Record(ctx, "license_recheck", true, "fail-open: "+err.Error())
			return nil, nil
		}

		record.LastOnlineCheck = m.now()
		record.Sign(m.integrityKey)
		if persistErr := m.persistRecord(record, fingerprint); persistErr != nil {
			m.logWarn(ctx, "license_recheck", "failed to persist refreshed online-check timestamp",
				slog.String("error", persistErr.Error()))
		}
		m.access.Record(ctx, "license_recheck", true, "authority confirmed")
		return nil, nil
	})
	return err
}

// Deactivate removes the persisted license record. The record is lower
// sensitivity than the vault, so a plain delete suffices.
func (m *Manager) Deactivate(ctx context.Context) error {
	m.fileMu.Lock()
	err := os.Remove(m.licenseFile)
	m.fileMu.Unlock()

	if err != nil && !os.IsNotExist(err) {
		m.access.Record(ctx, "license_deactivate", false, err.Error())
		return fmt.Errorf("failed to remove license file: %w", err)
	}

	m.invalidateCache()
	m.access.Record(ctx, "license_deactivate", true, "")
	m.logInfo(ctx, "license_deactivate", "license deactivated")
	return nil
}

// IsFeatureEnabled reports whether the current license is valid and grants
// the named feature (directly or via full_access). It never returns an
// error: any verification failure collapses to false.
func (m *Manager) IsFeatureEnabled(ctx context.Context, feature string) bool {
	record, err := m.Verify(ctx)
	if err != nil {
		m.access.Record(ctx, "feature_check", false, feature+": "+ErrorCode(err))
		return false
	}

	enabled := record.HasFeature(feature)
	m.access.Record(ctx, "feature_check", enabled, feature)
	return enabled
}

// CurrentLicenseKey returns the key of the currently verified license.
func (m *Manager) CurrentLicenseKey(ctx context.Context) (string, error) {
	record, err := m.Verify(ctx)
	if err != nil {
		return "", err
	}
	return record.LicenseKey, nil
}

// Status describes the license state for the status endpoint. Keys are
// always masked.
type Status struct {
	Activated     bool      `json:"activated"`
	LicenseKey    string    `json:"license_key_masked,omitempty"`
	Email         string    `json:"email_masked,omitempty"`
	LicenseType   string    `json:"license_type,omitempty"`
	Features      []string  `json:"features,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
	DaysLeft      int       `json:"days_left,omitempty"`
	State         string    `json:"state"`
}

// Status reports the current license state without exposing the raw key.
func (m *Manager) Status(ctx context.Context) *Status {
	record, err := m.Verify(ctx)
	if err != nil {
		return &Status{Activated: false, State: ErrorCode(err)}
	}

	return &Status{
		Activated:   true,
		LicenseKey:  MaskKey(record.LicenseKey),
		Email:       MaskEmail(record.Email),
		LicenseType: record.LicenseType,
		Features:    record.Features,
		ExpiresAt:   record.ExpiresAt,
		DaysLeft:    record.DaysLeft(m.now()),
		State:       "valid",
	}
}

// persistRecord encrypts and writes the record atomically
// (write-temp-then-rename) so a concurrent reader never observes a torn
// license file.
func (m *Manager) persistRecord(record *Record, fingerprint string) error {
	plaintext, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal license record: %w", err)
	}

	key := security.DeriveLicenseKey(m.appSecret, fingerprint)
	defer security.Wipe(key)

	blob, err := security.Encrypt(key, plaintext)
	if err != nil {
		return fmt.Errorf("encrypt license record: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(blob)

	m.fileMu.Lock()
	defer m.fileMu.Unlock()

	tmp := m.licenseFile + ".tmp"
	if err := os.WriteFile(tmp, []byte(encoded), 0o600); err != nil {
		return fmt.Errorf("write license file: %w", err)
	}
	if err := os.Rename(tmp, m.licenseFile); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace license file: %w", err)
	}

	return nil
}

// loadRecord reads and decrypts the persisted record. A missing file means
// not activated; anything unreadable or undecryptable is treated as tamper.
func (m *Manager) loadRecord(ctx context.Context, fingerprint string) (*Record, error) {
	m.fileMu.Lock()
	data, err := os.ReadFile(m.licenseFile)
	m.fileMu.Unlock()

	if os.IsNotExist(err) {
		return nil, ErrNotActivated
	}
	if err != nil {
		return nil, fmt.Errorf("read license file: %w", err)
	}

	blob, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		m.logError(ctx, "license_load", "license file is not valid base64",
			slog.String("path", filepath.Base(m.licenseFile)))
		return nil, fmt.Errorf("%w: undecodable license file", ErrTamperDetected)
	}

	key := security.DeriveLicenseKey(m.appSecret, fingerprint)
	defer security.Wipe(key)

	plaintext, err := security.Decrypt(key, blob)
	if err != nil {
		m.logError(ctx, "license_load", "license file failed authenticated decryption",
			slog.String("path", filepath.Base(m.licenseFile)))
		return nil, fmt.Errorf("%w: %v", ErrTamperDetected, err)
	}

	var record Record
	if err := json.Unmarshal(plaintext, &record); err != nil {
		return nil, fmt.Errorf("%w: unparseable license record", ErrTamperDetected)
	}

	return &record, nil
}

// cacheValidation stores a verification outcome. Successes stay hot for
// five minutes; an expired license is stable for an hour; everything else
// is retried quickly.
func (m *Manager) cacheValidation(record *Record, err error) {
	var ttl time.Duration
	switch {
	case err == nil:
		ttl = 5 * time.Minute
	case errors.Is(err, ErrExpired):
		ttl = 1 * time.Hour
	default:
		ttl = 30 * time.Second
	}

	m.validationMu.Lock()
	m.validation = &validationResult{
		record:      record,
		err:         err,
		cachedUntil: m.now().Add(ttl),
	}
	m.validationMu.Unlock()
}

func (m *Manager) invalidateCache() {
	m.validationMu.Lock()
	m.validation = nil
	m.validationMu.Unlock()
}

func copyRecord(r *Record) *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Features = make([]string, len(r.Features))
	copy(cp.Features, r.Features)
	return &cp
}
