// Package vault stores a small secret configuration map encrypted at rest,
// releasable only to a verified, unexpired, machine-matched license. Three
// authenticity layers protect the file pair: a detached checksum over the
// vault file, an integrity hash over the ciphertext inside it, and a keyed
// signature inside the plaintext binding the config to the machine
// fingerprint and license key. Wholesale file tampering is caught before
// any decryption is attempted; a vault copied from another machine is
// rejected even when its hashes are internally consistent.
package vault

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"varsys/internal/audit"
	"varsys/internal/config"
	"varsys/internal/license"
	"varsys/internal/security"
)

const (
	// Version identifies the current on-disk vault format.
	Version = "2"

	// ProtectionLevel tags the binding scheme in the vault record.
	ProtectionLevel = "machine_bound"

	// kdfContext is the key-derivation purpose tag for the vault key.
	kdfContext = "firebase_store"

	// destroyOverwriteSize is the minimum number of random bytes written
	// over each vault file before deletion.
	destroyOverwriteSize = 1 << 20
)

// Record is the vault file as persisted. EncryptedPayload is the base64
// AES-GCM blob; IntegrityHash covers the raw ciphertext plus secret
// material plus the machine fingerprint.
type Record struct {
	EncryptedPayload string `json:"encrypted_payload"`
	IntegrityHash    string `json:"integrity_hash"`
	VaultVersion     string `json:"vault_version"`
	ProtectionLevel  string `json:"protection_level"`
}

// Payload is the decrypted vault content. It only ever exists in memory.
// Signature binds ProtectedConfig to the machine fingerprint and license
// key, independent of the record's integrity hash, so a config re-encrypted
// under another machine's key still fails verification.
type Payload struct {
	ProtectedConfig  map[string]string `json:"protected_config"`
	BoundFingerprint string            `json:"bound_machine_fingerprint"`
	CreatedAt        time.Time         `json:"created_at"`
	AccessCount      int               `json:"access_count"`
	Signature        string            `json:"payload_signature"`
}

// signPayload computes the keyed signature over the canonical form of the
// protected config, the fingerprint, and the license key. json.Marshal
// sorts map keys, so the canonical form is deterministic.
func signPayload(integrityKey string, protectedConfig map[string]string, fingerprint, licenseKey string) (string, error) {
	canonical, err := json.Marshal(protectedConfig)
	if err != nil {
		return "", fmt.Errorf("marshal protected config: %w", err)
	}

	mac := hmac.New(sha256.New, []byte(integrityKey))
	mac.Write(canonical)
	mac.Write([]byte("|"))
	mac.Write([]byte(fingerprint))
	mac.Write([]byte("|"))
	mac.Write([]byte(licenseKey))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Vault is the explicit service object owning the vault file pair. All
// writes, including the access-count rewrite inside Retrieve, are
// serialized by a single mutex so two concurrent stores cannot leave the
// vault and checksum files pointing at different contents.
type Vault struct {
	vaultFile    string
	checksumFile string
	vaultSecret  string
	integrityKey string

	gate        license.Gate
	fingerprint security.FingerprintProvider
	access      *audit.Logger
	metrics     *Metrics

	mu  sync.Mutex
	now func() time.Time
}

// New wires a vault from configuration and injected collaborators.
func New(cfg *config.Config, gate license.Gate, fingerprint security.FingerprintProvider, access *audit.Logger) *Vault {
	return &Vault{
		vaultFile:    cfg.Paths.VaultFile,
		checksumFile: cfg.Paths.ChecksumFile,
		vaultSecret:  cfg.Secrets.VaultSecret,
		integrityKey: cfg.Secrets.IntegrityKey,
		gate:         gate,
		fingerprint:  fingerprint,
		access:       access,
		now:          time.Now,
	}
}

// SetMetrics attaches OpenTelemetry instruments. Optional.
func (v *Vault) SetMetrics(metrics *Metrics) {
	v.metrics = metrics
}

// Store encrypts and persists the protected config, replacing any existing
// vault. AccessCount restarts at zero.
func (v *Vault) Store(ctx context.Context, protectedConfig map[string]string) error {
	err := v.performStore(ctx, protectedConfig)
	v.metrics.recordStore(ctx, err)
	if err != nil {
		v.access.Record(ctx, "vault_store", false, ErrorCode(err))
		return err
	}
	v.access.Record(ctx, "vault_store", true, fmt.Sprintf("keys=%d", len(protectedConfig)))
	return nil
}

func (v *Vault) performStore(ctx context.Context, protectedConfig map[string]string) error {
	if !v.gate.IsFeatureEnabled(ctx, license.FeatureVaultSync) {
		v.logWarn(ctx, "vault_store", "store denied by feature gate")
		return ErrLicenseRequired
	}

	fingerprint, err := v.fingerprint.Fingerprint(ctx)
	if err != nil {
		return fmt.Errorf("fingerprint unavailable: %w", err)
	}

	licenseKey, err := v.gate.CurrentLicenseKey(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLicenseRequired, err)
	}

	signature, err := signPayload(v.integrityKey, protectedConfig, fingerprint, licenseKey)
	if err != nil {
		return err
	}

	payload := &Payload{
		ProtectedConfig:  protectedConfig,
		BoundFingerprint: fingerprint,
		CreatedAt:        v.now().UTC(),
		AccessCount:      0,
		Signature:        signature,
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.writeLocked(payload, fingerprint); err != nil {
		return err
	}

	v.logInfo(ctx, "vault_store", "vault written",
		slog.Int("config_keys", len(protectedConfig)),
		slog.String("fingerprint", fingerprint),
	)
	return nil
}

// Retrieve runs the full verification chain and returns the protected
// config. Every successful read increments the payload's access count and
// rewrites the vault pair, so out-of-band reads that skip the rewrite are
// visible in the counter.
func (v *Vault) Retrieve(ctx context.Context) (map[string]string, error) {
	start := v.now()
	cfg, count, err := v.performRetrieve(ctx)
	v.metrics.recordRetrieve(ctx, start, err)
	if err != nil {
		v.access.Record(ctx, "vault_retrieve", false, ErrorCode(err))
		return nil, err
	}
	v.access.Record(ctx, "vault_retrieve", true, fmt.Sprintf("access_count=%d", count))
	return cfg, nil
}

func (v *Vault) performRetrieve(ctx context.Context) (map[string]string, int, error) {
	if !v.gate.IsFeatureEnabled(ctx, license.FeatureVaultSync) {
		v.logWarn(ctx, "vault_retrieve", "retrieve denied by feature gate")
		return nil, 0, ErrLicenseRequired
	}

	fingerprint, err := v.fingerprint.Fingerprint(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("fingerprint unavailable: %w", err)
	}

	licenseKey, err := v.gate.CurrentLicenseKey(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrLicenseRequired, err)
	}

	// The whole read-verify-rewrite cycle holds the mutex so a concurrent
	// Store cannot interleave between the checksum read and the rewrite.
	v.mu.Lock()
	defer v.mu.Unlock()

	payload, err := v.readAndVerifyLocked(ctx, fingerprint, licenseKey)
	if err != nil {
		return nil, 0, err
	}

	payload.AccessCount++
	if err := v.writeLocked(payload, fingerprint); err != nil {
		return nil, 0, fmt.Errorf("failed to persist access count: %w", err)
	}

	v.logDebug(ctx, "vault_retrieve", "vault released",
		slog.Int("access_count", payload.AccessCount))

	return payload.ProtectedConfig, payload.AccessCount, nil
}

// Destroy overwrites both vault files with random bytes and removes them.
// Destroying an absent vault is not an error.
func (v *Vault) Destroy(ctx context.Context) error {
	if !v.gate.IsFeatureEnabled(ctx, license.FeatureVaultSync) {
		v.access.Record(ctx, "vault_destroy", false, ErrCodeLicenseRequired)
		return ErrLicenseRequired
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := security.SecureErase(v.vaultFile, destroyOverwriteSize); err != nil {
		v.access.Record(ctx, "vault_destroy", false, err.Error())
		return fmt.Errorf("failed to erase vault file: %w", err)
	}
	if err := security.SecureErase(v.checksumFile, destroyOverwriteSize); err != nil {
		v.access.Record(ctx, "vault_destroy", false, err.Error())
		return fmt.Errorf("failed to erase checksum file: %w", err)
	}

	v.metrics.recordDestroy(ctx)
	v.access.Record(ctx, "vault_destroy", true, "")
	v.logInfo(ctx, "vault_destroy", "vault securely erased")
	return nil
}

// IsAccessible reports whether the vault exists and the full verification
// chain passes for the current license and machine.
func (v *Vault) IsAccessible(ctx context.Context) bool {
	return v.checkReadable(ctx) == nil
}

// checkReadable runs the full verification chain without releasing the
// config, incrementing the access count, or rewriting the vault pair. Status
// probes use it so observing the vault leaves no trace in the counter.
func (v *Vault) checkReadable(ctx context.Context) error {
	if !v.gate.IsFeatureEnabled(ctx, license.FeatureVaultSync) {
		return ErrLicenseRequired
	}

	fingerprint, err := v.fingerprint.Fingerprint(ctx)
	if err != nil {
		return fmt.Errorf("fingerprint unavailable: %w", err)
	}

	licenseKey, err := v.gate.CurrentLicenseKey(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLicenseRequired, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	_, err = v.readAndVerifyLocked(ctx, fingerprint, licenseKey)
	return err
}

// Status describes the vault for the status endpoint without releasing any
// secret material.
type Status struct {
	Exists          bool   `json:"exists"`
	Accessible      bool   `json:"accessible"`
	Version         string `json:"version,omitempty"`
	ProtectionLevel string `json:"protection_level,omitempty"`
	State           string `json:"state"`
}

// Status reports vault health. The version and protection level come from
// the record header and are readable without decryption.
func (v *Vault) Status(ctx context.Context) *Status {
	status := &Status{Exists: config.FileExists(v.vaultFile)}

	if status.Exists {
		v.mu.Lock()
		data, err := os.ReadFile(v.vaultFile)
		v.mu.Unlock()
		if err == nil {
			var record Record
			if json.Unmarshal(data, &record) == nil {
				status.Version = record.VaultVersion
				status.ProtectionLevel = record.ProtectionLevel
			}
		}
	}

	err := v.checkReadable(ctx)
	status.Accessible = err == nil
	if err != nil {
		status.State = ErrorCode(err)
	} else {
		status.State = "accessible"
	}
	return status
}

// writeLocked serializes, encrypts, and persists a payload as the new vault
// pair. Caller holds v.mu.
func (v *Vault) writeLocked(payload *Payload, fingerprint string) error {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal vault payload: %w", err)
	}

	key := security.DeriveVaultKey(v.vaultSecret, fingerprint, kdfContext)
	defer security.Wipe(key)

	ciphertext, err := security.Encrypt(key, plaintext)
	if err != nil {
		return fmt.Errorf("encrypt vault payload: %w", err)
	}

	record := Record{
		EncryptedPayload: base64.StdEncoding.EncodeToString(ciphertext),
		IntegrityHash:    v.integrityHash(ciphertext, fingerprint),
		VaultVersion:     Version,
		ProtectionLevel:  ProtectionLevel,
	}

	recordBytes, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal vault record: %w", err)
	}

	if err := writeFileAtomic(v.vaultFile, recordBytes); err != nil {
		return fmt.Errorf("write vault file: %w", err)
	}

	checksum := sha256.Sum256(recordBytes)
	if err := writeFileAtomic(v.checksumFile, []byte(hex.EncodeToString(checksum[:]))); err != nil {
		return fmt.Errorf("write checksum file: %w", err)
	}

	return nil
}

// readAndVerifyLocked reads the vault pair and walks the verification
// chain: outer checksum, inner integrity hash, decryption, machine binding,
// payload signature. Caller holds v.mu.
func (v *Vault) readAndVerifyLocked(ctx context.Context, fingerprint, licenseKey string) (*Payload, error) {
	recordBytes, err := os.ReadFile(v.vaultFile)
	if os.IsNotExist(err) {
		return nil, ErrVaultMissing
	}
	if err != nil {
		return nil, fmt.Errorf("read vault file: %w", err)
	}

	checksumBytes, err := os.ReadFile(v.checksumFile)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: checksum file absent", ErrVaultMissing)
	}
	if err != nil {
		return nil, fmt.Errorf("read checksum file: %w", err)
	}

	// Layer 1: the detached checksum over the exact file bytes. Checked
	// before anything is parsed or decrypted.
	freshChecksum := sha256.Sum256(recordBytes)
	storedChecksum := strings.TrimSpace(string(checksumBytes))
	if !security.ConstantTimeEquals([]byte(hex.EncodeToString(freshChecksum[:])), []byte(storedChecksum)) {
		v.logError(ctx, "vault_retrieve", "vault file does not match detached checksum")
		return nil, ErrOuterTamper
	}

	var record Record
	if err := json.Unmarshal(recordBytes, &record); err != nil {
		return nil, fmt.Errorf("%w: unparseable vault record", ErrOuterTamper)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(record.EncryptedPayload)
	if err != nil {
		return nil, fmt.Errorf("%w: undecodable payload", ErrInnerTamper)
	}

	// Layer 2: the integrity hash binds the ciphertext to the secret
	// material and this machine.
	if !security.ConstantTimeEquals([]byte(v.integrityHash(ciphertext, fingerprint)), []byte(record.IntegrityHash)) {
		v.logError(ctx, "vault_retrieve", "vault integrity hash mismatch")
		return nil, ErrInnerTamper
	}

	key := security.DeriveVaultKey(v.vaultSecret, fingerprint, kdfContext)
	defer security.Wipe(key)

	plaintext, err := security.Decrypt(key, ciphertext)
	if err != nil {
		v.logError(ctx, "vault_retrieve", "vault payload failed authenticated decryption")
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}

	var payload Payload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("%w: unparseable payload", ErrDecryptFailed)
	}

	if payload.BoundFingerprint != fingerprint {
		v.logError(ctx, "vault_retrieve", "vault bound to a different machine",
			slog.String("bound_fingerprint", payload.BoundFingerprint),
			slog.String("current_fingerprint", fingerprint),
		)
		return nil, ErrMachineMismatch
	}

	// Layer 3: the payload signature ties the config to this machine and
	// license key, catching cross-license replay of a re-encrypted vault.
	expected, err := signPayload(v.integrityKey, payload.ProtectedConfig, fingerprint, licenseKey)
	if err != nil {
		return nil, err
	}
	if !security.ConstantTimeEquals([]byte(expected), []byte(payload.Signature)) {
		v.logError(ctx, "vault_retrieve", "vault payload signature mismatch")
		return nil, ErrSignatureInvalid
	}

	return &payload, nil
}

func (v *Vault) integrityHash(ciphertext []byte, fingerprint string) string {
	h := sha256.New()
	h.Write(ciphertext)
	h.Write([]byte(v.vaultSecret))
	h.Write([]byte(fingerprint))
	return hex.EncodeToString(h.Sum(nil))
}

// writeFileAtomic writes data via a temp file and rename so readers never
// observe a torn file.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
