package vault

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"varsys/internal/audit"
	"varsys/internal/config"
	"varsys/internal/security"
)

const (
	testFingerprint = "0123456789abcdef0123456789abcdef"
	testLicenseKey  = "VARSYS-AAAA-BBBB-CCCC-DDDD"
	testVaultSecret = "test-vault-secret"
	testIntegrity   = "test-integrity-key"
)

// fakeGate is an in-memory license gate for vault tests.
type fakeGate struct {
	enabled bool
	key     string
}

func (g *fakeGate) IsFeatureEnabled(_ context.Context, _ string) bool {
	return g.enabled
}

func (g *fakeGate) CurrentLicenseKey(_ context.Context) (string, error) {
	if !g.enabled {
		return "", errors.New("no valid license")
	}
	return g.key, nil
}

func newTestVault(t *testing.T) (*Vault, *fakeGate) {
	t.Helper()

	dir := t.TempDir()
	cfg := &config.Config{
		Secrets: config.SecretsConfig{
			VaultSecret:  testVaultSecret,
			IntegrityKey: testIntegrity,
		},
		Paths: config.PathsConfig{
			DataDir:       dir,
			VaultFile:     filepath.Join(dir, "firebase_vault.dat"),
			ChecksumFile:  filepath.Join(dir, "firebase_checksum.dat"),
			AccessLogFile: filepath.Join(dir, "firebase_access.log"),
		},
	}

	gate := &fakeGate{enabled: true, key: testLicenseKey}
	fp := security.StaticFingerprint(testFingerprint)
	return New(cfg, gate, fp, audit.NewLogger(cfg.Paths.AccessLogFile, fp)), gate
}

func testConfigMap() map[string]string {
	return map[string]string{"apiKey": "k1", "projectId": "p1"}
}

func TestStoreAndRetrieveRoundTrip(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)

	require.NoError(t, v.Store(ctx, testConfigMap()))

	got, err := v.Retrieve(ctx)
	require.NoError(t, err)
	assert.Equal(t, testConfigMap(), got)
}

func TestStorePersistsEncryptedPair(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)
	require.NoError(t, v.Store(ctx, testConfigMap()))

	vaultBytes, err := os.ReadFile(v.vaultFile)
	require.NoError(t, err)

	var record Record
	require.NoError(t, json.Unmarshal(vaultBytes, &record))
	assert.Equal(t, Version, record.VaultVersion)
	assert.Equal(t, ProtectionLevel, record.ProtectionLevel)
	assert.NotContains(t, string(vaultBytes), "k1")

	ciphertext, err := base64.StdEncoding.DecodeString(record.EncryptedPayload)
	require.NoError(t, err)
	assert.NotContains(t, string(ciphertext), "apiKey")

	// Detached checksum covers the exact vault file bytes.
	sum := sha256.Sum256(vaultBytes)
	checksumBytes, err := os.ReadFile(v.checksumFile)
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(sum[:]), string(checksumBytes))

	for _, path := range []string{v.vaultFile, v.checksumFile} {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}
}

func TestGateDeniesEverything(t *testing.T) {
	ctx := context.Background()
	v, gate := newTestVault(t)
	require.NoError(t, v.Store(ctx, testConfigMap()))

	gate.enabled = false

	assert.ErrorIs(t, v.Store(ctx, testConfigMap()), ErrLicenseRequired)
	_, err := v.Retrieve(ctx)
	assert.ErrorIs(t, err, ErrLicenseRequired)
	assert.ErrorIs(t, v.Destroy(ctx), ErrLicenseRequired)
	assert.False(t, v.IsAccessible(ctx))
}

func TestRetrieveMissingVault(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)

	_, err := v.Retrieve(ctx)
	assert.ErrorIs(t, err, ErrVaultMissing)
}

func TestRetrieveMissingChecksum(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)
	require.NoError(t, v.Store(ctx, testConfigMap()))
	require.NoError(t, os.Remove(v.checksumFile))

	_, err := v.Retrieve(ctx)
	assert.ErrorIs(t, err, ErrVaultMissing)
}

func TestRetrieveVaultFileByteFlip(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)
	require.NoError(t, v.Store(ctx, testConfigMap()))

	data, err := os.ReadFile(v.vaultFile)
	require.NoError(t, err)

	for _, pos := range []int{0, len(data) / 2, len(data) - 1} {
		tampered := append([]byte(nil), data...)
		tampered[pos] ^= 0x01
		require.NoError(t, os.WriteFile(v.vaultFile, tampered, 0o600))

		_, err := v.Retrieve(ctx)
		assert.ErrorIs(t, err, ErrOuterTamper, "flipped byte at %d", pos)
	}
}

func TestRetrieveChecksumFileByteFlip(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)
	require.NoError(t, v.Store(ctx, testConfigMap()))

	data, err := os.ReadFile(v.checksumFile)
	require.NoError(t, err)
	data[0] ^= 0x01
	require.NoError(t, os.WriteFile(v.checksumFile, data, 0o600))

	_, err = v.Retrieve(ctx)
	assert.ErrorIs(t, err, ErrOuterTamper)
}

// rewritePair writes a modified record with a freshly computed detached
// checksum, simulating an attacker who keeps the file pair consistent.
func rewritePair(t *testing.T, v *Vault, record Record) {
	t.Helper()
	recordBytes, err := json.Marshal(record)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(v.vaultFile, recordBytes, 0o600))
	sum := sha256.Sum256(recordBytes)
	require.NoError(t, os.WriteFile(v.checksumFile, []byte(hex.EncodeToString(sum[:])), 0o600))
}

func TestRetrieveInnerTamper(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)
	require.NoError(t, v.Store(ctx, testConfigMap()))

	data, err := os.ReadFile(v.vaultFile)
	require.NoError(t, err)
	var record Record
	require.NoError(t, json.Unmarshal(data, &record))

	// Flip a ciphertext byte but leave the stored integrity hash alone.
	// A recomputed outer checksum alone must not be enough.
	ciphertext, err := base64.StdEncoding.DecodeString(record.EncryptedPayload)
	require.NoError(t, err)
	ciphertext[len(ciphertext)-1] ^= 0x01
	record.EncryptedPayload = base64.StdEncoding.EncodeToString(ciphertext)
	rewritePair(t, v, record)

	_, err = v.Retrieve(ctx)
	assert.ErrorIs(t, err, ErrInnerTamper)
}

func TestRetrieveDecryptFailure(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)
	require.NoError(t, v.Store(ctx, testConfigMap()))

	data, err := os.ReadFile(v.vaultFile)
	require.NoError(t, err)
	var record Record
	require.NoError(t, json.Unmarshal(data, &record))

	// An attacker who knows the integrity inputs can keep both outer and
	// inner layers consistent; only authenticated decryption stops them.
	ciphertext, err := base64.StdEncoding.DecodeString(record.EncryptedPayload)
	require.NoError(t, err)
	ciphertext[len(ciphertext)-1] ^= 0x01
	record.EncryptedPayload = base64.StdEncoding.EncodeToString(ciphertext)
	record.IntegrityHash = v.integrityHash(ciphertext, testFingerprint)
	rewritePair(t, v, record)

	_, err = v.Retrieve(ctx)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestRetrieveCopiedVaultMachineMismatch(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)

	// Simulate a vault copied from machine A and fully re-keyed for this
	// machine: encrypted under the current key, hashes consistent, but the
	// embedded fingerprint still names the original machine.
	const otherFingerprint = "ffffffffffffffffffffffffffffffff"
	sig, err := signPayload(testIntegrity, testConfigMap(), otherFingerprint, testLicenseKey)
	require.NoError(t, err)

	payload := &Payload{
		ProtectedConfig:  testConfigMap(),
		BoundFingerprint: otherFingerprint,
		CreatedAt:        time.Now().UTC(),
		Signature:        sig,
	}
	require.NoError(t, v.writeLocked(payload, testFingerprint))

	_, err = v.Retrieve(ctx)
	assert.ErrorIs(t, err, ErrMachineMismatch)
}

func TestRetrieveForeignLicenseSignature(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)

	// Correct machine binding but the signature was produced under a
	// different license key.
	sig, err := signPayload(testIntegrity, testConfigMap(), testFingerprint, "VARSYS-9999-8888-7777-6666")
	require.NoError(t, err)

	payload := &Payload{
		ProtectedConfig:  testConfigMap(),
		BoundFingerprint: testFingerprint,
		CreatedAt:        time.Now().UTC(),
		Signature:        sig,
	}
	require.NoError(t, v.writeLocked(payload, testFingerprint))

	_, err = v.Retrieve(ctx)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestAccessCountIncrements(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)
	require.NoError(t, v.Store(ctx, testConfigMap()))

	for i := 0; i < 3; i++ {
		_, err := v.Retrieve(ctx)
		require.NoError(t, err)
	}

	payload, err := v.readAndVerifyLocked(ctx, testFingerprint, testLicenseKey)
	require.NoError(t, err)
	assert.Equal(t, 3, payload.AccessCount)

	// A fresh store resets the counter.
	require.NoError(t, v.Store(ctx, testConfigMap()))
	payload, err = v.readAndVerifyLocked(ctx, testFingerprint, testLicenseKey)
	require.NoError(t, err)
	assert.Equal(t, 0, payload.AccessCount)
}

func TestStatusProbesDoNotCountAsAccess(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)
	require.NoError(t, v.Store(ctx, testConfigMap()))

	_, err := v.Retrieve(ctx)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		assert.True(t, v.IsAccessible(ctx))
		assert.True(t, v.Status(ctx).Accessible)
	}

	payload, err := v.readAndVerifyLocked(ctx, testFingerprint, testLicenseKey)
	require.NoError(t, err)
	assert.Equal(t, 1, payload.AccessCount, "only Retrieve may advance the counter")
}

func TestDestroy(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)
	require.NoError(t, v.Store(ctx, testConfigMap()))

	require.NoError(t, v.Destroy(ctx))
	assert.NoFileExists(t, v.vaultFile)
	assert.NoFileExists(t, v.checksumFile)

	_, err := v.Retrieve(ctx)
	assert.ErrorIs(t, err, ErrVaultMissing)

	// Destroying an absent vault is idempotent.
	assert.NoError(t, v.Destroy(ctx))
}

func TestIsAccessible(t *testing.T) {
	ctx := context.Background()
	v, gate := newTestVault(t)

	assert.False(t, v.IsAccessible(ctx))

	require.NoError(t, v.Store(ctx, testConfigMap()))
	assert.True(t, v.IsAccessible(ctx))

	gate.enabled = false
	assert.False(t, v.IsAccessible(ctx))
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)

	status := v.Status(ctx)
	assert.False(t, status.Exists)
	assert.False(t, status.Accessible)
	assert.Equal(t, ErrCodeVaultMissing, status.State)

	require.NoError(t, v.Store(ctx, testConfigMap()))

	status = v.Status(ctx)
	assert.True(t, status.Exists)
	assert.True(t, status.Accessible)
	assert.Equal(t, Version, status.Version)
	assert.Equal(t, ProtectionLevel, status.ProtectionLevel)
	assert.Equal(t, "accessible", status.State)
}

func TestRetrieveFailuresAreAudited(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault(t)

	_, err := v.Retrieve(ctx)
	require.ErrorIs(t, err, ErrVaultMissing)

	entries, err := v.access.Tail(5)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	last := entries[len(entries)-1]
	assert.Equal(t, "vault_retrieve", last.Action)
	assert.False(t, last.Success)
	assert.Equal(t, ErrCodeVaultMissing, last.Details)
}
