package license

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateKeyFormat(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid key", "VARSYS-AAAA-BBBB-CCCC-DDDD", false},
		{"valid with digits", "VARSYS-1A2B-3C4D-5E6F-7890", false},
		{"lowercase normalized", "varsys-aaaa-bbbb-cccc-dddd", false},
		{"surrounding whitespace", "  VARSYS-AAAA-BBBB-CCCC-DDDD  ", false},
		{"empty", "", true},
		{"wrong prefix", "LICSYS-AAAA-BBBB-CCCC-DDDD", true},
		{"missing group", "VARSYS-AAAA-BBBB-CCCC", true},
		{"extra group", "VARSYS-AAAA-BBBB-CCCC-DDDD-EEEE", true},
		{"short group", "VARSYS-AAA-BBBB-CCCC-DDDD", true},
		{"invalid characters", "VARSYS-AAAA-BB!B-CCCC-DDDD", true},
		{"no dashes", "VARSYSAAAABBBBCCCCDDDD", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKeyFormat(tt.key)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidFormat)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "VARSYS-AAAA-BBBB-CCCC-DDDD", NormalizeKey(" varsys-aaaa-bbbb-cccc-dddd\n"))
	assert.Equal(t, "", NormalizeKey("   "))
}

func TestMaskKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want string
	}{
		{"canonical key", "VARSYS-AAAA-BBBB-CCCC-DDDD", "VARSYS-AAAA-****-****-DDDD"},
		{"lowercase input", "varsys-aaaa-bbbb-cccc-dddd", "VARSYS-AAAA-****-****-DDDD"},
		{"malformed long", "notakeyatall", "nota****"},
		{"malformed short", "abc", "****"},
		{"empty", "", "****"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			masked := MaskKey(tt.key)
			assert.Equal(t, tt.want, masked)
			assert.NotContains(t, masked, "BBBB-CCCC")
		})
	}
}

func TestMaskEmail(t *testing.T) {
	tests := []struct {
		email string
		want  string
	}{
		{"user@example.com", "u****r@example.com"},
		{"ab@example.com", "**@example.com"},
		{"a@b.com", "**@b.com"},
		{"no-at-sign", "****"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MaskEmail(tt.email), "email %q", tt.email)
	}
}

func TestHashKey(t *testing.T) {
	h := HashKey("VARSYS-AAAA-BBBB-CCCC-DDDD")
	require.Len(t, h, 16)

	// Normalization happens before hashing so logs correlate across
	// differently-cased inputs.
	assert.Equal(t, h, HashKey(" varsys-aaaa-bbbb-cccc-dddd "))
	assert.NotEqual(t, h, HashKey("VARSYS-AAAA-BBBB-CCCC-DDDE"))
	assert.Equal(t, "", HashKey(""))
}

func testRecord() *Record {
	activated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &Record{
		UserID:             "user-1",
		Email:              "a@b.com",
		LicenseKey:         "VARSYS-AAAA-BBBB-CCCC-DDDD",
		MachineFingerprint: "0123456789abcdef0123456789abcdef",
		LicenseType:        "standard",
		Features:           []string{FeatureFullAccess},
		ActivatedAt:        activated,
		ExpiresAt:          activated.Add(365 * 24 * time.Hour),
		LastOnlineCheck:    activated,
	}
}

func TestRecordSignAndVerify(t *testing.T) {
	const key = "integrity-key"

	r := testRecord()
	r.Sign(key)
	require.NotEmpty(t, r.Signature)
	assert.True(t, r.VerifySignature(key))
	assert.False(t, r.VerifySignature("wrong-key"))
}

func TestRecordSignatureCoversEveryField(t *testing.T) {
	const key = "integrity-key"

	mutations := []struct {
		name   string
		mutate func(*Record)
	}{
		{"user id", func(r *Record) { r.UserID = "user-2" }},
		{"email", func(r *Record) { r.Email = "c@d.com" }},
		{"license key", func(r *Record) { r.LicenseKey = "VARSYS-AAAA-BBBB-CCCC-DDDE" }},
		{"fingerprint", func(r *Record) { r.MachineFingerprint = "ffff6789abcdef0123456789abcdef00" }},
		{"license type", func(r *Record) { r.LicenseType = "enterprise" }},
		{"features", func(r *Record) { r.Features = append(r.Features, FeatureVaultSync) }},
		{"activated at", func(r *Record) { r.ActivatedAt = r.ActivatedAt.Add(time.Second) }},
		{"expires at", func(r *Record) { r.ExpiresAt = r.ExpiresAt.Add(24 * time.Hour) }},
		{"last online check", func(r *Record) { r.LastOnlineCheck = r.LastOnlineCheck.Add(time.Hour) }},
	}

	for _, tt := range mutations {
		t.Run(tt.name, func(t *testing.T) {
			r := testRecord()
			r.Sign(key)
			tt.mutate(r)
			assert.False(t, r.VerifySignature(key), "mutated %s must invalidate signature", tt.name)
		})
	}
}

func TestRecordSignatureFeatureOrderIndependent(t *testing.T) {
	const key = "integrity-key"

	a := testRecord()
	a.Features = []string{FeatureVaultSync, FeatureFullAccess}
	a.Sign(key)

	b := testRecord()
	b.Features = []string{FeatureFullAccess, FeatureVaultSync}
	b.Sign(key)

	assert.Equal(t, a.Signature, b.Signature)
}

func TestRecordHasFeature(t *testing.T) {
	tests := []struct {
		name     string
		features []string
		feature  string
		want     bool
	}{
		{"direct grant", []string{FeatureVaultSync}, FeatureVaultSync, true},
		{"full access grants anything", []string{FeatureFullAccess}, FeatureVaultSync, true},
		{"full access grants unknown feature", []string{FeatureFullAccess}, "reporting", true},
		{"missing feature", []string{FeatureVaultSync}, "reporting", false},
		{"empty feature set", nil, FeatureVaultSync, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testRecord()
			r.Features = tt.features
			assert.Equal(t, tt.want, r.HasFeature(tt.feature))
		})
	}
}

func TestRecordExpiry(t *testing.T) {
	r := testRecord()

	assert.False(t, r.IsExpired(r.ExpiresAt.Add(-time.Hour)))
	assert.True(t, r.IsExpired(r.ExpiresAt.Add(time.Hour)))

	assert.Equal(t, 365, r.DaysLeft(r.ActivatedAt))
	assert.Equal(t, 1, r.DaysLeft(r.ExpiresAt.Add(-36*time.Hour)))
	assert.Equal(t, -2, r.DaysLeft(r.ExpiresAt.Add(48*time.Hour)))
}
