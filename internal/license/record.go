package license

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// FeatureFullAccess grants every feature when present in the feature set.
const FeatureFullAccess = "full_access"

// FeatureVaultSync gates the secret vault.
const FeatureVaultSync = "vault_sync"

// KeyPrefix is the issuer prefix every VarSys license key carries.
const KeyPrefix = "VARSYS"

// keyPattern matches the canonical key format VARSYS-XXXX-XXXX-XXXX-XXXX.
var keyPattern = regexp.MustCompile(`^VARSYS-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}$`)

// Record is the signed statement of what this machine+license is entitled
// to. Signature is a keyed hash over every other field; it is recomputed on
// every verification and never trusted from disk.
type Record struct {
	UserID             string    `json:"user_id"`
	Email              string    `json:"email"`
	LicenseKey         string    `json:"license_key"`
	MachineFingerprint string    `json:"machine_fingerprint"`
	LicenseType        string    `json:"license_type"`
	Features           []string  `json:"features"`
	ActivatedAt        time.Time `json:"activated_at"`
	ExpiresAt          time.Time `json:"expires_at"`
	LastOnlineCheck    time.Time `json:"last_online_check"`
	Signature          string    `json:"signature"`
}

// signingPayload returns the canonical byte string the signature covers:
// every field except Signature, fixed order, pipe-separated, RFC3339 UTC
// times, features sorted. Any change to any field changes this payload.
func (r *Record) signingPayload() []byte {
	features := make([]string, len(r.Features))
	copy(features, r.Features)
	sort.Strings(features)

	fields := []string{
		r.UserID,
		r.Email,
		r.LicenseKey,
		r.MachineFingerprint,
		r.LicenseType,
		strings.Join(features, ","),
		r.ActivatedAt.UTC().Format(time.RFC3339Nano),
		r.ExpiresAt.UTC().Format(time.RFC3339Nano),
		r.LastOnlineCheck.UTC().Format(time.RFC3339Nano),
	}

	return []byte(strings.Join(fields, "|"))
}

// Sign computes and stores the record signature using the integrity key.
func (r *Record) Sign(integrityKey string) {
	mac := hmac.New(sha256.New, []byte(integrityKey))
	mac.Write(r.signingPayload())
	r.Signature = hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature recomputes the signature and compares it in constant time
// against the stored one.
func (r *Record) VerifySignature(integrityKey string) bool {
	mac := hmac.New(sha256.New, []byte(integrityKey))
	mac.Write(r.signingPayload())
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(r.Signature))
}

// HasFeature reports whether the record's feature set grants the named
// feature, either directly or through full_access. It does not verify the
// record; callers go through Manager.IsFeatureEnabled for that.
func (r *Record) HasFeature(feature string) bool {
	for _, f := range r.Features {
		if f == feature || f == FeatureFullAccess {
			return true
		}
	}
	return false
}

// IsExpired reports whether the record's expiry date has passed.
func (r *Record) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// DaysLeft returns the number of whole days until expiry, negative if
// already expired.
func (r *Record) DaysLeft(now time.Time) int {
	return int(r.ExpiresAt.Sub(now).Hours() / 24)
}

// NormalizeKey uppercases a key and strips surrounding whitespace.
func NormalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// ValidateKeyFormat checks the basic shape of a license key before any
// authority round-trip.
func ValidateKeyFormat(key string) error {
	if !keyPattern.MatchString(NormalizeKey(key)) {
		return fmt.Errorf("%w: expected %s-XXXX-XXXX-XXXX-XXXX", ErrInvalidFormat, KeyPrefix)
	}
	return nil
}

// MaskKey masks the middle groups of a license key for logs and API
// responses: VARSYS-AAAA-****-****-DDDD.
func MaskKey(key string) string {
	parts := strings.Split(NormalizeKey(key), "-")
	if len(parts) != 5 {
		if len(key) <= 4 {
			return "****"
		}
		return key[:4] + "****"
	}
	return fmt.Sprintf("%s-%s-****-****-%s", parts[0], parts[1], parts[4])
}

// MaskEmail masks an email address while preserving the domain.
func MaskEmail(email string) string {
	if email == "" {
		return ""
	}

	at := strings.Index(email, "@")
	if at == -1 {
		return "****"
	}

	user, domain := email[:at], email[at:]
	if len(user) <= 2 {
		return "**" + domain
	}
	return user[:1] + "****" + user[len(user)-1:] + domain
}

// HashKey returns a short hash of the license key for audit correlation
// without exposing the key itself.
func HashKey(key string) string {
	if key == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(NormalizeKey(key)))
	return hex.EncodeToString(sum[:])[:16]
}
