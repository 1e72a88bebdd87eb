package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// FingerprintLength is the number of hex characters in a machine fingerprint.
const FingerprintLength = 32

// FingerprintProvider yields the stable machine fingerprint for the current
// device. License and vault code take it by injection so tests can bind
// records to arbitrary machines.
type FingerprintProvider interface {
	Fingerprint(ctx context.Context) (string, error)
}

// FingerprintManager derives a deterministic machine fingerprint from local
// hardware and OS identifiers and caches the result.
type FingerprintManager struct {
	cache       string
	cacheMutex  sync.RWMutex
	cacheExpiry time.Time
	cacheTTL    time.Duration
}

// NewFingerprintManager creates a new fingerprint manager with caching
func NewFingerprintManager() *FingerprintManager {
	return &FingerprintManager{
		cacheTTL: 1 * time.Hour,
	}
}

// Fingerprint returns the machine fingerprint: the first 32 hex characters
// of SHA-256 over the canonical identifier string
// platform|processor_id|hostname|mac (stable field order).
//
// Identifier lookups that fail are replaced by fixed placeholders; if every
// hardware identifier is unavailable the fingerprint degrades to a hash of
// the hostname alone. Some deterministic value is always returned; the error
// is only ever reported alongside a usable fingerprint.
func (fm *FingerprintManager) Fingerprint(ctx context.Context) (string, error) {
	fm.cacheMutex.RLock()
	if fm.cache != "" && time.Now().Before(fm.cacheExpiry) {
		cached := fm.cache
		fm.cacheMutex.RUnlock()
		return cached, nil
	}
	fm.cacheMutex.RUnlock()

	logger := slog.Default()

	platform := canonicalPlatform()

	procID, procErr := fm.ProcessorID()
	if procErr != nil {
		procID = "unknown-cpu"
	}

	hostname, hostErr := fm.Hostname()
	if hostErr != nil {
		hostname = "unknown-host"
	}

	mac, macErr := fm.MACAddress()
	if macErr != nil {
		mac = "unknown-mac"
	}

	var canonical string
	var degraded bool
	if procErr != nil && macErr != nil {
		// No hardware identifiers at all: degrade to hostname-only rather
		// than failing. A weaker fingerprint beats no fingerprint.
		canonical = hostname
		degraded = true
	} else {
		canonical = strings.Join([]string{platform, procID, hostname, mac}, "|")
	}

	sum := sha256.Sum256([]byte(canonical))
	fingerprint := hex.EncodeToString(sum[:])[:FingerprintLength]

	fm.cacheMutex.Lock()
	fm.cache = fingerprint
	fm.cacheExpiry = time.Now().Add(fm.cacheTTL)
	fm.cacheMutex.Unlock()

	if degraded {
		logger.WarnContext(ctx, "machine fingerprint degraded to hostname only",
			slog.String("fingerprint", fingerprint),
			slog.String("hostname", hostname),
		)
	} else {
		logger.DebugContext(ctx, "machine fingerprint generated",
			slog.String("fingerprint", fingerprint),
			slog.String("platform", platform),
			slog.String("hostname", hostname),
		)
	}

	return fingerprint, nil
}

// Matches compares a stored fingerprint against the current machine.
func (fm *FingerprintManager) Matches(ctx context.Context, stored string) bool {
	current, err := fm.Fingerprint(ctx)
	if err != nil {
		return false
	}
	return current == stored
}

// ClearCache clears the cached fingerprint
func (fm *FingerprintManager) ClearCache() {
	fm.cacheMutex.Lock()
	defer fm.cacheMutex.Unlock()
	fm.cache = ""
	fm.cacheExpiry = time.Time{}
}

// MACAddress retrieves the primary network interface MAC address
func (fm *FingerprintManager) MACAddress() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to get network interfaces: %w", err)
	}

	// First choice: a non-loopback, up interface with a MAC address.
	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if mac := usableMAC(iface.HardwareAddr); mac != "" {
			return mac, nil
		}
	}

	// Fallback: any interface with a MAC address.
	for _, iface := range interfaces {
		if mac := usableMAC(iface.HardwareAddr); mac != "" {
			return mac, nil
		}
	}

	return "", fmt.Errorf("no valid MAC address found")
}

func usableMAC(addr net.HardwareAddr) string {
	if len(addr) == 0 {
		return ""
	}
	mac := addr.String()
	if mac == "" || mac == "00:00:00:00:00:00" {
		return ""
	}
	return strings.ToLower(mac)
}

// Hostname retrieves the normalized machine hostname
func (fm *FingerprintManager) Hostname() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}

	hostname = strings.ToLower(strings.TrimSpace(hostname))
	if hostname == "" {
		return "", fmt.Errorf("hostname is empty")
	}

	return hostname, nil
}

// ProcessorID retrieves CPU identification information (OS-specific)
func (fm *FingerprintManager) ProcessorID() (string, error) {
	switch runtime.GOOS {
	case "windows":
		return fm.processorIDWindows()
	case "linux":
		return fm.processorIDLinux()
	default:
		return hashIdentifier(fmt.Sprintf("%s-%s", runtime.GOOS, runtime.GOARCH)), nil
	}
}

// processorIDWindows gets CPU information on Windows systems
func (fm *FingerprintManager) processorIDWindows() (string, error) {
	if procID := os.Getenv("PROCESSOR_IDENTIFIER"); procID != "" {
		return hashIdentifier(procID), nil
	}
	return hashIdentifier(fmt.Sprintf("windows-%s-%s", runtime.GOARCH, os.Getenv("PROCESSOR_ARCHITECTURE"))), nil
}

// processorIDLinux gets CPU information on Linux systems
func (fm *FingerprintManager) processorIDLinux() (string, error) {
	cpuData, err := os.ReadFile("/proc/cpuinfo")
	if err == nil {
		for _, line := range strings.Split(string(cpuData), "\n") {
			if strings.HasPrefix(line, "model name") ||
				strings.HasPrefix(line, "cpu family") ||
				strings.HasPrefix(line, "Hardware") {
				return hashIdentifier(line), nil
			}
		}
	}
	return hashIdentifier(fmt.Sprintf("linux-%s", runtime.GOARCH)), nil
}

// hashIdentifier hashes raw identifier text to normalize its length
func hashIdentifier(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:8])
}

// canonicalPlatform returns a stable platform string for the canonical
// identifier. It never changes between runs on the same install.
func canonicalPlatform() string {
	return fmt.Sprintf("%s-%s", runtime.GOOS, runtime.GOARCH)
}

// Components returns the individual fingerprint inputs for diagnostics.
// Values are best-effort; failures appear as empty strings.
func (fm *FingerprintManager) Components() map[string]string {
	mac, _ := fm.MACAddress()
	hostname, _ := fm.Hostname()
	procID, _ := fm.ProcessorID()

	return map[string]string{
		"platform":     canonicalPlatform(),
		"processor_id": procID,
		"hostname":     hostname,
		"mac_address":  mac,
	}
}

// StaticFingerprint is a FingerprintProvider that always returns a fixed
// value. It exists for tests and for binding records to a simulated machine.
type StaticFingerprint string

// Fingerprint implements FingerprintProvider.
func (s StaticFingerprint) Fingerprint(context.Context) (string, error) {
	return string(s), nil
}
