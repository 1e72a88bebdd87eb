// Package audit maintains the append-only access log for license and vault
// operations. Every success and every failure is recorded with its reason;
// entries are never mutated or deleted by normal operation.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"varsys/internal/infrastructure"
	"varsys/internal/security"
)

// Entry is a single access-log record, one JSON object per line.
type Entry struct {
	ID                 string    `json:"id"`
	Timestamp          time.Time `json:"timestamp"`
	Action             string    `json:"action"`
	Success            bool      `json:"success"`
	MachineFingerprint string    `json:"machine_fingerprint"`
	Details            string    `json:"details"`
}

// Logger appends access records to a newline-delimited JSON file.
// Record never fails: audit-log unavailability must not block the primary
// security decision, so write errors are swallowed after a WARN log.
type Logger struct {
	path        string
	fingerprint security.FingerprintProvider
	mu          sync.Mutex
}

// NewLogger creates an access logger writing to path.
func NewLogger(path string, fingerprint security.FingerprintProvider) *Logger {
	return &Logger{
		path:        path,
		fingerprint: fingerprint,
	}
}

// Record appends one entry to the access log. It never returns an error and
// never panics; failures are reported through slog only.
func (l *Logger) Record(ctx context.Context, action string, success bool, details string) {
	defer func() {
		// A panic in the audit path must never take down the caller.
		if r := recover(); r != nil {
			infrastructure.LoggerWithContext(ctx).WarnContext(ctx, "access log write panicked",
				slog.Any("panic", r),
				slog.String("action", action),
			)
		}
	}()

	fingerprint := ""
	if l.fingerprint != nil {
		fingerprint, _ = l.fingerprint.Fingerprint(ctx)
	}

	entry := Entry{
		ID:                 uuid.New().String(),
		Timestamp:          time.Now().UTC(),
		Action:             action,
		Success:            success,
		MachineFingerprint: fingerprint,
		Details:            details,
	}

	if err := l.append(entry); err != nil {
		infrastructure.LoggerWithContext(ctx).WarnContext(ctx, "failed to write access log entry",
			slog.String("action", action),
			slog.Bool("success", success),
			slog.String("error", err.Error()),
		)
	}
}

func (l *Logger) append(entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return err
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = file.Write(append(data, '\n'))
	return err
}

// Tail returns up to n of the most recent entries, oldest first. Malformed
// lines are skipped; a missing log file yields an empty slice.
func (l *Logger) Tail(n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}

// Path returns the access-log file path.
func (l *Logger) Path() string {
	return l.path
}
