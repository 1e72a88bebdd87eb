package license

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the license-specific OpenTelemetry instruments. A nil
// *Metrics is valid and records nothing, so tests can skip the pipeline.
type Metrics struct {
	ActivationAttempts metric.Int64Counter
	ActivationFailures metric.Int64Counter

	VerificationAttempts  metric.Int64Counter
	VerificationFailures  metric.Int64Counter
	VerificationDuration  metric.Float64Histogram
	VerificationCacheHits metric.Int64Counter

	OnlineRechecks      metric.Int64Counter
	OnlineRecheckErrors metric.Int64Counter
}

// NewMetrics creates the license instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.ActivationAttempts, err = meter.Int64Counter(
		"license_activation_attempts_total",
		metric.WithDescription("Total number of license activation attempts"),
	); err != nil {
		return nil, fmt.Errorf("create activation attempts counter: %w", err)
	}

	if m.ActivationFailures, err = meter.Int64Counter(
		"license_activation_failures_total",
		metric.WithDescription("Total number of failed license activations"),
	); err != nil {
		return nil, fmt.Errorf("create activation failures counter: %w", err)
	}

	if m.VerificationAttempts, err = meter.Int64Counter(
		"license_verification_attempts_total",
		metric.WithDescription("Total number of license verification attempts"),
	); err != nil {
		return nil, fmt.Errorf("create verification attempts counter: %w", err)
	}

	if m.VerificationFailures, err = meter.Int64Counter(
		"license_verification_failures_total",
		metric.WithDescription("Total number of failed license verifications"),
	); err != nil {
		return nil, fmt.Errorf("create verification failures counter: %w", err)
	}

	if m.VerificationDuration, err = meter.Float64Histogram(
		"license_verification_duration_ms",
		metric.WithDescription("License verification duration in milliseconds"),
	); err != nil {
		return nil, fmt.Errorf("create verification duration histogram: %w", err)
	}

	if m.VerificationCacheHits, err = meter.Int64Counter(
		"license_verification_cache_hits_total",
		metric.WithDescription("Verification results served from the cache"),
	); err != nil {
		return nil, fmt.Errorf("create verification cache hits counter: %w", err)
	}

	if m.OnlineRechecks, err = meter.Int64Counter(
		"license_online_rechecks_total",
		metric.WithDescription("Periodic online re-checks against the authority"),
	); err != nil {
		return nil, fmt.Errorf("create online rechecks counter: %w", err)
	}

	if m.OnlineRecheckErrors, err = meter.Int64Counter(
		"license_online_recheck_errors_total",
		metric.WithDescription("Failed online re-checks (fail-open)"),
	); err != nil {
		return nil, fmt.Errorf("create online recheck errors counter: %w", err)
	}

	return m, nil
}

func (m *Metrics) recordActivation(ctx context.Context, err error) {
	if m == nil {
		return
	}
	m.ActivationAttempts.Add(ctx, 1)
	if err != nil {
		m.ActivationFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("error_code", ErrorCode(err)),
		))
	}
}

func (m *Metrics) recordVerification(ctx context.Context, start time.Time, err error) {
	if m == nil {
		return
	}
	m.VerificationAttempts.Add(ctx, 1)
	m.VerificationDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	if err != nil {
		m.VerificationFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("error_code", ErrorCode(err)),
		))
	}
}

func (m *Metrics) recordCacheHit(ctx context.Context) {
	if m == nil {
		return
	}
	m.VerificationCacheHits.Add(ctx, 1)
}

func (m *Metrics) recordRecheck(ctx context.Context, err error) {
	if m == nil {
		return
	}
	m.OnlineRechecks.Add(ctx, 1)
	if err != nil {
		m.OnlineRecheckErrors.Add(ctx, 1)
	}
}
