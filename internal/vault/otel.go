package vault

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the vault OpenTelemetry instruments. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	StoreAttempts    metric.Int64Counter
	StoreFailures    metric.Int64Counter
	RetrieveAttempts metric.Int64Counter
	RetrieveFailures metric.Int64Counter
	RetrieveDuration metric.Float64Histogram
	DestroyTotal     metric.Int64Counter
}

// NewMetrics creates the vault instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.StoreAttempts, err = meter.Int64Counter(
		"vault_store_attempts_total",
		metric.WithDescription("Total number of vault store attempts"),
	); err != nil {
		return nil, fmt.Errorf("create store attempts counter: %w", err)
	}

	if m.StoreFailures, err = meter.Int64Counter(
		"vault_store_failures_total",
		metric.WithDescription("Total number of failed vault stores"),
	); err != nil {
		return nil, fmt.Errorf("create store failures counter: %w", err)
	}

	if m.RetrieveAttempts, err = meter.Int64Counter(
		"vault_retrieve_attempts_total",
		metric.WithDescription("Total number of vault retrieve attempts"),
	); err != nil {
		return nil, fmt.Errorf("create retrieve attempts counter: %w", err)
	}

	if m.RetrieveFailures, err = meter.Int64Counter(
		"vault_retrieve_failures_total",
		metric.WithDescription("Total number of failed vault retrieves"),
	); err != nil {
		return nil, fmt.Errorf("create retrieve failures counter: %w", err)
	}

	if m.RetrieveDuration, err = meter.Float64Histogram(
		"vault_retrieve_duration_ms",
		metric.WithDescription("Vault retrieve duration in milliseconds"),
	); err != nil {
		return nil, fmt.Errorf("create retrieve duration histogram: %w", err)
	}

	if m.DestroyTotal, err = meter.Int64Counter(
		"vault_destroy_total",
		metric.WithDescription("Total number of vault secure erases"),
	); err != nil {
		return nil, fmt.Errorf("create destroy counter: %w", err)
	}

	return m, nil
}

func (m *Metrics) recordStore(ctx context.Context, err error) {
	if m == nil {
		return
	}
	m.StoreAttempts.Add(ctx, 1)
	if err != nil {
		m.StoreFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("error_code", ErrorCode(err)),
		))
	}
}

func (m *Metrics) recordRetrieve(ctx context.Context, start time.Time, err error) {
	if m == nil {
		return
	}
	m.RetrieveAttempts.Add(ctx, 1)
	m.RetrieveDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	if err != nil {
		m.RetrieveFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("error_code", ErrorCode(err)),
		))
	}
}

func (m *Metrics) recordDestroy(ctx context.Context) {
	if m == nil {
		return
	}
	m.DestroyTotal.Add(ctx, 1)
}
