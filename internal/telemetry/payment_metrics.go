package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "voltcharge/payment"

// PaymentMetrics counts settlement and reconciliation outcomes.
// It reads the global meter provider, which is a no-op until Initialize runs.
type PaymentMetrics struct {
	settlements metric.Int64Counter
	reconciles  metric.Int64Counter
}

func NewPaymentMetrics() (*PaymentMetrics, error) {
	meter := otel.Meter(meterName)

	settlements, err := meter.Int64Counter("payment.settlement.outcomes",
		metric.WithDescription("Direct settlement attempts by resulting status"),
	)
	if err != nil {
		return nil, err
	}

	reconciles, err := meter.Int64Counter("payment.reconcile.events",
		metric.WithDescription("Gateway callbacks by channel and result"),
	)
	if err != nil {
		return nil, err
	}

	return &PaymentMetrics{settlements: settlements, reconciles: reconciles}, nil
}

func (m *PaymentMetrics) RecordSettlement(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.settlements.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *PaymentMetrics) RecordReconcile(ctx context.Context, channel, result string) {
	if m == nil {
		return
	}
	m.reconciles.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("result", result),
	))
}
