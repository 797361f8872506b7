// Package metrics counts authorizer activity via OpenTelemetry.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/gatekeep-labs/gatekeep/pkg/timelock"
)

const meterName = "github.com/gatekeep-labs/gatekeep"

// Recorder holds the instrument set. It doubles as a notification sink so
// counters track committed transitions, not attempts.
type Recorder struct {
	notifications metric.Int64Counter
	errors        metric.Int64Counter
}

// NewRecorder builds instruments on the globally configured meter provider.
func NewRecorder() (*Recorder, error) {
	meter := otel.Meter(meterName)

	notifications, err := meter.Int64Counter("gatekeep.notifications",
		metric.WithDescription("Committed timelock state transitions by notification name"))
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	errs, err := meter.Int64Counter("gatekeep.errors",
		metric.WithDescription("Rejected timelock operations by error kind"))
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	return &Recorder{notifications: notifications, errors: errs}, nil
}

// Emit implements the notification sink.
func (r *Recorder) Emit(ctx context.Context, n timelock.Notification) {
	r.notifications.Add(ctx, 1, metric.WithAttributes(attribute.String("event", n.EventName())))
}

// RecordError counts a rejected operation under its error kind.
func (r *Recorder) RecordError(ctx context.Context, kind string) {
	r.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
