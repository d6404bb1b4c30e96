package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// Presence metrics
	relayJoinCounter  metric.Int64Counter
	relayLeaveCounter metric.Int64Counter
	relaySessions     metric.Int64UpDownCounter

	// Fan-out metrics
	relayBroadcastCounter    metric.Int64Counter
	relayBroadcastRecipients metric.Int64Histogram

	relayAdjustedOpCounter metric.Int64Counter

	// Persistence metrics
	relaySaveCounter      metric.Int64Counter
	relaySaveErrorCounter metric.Int64Counter
)

// InitRelayMetrics creates the relay instruments. Until it runs every Record
// function is a no-op.
func InitRelayMetrics() error {
	meter := otel.Meter("collab.relay")

	var err error

	relayJoinCounter, err = meter.Int64Counter(
		"relay.session.joins",
		metric.WithDescription("Number of sessions that joined a project room"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return err
	}

	relayLeaveCounter, err = meter.Int64Counter(
		"relay.session.leaves",
		metric.WithDescription("Number of sessions removed from a project room, by reason"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return err
	}

	relaySessions, err = meter.Int64UpDownCounter(
		"relay.session.active",
		metric.WithDescription("Sessions currently present in any room"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return err
	}

	relayBroadcastCounter, err = meter.Int64Counter(
		"relay.broadcast.count",
		metric.WithDescription("Number of room broadcasts, by event"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return err
	}

	relayBroadcastRecipients, err = meter.Int64Histogram(
		"relay.broadcast.recipients",
		metric.WithDescription("Connections reached per broadcast"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return err
	}

	relayAdjustedOpCounter, err = meter.Int64Counter(
		"relay.ops.adjusted",
		metric.WithDescription("Code-change operations shifted against earlier operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return err
	}

	relaySaveCounter, err = meter.Int64Counter(
		"relay.save.count",
		metric.WithDescription("Debounced file saves, by status"),
		metric.WithUnit("{save}"),
	)
	if err != nil {
		return err
	}

	relaySaveErrorCounter, err = meter.Int64Counter(
		"relay.save.errors",
		metric.WithDescription("Debounced file saves that failed"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	return nil
}

func RecordJoin(ctx context.Context) {
	if relayJoinCounter != nil {
		relayJoinCounter.Add(ctx, 1)
	}
	if relaySessions != nil {
		relaySessions.Add(ctx, 1)
	}
}

// RecordLeave records a session removal. reason is "leave" or "inactive".
func RecordLeave(ctx context.Context, reason string) {
	if relayLeaveCounter != nil {
		relayLeaveCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
	if relaySessions != nil {
		relaySessions.Add(ctx, -1)
	}
}

func RecordBroadcast(ctx context.Context, event string, recipients int) {
	attrs := metric.WithAttributes(attribute.String("event", event))
	if relayBroadcastCounter != nil {
		relayBroadcastCounter.Add(ctx, 1, attrs)
	}
	if relayBroadcastRecipients != nil {
		relayBroadcastRecipients.Record(ctx, int64(recipients), attrs)
	}
}

func RecordAdjustedOp(ctx context.Context) {
	if relayAdjustedOpCounter != nil {
		relayAdjustedOpCounter.Add(ctx, 1)
	}
}

// RecordSave records the outcome of one debounced save.
func RecordSave(ctx context.Context, err error) {
	status := "success"
	if err != nil {
		status = "error"
		if relaySaveErrorCounter != nil {
			relaySaveErrorCounter.Add(ctx, 1)
		}
	}
	if relaySaveCounter != nil {
		relaySaveCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
}
