// internal/telemetry/queue.go
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github-jira-sync/internal/queue"
)

var (
	attrLane    = attribute.Key("lane")
	attrKind    = attribute.Key("kind")
	attrOutcome = attribute.Key("outcome")
	attrEvent   = attribute.Key("event")
	attrFinal   = attribute.Key("final")
)

// QueueListener counts job lifecycle events and records handler durations.
func (m *Metrics) QueueListener() queue.Listener {
	return func(e queue.Event) {
		ctx := context.Background()
		attrs := []attribute.KeyValue{
			attrLane.String(string(e.Lane)),
			attrKind.String(string(e.Kind)),
		}
		if e.Kind == queue.EventFailed {
			attrs = append(attrs, attrFinal.Bool(e.Final))
		}
		m.jobs.Add(ctx, 1, metric.WithAttributes(attrs...))

		if e.Kind == queue.EventCompleted || e.Kind == queue.EventFailed {
			m.jobDuration.Record(ctx, float64(e.Duration.Milliseconds()),
				metric.WithAttributes(attrLane.String(string(e.Lane))))
		}
	}
}
