// Package metrics records pipeline measurements through the OpenTelemetry
// Metrics API. InitProvider bridges them to a Prometheus /metrics endpoint.
package metrics

import (
	"context"
	"time"

	"github.com/lokutor-ai/lokutor-companion/pkg/orchestrator"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/lokutor-ai/lokutor-companion"

var _ orchestrator.Recorder = (*Recorder)(nil)

// Recorder implements orchestrator.Recorder. The OTel instruments handle
// their own synchronisation.
type Recorder struct {
	framesSent      metric.Int64Counter
	audioReceived   metric.Int64Counter
	textReceived    metric.Int64Counter
	audioPlayed     metric.Int64Counter
	inboundFlushed  metric.Int64Counter
	taskFailures    metric.Int64Counter
	sessionDuration metric.Float64Histogram
}

var durationBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600,
}

// NewRecorder creates every instrument on mp.
func NewRecorder(mp metric.MeterProvider) (*Recorder, error) {
	m := mp.Meter(meterName)
	var err error
	r := &Recorder{}

	if r.framesSent, err = m.Int64Counter("companion.frames.sent",
		metric.WithDescription("Frames sent to the remote session by media type."),
	); err != nil {
		return nil, err
	}
	if r.audioReceived, err = m.Int64Counter("companion.audio.received.bytes",
		metric.WithDescription("Bytes of audio received from the remote session."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if r.textReceived, err = m.Int64Counter("companion.text.received",
		metric.WithDescription("Text fragments received from the remote session."),
	); err != nil {
		return nil, err
	}
	if r.audioPlayed, err = m.Int64Counter("companion.audio.played.bytes",
		metric.WithDescription("Bytes of audio written to the speaker."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if r.inboundFlushed, err = m.Int64Counter("companion.inbound.flushed",
		metric.WithDescription("Buffered audio chunks discarded at turn boundaries."),
	); err != nil {
		return nil, err
	}
	if r.taskFailures, err = m.Int64Counter("companion.task.failures",
		metric.WithDescription("Cohort failures by originating task."),
	); err != nil {
		return nil, err
	}
	if r.sessionDuration, err = m.Float64Histogram("companion.session.duration",
		metric.WithDescription("Length of conversations by outcome."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *Recorder) FrameSent(ctx context.Context, media orchestrator.MediaType) {
	r.framesSent.Add(ctx, 1, metric.WithAttributes(attribute.String("media", string(media))))
}

func (r *Recorder) AudioReceived(ctx context.Context, bytes int) {
	r.audioReceived.Add(ctx, int64(bytes))
}

func (r *Recorder) TextReceived(ctx context.Context) {
	r.textReceived.Add(ctx, 1)
}

func (r *Recorder) AudioPlayed(ctx context.Context, bytes int) {
	r.audioPlayed.Add(ctx, int64(bytes))
}

// InboundFlushed counts discarded chunks. Empty flushes are still recorded
// so the number of boundaries is visible.
func (r *Recorder) InboundFlushed(ctx context.Context, discarded int, interrupted bool) {
	r.inboundFlushed.Add(ctx, int64(discarded), metric.WithAttributes(attribute.Bool("interrupted", interrupted)))
}

func (r *Recorder) TaskFailed(ctx context.Context, task string) {
	r.taskFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("task", task)))
}

func (r *Recorder) SessionEnded(ctx context.Context, outcome orchestrator.Outcome, d time.Duration) {
	r.sessionDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("outcome", string(outcome))))
}
