package stream

import (
	"context"

	"hostmetrics-agent/internal/model"
)

// Sink forwards records and alert events to a remote consumer.
type Sink interface {
	SendRecord(ctx context.Context, rec model.Record) error
	SendAlerts(ctx context.Context, events []model.AlertEvent) error
	Close(ctx context.Context) error
}

func NewRecordEnvelope(rec model.Record) model.Envelope {
	ts, _ := rec.Float(model.KeyTimestamp)
	return model.Envelope{
		Type:          model.MessageTypeRecord,
		Hostname:      rec.Hostname(),
		TimestampUnix: ts,
		Payload:       rec,
	}
}

func NewAlertEnvelope(hostname string, events []model.AlertEvent) model.Envelope {
	var ts float64
	if len(events) > 0 {
		ts = events[0].Timestamp
	}
	return model.Envelope{
		Type:          model.MessageTypeAlerts,
		Hostname:      hostname,
		TimestampUnix: ts,
		Payload:       events,
	}
}
