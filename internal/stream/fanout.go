package stream

import (
	"context"
	"errors"
	"fmt"

	"hostmetrics-agent/internal/model"
)

type namedSink struct {
	name string
	sink Sink
}

// Fanout delivers to every sink in order. A failing sink does not stop
// delivery to the rest.
type Fanout struct {
	sinks []namedSink
}

func NewFanout() *Fanout {
	return &Fanout{}
}

func (f *Fanout) Add(name string, s Sink) {
	f.sinks = append(f.sinks, namedSink{name: name, sink: s})
}

func (f *Fanout) Len() int {
	return len(f.sinks)
}

func (f *Fanout) Names() []string {
	out := make([]string, 0, len(f.sinks))
	for _, s := range f.sinks {
		out = append(out, s.name)
	}
	return out
}

func (f *Fanout) SendRecord(ctx context.Context, rec model.Record) error {
	return f.each(func(s Sink) error { return s.SendRecord(ctx, rec) })
}

func (f *Fanout) SendAlerts(ctx context.Context, events []model.AlertEvent) error {
	if len(events) == 0 {
		return nil
	}
	return f.each(func(s Sink) error { return s.SendAlerts(ctx, events) })
}

func (f *Fanout) Close(ctx context.Context) error {
	return f.each(func(s Sink) error { return s.Close(ctx) })
}

func (f *Fanout) each(fn func(Sink) error) error {
	var errs []error
	for _, s := range f.sinks {
		if err := fn(s.sink); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
