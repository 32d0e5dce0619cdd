// Package events publishes counted page views to message brokers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ViewEvent is emitted once for every view that incremented the counter.
type ViewEvent struct {
	TotalViews  int64     `json:"total_views"`
	Fingerprint string    `json:"fingerprint"`
	Country     string    `json:"country,omitempty"`
	At          time.Time `json:"at"`
}

func (e ViewEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

type Publisher interface {
	Publish(ctx context.Context, ev ViewEvent) error
	Close() error
}

type Nop struct{}

func (Nop) Publish(context.Context, ViewEvent) error { return nil }
func (Nop) Close() error                             { return nil }

// Fanout publishes every event to all of its publishers.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev ViewEvent) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
