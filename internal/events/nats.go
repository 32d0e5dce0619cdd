package events

import (
	"context"
	"fmt"

	nats "github.com/nats-io/nats.go"
)

type NATS struct {
	nc      *nats.Conn
	subject string
}

func NewNATS(url, subject string) (*NATS, error) {
	nc, err := nats.Connect(url, nats.Name("go-views"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATS{nc: nc, subject: subject}, nil
}

func (n *NATS) Publish(ctx context.Context, ev ViewEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := ev.Marshal()
	if err != nil {
		return err
	}
	if err := n.nc.Publish(n.subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", n.subject, err)
	}
	return nil
}

func (n *NATS) Close() error {
	return n.nc.Drain()
}
