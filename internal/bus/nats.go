package bus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS adapts a *nats.Conn to the Bus interface.
type NATS struct {
	nc *nats.Conn
}

// ConnectNATS dials the broker at url with reconnection enabled.  The broker
// being down at startup is fatal to the caller; the broker dropping later is
// handled by the client library's reconnect loop.
func ConnectNATS(url, name string) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("[bus] disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[bus] reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("bus: connect %s: %w", url, err)
	}
	return &NATS{nc: nc}, nil
}

func (b *NATS) Publish(topic string, data []byte) error {
	return b.nc.Publish(topic, data)
}

func (b *NATS) Subscribe(topic string, fn Handler) (func(), error) {
	sub, err := b.nc.Subscribe(topic, func(msg *nats.Msg) {
		// Spawned per message so one slow handler never stalls the
		// subscription's delivery goroutine.
		go fn(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("bus: subscribe %s: %w", topic, err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

func (b *NATS) Request(ctx context.Context, topic string, data []byte) ([]byte, error) {
	msg, err := b.nc.RequestWithContext(ctx, topic, data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return nil, ErrNoResponder
		}
		return nil, fmt.Errorf("bus: request %s: %w", topic, err)
	}
	return msg.Data, nil
}

func (b *NATS) Respond(topic string, fn Responder) (func(), error) {
	sub, err := b.nc.Subscribe(topic, func(msg *nats.Msg) {
		go func() {
			if err := msg.Respond(fn(msg.Data)); err != nil {
				log.Printf("[bus] respond on %s: %v", topic, err)
			}
		}()
	})
	if err != nil {
		return nil, fmt.Errorf("bus: respond %s: %w", topic, err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

func (b *NATS) Close() error {
	b.nc.Drain()
	return nil
}
